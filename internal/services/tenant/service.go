package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthenticated is returned when no valid principal is attached
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the principal lacks the required role
	// or tenant membership
	ErrForbidden = errors.New("forbidden")
	// ErrAmbiguousTenant is returned when a multi-tenant principal omits the
	// customer selector
	ErrAmbiguousTenant = errors.New("ambiguous tenant: customer_id required")
	// ErrNoTenant is returned when no customer can be resolved for the
	// request
	ErrNoTenant = errors.New("no tenant resolved")
	// ErrInvalidCredentials is returned on bad email/password pairs
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service owns authentication, tenancy resolution, and credential
// encryption. Every request enters the domain through ResolveContext.
type Service struct {
	users     interfaces.UserStorage
	customers interfaces.CustomerStorage
	ipRanges  interfaces.IPRangeStorage
	signer    *TokenSigner
	encryptor *common.Encryptor
	logger    arbor.ILogger

	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	rotation   bool

	mu          sync.Mutex
	usedRefresh map[string]time.Time // Rotated refresh token IDs until expiry
}

// NewService creates the tenant service
func NewService(
	users interfaces.UserStorage,
	customers interfaces.CustomerStorage,
	ipRanges interfaces.IPRangeStorage,
	config *common.AuthConfig,
	logger arbor.ILogger,
) (*Service, error) {
	signer, err := NewTokenSigner(config.JWTSecret, time.Duration(config.ClockSkewSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	encryptor, err := common.NewEncryptor(config.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cost := config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		users:       users,
		customers:   customers,
		ipRanges:    ipRanges,
		signer:      signer,
		encryptor:   encryptor,
		logger:      logger,
		accessTTL:   common.Duration(config.AccessTokenTTL, 15*time.Minute),
		refreshTTL:  common.Duration(config.RefreshTokenTTL, 168*time.Hour),
		bcryptCost:  cost,
		rotation:    config.RefreshRotation,
		usedRefresh: make(map[string]time.Time),
	}, nil
}

// TokenPair is the login/refresh response body
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login verifies the password and issues a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		// Burn a hash comparison so missing users cost the same as bad
		// passwords.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new pair. With rotation enabled a
// refresh token is single-use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.signer.Verify(refreshToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrUnauthenticated
	}

	if s.rotation {
		s.mu.Lock()
		if _, used := s.usedRefresh[claims.TokenID]; used {
			s.mu.Unlock()
			return nil, ErrUnauthenticated
		}
		s.usedRefresh[claims.TokenID] = time.Unix(claims.ExpiresAt, 0)
		for id, exp := range s.usedRefresh {
			if time.Now().After(exp) {
				delete(s.usedRefresh, id)
			}
		}
		s.mu.Unlock()
	}

	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil || !user.Active {
		return nil, ErrUnauthenticated
	}
	return s.issuePair(user)
}

func (s *Service) issuePair(user *models.User) (*TokenPair, error) {
	now := time.Now()
	access, err := s.signer.Sign(Claims{
		Subject:   user.ID,
		Email:     user.Email,
		TokenType: TokenTypeAccess,
		TokenID:   common.NewID(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.signer.Sign(Claims{
		Subject:   user.ID,
		Email:     user.Email,
		TokenType: TokenTypeRefresh,
		TokenID:   common.NewID(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.refreshTTL).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Authenticate validates an access token and loads the user
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !user.Active {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

// ResolveContext builds the tenant context every domain operation is scoped
// by. Admins may select any customer; other roles must hold a membership.
// Multi-tenant principals must name a customer explicitly; single-tenant
// principals default to their only membership.
func (s *Service) ResolveContext(ctx context.Context, user *models.User, requestedCustomerID string) (*models.TenantContext, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}

	tc := &models.TenantContext{
		User: user,
		Role: user.Role,
	}
	if !user.Role.AtLeast(models.RoleAdmin) {
		tc.AccessibleCustomerIDs = user.CustomerIDs
	}

	switch {
	case requestedCustomerID != "":
		if !user.Role.AtLeast(models.RoleAdmin) && !user.HasMembership(requestedCustomerID) {
			return nil, ErrForbidden
		}
		if _, err := s.customers.GetCustomer(ctx, requestedCustomerID); err != nil {
			return nil, ErrNoTenant
		}
		tc.CustomerID = requestedCustomerID
	case user.Role.AtLeast(models.RoleAdmin):
		// Admins may operate cross-tenant; CustomerID stays empty until a
		// specific operation requires one.
	case len(user.CustomerIDs) == 1:
		tc.CustomerID = user.CustomerIDs[0]
	case len(user.CustomerIDs) == 0:
		return nil, ErrNoTenant
	default:
		return nil, ErrAmbiguousTenant
	}
	return tc, nil
}

// RequireRole enforces the role threshold for an operation
func (s *Service) RequireRole(tc *models.TenantContext, min models.Role) error {
	if tc == nil || tc.User == nil {
		return ErrUnauthenticated
	}
	if !tc.Role.AtLeast(min) {
		return ErrForbidden
	}
	return nil
}

// ResolveCustomerForIP maps a management IP to the customer owning the
// containing assigned range. Returns ErrNoTenant if no range matches.
func (s *Service) ResolveCustomerForIP(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}
	ranges, err := s.ipRanges.ListAllIPRanges(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range ranges {
		_, cidr, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			s.logger.Warn().Str("cidr", r.CIDR).Str("range_id", r.ID).Msg("Skipping unparseable IP range")
			continue
		}
		if cidr.Contains(parsed) {
			return r.CustomerID, nil
		}
	}
	return "", ErrNoTenant
}

// ValidateNoOverlap rejects a new CIDR that overlaps any assigned range
func (s *Service) ValidateNoOverlap(ctx context.Context, cidr string) error {
	_, newNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR: %w", err)
	}
	ranges, err := s.ipRanges.ListAllIPRanges(ctx)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		_, existing, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			continue
		}
		if existing.Contains(newNet.IP) || newNet.Contains(existing.IP) {
			return fmt.Errorf("CIDR %s overlaps assigned range %s", cidr, r.CIDR)
		}
	}
	return nil
}

// HashPassword produces a bcrypt hash for user storage
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// EncryptSecret encrypts a device credential secret for storage
func (s *Service) EncryptSecret(plaintext string) (string, error) {
	return s.encryptor.Encrypt(plaintext)
}

// DecryptSecret decrypts a stored device credential secret
func (s *Service) DecryptSecret(ciphertext string) (string, error) {
	return s.encryptor.Decrypt(ciphertext)
}
