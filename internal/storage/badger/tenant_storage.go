package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CustomerStorage implements the CustomerStorage interface for Badger
type CustomerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCustomerStorage creates a new CustomerStorage instance
func NewCustomerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CustomerStorage {
	return &CustomerStorage{db: db, logger: logger}
}

func (s *CustomerStorage) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if err := s.db.Store().Insert(customer.ID, customer); err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (s *CustomerStorage) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.Store().Get(id, &customer); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

func (s *CustomerStorage) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	if err := s.db.Store().Update(customer.ID, customer); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return nil
}

func (s *CustomerStorage) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Customer{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}

func (s *CustomerStorage) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	var customers []models.Customer
	if err := s.db.Store().Find(&customers, badgerhold.Where(badgerhold.Key).Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	result := make([]*models.Customer, len(customers))
	for i := range customers {
		result[i] = &customers[i]
	}
	return result, nil
}

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{db: db, logger: logger}
}

func (s *UserStorage) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(user.Email)
	existing, err := s.GetUserByEmail(ctx, user.Email)
	if err == nil && existing != nil {
		return fmt.Errorf("user with email %s already exists", user.Email)
	}
	if err := s.db.Store().Insert(user.ID, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *UserStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.Store().Get(id, &user); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *UserStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var users []models.User
	if err := s.db.Store().Find(&users, badgerhold.Where("Email").Eq(strings.ToLower(email)).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &users[0], nil
}

func (s *UserStorage) UpdateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(user.Email)
	if err := s.db.Store().Update(user.ID, user); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *UserStorage) DeleteUser(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.User{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *UserStorage) ListUsers(ctx context.Context, customerID string) ([]*models.User, error) {
	var users []models.User
	if err := s.db.Store().Find(&users, badgerhold.Where(badgerhold.Key).Ne("").SortBy("Email")); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	result := make([]*models.User, 0, len(users))
	for i := range users {
		if customerID != "" && !users[i].HasMembership(customerID) {
			continue
		}
		result = append(result, &users[i])
	}
	return result, nil
}

// CredentialStorage implements the CredentialStorage interface for Badger
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{db: db, logger: logger}
}

func (s *CredentialStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	if err := s.db.Store().Insert(cred.ID, cred); err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.Store().Get(id, &cred); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStorage) UpdateCredential(ctx context.Context, cred *models.Credential) error {
	if err := s.db.Store().Update(cred.ID, cred); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) DeleteCredential(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Credential{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) ListCredentials(ctx context.Context, customerID string) ([]*models.Credential, error) {
	var creds []models.Credential
	if err := s.db.Store().Find(&creds, badgerhold.Where("CustomerID").Eq(customerID).SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	result := make([]*models.Credential, len(creds))
	for i := range creds {
		result[i] = &creds[i]
	}
	return result, nil
}

// IPRangeStorage implements the IPRangeStorage interface for Badger
type IPRangeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewIPRangeStorage creates a new IPRangeStorage instance
func NewIPRangeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.IPRangeStorage {
	return &IPRangeStorage{db: db, logger: logger}
}

func (s *IPRangeStorage) CreateIPRange(ctx context.Context, r *models.IPRange) error {
	if err := s.db.Store().Insert(r.ID, r); err != nil {
		return fmt.Errorf("failed to create IP range: %w", err)
	}
	return nil
}

func (s *IPRangeStorage) DeleteIPRange(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.IPRange{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete IP range: %w", err)
	}
	return nil
}

func (s *IPRangeStorage) ListIPRanges(ctx context.Context, customerID string) ([]*models.IPRange, error) {
	var ranges []models.IPRange
	if err := s.db.Store().Find(&ranges, badgerhold.Where("CustomerID").Eq(customerID)); err != nil {
		return nil, fmt.Errorf("failed to list IP ranges: %w", err)
	}
	result := make([]*models.IPRange, len(ranges))
	for i := range ranges {
		result[i] = &ranges[i]
	}
	return result, nil
}

func (s *IPRangeStorage) ListAllIPRanges(ctx context.Context) ([]*models.IPRange, error) {
	var ranges []models.IPRange
	if err := s.db.Store().Find(&ranges, badgerhold.Where(badgerhold.Key).Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list IP ranges: %w", err)
	}
	result := make([]*models.IPRange, len(ranges))
	for i := range ranges {
		result[i] = &ranges[i]
	}
	return result, nil
}
