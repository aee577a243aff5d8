package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes (handler-level authentication)
	mux.HandleFunc("/ws/jobs/", s.app.WSHandler.JobLogsHandler)
	mux.HandleFunc("/ws/devices/", s.app.WSHandler.DeviceSSHHandler)

	// API routes - Authentication
	mux.HandleFunc("/api/auth/login", s.app.AuthHandler.LoginHandler)
	mux.HandleFunc("/api/auth/refresh", s.app.AuthHandler.RefreshHandler)
	mux.HandleFunc("/api/auth/me", s.app.AuthHandler.MeHandler)

	// API routes - Devices
	mux.HandleFunc("/api/devices/import", s.app.DeviceHandler.ImportHandler)
	mux.HandleFunc("/api/devices/reachability", s.app.JobHandler.ReachabilityHandler)
	mux.HandleFunc("/api/devices/discovered", s.app.DeviceHandler.DiscoveredHandler)
	mux.HandleFunc("/api/devices/discovered/", s.app.DeviceHandler.DiscoveredRoutesHandler)
	mux.HandleFunc("/api/devices", s.app.DeviceHandler.DevicesHandler) // GET (list), POST (create)
	mux.HandleFunc("/api/devices/", s.app.DeviceHandler.DeviceRoutesHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.JobRoutesHandler) // /{id}, /{id}/logs, /{id}/retry, /{id}/cancel

	// API routes - Job creation per operation
	mux.HandleFunc("/api/commands/run", s.app.JobHandler.RunCommandsHandler)
	mux.HandleFunc("/api/config/backup", s.app.JobHandler.ConfigBackupHandler)
	mux.HandleFunc("/api/config/deploy/preview", s.app.JobHandler.DeployPreviewHandler)
	mux.HandleFunc("/api/config/deploy/commit", s.app.JobHandler.DeployCommitHandler)
	mux.HandleFunc("/api/compliance/policies/", s.app.JobHandler.CompliancePolicyRunHandler) // /{id}/run
	mux.HandleFunc("/api/topology/discover", s.app.JobHandler.TopologyDiscoverHandler)

	// API routes - Schedules
	mux.HandleFunc("/api/schedules", s.app.ScheduleHandler.SchedulesHandler)
	mux.HandleFunc("/api/schedules/", s.app.ScheduleHandler.ScheduleRoutesHandler)

	// API routes - Regions
	mux.HandleFunc("/api/regions", s.app.RegionHandler.RegionsHandler)
	mux.HandleFunc("/api/regions/", s.app.RegionHandler.RegionRoutesHandler)

	// API routes - Event subscriptions
	mux.HandleFunc("/api/subscriptions", s.app.SubscriptionHandler.SubscriptionsHandler)
	mux.HandleFunc("/api/subscriptions/", s.app.SubscriptionHandler.SubscriptionRoutesHandler)

	// API routes - Tenancy administration
	mux.HandleFunc("/api/customers", s.app.AdminHandler.CustomersHandler)
	mux.HandleFunc("/api/customers/", s.app.AdminHandler.CustomerRoutesHandler)
	mux.HandleFunc("/api/users", s.app.AdminHandler.UsersHandler)
	mux.HandleFunc("/api/users/", s.app.AdminHandler.UserRoutesHandler)
	mux.HandleFunc("/api/credentials", s.app.AdminHandler.CredentialsHandler)
	mux.HandleFunc("/api/credentials/", s.app.AdminHandler.CredentialRoutesHandler)
	mux.HandleFunc("/api/ip-ranges", s.app.AdminHandler.IPRangesHandler)
	mux.HandleFunc("/api/ip-ranges/", s.app.AdminHandler.IPRangeRoutesHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/queues", s.app.APIHandler.QueuesHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
