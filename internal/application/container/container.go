// Package container provides dependency injection for all singleton services
package container

import (
	"time"

	"github.com/peakself/attribution-go/internal/application/services"
	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/analytics"
	"github.com/peakself/attribution-go/internal/infrastructure/messaging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
	persistence "github.com/peakself/attribution-go/internal/infrastructure/persistence/tracking"
	"github.com/peakself/attribution-go/pkg/config"
)

// Settings carries the tunables the services need.
type Settings struct {
	InactivityWindow  time.Duration
	CookieTTL         time.Duration
	QueryTimeout      time.Duration
	JWTSecret         string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration
	LiveFeedInterval  time.Duration
}

// SettingsFromConfig reads Settings from the loaded configuration.
func SettingsFromConfig() Settings {
	return Settings{
		InactivityWindow:  config.SessionInactivityWindow,
		CookieTTL:         config.VisitorCookieTTL,
		QueryTimeout:      config.TrackQueryTimeout,
		JWTSecret:         config.JWTSecret,
		AdminPasswordHash: config.AdminPasswordHash,
		AdminTokenTTL:     config.AdminTokenTTL,
		LiveFeedInterval:  config.LiveFeedInterval,
	}
}

// Dependencies are the connections opened during startup.
type Dependencies struct {
	DB          *database.DB
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
	// Publishers receive every feed event in addition to the live hub.
	Publishers []messaging.Publisher
	// TrafficMirror, when set, mirrors the coarse traffic log.
	TrafficMirror *analytics.TrafficMirror
}

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application Services
	TrackingService  *services.TrackingService
	ReportingService *services.ReportingService
	AuthService      *services.AuthService

	// Repositories
	Repositories services.TrackingRepositories

	// Live feed
	LiveHub   *messaging.LiveHub
	Publisher *messaging.MultiPublisher

	// Infrastructure Dependencies
	DB            *database.DB
	Logger        *logging.ChanneledLogger
	PerfTracker   *performance.Tracker
	TrafficMirror *analytics.TrafficMirror
	Settings      Settings
}

// NewContainer creates and wires all singleton services
func NewContainer(deps Dependencies, settings Settings) *Container {
	logger := deps.Logger
	perfTracker := deps.PerfTracker

	var traffic tracking.TrafficRepository = persistence.NewSQLTrafficRepository(deps.DB, logger)
	if deps.TrafficMirror != nil {
		traffic = analytics.NewMirroredTrafficRepository(traffic, deps.TrafficMirror)
	}

	repos := services.TrackingRepositories{
		Visitors: persistence.NewSQLVisitorRepository(deps.DB, logger),
		Sessions: persistence.NewSQLSessionRepository(deps.DB, logger),
		Events:   persistence.NewSQLEventRepository(deps.DB, logger),
		Traffic:  traffic,
		Accounts: persistence.NewSQLAccountRepository(deps.DB, logger),
	}

	hub := messaging.NewLiveHub(settings.LiveFeedInterval, logger)
	publisher := messaging.NewMultiPublisher(append([]messaging.Publisher{hub}, deps.Publishers...)...)

	trackingConfig := services.TrackingConfig{
		InactivityWindow: settings.InactivityWindow,
		CookieTTL:        settings.CookieTTL,
		QueryTimeout:     settings.QueryTimeout,
	}

	return &Container{
		TrackingService:  services.NewTrackingService(repos, trackingConfig, settings.JWTSecret, publisher, logger, perfTracker),
		ReportingService: services.NewReportingService(repos, settings.InactivityWindow, logger, perfTracker),
		AuthService: services.NewAuthService(services.AuthConfig{
			PasswordHash: settings.AdminPasswordHash,
			JWTSecret:    settings.JWTSecret,
			TokenTTL:     settings.AdminTokenTTL,
		}, logger, perfTracker),

		Repositories: repos,
		LiveHub:      hub,
		Publisher:    publisher,

		DB:            deps.DB,
		Logger:        logger,
		PerfTracker:   perfTracker,
		TrafficMirror: deps.TrafficMirror,
		Settings:      settings,
	}
}

// Close releases publishers and flushes the traffic mirror.
func (c *Container) Close() error {
	err := c.Publisher.Close()
	if c.TrafficMirror != nil {
		c.TrafficMirror.Close()
	}
	return err
}
