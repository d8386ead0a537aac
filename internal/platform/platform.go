package platform

import (
	"go.uber.org/zap"

	"github.com/lcrostarosa/safetrack/internal/config"
	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// Collaborators bundles the adapters selected by configuration.
type Collaborators struct {
	Permission *StaticPermission
	Locator    domain.LocationProvider
	Messenger  domain.Messenger
}

// FromConfig builds the adapters described by cfg.
func FromConfig(cfg *config.Config, log *zap.Logger) (*Collaborators, error) {
	c := &Collaborators{Permission: NewStaticPermission(cfg.Permission.Granted)}

	switch cfg.Location.Provider {
	case config.ProviderFixed:
		c.Locator = FixedLocator{Fix: domain.Fix{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude}}
	case config.ProviderHTTP:
		c.Locator = NewHTTPLocator(cfg.Location.URL, cfg.Location.Timeout)
	default:
		return nil, apperrors.Invalid("location.provider", cfg.Location.Provider, "must be fixed or http")
	}

	switch cfg.Messenger.Kind {
	case config.MessengerLog:
		c.Messenger = NewLogMessenger(log.Named("messenger"))
	case config.MessengerWebhook:
		c.Messenger = NewWebhookMessenger(cfg.Messenger.WebhookURL, cfg.Messenger.Timeout)
	default:
		return nil, apperrors.Invalid("messenger.kind", cfg.Messenger.Kind, "must be log or webhook")
	}
	return c, nil
}
