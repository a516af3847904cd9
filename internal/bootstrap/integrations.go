package bootstrap

import (
	"fmt"
	"time"

	"github.com/BearBump/SafeZone/config"
	"github.com/BearBump/SafeZone/internal/cache"
	"github.com/BearBump/SafeZone/internal/cache/localcache"
	"github.com/BearBump/SafeZone/internal/cache/rediscache"
	"github.com/BearBump/SafeZone/internal/integrations/contacts/profilehttp"
	"github.com/BearBump/SafeZone/internal/integrations/contacts/static"
	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/integrations/notify/fake"
	"github.com/BearBump/SafeZone/internal/integrations/notify/smshttp"
	"github.com/BearBump/SafeZone/internal/integrations/notify/smtpmail"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/pkg/errors"
)

// Contacts picks the emergency contact source. "store" reads the profiles
// kept by the backend.
func Contacts(cfg *config.Config, b Backend) (alerts.ContactRegistry, error) {
	switch cfg.Contacts.Mode {
	case "", "store":
		return b, nil
	case "http":
		if cfg.Contacts.BaseURL == "" {
			return nil, errors.New("contacts.base_url is required for http mode")
		}
		return profilehttp.New(cfg.Contacts.BaseURL, cfg.Contacts.APIKey), nil
	case "static":
		users := make(map[string]static.User, len(cfg.Contacts.Users))
		for id, u := range cfg.Contacts.Users {
			users[id] = static.User{Name: u.Name, Contacts: toContacts(u.Contacts)}
		}
		return static.New(users), nil
	default:
		return nil, errors.Errorf("unknown contacts mode %q", cfg.Contacts.Mode)
	}
}

func Gateway(cfg *config.Config) (notify.Gateway, error) {
	switch cfg.SafeZone.NotifyChannel {
	case "", "fake":
		return fake.New(models.ChannelEmail), nil
	case "email":
		return smtpmail.New(smtpmail.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			FromName:    cfg.SMTP.FromName,
			InsecureTLS: cfg.SMTP.InsecureTLS,
		}), nil
	case "sms":
		return smshttp.New(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender), nil
	default:
		return nil, errors.Errorf("unknown notify channel %q", cfg.SafeZone.NotifyChannel)
	}
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

// Cache returns nil when caching is disabled. The local cache is private to
// the process and is only allowed over the in-memory store.
func Cache(cfg *config.Config) (cache.BytesCache, func(), error) {
	switch cfg.SafeZone.CacheDriver {
	case "none":
		return nil, func() {}, nil
	case "local":
		if cfg.SafeZone.StorageDriver != "memory" {
			return nil, nil, errors.Errorf("cache driver %q requires storage driver \"memory\", got %q",
				cfg.SafeZone.CacheDriver, cfg.SafeZone.StorageDriver)
		}
		return localcache.New(10*time.Minute, time.Minute), func() {}, nil
	default:
		rc := rediscache.New(redisAddr(cfg))
		return rc, func() { _ = rc.Close() }, nil
	}
}

// RateLimiter follows the cache driver; without a cache there is no limit.
func RateLimiter(cfg *config.Config) (cache.RateLimiter, func()) {
	switch cfg.SafeZone.CacheDriver {
	case "none":
		return nil, func() {}
	case "local":
		return localcache.NewRateLimiter(), func() {}
	default:
		rl := rediscache.NewRateLimiter(redisAddr(cfg))
		return rl, func() { _ = rl.Close() }
	}
}
