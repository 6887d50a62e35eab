package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Provider names as they appear in a dispatch request.
const (
	ProviderAPNS       = "apns"
	ProviderAPNSLegacy = "apns-legacy"
	ProviderFCM        = "fcm"
	ProviderFCMLegacy  = "fcm-legacy"
	ProviderWNS        = "wns"
	ProviderWeb        = "web"
	ProviderConsole    = "console"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type APNSConfig struct {
	Enabled         bool
	Environment     string
	Endpoint        string
	BundleID        string
	CertificatePath string
	Passphrase      string
	KeyPath         string
	KeyID           string
	TeamID          string
	CAPath          string
	Timeout         time.Duration
	Workers         int
}

type APNSLegacyConfig struct {
	Enabled         bool
	Environment     string
	Gateway         string
	CertificatePath string
	Passphrase      string
	ConnectTimeout  time.Duration
	DefaultExpire   uint32
	DefaultPriority uint8
	DefaultCommand  uint8
}

// FCMConfig configures the legacy HTTP endpoint.
type FCMConfig struct {
	Enabled   bool
	ServerKey string
	Endpoint  string
	Timeout   time.Duration
}

// FirebaseConfig configures FCM HTTP v1 through the Firebase Admin SDK.
type FirebaseConfig struct {
	Enabled   bool
	ProjectID string
}

type WNSConfig struct {
	Enabled   bool
	NotifyURL string
	AuthURL   string
	Timeout   time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
}

func (v VapidConfig) Enabled() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	APNS       APNSConfig
	APNSLegacy APNSLegacyConfig
	FCM        FCMConfig
	Firebase   FirebaseConfig
	WNS        WNSConfig
	Vapid      VapidConfig
	Console    bool

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// EnabledProviders lists the providers the service will register handlers for.
func (c *Config) EnabledProviders() []string {
	var out []string
	if c.APNS.Enabled {
		out = append(out, ProviderAPNS)
	}
	if c.APNSLegacy.Enabled {
		out = append(out, ProviderAPNSLegacy)
	}
	if c.Firebase.Enabled {
		out = append(out, ProviderFCM)
	}
	if c.FCM.Enabled {
		out = append(out, ProviderFCMLegacy)
	}
	if c.WNS.Enabled {
		out = append(out, ProviderWNS)
	}
	if c.Vapid.Enabled() {
		out = append(out, ProviderWeb)
	}
	if c.Console {
		out = append(out, ProviderConsole)
	}
	return out
}

func setString(logger *slog.Logger, key string, dst *string) bool {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
		return true
	}
	return false
}

func setBool(logger *slog.Logger, key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = b
		}
	}
}

func setDuration(logger *slog.Logger, key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = d
		}
	}
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	setString(logger, "PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if setString(logger, "SUBSCRIPTION_ID", &cfg.SubscriptionID) {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
	setString(logger, "SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if setString(logger, "REDIS_ADDR", &cfg.Redis.Addr) {
		cfg.Redis.Enabled = true
	}
	setString(logger, "REDIS_PASSWORD", &cfg.Redis.Password)
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	setBool(logger, "REDIS_ENABLED", &cfg.Redis.Enabled)

	// APNS Overrides
	setBool(logger, "APNS_ENABLED", &cfg.APNS.Enabled)
	setString(logger, "APNS_ENVIRONMENT", &cfg.APNS.Environment)
	setString(logger, "APNS_ENDPOINT", &cfg.APNS.Endpoint)
	setString(logger, "APNS_BUNDLE_ID", &cfg.APNS.BundleID)
	setString(logger, "APNS_CERT_PATH", &cfg.APNS.CertificatePath)
	setString(logger, "APNS_CERT_PASSPHRASE", &cfg.APNS.Passphrase)
	setString(logger, "APNS_KEY_PATH", &cfg.APNS.KeyPath)
	setString(logger, "APNS_KEY_ID", &cfg.APNS.KeyID)
	setString(logger, "APNS_TEAM_ID", &cfg.APNS.TeamID)
	setString(logger, "APNS_CA_PATH", &cfg.APNS.CAPath)
	setDuration(logger, "APNS_TIMEOUT", &cfg.APNS.Timeout)

	setBool(logger, "APNS_LEGACY_ENABLED", &cfg.APNSLegacy.Enabled)
	setString(logger, "APNS_LEGACY_ENVIRONMENT", &cfg.APNSLegacy.Environment)
	setString(logger, "APNS_LEGACY_GATEWAY", &cfg.APNSLegacy.Gateway)
	setString(logger, "APNS_LEGACY_CERT_PATH", &cfg.APNSLegacy.CertificatePath)
	setString(logger, "APNS_LEGACY_CERT_PASSPHRASE", &cfg.APNSLegacy.Passphrase)
	setDuration(logger, "APNS_LEGACY_CONNECT_TIMEOUT", &cfg.APNSLegacy.ConnectTimeout)

	// FCM Overrides
	setBool(logger, "FCM_ENABLED", &cfg.FCM.Enabled)
	setString(logger, "FCM_SERVER_KEY", &cfg.FCM.ServerKey)
	setString(logger, "FCM_ENDPOINT", &cfg.FCM.Endpoint)
	setDuration(logger, "FCM_TIMEOUT", &cfg.FCM.Timeout)

	setBool(logger, "FIREBASE_ENABLED", &cfg.Firebase.Enabled)
	setString(logger, "FIREBASE_PROJECT_ID", &cfg.Firebase.ProjectID)

	// WNS Overrides
	setBool(logger, "WNS_ENABLED", &cfg.WNS.Enabled)
	setString(logger, "WNS_NOTIFY_URL", &cfg.WNS.NotifyURL)
	setString(logger, "WNS_AUTH_URL", &cfg.WNS.AuthURL)
	setDuration(logger, "WNS_TIMEOUT", &cfg.WNS.Timeout)

	// VAPID Overrides
	setString(logger, "VAPID_PUBLIC_KEY", &cfg.Vapid.PublicKey)
	setString(logger, "VAPID_PRIVATE_KEY", &cfg.Vapid.PrivateKey)
	setString(logger, "VAPID_SUB_EMAIL", &cfg.Vapid.SubscriberEmail)

	setBool(logger, "CONSOLE_ENABLED", &cfg.Console)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.APNS.Enabled {
		if cfg.APNS.BundleID == "" {
			return nil, fmt.Errorf("apns.bundle_id is required when apns is enabled (APNS_BUNDLE_ID)")
		}
		if cfg.APNS.CertificatePath == "" && cfg.APNS.KeyPath == "" {
			return nil, fmt.Errorf("apns needs a certificate_path or a key_path")
		}
	}
	if cfg.APNSLegacy.Enabled && cfg.APNSLegacy.CertificatePath == "" {
		return nil, fmt.Errorf("apns_legacy.certificate_path is required when apns_legacy is enabled")
	}
	if cfg.FCM.Enabled && cfg.FCM.ServerKey == "" {
		return nil, fmt.Errorf("fcm.server_key is required when fcm is enabled (FCM_SERVER_KEY)")
	}
	if cfg.WNS.Enabled && cfg.WNS.NotifyURL == "" {
		return nil, fmt.Errorf("wns.notify_url is required when wns is enabled (WNS_NOTIFY_URL)")
	}
	if cfg.Firebase.Enabled && cfg.Firebase.ProjectID == "" {
		cfg.Firebase.ProjectID = cfg.ProjectID
	}
	if len(cfg.EnabledProviders()) == 0 {
		return nil, fmt.Errorf("no push provider is enabled")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully", "providers", cfg.EnabledProviders())
	return cfg, nil
}
