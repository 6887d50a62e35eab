package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlAPNSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Environment     string        `yaml:"environment"`
	Endpoint        string        `yaml:"endpoint"`
	BundleID        string        `yaml:"bundle_id"`
	CertificatePath string        `yaml:"certificate_path"`
	Passphrase      string        `yaml:"passphrase"`
	KeyPath         string        `yaml:"key_path"`
	KeyID           string        `yaml:"key_id"`
	TeamID          string        `yaml:"team_id"`
	CAPath          string        `yaml:"ca_path"`
	Timeout         time.Duration `yaml:"timeout"`
	Workers         int           `yaml:"workers"`
}

type YamlAPNSLegacyConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Environment     string        `yaml:"environment"`
	Gateway         string        `yaml:"gateway"`
	CertificatePath string        `yaml:"certificate_path"`
	Passphrase      string        `yaml:"passphrase"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	DefaultExpire   uint32        `yaml:"default_expire"`
	DefaultPriority uint8         `yaml:"default_priority"`
	DefaultCommand  uint8         `yaml:"default_command"`
}

type YamlFCMConfig struct {
	Enabled   bool          `yaml:"enabled"`
	ServerKey string        `yaml:"server_key"`
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
}

type YamlFirebaseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
}

type YamlWNSConfig struct {
	Enabled   bool          `yaml:"enabled"`
	NotifyURL string        `yaml:"notify_url"`
	AuthURL   string        `yaml:"auth_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string               `yaml:"project_id"`
	ListenAddr             string               `yaml:"listen_addr"`
	TopicID                string               `yaml:"topic_id"`
	SubscriptionID         string               `yaml:"subscription_id"`
	SubscriptionDLQTopicID string               `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                  `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig       `yaml:"cors"`
	RedisConfig            YamlRedisConfig      `yaml:"redis"`
	APNSConfig             YamlAPNSConfig       `yaml:"apns"`
	APNSLegacyConfig       YamlAPNSLegacyConfig `yaml:"apns_legacy"`
	FCMConfig              YamlFCMConfig        `yaml:"fcm"`
	FirebaseConfig         YamlFirebaseConfig   `yaml:"firebase"`
	WNSConfig              YamlWNSConfig        `yaml:"wns"`
	VapidConfig            YamlVapidConfig      `yaml:"vapid"`
	Console                bool                 `yaml:"console"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig(baseCfg.RedisConfig),
		APNS:  APNSConfig(baseCfg.APNSConfig),
		APNSLegacy: APNSLegacyConfig{
			Enabled:         baseCfg.APNSLegacyConfig.Enabled,
			Environment:     baseCfg.APNSLegacyConfig.Environment,
			Gateway:         baseCfg.APNSLegacyConfig.Gateway,
			CertificatePath: baseCfg.APNSLegacyConfig.CertificatePath,
			Passphrase:      baseCfg.APNSLegacyConfig.Passphrase,
			ConnectTimeout:  baseCfg.APNSLegacyConfig.ConnectTimeout,
			DefaultExpire:   baseCfg.APNSLegacyConfig.DefaultExpire,
			DefaultPriority: baseCfg.APNSLegacyConfig.DefaultPriority,
			DefaultCommand:  baseCfg.APNSLegacyConfig.DefaultCommand,
		},
		FCM:      FCMConfig(baseCfg.FCMConfig),
		Firebase: FirebaseConfig(baseCfg.FirebaseConfig),
		WNS:      WNSConfig(baseCfg.WNSConfig),
		Vapid:    VapidConfig(baseCfg.VapidConfig),
		Console:  baseCfg.Console,

		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"providers", cfg.EnabledProviders(),
	)

	return cfg, nil
}
