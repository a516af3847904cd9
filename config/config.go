package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SMS      SMSConfig      `yaml:"sms"`
	Contacts ContactsConfig `yaml:"contacts"`
	Log      LogConfig      `yaml:"log"`
	SafeZone SafeZoneConfig `yaml:"safezone"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type MongoConfig struct {
	URI    string `yaml:"uri"`
	DBName string `yaml:"name"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	SafetyEventsTopic  string `yaml:"safety_events_topic"`
	TripLocationsTopic string `yaml:"trip_locations_topic"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Topic     string `yaml:"topic"`
	QoS       int    `yaml:"qos"`
}

type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	FromName    string `yaml:"from_name"`
	InsecureTLS bool   `yaml:"insecure_tls"`
}

type SMSConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Sender  string `yaml:"sender"`
}

type StaticContact struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
	Email string `yaml:"email"`
}

type StaticUser struct {
	Name     string          `yaml:"name"`
	Contacts []StaticContact `yaml:"contacts"`
}

type ContactsConfig struct {
	Mode    string                `yaml:"mode"` // "store" | "http" | "static"
	BaseURL string                `yaml:"base_url"`
	APIKey  string                `yaml:"api_key"`
	Users   map[string]StaticUser `yaml:"users"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

type SafeZoneConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	StorageDriver       string `yaml:"storage_driver"` // "postgres" | "mongo" | "memory"
	CacheDriver         string `yaml:"cache_driver"`   // "redis" | "local" | "none"
	TripCacheTTLSeconds int    `yaml:"trip_cache_ttl_seconds"`
	JWTSecret           string `yaml:"jwt_secret"`
	NotifyChannel       string `yaml:"notify_channel"` // "email" | "sms" | "fake"
	PublishEvents       bool   `yaml:"publish_events"`
	KafkaConsumerGroup  string `yaml:"kafka_consumer_group"`
	ConsumeLocations    bool   `yaml:"consume_locations"`

	DispatchMaxInFlight        int `yaml:"dispatch_max_in_flight"`
	DispatchSendTimeoutSeconds int `yaml:"dispatch_send_timeout_seconds"`
	DispatchRateLimitPerMinute int `yaml:"dispatch_rate_limit_per_minute"`

	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
	WorkerSweepIntervalSeconds int    `yaml:"worker_sweep_interval_seconds"`
	WorkerBatchSize            int    `yaml:"worker_batch_size"`
	WorkerConcurrency          int    `yaml:"worker_concurrency"`
}

// secrets are read from SAFEZONE_* variables and win over the file.
type secrets struct {
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	MongoURI         string `envconfig:"MONGO_URI"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	SMSAPIKey        string `envconfig:"SMS_API_KEY"`
	MQTTPassword     string `envconfig:"MQTT_PASSWORD"`
	ContactsAPIKey   string `envconfig:"CONTACTS_API_KEY"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := loadDotEnv(filepath.Dir(filename)); err != nil {
		return nil, err
	}
	if err := applySecrets(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv loads a .env file next to the config, if there is one.
// Variables already set in the environment are kept.
func loadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

func applySecrets(cfg *Config) error {
	var s secrets
	if err := envconfig.Process("safezone", &s); err != nil {
		return fmt.Errorf("failed to read env overrides: %w", err)
	}
	override(&cfg.Database.Password, s.DatabasePassword)
	override(&cfg.Mongo.URI, s.MongoURI)
	override(&cfg.SMTP.Password, s.SMTPPassword)
	override(&cfg.SMS.APIKey, s.SMSAPIKey)
	override(&cfg.MQTT.Password, s.MQTTPassword)
	override(&cfg.Contacts.APIKey, s.ContactsAPIKey)
	override(&cfg.SafeZone.JWTSecret, s.JWTSecret)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
