package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Development-only fallbacks. LoadFromEnv refuses to fall back to these
// when ENVIRONMENT=production.
const (
	devTokenSecret = "dev-unsubscribe-token-secret"
	devIPHashSalt  = "dev-ip-hash-salt"
)

// Config holds all configuration for the back-office service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Audit   AuditConfig   `yaml:"audit"`
	Privacy PrivacyConfig `yaml:"privacy"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	// Backend is "dynamodb" or "memory".
	Backend       string `yaml:"backend"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // empty uses default credential chain (IAM role on ECS)
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
}

// GetAWSProfile returns the AWS profile, with environment overrides.
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig holds the Redis connection used for subscribe rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// AuditConfig holds the audit event sink configuration.
type AuditConfig struct {
	// QueueURL is the SQS queue audit events are published to. Empty falls
	// back to the log-based sink.
	QueueURL  string `yaml:"queue_url"`
	AWSRegion string `yaml:"aws_region"`
}

// PrivacyConfig holds policy versioning and jurisdiction defaults.
type PrivacyConfig struct {
	PolicyVersion  string `yaml:"policy_version"`
	ConsentVersion string `yaml:"consent_version"`
	// TokenMaxAgeDays bounds unsubscribe token validity. 0 disables expiry.
	TokenMaxAgeDays int `yaml:"token_max_age_days"`
}

// SecretsConfig holds deployment secrets. These are only ever populated
// from the environment; the yaml tags exist for local dev files.
type SecretsConfig struct {
	UnsubscribeTokenSecret string `yaml:"unsubscribe_token_secret"`
	IPHashSalt             string `yaml:"ip_hash_salt"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"https://meridian.vc", "http://localhost:3000"}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.AWSRegion == "" {
		c.Storage.AWSRegion = "us-east-1"
	}
	if c.Storage.DynamoDBTable == "" {
		c.Storage.DynamoDBTable = "meridian-backoffice"
	}
	if c.Audit.AWSRegion == "" {
		c.Audit.AWSRegion = c.Storage.AWSRegion
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Privacy.PolicyVersion == "" {
		c.Privacy.PolicyVersion = "1.0"
	}
	if c.Privacy.ConsentVersion == "" {
		c.Privacy.ConsentVersion = "1.0"
	}
	if c.Privacy.TokenMaxAgeDays == 0 {
		c.Privacy.TokenMaxAgeDays = 365
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
		cfg.Audit.AWSRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AUDIT_QUEUE_URL"); v != "" {
		cfg.Audit.QueueURL = v
	}
	if v := os.Getenv("PRIVACY_POLICY_VERSION"); v != "" {
		cfg.Privacy.PolicyVersion = v
	}
	if v := os.Getenv("CONSENT_VERSION"); v != "" {
		cfg.Privacy.ConsentVersion = v
	}
	if v := os.Getenv("UNSUBSCRIBE_TOKEN_SECRET"); v != "" {
		cfg.Secrets.UnsubscribeTokenSecret = v
	}
	if v := os.Getenv("IP_HASH_SALT"); v != "" {
		cfg.Secrets.IPHashSalt = v
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets applies the development fallbacks, which are acceptable
// only outside production.
func (c *Config) resolveSecrets() error {
	production := os.Getenv("ENVIRONMENT") == "production"

	if c.Secrets.UnsubscribeTokenSecret == "" {
		if production {
			return ErrMissingSecret{Name: "UNSUBSCRIBE_TOKEN_SECRET"}
		}
		c.Secrets.UnsubscribeTokenSecret = devTokenSecret
	}
	if c.Secrets.IPHashSalt == "" {
		if production {
			return ErrMissingSecret{Name: "IP_HASH_SALT"}
		}
		c.Secrets.IPHashSalt = devIPHashSalt
	}
	return nil
}

// ErrMissingSecret is returned when a required secret is absent in production.
type ErrMissingSecret struct {
	Name string
}

func (e ErrMissingSecret) Error() string {
	return "missing required secret " + e.Name + " in production environment"
}
