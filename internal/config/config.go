// Package config provides configuration loading for the broker and worker.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	ACME     ACMEConfig     `mapstructure:"acme"`
	AWS      AWSConfig      `mapstructure:"aws"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
	BrokerUser   string        `mapstructure:"broker_user"`
	BrokerPass   string        `mapstructure:"broker_pass"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration for the task queue.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BrokerConfig holds domain-broker behavior configuration.
type BrokerConfig struct {
	// DefaultCloudFrontOrigin is the origin used for CDN instances when the
	// tenant does not supply one. It is the platform's shared router.
	DefaultCloudFrontOrigin string `mapstructure:"default_cloudfront_origin"`
	// CloudFrontHostedZoneID is the fixed Route53 hosted zone id for
	// CloudFront alias targets.
	CloudFrontHostedZoneID string `mapstructure:"cloudfront_hosted_zone_id"`
	// DNSRootDomain is the broker-owned zone tenants must CNAME their
	// _acme-challenge records into before provisioning.
	DNSRootDomain string `mapstructure:"dns_root_domain"`
	// HostedZoneID is the Route53 zone the broker writes TXT and alias
	// records into.
	HostedZoneID string `mapstructure:"hosted_zone_id"`
	// ALBListenerARNs are the candidate listeners for ALB-plan instances,
	// in preference order.
	ALBListenerARNs []string `mapstructure:"alb_listener_arns"`
	// WAFRateLimitRuleGroupARN is attached to every dedicated web ACL.
	WAFRateLimitRuleGroupARN string `mapstructure:"waf_rate_limit_rule_group_arn"`
	// WAFLogGroupARN receives web ACL traffic logs.
	WAFLogGroupARN string `mapstructure:"waf_log_group_arn"`
	// RenewBefore is how far ahead of certificate expiry the scheduler
	// queues a renewal.
	RenewBefore time.Duration `mapstructure:"renew_before"`
}

// ACMEConfig holds certificate authority configuration.
type ACMEConfig struct {
	DirectoryURL string `mapstructure:"directory_url"`
	ContactEmail string `mapstructure:"contact_email"`
}

// AWSConfig holds AWS client configuration.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	// GlobalRegion is used for CloudFront-scoped WAF and Shield calls,
	// which must go to us-east-1 regardless of the broker's home region.
	GlobalRegion string `mapstructure:"global_region"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/external-domain-broker")

	v.SetEnvPrefix("EDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "domain_broker")
	v.SetDefault("database.password", "domain_broker")
	v.SetDefault("database.database", "domain_broker")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Broker defaults
	v.SetDefault("broker.default_cloudfront_origin", "cloud.local")
	v.SetDefault("broker.cloudfront_hosted_zone_id", "Z2FDTNDATAQYW2")
	v.SetDefault("broker.renew_before", "720h") // 30 days

	// ACME defaults point at the Let's Encrypt staging directory so a
	// misconfigured deployment cannot burn production rate limits.
	v.SetDefault("acme.directory_url", "https://acme-staging-v02.api.letsencrypt.org/directory")

	// AWS defaults
	v.SetDefault("aws.region", "us-gov-west-1")
	v.SetDefault("aws.global_region", "us-east-1")
}
