package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PLANGATE_DB_HOST for db.host.
const EnvPrefix = "PLANGATE"

// Audit backends.
const (
	AuditNone     = "none"
	AuditMemory   = "memory"
	AuditPostgres = "postgres"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		EnableMCP       bool          `mapstructure:"enable_mcp"`
	} `mapstructure:"server"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Registry struct {
		Path  string `mapstructure:"path"`
		Watch bool   `mapstructure:"watch"`
	} `mapstructure:"registry"`
	Gate struct {
		AutoCorrect         bool          `mapstructure:"auto_correct"`
		ReverifyCorrections bool          `mapstructure:"reverify_corrections"`
		FileCheckTimeout    time.Duration `mapstructure:"file_check_timeout"`
		CacheSweepInterval  time.Duration `mapstructure:"cache_sweep_interval"`
	} `mapstructure:"gate"`
	Audit struct {
		Backend        string `mapstructure:"backend"`
		MemoryCapacity int    `mapstructure:"memory_capacity"`
	} `mapstructure:"audit"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		Issuer    string `mapstructure:"issuer"`
		ClientID  string `mapstructure:"client_id"`
		DevBypass bool   `mapstructure:"dev_bypass"`
	} `mapstructure:"auth"`
	Client struct {
		TokenURL     string   `mapstructure:"token_url"`
		ClientID     string   `mapstructure:"client_id"`
		ClientSecret string   `mapstructure:"client_secret"`
		Scopes       []string `mapstructure:"scopes"`
	} `mapstructure:"client"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// DSN returns the Postgres connection string for the DB section.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.enable_mcp", true)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{"localhost"})

	v.SetDefault("registry.path", "registry.yaml")
	v.SetDefault("registry.watch", true)

	v.SetDefault("gate.auto_correct", true)
	v.SetDefault("gate.reverify_corrections", false)
	v.SetDefault("gate.file_check_timeout", 2*time.Second)
	v.SetDefault("gate.cache_sweep_interval", time.Minute)

	v.SetDefault("audit.backend", AuditMemory)
	v.SetDefault("audit.memory_capacity", 1000)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "plangate")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "plangate")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.dev_bypass", false)

	v.SetDefault("client.token_url", "")
	v.SetDefault("client.client_id", "")
	v.SetDefault("client.client_secret", "")
	v.SetDefault("client.scopes", []string{"gate:validate"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig loads the configuration from a file and the environment. With
// an empty path, config.yaml is searched in . and ./config and may be absent.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Audit.Backend {
	case AuditNone, AuditMemory, AuditPostgres:
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	if c.Registry.Path == "" {
		return errors.New("registry.path must be set")
	}
	if c.Auth.Issuer == "" && !c.Auth.DevBypass {
		return errors.New("auth.issuer must be set unless auth.dev_bypass is enabled")
	}
	return nil
}

// normalizeIssuer strips any trailing slash so a URL pasted from an identity
// provider console matches the issuer claim.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
