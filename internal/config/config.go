package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gregtusar/perpdesk/internal/logging"
	"github.com/gregtusar/perpdesk/pkg/feed"
	"github.com/gregtusar/perpdesk/pkg/market"
	"github.com/gregtusar/perpdesk/pkg/platform"
	"github.com/gregtusar/perpdesk/pkg/secrets"
	"github.com/gregtusar/perpdesk/pkg/simulator"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/gregtusar/perpdesk/pkg/trader"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   logging.Config  `mapstructure:"logging"`
	Account   AccountConfig   `mapstructure:"account"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type APIConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	Timeout             int     `mapstructure:"timeout"`
	RateLimit           float64 `mapstructure:"rate_limit"`
	Burst               int     `mapstructure:"burst"`
	PollInterval        int     `mapstructure:"poll_interval"`
	ActivePositionsTTL  int     `mapstructure:"active_positions_ttl"`
	HistoryPositionsTTL int     `mapstructure:"history_positions_ttl"`
}

type FeedConfig struct {
	URL            string   `mapstructure:"url"`
	Symbols        []string `mapstructure:"symbols"`
	ReconnectDelay int      `mapstructure:"reconnect_delay"`
	MaxReconnects  int      `mapstructure:"max_reconnects"`
}

type SimulatorConfig struct {
	LifetimeMinutes     int     `mapstructure:"lifetime_minutes"`
	TickInterval        int     `mapstructure:"tick_interval"`
	MinBalance          float64 `mapstructure:"min_balance"`
	HighMarginThreshold float64 `mapstructure:"high_margin_threshold"`
	SettlementAmount    float64 `mapstructure:"settlement_amount"`
	ConversionRate      float64 `mapstructure:"conversion_rate"`
	CommissionRate      float64 `mapstructure:"commission_rate"`
}

// StorageConfig selects the KV backend. Driver is "badger" (default) or
// "redis".
type StorageConfig struct {
	Driver   string      `mapstructure:"driver"`
	Path     string      `mapstructure:"path"`
	InMemory bool        `mapstructure:"in_memory"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AccountConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/perpdesk")
	}

	v.SetEnvPrefix("PERPDESK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)

	api := platform.DefaultConfig()
	v.SetDefault("api.base_url", api.BaseURL)
	v.SetDefault("api.timeout", int(api.Timeout.Seconds()))
	v.SetDefault("api.rate_limit", api.RateLimit)
	v.SetDefault("api.burst", api.Burst)
	v.SetDefault("api.poll_interval", 10)
	v.SetDefault("api.active_positions_ttl", int(api.ActivePositionsTTL.Seconds()))
	v.SetDefault("api.history_positions_ttl", int(api.HistoryPositionsTTL.Seconds()))

	v.SetDefault("feed.url", feed.DefaultBaseURL)
	v.SetDefault("feed.symbols", market.Symbols())
	v.SetDefault("feed.reconnect_delay", 5)
	v.SetDefault("feed.max_reconnects", 10)

	sim := simulator.DefaultConfig()
	v.SetDefault("simulator.lifetime_minutes", int(sim.Lifetime.Minutes()))
	v.SetDefault("simulator.tick_interval", int(sim.TickInterval.Seconds()))
	v.SetDefault("simulator.min_balance", sim.MinBalance.InexactFloat64())
	v.SetDefault("simulator.high_margin_threshold", sim.HighMarginThreshold.InexactFloat64())
	v.SetDefault("simulator.settlement_amount", sim.SettlementAmount.InexactFloat64())
	v.SetDefault("simulator.conversion_rate", sim.ConversionRate.InexactFloat64())
	v.SetDefault("simulator.commission_rate", trader.DefaultCommissionRate)

	v.SetDefault("storage.driver", "badger")
	v.SetDefault("storage.path", "./data/perpdesk")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "perpdesk:")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.email", secretNames.Email)
	v.SetDefault("gcp.secret_names.password", secretNames.Password)
	v.SetDefault("gcp.secret_names.api_url", secretNames.APIURL)
}

func overrideFromEnv(config *Config) {
	if url := os.Getenv("PERPDESK_API_URL"); url != "" {
		config.API.BaseURL = url
	}
	if email := os.Getenv("PERPDESK_EMAIL"); email != "" {
		config.Account.Email = email
	}
	if password := os.Getenv("PERPDESK_PASSWORD"); password != "" {
		config.Account.Password = password
	}
	if port := os.Getenv("PERPDESK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("PERPDESK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if addr := os.Getenv("PERPDESK_REDIS_ADDR"); addr != "" {
		config.Storage.Driver = "redis"
		config.Storage.Redis.Addr = addr
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.GCP.CredentialsFile == "" {
		config.GCP.CredentialsFile = creds
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Account.Email == "" {
		config.Account.Email = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.Email, "")
	}
	if config.Account.Password == "" {
		config.Account.Password = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.Password, "")
	}
	config.API.BaseURL = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.APIURL, config.API.BaseURL)

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// PlatformConfig converts the api section for the REST client.
func (c *Config) PlatformConfig() platform.Config {
	cfg := platform.DefaultConfig()
	cfg.BaseURL = c.API.BaseURL
	cfg.RateLimit = c.API.RateLimit
	cfg.Burst = c.API.Burst
	if c.API.Timeout > 0 {
		cfg.Timeout = time.Duration(c.API.Timeout) * time.Second
	}
	if c.API.ActivePositionsTTL > 0 {
		cfg.ActivePositionsTTL = time.Duration(c.API.ActivePositionsTTL) * time.Second
	}
	if c.API.HistoryPositionsTTL > 0 {
		cfg.HistoryPositionsTTL = time.Duration(c.API.HistoryPositionsTTL) * time.Second
	}
	return cfg
}

func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		BaseURL:        c.Feed.URL,
		Symbols:        c.Feed.Symbols,
		ReconnectDelay: time.Duration(c.Feed.ReconnectDelay) * time.Second,
		MaxReconnects:  c.Feed.MaxReconnects,
	}
}

// SimulatorConfig overlays configured values on the simulator defaults.
func (c *Config) SimulatorConfig() simulator.Config {
	cfg := simulator.DefaultConfig()
	s := c.Simulator
	if s.LifetimeMinutes > 0 {
		cfg.Lifetime = time.Duration(s.LifetimeMinutes) * time.Minute
	}
	if s.TickInterval > 0 {
		cfg.TickInterval = time.Duration(s.TickInterval) * time.Second
	}
	if s.MinBalance > 0 {
		cfg.MinBalance = decimal.NewFromFloat(s.MinBalance)
	}
	if s.HighMarginThreshold > 0 {
		cfg.HighMarginThreshold = decimal.NewFromFloat(s.HighMarginThreshold)
	}
	if s.SettlementAmount > 0 {
		cfg.SettlementAmount = decimal.NewFromFloat(s.SettlementAmount)
	}
	if s.ConversionRate > 0 {
		cfg.ConversionRate = decimal.NewFromFloat(s.ConversionRate)
	}
	return cfg
}

// OpenStorage opens the configured KV backend.
func (c *Config) OpenStorage() (storage.KV, error) {
	switch c.Storage.Driver {
	case "", "badger":
		kv, err := storage.Open(storage.Options{Path: c.Storage.Path, InMemory: c.Storage.InMemory})
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "redis":
		r := c.Storage.Redis
		kv, err := storage.OpenRedis(storage.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
}

// DeskConfig assembles everything the desk needs.
func (c *Config) DeskConfig() trader.Config {
	return trader.Config{
		API:            c.PlatformConfig(),
		Feed:           c.FeedConfig(),
		Simulator:      c.SimulatorConfig(),
		PollInterval:   time.Duration(c.API.PollInterval) * time.Second,
		CommissionRate: c.Simulator.CommissionRate,
	}
}
