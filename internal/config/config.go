package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                  string
	Port                 string
	WSPort               string
	LogLevel             string
	StorageDriver        string
	DatabaseURL          string
	SQLitePath           string
	RedisURL             string
	SessionSecret        string
	FrontendURLEndsWith  string
	DevPassword          string
	AllowCrossSiteDev    bool
	HealthAdminKey       string
	PriceAPIURL          string
	PriceAPIKey          string
	PriceBatchSize       int
	PriceRefreshInterval time.Duration
	TrackedPriceIDs      []string
	EthRPCURL            string
	UpstreamTimeout      time.Duration
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("WS_PORT", "8081")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORAGE_DRIVER", DriverMemory)
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("PRICE_API_URL", "https://api.coingecko.com/api/v3")
	viper.SetDefault("PRICE_BATCH_SIZE", 10)
	viper.SetDefault("PRICE_REFRESH_INTERVAL", "30s")
	viper.SetDefault("TRACKED_PRICE_IDS", "bitcoin,ethereum,tether,usd-coin,solana")
	viper.SetDefault("ETH_RPC_URL", "https://cloudflare-eth.com")
	viper.SetDefault("UPSTREAM_TIMEOUT", "10s")

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	driver := strings.ToLower(strings.TrimSpace(viper.GetString("STORAGE_DRIVER")))
	switch driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q (want memory, sqlite or postgres)", driver)
	}
	if driver == DriverPostgres && dbURL == "" {
		return nil, fmt.Errorf("STORAGE_DRIVER=postgres needs DATABASE_URL_%s", strings.ToUpper(envSuffix(env)))
	}

	refresh, err := duration("PRICE_REFRESH_INTERVAL")
	if err != nil {
		return nil, err
	}
	timeout, err := duration("UPSTREAM_TIMEOUT")
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:                  env,
		Port:                 viper.GetString("PORT"),
		WSPort:               viper.GetString("WS_PORT"),
		LogLevel:             viper.GetString("LOG_LEVEL"),
		StorageDriver:        driver,
		DatabaseURL:          dbURL,
		SQLitePath:           viper.GetString("SQLITE_PATH"),
		RedisURL:             viper.GetString("REDIS_URL"),
		SessionSecret:        viper.GetString("SESSION_SECRET"),
		FrontendURLEndsWith:  viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:          viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:    strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:       viper.GetString("HEALTH_ADMIN_KEY"),
		PriceAPIURL:          strings.TrimRight(viper.GetString("PRICE_API_URL"), "/"),
		PriceAPIKey:          viper.GetString("PRICE_API_KEY"),
		PriceBatchSize:       viper.GetInt("PRICE_BATCH_SIZE"),
		PriceRefreshInterval: refresh,
		TrackedPriceIDs:      splitList(viper.GetString("TRACKED_PRICE_IDS")),
		EthRPCURL:            viper.GetString("ETH_RPC_URL"),
		UpstreamTimeout:      timeout,
	}, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func envSuffix(env string) string {
	switch env {
	case "production":
		return "prod"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func duration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration such as 30s", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
