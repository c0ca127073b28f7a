/**
 * @description
 * This package handles the configuration management for the ATM CLI. It uses the
 * Viper library to read configuration from environment variables or an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all the configuration variables for the ATM CLI.
type Config struct {
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	StorageDriver        string `mapstructure:"STORAGE_DRIVER"`
	DBMaxConns           int32  `mapstructure:"DB_MAX_CONNS"`
	BcryptCost           int    `mapstructure:"BCRYPT_COST"`
	HistoryLimit         int    `mapstructure:"HISTORY_LIMIT"`
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	LoginMaxAttempts     int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginWindowSeconds   int    `mapstructure:"LOGIN_WINDOW_SECONDS"`
	CurrencySymbol       string `mapstructure:"CURRENCY_SYMBOL"`
	Locale               string `mapstructure:"LOCALE"`
}

// LoginWindow returns the login throttling window as a duration.
func (c Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowSeconds) * time.Second
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)
	viper.SetDefault("DB_MAX_CONNS", 4)
	viper.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)
	viper.SetDefault("HISTORY_LIMIT", 20)
	viper.SetDefault("LOG_LEVEL", "warn")
	viper.SetDefault("EVENT_EXCHANGE", "atm_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "atm:rate_limit")
	viper.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("LOGIN_WINDOW_SECONDS", 300)
	viper.SetDefault("CURRENCY_SYMBOL", "Rp")
	viper.SetDefault("LOCALE", "id")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORAGE_DRIVER")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("BCRYPT_COST")
	_ = viper.BindEnv("HISTORY_LIMIT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ATM_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("LOGIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("LOGIN_WINDOW_SECONDS")
	_ = viper.BindEnv("CURRENCY_SYMBOL")
	_ = viper.BindEnv("LOCALE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	normalize(&config)
	return
}

func normalize(config *Config) {
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	config.StorageDriver = strings.ToLower(strings.TrimSpace(config.StorageDriver))
	switch config.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown storage driver; using postgres\" driver=%q", config.StorageDriver)
		config.StorageDriver = StorageDriverPostgres
	}

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 4
	}

	if config.BcryptCost < bcrypt.MinCost || config.BcryptCost > bcrypt.MaxCost {
		log.Printf("level=warn component=config msg=\"bcrypt cost out of range; using default\" cost=%d", config.BcryptCost)
		config.BcryptCost = bcrypt.DefaultCost
	}

	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}

	config.EventExchange = strings.TrimSpace(config.EventExchange)
	if config.EventExchange == "" {
		config.EventExchange = "atm_events"
	}

	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "atm:rate_limit"
	}
	if config.LoginMaxAttempts <= 0 {
		config.LoginMaxAttempts = 5
	}
	if config.LoginWindowSeconds <= 0 {
		config.LoginWindowSeconds = 300
	}

	config.CurrencySymbol = strings.TrimSpace(config.CurrencySymbol)
	config.Locale = strings.TrimSpace(config.Locale)
	if config.Locale == "" {
		config.Locale = "id"
	}
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
}
