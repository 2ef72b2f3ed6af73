/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string  `mapstructure:"DATABASE_URL"`
	RedisURL                     string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string  `mapstructure:"RABBITMQ_URL"`
	PaystackBaseURL              string  `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey            string  `mapstructure:"PAYSTACK_SECRET_KEY"`
	APIKey                       string  `mapstructure:"API_KEY"`
	DepositFeePercent            float64 `mapstructure:"DEPOSIT_FEE_PERCENT"`
	PlatformRecipientCode        string  `mapstructure:"PLATFORM_RECIPIENT_CODE"`
	WithdrawalRateLimitPerMinute int     `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("DEPOSIT_FEE_PERCENT", 0.0)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_MINUTE", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("API_KEY", "API_KEY", "WALLET_SERVICE_API_KEY")
	_ = viper.BindEnv("DEPOSIT_FEE_PERCENT")
	_ = viper.BindEnv("PLATFORM_RECIPIENT_CODE")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.APIKey) == "" {
		config.APIKey = strings.TrimSpace(os.Getenv("WALLET_SERVICE_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wallet:rate_limit"
	}
	config.PaystackBaseURL = strings.TrimRight(strings.TrimSpace(config.PaystackBaseURL), "/")

	if config.DepositFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative deposit fee percent configured; coercing to zero\" fee_percent=%f", config.DepositFeePercent)
		config.DepositFeePercent = 0
	}
	if config.DepositFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"deposit fee percent too high; capping at 100\" fee_percent=%f", config.DepositFeePercent)
		config.DepositFeePercent = 100
	}
	if config.WithdrawalRateLimitPerMinute < 0 {
		config.WithdrawalRateLimitPerMinute = 0
	}

	return
}
