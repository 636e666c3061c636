package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Shipping ShippingConfig
	LowStock LowStockConfig
	EmailJS  EmailJSConfig
	Store    StoreConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret        string
	AccessExpiry  int // in minutes
	RefreshExpiry int // in days
}

// ShippingConfig controls the single pricing rule the storefront applies:
// a flat fee whenever the subtotal is positive.
type ShippingConfig struct {
	FlatFee float64
}

// LowStockConfig controls the threshold at which the stock watcher fires.
type LowStockConfig struct {
	Threshold int
}

// EmailJSConfig holds credentials for the EmailJS REST API used for order
// confirmations and low-stock alerts.
type EmailJSConfig struct {
	ServiceID          string
	UserID             string
	OrderTemplateID    string
	MerchantTemplateID string
	LowStockTemplateID string
}

// StoreConfig holds operator-facing storefront settings.
type StoreConfig struct {
	OperatorEmail string
}

func Load() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ACCESS_EXPIRY", 15)
	viper.SetDefault("JWT_REFRESH_EXPIRY", 7)
	viper.SetDefault("SHIPPING_FLAT_FEE", 50.0)
	viper.SetDefault("LOW_STOCK_THRESHOLD", 5)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
			Env:  viper.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:        viper.GetString("JWT_SECRET"),
			AccessExpiry:  viper.GetInt("JWT_ACCESS_EXPIRY"),
			RefreshExpiry: viper.GetInt("JWT_REFRESH_EXPIRY"),
		},
		Shipping: ShippingConfig{
			FlatFee: viper.GetFloat64("SHIPPING_FLAT_FEE"),
		},
		LowStock: LowStockConfig{
			Threshold: viper.GetInt("LOW_STOCK_THRESHOLD"),
		},
		EmailJS: EmailJSConfig{
			ServiceID:          viper.GetString("EMAILJS_SERVICE_ID"),
			UserID:             viper.GetString("EMAILJS_USER_ID"),
			OrderTemplateID:    viper.GetString("EMAILJS_ORDER_TEMPLATE_ID"),
			MerchantTemplateID: viper.GetString("EMAILJS_MERCHANT_TEMPLATE_ID"),
			LowStockTemplateID: viper.GetString("EMAILJS_LOW_STOCK_TEMPLATE_ID"),
		},
		Store: StoreConfig{
			OperatorEmail: viper.GetString("STORE_OPERATOR_EMAIL"),
		},
	}
}
