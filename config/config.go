package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	ServiceURL  string

	LNPayAPIURL      string
	LNPayKey         string
	LNPayWalletKey   string
	LNPayWallet      string
	ProcessorTimeout time.Duration

	NotifyTimeout     time.Duration
	VerifyCodeCutover int64
	PollInterval      time.Duration

	JWTSecret        string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
}

// LoadConfig reads .env (if present), the optional config file at path, and
// the environment, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("database_url", "file:gifts.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("lnpay_api_url", "https://api.lnpay.co/v1")
	v.SetDefault("processor_timeout", "20s")
	v.SetDefault("notify_timeout", "2s")
	v.SetDefault("verify_code_cutover", 1594588666)
	v.SetDefault("poll_interval", "1m")
	v.SetDefault("jwt_access_ttl", "1h")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{
		Port:              v.GetString("port"),
		Environment:       v.GetString("environment"),
		DatabaseURL:       v.GetString("database_url"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		ServiceURL:        strings.TrimRight(v.GetString("service_url"), "/"),
		LNPayAPIURL:       v.GetString("lnpay_api_url"),
		LNPayKey:          v.GetString("lnpay_key"),
		LNPayWalletKey:    v.GetString("lnpay_wallet_key"),
		LNPayWallet:       v.GetString("lnpay_wallet"),
		ProcessorTimeout:  v.GetDuration("processor_timeout"),
		NotifyTimeout:     v.GetDuration("notify_timeout"),
		VerifyCodeCutover: v.GetInt64("verify_code_cutover"),
		PollInterval:      v.GetDuration("poll_interval"),
		JWTSecret:         v.GetString("jwt_secret"),
		JWTRefreshSecret:  v.GetString("jwt_refresh_secret"),
		JWTAccessTTL:      v.GetDuration("jwt_access_ttl"),
	}, nil
}

// Validate reports settings the server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.ServiceURL == "" {
		missing = append(missing, "SERVICE_URL")
	}
	if c.LNPayKey == "" {
		missing = append(missing, "LNPAY_KEY")
	}
	if c.LNPayWalletKey == "" {
		missing = append(missing, "LNPAY_WALLET_KEY")
	}
	if c.LNPayWallet == "" {
		missing = append(missing, "LNPAY_WALLET")
	}
	if c.JWTSecret != "" && c.JWTRefreshSecret == c.JWTSecret {
		return errors.New("JWT_REFRESH_SECRET must differ from JWT_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// VerifyCodeCutoverTime is the instant before which gifts redeem without
// their verify code; zero when the exemption is disabled.
func (c *Config) VerifyCodeCutoverTime() time.Time {
	if c.VerifyCodeCutover <= 0 {
		return time.Time{}
	}
	return time.Unix(c.VerifyCodeCutover, 0).UTC()
}
