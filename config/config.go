package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Database DatabaseConfig           `mapstructure:"database"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Payment  PaymentConfig            `mapstructure:"payment"`
	Gateways map[string]GatewayConfig `mapstructure:"gateways"`
	Log      LogConfig                `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PaymentConfig holds global payment-processing settings.
type PaymentConfig struct {
	// CallbackBaseURL is the public base URL gateways post callbacks to.
	CallbackBaseURL string `mapstructure:"callback_base_url"`
	// CallbackGracePeriod is how long to wait for a callback before the
	// reconciler starts polling the gateway.
	CallbackGracePeriod time.Duration `mapstructure:"callback_grace_period"`
	// ReconcileInterval is how often the reconciler scans for overdue intents.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// ReconcileMaxAttempts bounds polling before giving up on an intent.
	ReconcileMaxAttempts int `mapstructure:"reconcile_max_attempts"`
	// RequestTimeout bounds each outbound gateway HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// BreakerThreshold is the consecutive-failure count that opens the circuit.
	BreakerThreshold int `mapstructure:"breaker_threshold"`
	// BreakerCooldown is how long the circuit stays open before a probe.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// GatewayConfig holds one payment provider's connection settings.
// Amounts are in minor currency units (tyiyn).
type GatewayConfig struct {
	DisplayName    string  `mapstructure:"display_name"`
	APIURL         string  `mapstructure:"api_url"`
	MerchantID     string  `mapstructure:"merchant_id"`
	APIKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	MinAmount      int64   `mapstructure:"min_amount"`
	MaxAmount      int64   `mapstructure:"max_amount"`
	CommissionRate float64 `mapstructure:"commission_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LWS_ (Loyalty Wallet Service).
// Nested keys use underscore: LWS_DATABASE_HOST, LWS_PAYMENT_REQUEST_TIMEOUT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "loyalty_wallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("payment.callback_base_url", "http://localhost:8080")
	v.SetDefault("payment.callback_grace_period", "30m")
	v.SetDefault("payment.reconcile_interval", "5m")
	v.SetDefault("payment.reconcile_max_attempts", 5)
	v.SetDefault("payment.request_timeout", "10s")
	v.SetDefault("payment.breaker_threshold", 5)
	v.SetDefault("payment.breaker_cooldown", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	setGatewayDefaults(v)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: LWS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("LWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can supply everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setGatewayDefaults seeds the supported provider catalog. Credentials are
// always expected from the config file or environment; only catalog data
// (names, bounds, fees) has defaults. Amounts in tyiyn: 1 KGS = 100 tyiyn.
func setGatewayDefaults(v *viper.Viper) {
	type catalogEntry struct {
		name string
		min  int64
		max  int64
		fee  float64
	}
	catalog := map[string]catalogEntry{
		"bank_card":     {"Bank Card", 1000, 10000000, 2.0},
		"elsom":         {"Elsom", 500, 5000000, 0.8},
		"elkart":        {"Elcart", 1000, 10000000, 1.5},
		"o_money":       {"O! Money", 500, 5000000, 0.9},
		"megapay":       {"MegaPay", 500, 5000000, 1.0},
		"cash_terminal": {"Cash Terminal", 1000, 10000000, 2.5},
	}
	for code, e := range catalog {
		v.SetDefault("gateways."+code+".display_name", e.name)
		v.SetDefault("gateways."+code+".min_amount", e.min)
		v.SetDefault("gateways."+code+".max_amount", e.max)
		v.SetDefault("gateways."+code+".commission_rate", e.fee)
	}
}
