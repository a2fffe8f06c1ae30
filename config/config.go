// Package config loads storefront settings from storefront.yaml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/engine"
	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/storage"
)

// EnvPrefix prefixes every environment override, e.g. STOREFRONT_HTTP_ADDRESS.
const EnvPrefix = "STOREFRONT"

// Config is the full storefront configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Cart     CartConfig     `mapstructure:"cart"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Identity IdentityConfig `mapstructure:"identity"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Hub      HubConfig      `mapstructure:"hub"`
	Log      LogConfig      `mapstructure:"log"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// CartConfig tunes the cart.
type CartConfig struct {
	Key             string `mapstructure:"key"`
	MaxLineQuantity int    `mapstructure:"max_line_quantity"`
}

// SyncConfig tunes cross-session synchronization.
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	OrphanWindow time.Duration `mapstructure:"orphan_window"`
	MarkerTTL    time.Duration `mapstructure:"marker_ttl"`
	// HubEndpoint connects sessions in other processes through the broadcast
	// hub. Empty keeps the bus in-process.
	HubEndpoint string `mapstructure:"hub_endpoint"`
}

// BackendConfig points at the order, settings, shipping and identity API.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	QuoteCache     int           `mapstructure:"quote_cache"`
}

// PaymentConfig configures the payment providers.
type PaymentConfig struct {
	Currency        string `mapstructure:"currency"`
	DefaultShipping string `mapstructure:"default_shipping"`
	Wallet          struct {
		MerchantID   string `mapstructure:"merchant_id"`
		RedirectBase string `mapstructure:"redirect_base"`
		ReturnURL    string `mapstructure:"return_url"`
	} `mapstructure:"wallet"`
	Card struct {
		BaseURL   string `mapstructure:"base_url"`
		SecretKey string `mapstructure:"secret_key"`
	} `mapstructure:"card"`
}

// IdentityConfig configures session token checks.
type IdentityConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Address     string        `mapstructure:"address"`
	SessionIdle time.Duration `mapstructure:"session_idle"`
}

// HubConfig configures the broadcast hub server.
type HubConfig struct {
	Address string `mapstructure:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", storage.DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("cart.key", "cart")
	v.SetDefault("cart.max_line_quantity", 10)
	v.SetDefault("sync.poll_interval", time.Second)
	v.SetDefault("sync.orphan_window", 10*time.Minute)
	v.SetDefault("sync.marker_ttl", 24*time.Hour)
	v.SetDefault("sync.hub_endpoint", "")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.request_timeout", 15*time.Second)
	v.SetDefault("backend.retries", 3)
	v.SetDefault("backend.retry_delay", 200*time.Millisecond)
	v.SetDefault("backend.rate_limit", 20.0)
	v.SetDefault("backend.rate_burst", 5)
	v.SetDefault("backend.quote_cache", 256)
	v.SetDefault("payment.currency", "CHF")
	v.SetDefault("payment.default_shipping", "7.00")
	v.SetDefault("payment.wallet.merchant_id", "")
	v.SetDefault("payment.wallet.redirect_base", "")
	v.SetDefault("payment.wallet.return_url", "")
	v.SetDefault("payment.card.base_url", "")
	v.SetDefault("payment.card.secret_key", "")
	v.SetDefault("identity.session_secret", "")
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.session_idle", engine.DefaultSessionIdle)
	v.SetDefault("hub.address", ":50051")
	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load reads path, or storefront.yaml from the working directory when path is
// empty, and applies environment overrides. A missing default file is not an
// error. PORT, when set, overrides the hub port.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("storefront")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read storefront.yaml: %w", err)
			}
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if port := v.GetString("port"); port != "" {
		cfg.Hub.Address = ":" + port
	}
	return cfg, cfg.Validate()
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "PORT")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case storage.DriverMemory, storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != storage.DriverMemory && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for %s", c.Storage.Driver)
	}
	if c.Cart.MaxLineQuantity < 1 {
		return errors.New("config: cart.max_line_quantity must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return errors.New("config: sync.poll_interval must be positive")
	}
	if _, err := decimal.NewFromString(c.Payment.DefaultShipping); err != nil {
		return fmt.Errorf("config: payment.default_shipping: %w", err)
	}
	w := c.Payment.Wallet
	if (w.MerchantID != "" || w.RedirectBase != "") && w.ReturnURL == "" {
		return errors.New("config: payment.wallet.return_url is required when the wallet is configured")
	}
	return nil
}

// Engine converts the settings the engine needs.
func (c *Config) Engine() engine.Config {
	shipping, _ := decimal.NewFromString(c.Payment.DefaultShipping)
	return engine.Config{
		CartKey:         c.Cart.Key,
		MaxLineQuantity: c.Cart.MaxLineQuantity,
		PollInterval:    c.Sync.PollInterval,
		OrphanWindow:    c.Sync.OrphanWindow,
		MarkerTTL:       c.Sync.MarkerTTL,
		RequestTimeout:  c.Backend.RequestTimeout,
		Currency:        c.Payment.Currency,
		DefaultShipping: shipping,
		Wallet: payment.WalletConfig{
			MerchantID:   c.Payment.Wallet.MerchantID,
			RedirectBase: c.Payment.Wallet.RedirectBase,
			ReturnURL:    c.Payment.Wallet.ReturnURL,
		},
		SessionSecret: c.Identity.SessionSecret,
		SessionIdle:   c.HTTP.SessionIdle,
	}
}

// Logger builds the zap logger described by Log.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("config: log.level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}
