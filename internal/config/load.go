package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// XSYNC_XERO_CLIENT_ID overrides xero.client_id.
const EnvPrefix = "XSYNC"

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. A missing file is not an error so the
// service can run from environment variables alone.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate performs the presence and range checks declared on the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.StateStorage.Type == "sqlite" && c.StateStorage.FilePath == "" {
		return errors.New("invalid config: state_storage.file_path is required for sqlite")
	}
	if c.TokenStorage.Type == "redis" && c.TokenStorage.Redis.Addr == "" {
		return errors.New("invalid config: token_storage.redis.addr is required for redis")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Credentials have empty defaults so AutomaticEnv can bind them.
	v.SetDefault("xero.client_id", "")
	v.SetDefault("xero.client_secret", "")
	v.SetDefault("xero.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("xero.scopes", []string{
		"openid", "profile", "email",
		"accounting.transactions", "accounting.contacts", "accounting.settings",
		"offline_access",
	})
	v.SetDefault("xero.auth_url", "https://login.xero.com/identity/connect/authorize")
	v.SetDefault("xero.token_url", "https://identity.xero.com/connect/token")
	v.SetDefault("xero.revoke_url", "https://identity.xero.com/connect/revocation")
	v.SetDefault("xero.connections_url", "https://api.xero.com/connections")
	v.SetDefault("xero.api_base_url", "https://api.xero.com/api.xro/2.0")
	v.SetDefault("xero.timeout", "30s")
	v.SetDefault("xero.max_retries", 3)
	v.SetDefault("xero.retry_cap", "60s")
	v.SetDefault("xero.refresh_margin", "300s")

	v.SetDefault("mapping.sales_account", "200")
	v.SetDefault("mapping.purchase_account", "300")
	v.SetDefault("mapping.inventory_account", "120")
	v.SetDefault("mapping.shipping_account", "201")
	v.SetDefault("mapping.fees_account", "200")
	v.SetDefault("mapping.invoice_prefix", "WC-")
	v.SetDefault("mapping.due_days", 30)
	v.SetDefault("mapping.tax_rates", []map[string]interface{}{})
	v.SetDefault("mapping.tax_mappings", map[string]string{})

	v.SetDefault("sync.auto_sync.products", true)
	v.SetDefault("sync.auto_sync.customers", true)
	v.SetDefault("sync.auto_sync.orders", true)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.queue_size", 1000)
	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.bulk_page_size", 50)
	v.SetDefault("sync.invoice_statuses", []string{"processing", "completed"})
	v.SetDefault("sync.reset_links_on_disconnect", false)

	v.SetDefault("shop.database.host", "127.0.0.1")
	v.SetDefault("shop.database.port", 3306)
	v.SetDefault("shop.database.user", "")
	v.SetDefault("shop.database.password", "")
	v.SetDefault("shop.database.database", "shop")
	v.SetDefault("shop.create_schema", false)
	v.SetDefault("shop.binlog", false)
	v.SetDefault("shop.server_id", 1001)
	v.SetDefault("shop.tables", []map[string]interface{}{
		{"name": "products", "entity_type": "product", "id_column": "id"},
		{"name": "customers", "entity_type": "customer", "id_column": "id"},
		{"name": "orders", "entity_type": "order", "id_column": "id"},
	})

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "xero-sync.db")
	v.SetDefault("state_storage.port", 3306)

	v.SetDefault("token_storage.type", "state")
	v.SetDefault("token_storage.fallback", false)
	v.SetDefault("token_storage.redis.addr", "")
	v.SetDefault("token_storage.redis.key_prefix", "xero-sync")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 1h")
	v.SetDefault("scheduler.tax_rates_interval", "@daily")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
