package config

import (
	"time"
)

type Config struct {
	Xero         XeroConfig      `mapstructure:"xero"`
	Mapping      MappingConfig   `mapstructure:"mapping"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Shop         ShopConfig      `mapstructure:"shop"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	TokenStorage TokenStorage    `mapstructure:"token_storage"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

// XeroConfig holds the OAuth credential and the remote endpoints.
type XeroConfig struct {
	ClientID       string        `mapstructure:"client_id" validate:"required"`
	ClientSecret   string        `mapstructure:"client_secret" validate:"required"`
	RedirectURL    string        `mapstructure:"redirect_url" validate:"required,url"`
	Scopes         []string      `mapstructure:"scopes"`
	AuthURL        string        `mapstructure:"auth_url" validate:"required,url"`
	TokenURL       string        `mapstructure:"token_url" validate:"required,url"`
	RevokeURL      string        `mapstructure:"revoke_url" validate:"required,url"`
	ConnectionsURL string        `mapstructure:"connections_url" validate:"required,url"`
	APIBaseURL     string        `mapstructure:"api_base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryCap       time.Duration `mapstructure:"retry_cap"`
	RefreshMargin  time.Duration `mapstructure:"refresh_margin"`
}

// MappingConfig is the read-only input of the field mapper.
type MappingConfig struct {
	SalesAccount     string `mapstructure:"sales_account"`
	PurchaseAccount  string `mapstructure:"purchase_account"`
	InventoryAccount string `mapstructure:"inventory_account"`
	ShippingAccount  string `mapstructure:"shipping_account"`
	FeesAccount      string `mapstructure:"fees_account"`
	InvoicePrefix    string `mapstructure:"invoice_prefix"`
	DueDays          int    `mapstructure:"due_days" validate:"gte=0"`

	// TaxRates are the shop's tax classes, matched by percentage against the
	// organisation's tax rates. The standard class is "standard".
	TaxRates []TaxRateConfig `mapstructure:"tax_rates" validate:"dive"`
	// TaxMappings pins a tax class to a Xero tax type.
	TaxMappings map[string]string `mapstructure:"tax_mappings"`
}

type TaxRateConfig struct {
	Class string  `mapstructure:"class" validate:"required"`
	Rate  float64 `mapstructure:"rate" validate:"gte=0,lte=100"`
}

type SyncConfig struct {
	AutoSync               AutoSyncConfig `mapstructure:"auto_sync"`
	Workers                int            `mapstructure:"workers" validate:"gte=1"`
	QueueSize              int            `mapstructure:"queue_size" validate:"gte=1"`
	BatchSize              int            `mapstructure:"batch_size" validate:"gte=1"`
	BulkPageSize           int            `mapstructure:"bulk_page_size" validate:"gte=1"`
	InvoiceStatuses        []string       `mapstructure:"invoice_statuses"`
	ResetLinksOnDisconnect bool           `mapstructure:"reset_links_on_disconnect"`
}

// AutoSyncConfig toggles change-triggered sync per entity type.
type AutoSyncConfig struct {
	Products  bool `mapstructure:"products"`
	Customers bool `mapstructure:"customers"`
	Orders    bool `mapstructure:"orders"`
}

type ShopConfig struct {
	Database     DatabaseConnection `mapstructure:"database"`
	CreateSchema bool               `mapstructure:"create_schema"`
	Binlog       bool               `mapstructure:"binlog"`
	ServerID     uint32             `mapstructure:"server_id"`
	Tables       []TableConfig      `mapstructure:"tables" validate:"dive"`
}

type DatabaseConnection struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
}

// TableConfig binds a shop table to the entity type whose changes it carries.
// IDColumn names the column holding the local entity id.
type TableConfig struct {
	Name       string `mapstructure:"name" validate:"required"`
	EntityType string `mapstructure:"entity_type" validate:"required,oneof=product customer order"`
	IDColumn   string `mapstructure:"id_column" validate:"required"`
}

type StateStorage struct {
	Type     string `mapstructure:"type" validate:"oneof=mysql sqlite"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type TokenStorage struct {
	Type     string      `mapstructure:"type" validate:"oneof=state redis"`
	Fallback bool        `mapstructure:"fallback"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	// TaxRatesInterval schedules the tax rate refresh. Empty disables it.
	TaxRatesInterval string `mapstructure:"tax_rates_interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
