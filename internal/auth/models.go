package auth

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"xero-sync-service/internal/config"
)

// Credential is the registered OAuth application.
type Credential struct {
	ClientID     string   `validate:"required"`
	ClientSecret string   `validate:"required"`
	RedirectURL  string   `validate:"required,url"`
	Scopes       []string `validate:"required,min=1"`
}

// DefaultScopes grant access to contacts, items and invoices plus a refresh token.
var DefaultScopes = []string{
	"openid",
	"profile",
	"email",
	"accounting.transactions",
	"accounting.contacts",
	"accounting.settings",
	"offline_access",
}

// CredentialFromConfig builds the credential, filling in the default scopes.
func CredentialFromConfig(cfg config.XeroConfig) Credential {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return Credential{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
}

func (c Credential) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}
	return nil
}

// TokenState is the single authorized connection.
type TokenState struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TenantID     string    `json:"tenant_id"`
	TenantName   string    `json:"tenant_name,omitempty"`
}

// Connected reports whether the state can address the remote API. Expiry is
// not checked.
func (t TokenState) Connected() bool {
	return t.AccessToken != "" && t.TenantID != ""
}

// Validate enforces that an access token never exists without its tenant.
func (t TokenState) Validate() error {
	if t.AccessToken != "" && t.TenantID == "" {
		return fmt.Errorf("token state has an access token but no tenant")
	}
	return nil
}

// Tenant is one entry of the connections listing.
type Tenant struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	TenantType string `json:"tenantType"`
	TenantName string `json:"tenantName"`
}

// ConnectionStatus is the summary exposed over the API.
type ConnectionStatus struct {
	Connected  bool       `json:"connected"`
	TenantID   string     `json:"tenant_id,omitempty"`
	TenantName string     `json:"tenant_name,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Expired    bool       `json:"expired"`
}
