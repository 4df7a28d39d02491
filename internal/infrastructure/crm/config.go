package crm

import (
	"errors"
	"strings"
	"time"
)

// Errors for CRM client configuration
var (
	ErrConfigMissingBaseURL  = errors.New("crm: base url is required")
	ErrConfigMissingTokenURL = errors.New("crm: token url is required")
	ErrConfigMissingClientID = errors.New("crm: client id is required")
	ErrConfigMissingSecret   = errors.New("crm: client secret is required")
	ErrConfigMissingRefresh  = errors.New("crm: refresh token is required")
)

// ClientConfig holds the CRM REST endpoint settings
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://crm.example.com/api/v1
	BaseURL string
	// Timeout bounds each HTTP round trip
	Timeout time.Duration
	// RequestsPerSecond and Burst shape outgoing calls to the CRM quota
	RequestsPerSecond float64
	Burst             int
}

// Validate checks required fields and fills defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return nil
}

// TokenConfig holds the OAuth refresh-token grant settings
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// RefreshSlack renews the token this long before it expires
	RefreshSlack time.Duration
	Timeout      time.Duration
}

// Validate checks required fields and fills defaults
func (c *TokenConfig) Validate() error {
	switch {
	case c.TokenURL == "":
		return ErrConfigMissingTokenURL
	case c.ClientID == "":
		return ErrConfigMissingClientID
	case c.ClientSecret == "":
		return ErrConfigMissingSecret
	case c.RefreshToken == "":
		return ErrConfigMissingRefresh
	}
	if c.RefreshSlack <= 0 {
		c.RefreshSlack = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return nil
}
