// Package twelvedata provides a client for the Twelve Data stock market API.
package twelvedata

import (
	"time"

	"stock_agent/internal/config"
)

// defaultCountry is the /stocks catalog filter for the US market.
const defaultCountry = "United States"

// Config holds configuration for the Twelve Data API client.
type Config struct {
	TwelveDataAPIKey string        // API key for authentication
	BaseURL          string        // Base URL for the API (e.g., "https://api.twelvedata.com")
	Timeout          time.Duration // HTTP request timeout
	Country          string        // Country filter for the /stocks catalog (e.g., "United States")
}

// FromAppConfig builds the client configuration from the application config.
func FromAppConfig(c config.TwelveData) Config {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return Config{
		TwelveDataAPIKey: c.APIKey,
		BaseURL:          c.BaseURL,
		Timeout:          timeout,
		Country:          defaultCountry,
	}
}
