package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials holds the search API keys. It is loaded once at startup and
// injected into the transport.
type Credentials struct {
	ConsumerKey       string `json:"consumer_key"`
	ConsumerSecret    string `json:"consumer_secret"`
	// AccessToken and AccessTokenSecret are accepted so existing key files
	// load unchanged. Search uses app-only auth and never signs with them.
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
	// BearerToken skips the client-credentials exchange when set.
	BearerToken string `json:"bearer_token"`
}

// LoadCredentials reads API keys from a JSON file
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}

	if creds.BearerToken == "" && (creds.ConsumerKey == "" || creds.ConsumerSecret == "") {
		return nil, fmt.Errorf("credentials need either bearer_token or consumer_key and consumer_secret")
	}

	return &creds, nil
}

// HasUserContext reports whether user access tokens were supplied
func (c *Credentials) HasUserContext() bool {
	return c.AccessToken != "" && c.AccessTokenSecret != ""
}
