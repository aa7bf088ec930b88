package config

import "os"

// APIKeySource represents where a credential comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of a credential.
type KeyStatus struct {
	Name   string       `json:"name"`
	Source APIKeySource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "abc...xyz"
}

// CheckAPIKeys returns the status of the provider credentials.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("Upstox API Key", cfg.Upstox.APIKey, "MARKETLENS_UPSTOX_API_KEY"),
		checkKey("Upstox API Secret", cfg.Upstox.APISecret, "MARKETLENS_UPSTOX_API_SECRET"),
		checkKey("Upstox Access Token", cfg.Upstox.AccessToken, "MARKETLENS_UPSTOX_ACCESS_TOKEN"),
	}
}

func checkKey(name, value, envVar string) KeyStatus {
	status := KeyStatus{Name: name, IsSet: value != "", Source: KeySourceNone}
	if value == "" {
		return status
	}
	status.Source = KeySourceConfig
	if os.Getenv(envVar) != "" {
		status.Source = KeySourceEnv
	}
	status.Masked = maskKey(value)
	return status
}

// maskKey shows only the first and last 3 chars of keys longer than 8.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

// Redacted returns a copy of cfg with credentials masked, safe to serve.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.CORSOrigins = append([]string(nil), c.API.CORSOrigins...)
	for _, secret := range []*string{&out.Upstox.APIKey, &out.Upstox.APISecret, &out.Upstox.AccessToken} {
		if *secret != "" {
			*secret = maskKey(*secret)
		}
	}
	return &out
}
