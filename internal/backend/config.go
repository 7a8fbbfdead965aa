package backend

import (
	"fmt"
	"net/url"

	"sumarte/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		BaseURL: appConfig.BackendURL,
		Timeout: appConfig.BackendTimeout,

		SpreadsheetID:      appConfig.GoogleSpreadsheetID,
		ServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		ServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	if c.Type == RESTBackend {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("REST backend requires an absolute base URL, got %q", c.BaseURL)
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("REST backend requires a positive timeout")
		}
	}

	if c.SpreadsheetID != "" && c.ServiceAccountJSON == "" && c.ServiceAccountFile == "" {
		return fmt.Errorf("spreadsheet %s needs service account credentials", c.SpreadsheetID)
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{RESTBackend, MemoryBackend}
}
