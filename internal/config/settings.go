package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable settings organized by category.
type Settings struct {
	Upload  UploadSettings  `json:"upload"`
	Retry   RetrySettings   `json:"retry"`
	Network NetworkSettings `json:"network"`
	History HistorySettings `json:"history"`
}

// UploadSettings contains transfer parameters.
type UploadSettings struct {
	Endpoint             string        `json:"endpoint"`
	FieldName            string        `json:"field_name"`
	MaxConcurrentUploads int           `json:"max_concurrent_uploads"`
	AttemptTimeout       time.Duration `json:"attempt_timeout"`
}

// RetrySettings contains the automatic retry policy.
type RetrySettings struct {
	MaxRetries  int           `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"`
}

// NetworkSettings contains link monitoring parameters.
type NetworkSettings struct {
	SpeedWindow int `json:"speed_window"`
}

// HistorySettings contains the upload ledger configuration.
type HistorySettings struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // Empty means <state dir>/history.db
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Upload: UploadSettings{
			Endpoint:             "",
			FieldName:            "file",
			MaxConcurrentUploads: 3,
			AttemptTimeout:       0, // No per-attempt timeout unless opted in
		},
		Retry: RetrySettings{
			MaxRetries:  3,
			BackoffBase: 1 * time.Second,
			BackoffCap:  10 * time.Second,
		},
		Network: NetworkSettings{
			SpeedWindow: 8,
		},
		History: HistorySettings{
			Enabled: true,
			Path:    "",
		},
	}
}

// GetStateDir returns the directory holding settings and the upload ledger.
func GetStateDir() string {
	if dir := os.Getenv("UPLOADQ_STATE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base, _ = os.UserHomeDir()
	}
	return filepath.Join(base, "uploadq")
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetStateDir(), "settings.json")
}

// GetHistoryPath resolves the ledger path, applying the default location.
func (s *Settings) GetHistoryPath() string {
	if s.History.Path != "" {
		return s.History.Path
	}
	return filepath.Join(GetStateDir(), "history.db")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
