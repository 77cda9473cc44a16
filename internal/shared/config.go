package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Spotify SpotifyConfig `toml:"spotify"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Log     LogConfig     `toml:"log"`
}

// SpotifyConfig contains the public-client registration and provider endpoints.
//
// There is no client secret: the PKCE flow authenticates the client with the code verifier.
type SpotifyConfig struct {
	ClientID    string   `toml:"client_id" validate:"required"`
	RedirectURI string   `toml:"redirect_uri" validate:"required,url"`
	Scopes      []string `toml:"scopes"`
	ShowDialog  bool     `toml:"show_dialog"`
	AuthURL     string   `toml:"auth_url" validate:"required,url"`
	TokenURL    string   `toml:"token_url" validate:"required,url"`
	APIBaseURL  string   `toml:"api_base_url" validate:"required,url"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host          string `toml:"host" validate:"required"`
	Port          int    `toml:"port" validate:"gte=0,lte=65535"`
	SessionCookie string `toml:"session_cookie" validate:"required"`
}

// StorageConfig selects the session storage backend.
type StorageConfig struct {
	Driver     string        `toml:"driver" validate:"oneof=memory sqlite redis"`
	Path       string        `toml:"path" validate:"required_if=Driver sqlite"`
	RedisAddr  string        `toml:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB    int           `toml:"redis_db" validate:"gte=0"`
	SessionTTL time.Duration `toml:"session_ttl" validate:"gte=0"`
}

// APIConfig tunes the authenticated API client.
type APIConfig struct {
	RateLimit float64       `toml:"rate_limit" validate:"gte=0"`
	Burst     int           `toml:"burst" validate:"gte=0"`
	Timeout   time.Duration `toml:"timeout" validate:"gte=0"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
}

// Addr returns the host:port the local server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CallbackPath returns the path component of the redirect URI, defaulting to "/".
func (s SpotifyConfig) CallbackPath() string {
	u, err := url.Parse(s.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Validate checks struct constraints with [validator.Validate].
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration to path as TOML.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
