package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/locahq/loca-agent/pkg/file"
)

// Defaults applied to optional configuration fields, in seconds.
const (
	DefaultPollInterval        = 60
	MinPollInterval            = 10
	DefaultDiagnosticsInterval = 300
)

// Config represents the structure of the configuration file.
type Config struct {
	API struct {
		BaseURL  string `yaml:"base_url"`                     // Loca API base URL, production when empty
		Key      string `yaml:"key" validate:"required"`      // Loca API key
		Username string `yaml:"username" validate:"required"` // Loca account username
		Password string `yaml:"password" validate:"required"` // Loca account password
		Timeout  int    `yaml:"timeout"`                      // Per-request timeout (in seconds), 30 when zero
	} `yaml:"api"`

	Poll struct {
		Interval int `yaml:"interval"` // Interval between fetch cycles (in seconds)
	} `yaml:"poll"`

	MQTT struct {
		Broker        string `yaml:"broker" validate:"required"`       // MQTT broker address
		ClientID      string `yaml:"client_id" validate:"required"`    // MQTT client ID
		Username      string `yaml:"username"`                         // MQTT username, anonymous when empty
		Password      string `yaml:"password"`                         // MQTT password
		CACertificate string `yaml:"ca_certificate"`                   // Path to the CA certificate, plain TCP when empty
		TopicPrefix   string `yaml:"topic_prefix" validate:"required"` // Prefix for device state topics
		QOS           int    `yaml:"qos" validate:"gte=0,lte=2"`       // MQTT QoS level for state messages
	} `yaml:"mqtt"`

	Geocode struct {
		MapsAPIKey string `yaml:"maps_api_key"` // Google Maps API key, reverse geocoding disabled when empty
	} `yaml:"geocode"`

	Diagnostics struct {
		Enabled  bool `yaml:"enabled"`  // Enable/disable the diagnostics service
		Interval int  `yaml:"interval"` // Interval between diagnostics messages (in seconds)
	} `yaml:"diagnostics"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates required fields.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.Poll.Interval == 0 {
		config.Poll.Interval = DefaultPollInterval
	}
	if config.Poll.Interval < MinPollInterval {
		return nil, fmt.Errorf("poll interval %ds below minimum %ds", config.Poll.Interval, MinPollInterval)
	}
	if config.Diagnostics.Interval == 0 {
		config.Diagnostics.Interval = DefaultDiagnosticsInterval
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
