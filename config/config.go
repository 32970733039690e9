// Package config loads the adapter's YAML configuration and overlays
// environment variable overrides, following the same viper-based pattern
// the rest of this stack's CLI tooling uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// RetrieveMode controls whether concurrent WADO-retrieve calls to an AET
// serialize behind the mediator's Sequential semaphore.
type RetrieveMode string

const (
	ModeConcurrent RetrieveMode = "Concurrent"
	ModeSequential RetrieveMode = "Sequential"
)

// Backend selects what serves an AET's DICOMweb façade.
type Backend string

const (
	BackendDIMSE  Backend = "DIMSE"
	BackendS3     Backend = "S3"
	BackendPlugin Backend = "Plugin"
)

// HTTPConfig is server.http.
type HTTPConfig struct {
	Interface         string        `mapstructure:"interface" yaml:"interface"`
	Port              int           `mapstructure:"port" yaml:"port"`
	MaxUploadSize     int64         `mapstructure:"max-upload-size" yaml:"max-upload-size"`
	RequestTimeout    time.Duration `mapstructure:"request-timeout" yaml:"request-timeout"`
	GracefulShutdown  time.Duration `mapstructure:"graceful-shutdown" yaml:"graceful-shutdown"`
	BasePath          string        `mapstructure:"base-path" yaml:"base-path"`
}

// DIMSEListener is one entry of server.dimse[] (the Store-SCP listeners).
type DIMSEListener struct {
	Interface    string `mapstructure:"interface" yaml:"interface"`
	AET          string `mapstructure:"aet" yaml:"aet"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Uncompressed bool   `mapstructure:"uncompressed" yaml:"uncompressed"`
}

// ServerConfig is the server. block.
type ServerConfig struct {
	AET    string          `mapstructure:"aet" yaml:"aet"`
	HTTP   HTTPConfig      `mapstructure:"http" yaml:"http"`
	DIMSE  []DIMSEListener `mapstructure:"dimse" yaml:"dimse"`
	PluginPath string      `mapstructure:"plugin-path" yaml:"plugin-path"`
}

// PoolConfig is the DIMSE backend pool.{size,timeout}.
type PoolConfig struct {
	Size    int           `mapstructure:"size" yaml:"size"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DIMSEBackend is an aets[].{host,port,pool} block.
type DIMSEBackend struct {
	Host string     `mapstructure:"host" yaml:"host"`
	Port int        `mapstructure:"port" yaml:"port"`
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`
}

// S3Backend is an aets[].s3.* block for S3-backed AETs.
type S3Backend struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`
}

// QIDOConfig is aets[].qido-rs.
type QIDOConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WADOConfig is aets[].wado-rs.
type WADOConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Mode      RetrieveMode  `mapstructure:"mode" yaml:"mode"`
	Receivers []string      `mapstructure:"receivers" yaml:"receivers"`
}

// STOWConfig is aets[].stow-rs.
type STOWConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AETConfig is one entry of the top-level aets[] list.
type AETConfig struct {
	AET     string       `mapstructure:"aet" yaml:"aet"`
	Backend Backend      `mapstructure:"backend" yaml:"backend"`
	DIMSE   DIMSEBackend `mapstructure:"dimse" yaml:"dimse"`
	S3      S3Backend    `mapstructure:"s3" yaml:"s3"`
	QIDO    QIDOConfig   `mapstructure:"qido-rs" yaml:"qido-rs"`
	WADO    WADOConfig   `mapstructure:"wado-rs" yaml:"wado-rs"`
	STOW    STOWConfig   `mapstructure:"stow-rs" yaml:"stow-rs"`
}

// TelemetryConfig is the telemetry. block.
type TelemetryConfig struct {
	Sentry string `mapstructure:"sentry" yaml:"sentry"`
	Level  string `mapstructure:"level" yaml:"level"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	AETs      []AETConfig     `mapstructure:"aets" yaml:"aets"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.aet", "DICOM-RST")
	v.SetDefault("server.http.interface", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.max-upload-size", 50*1024*1024)
	v.SetDefault("server.http.request-timeout", "60s")
	v.SetDefault("server.http.graceful-shutdown", "15s")
	v.SetDefault("server.http.base-path", "")
	v.SetDefault("server.dimse", []map[string]any{
		{"interface": "0.0.0.0", "aet": "DICOM-RST", "port": 7001, "uncompressed": false},
	})
	v.SetDefault("telemetry.level", "info")
}

// Load reads the YAML file at path, overlays any DICOMBRIDGE_-prefixed
// environment variables (nested keys joined by underscore, e.g.
// DICOMBRIDGE_SERVER_HTTP_PORT), and validates the result.
func Load(path string) (*Config, error) {
	// Development convenience: a .env file in the working directory seeds
	// the process environment before viper binds it. Absence is not an
	// error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	defaults(v)

	v.SetEnvPrefix("DICOMBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration a fresh install starts from: one
// Store-SCP listener on the default port and no AETs (the operator has to
// name their peers before the façades can do anything).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AET: "DICOM-RST",
			HTTP: HTTPConfig{
				Interface:        "0.0.0.0",
				Port:             8080,
				MaxUploadSize:    50 * 1024 * 1024,
				RequestTimeout:   60 * time.Second,
				GracefulShutdown: 15 * time.Second,
			},
			DIMSE: []DIMSEListener{
				{Interface: "0.0.0.0", AET: "DICOM-RST", Port: 7001},
			},
		},
		Telemetry: TelemetryConfig{Level: "info"},
	}
}

// Save writes cfg to path as YAML, respecting the yaml struct tags.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field invariants Load's schema can't express,
// e.g. that Sequential-mode AETs with a fallback-topic need at least one
// receiver and that S3-backed AETs carry a bucket.
func (c *Config) Validate() error {
	for _, aet := range c.AETs {
		switch aet.Backend {
		case BackendS3:
			if aet.S3.Bucket == "" {
				return fmt.Errorf("config: aet %q has backend S3 but no s3.bucket", aet.AET)
			}
		case BackendPlugin:
			if c.Server.PluginPath == "" {
				return fmt.Errorf("config: aet %q has backend Plugin but server.plugin-path is unset", aet.AET)
			}
		case BackendDIMSE, "":
			if aet.DIMSE.Host == "" {
				return fmt.Errorf("config: aet %q has backend DIMSE but no dimse.host", aet.AET)
			}
		default:
			return fmt.Errorf("config: aet %q has unknown backend %q", aet.AET, aet.Backend)
		}
		if aet.WADO.Mode == ModeSequential && len(aet.WADO.Receivers) == 0 {
			return fmt.Errorf("config: aet %q is Sequential but declares no wado-rs.receivers", aet.AET)
		}
	}
	return nil
}
