// Package config provides configuration management for the InSAR pair processor.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Processor ProcessorConfig `envPrefix:"PROCESSOR_"`
	Commands  CommandConfig   `envPrefix:"CMD_"`
	Burst     BurstConfig     `envPrefix:"BURST_"`
	Coreg     CoregConfig     `envPrefix:"COREG_"`
	DEM       DEMConfig       `envPrefix:"DEM_"`
	Metadata  MetadataConfig  `envPrefix:"METADATA_"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Jobs      JobsConfig      `envPrefix:"JOBS_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`
}

// ProcessorConfig contains settings for external processor invocations.
type ProcessorConfig struct {
	// BinDir is prepended to bare command names; empty means PATH lookup.
	BinDir string `env:"BIN_DIR" envDefault:""`
	// StageTimeout bounds each external stage; 0 waits indefinitely.
	StageTimeout time.Duration `env:"STAGE_TIMEOUT" envDefault:"0s"`
	Version      string        `env:"VERSION" envDefault:"99.99.99"`
}

// CommandConfig names the external executables of every stage.
type CommandConfig struct {
	Ingest        string `env:"INGEST" envDefault:"par_s1_slc.py"`
	SLCCopy       string `env:"SLC_COPY" envDefault:"SLC_copy_S1_fullSW.py"`
	Interferogram string `env:"INTERFEROGRAM" envDefault:"interf_pwr_s1_lt_tops_proc.py"`
	CoregOverlap  string `env:"COREG_OVERLAP" envDefault:"S1_coreg_overlap"`
	Unwrap        string `env:"UNWRAP" envDefault:"unwrapping_geocoding.py"`
	BaseInit      string `env:"BASE_INIT" envDefault:"base_init"`
	XSLT          string `env:"XSLT" envDefault:"xsltproc"`
	Browse        string `env:"BROWSE" envDefault:"makeAsfBrowse.py"`
	Warp          string `env:"WARP" envDefault:"gdalwarp"`
	UTM2DEM       string `env:"UTM2DEM" envDefault:"utm2dem.py"`
}

// BurstConfig contains burst alignment settings.
type BurstConfig struct {
	Tolerance float64 `env:"TOLERANCE" envDefault:"0.20"`
}

// CoregConfig contains the coregistration quality gate settings.
type CoregConfig struct {
	OffsetThreshold float64 `env:"OFFSET_THRESHOLD" envDefault:"0.02"`
	// OffsetPolicy is "abort" (fail the run) or "report" (log and continue).
	OffsetPolicy string `env:"OFFSET_POLICY" envDefault:"abort"`
}

// DEMConfig contains DEM service client configuration.
type DEMConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8090"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5m"`
	// MarginDegrees pads the footprint bounds before requesting a DEM.
	MarginDegrees float64 `env:"MARGIN_DEGREES" envDefault:"0.15"`
}

// MetadataConfig contains metadata generation settings.
type MetadataConfig struct {
	// XSLPath is the stylesheet that renders acquisition metadata. It is
	// deployment specific and has no default.
	XSLPath string `env:"XSL_PATH"`
	Server  string `env:"SERVER" envDefault:"s1-insar"`
}

// ServerConfig contains HTTP server configuration for the job service.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// JobsConfig contains job service settings.
type JobsConfig struct {
	// WorkRoot holds one working directory per job.
	WorkRoot string `env:"WORK_ROOT" envDefault:"./jobs"`
	// Store is "memory" or "sqlite".
	Store     string        `env:"STORE" envDefault:"memory"`
	DBPath    string        `env:"DB_PATH" envDefault:"./jobs/jobs.db"`
	Retention time.Duration `env:"RETENTION" envDefault:"168h"`
	QueueSize int           `env:"QUEUE_SIZE" envDefault:"16"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Processor.StageTimeout < 0 {
		return fmt.Errorf("stage timeout must not be negative, got %s", c.Processor.StageTimeout)
	}

	if c.Processor.Version == "" {
		return fmt.Errorf("processor version is required")
	}

	if err := c.Commands.validate(); err != nil {
		return err
	}

	if c.Burst.Tolerance <= 0 {
		return fmt.Errorf("burst tolerance must be positive, got %g", c.Burst.Tolerance)
	}

	if c.Coreg.OffsetThreshold <= 0 {
		return fmt.Errorf("offset threshold must be positive, got %g", c.Coreg.OffsetThreshold)
	}

	if c.Coreg.OffsetPolicy != "abort" && c.Coreg.OffsetPolicy != "report" {
		return fmt.Errorf("offset policy must be 'abort' or 'report', got %q", c.Coreg.OffsetPolicy)
	}

	if c.DEM.BaseURL == "" {
		return fmt.Errorf("DEM base URL is required")
	}

	if c.DEM.Timeout <= 0 {
		return fmt.Errorf("DEM timeout must be positive, got %s", c.DEM.Timeout)
	}

	if c.DEM.MarginDegrees < 0 || c.DEM.MarginDegrees > 5 {
		return fmt.Errorf("DEM margin must be between 0 and 5 degrees, got %g", c.DEM.MarginDegrees)
	}

	if c.Metadata.XSLPath == "" {
		return fmt.Errorf("metadata stylesheet path is required")
	}
	if info, err := os.Stat(c.Metadata.XSLPath); err != nil {
		return fmt.Errorf("metadata stylesheet: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("metadata stylesheet %s is a directory", c.Metadata.XSLPath)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.Jobs.WorkRoot == "" {
		return fmt.Errorf("jobs work root is required")
	}

	if c.Jobs.Store != "memory" && c.Jobs.Store != "sqlite" {
		return fmt.Errorf("jobs store must be 'memory' or 'sqlite', got %q", c.Jobs.Store)
	}

	if c.Jobs.Store == "sqlite" && c.Jobs.DBPath == "" {
		return fmt.Errorf("jobs database path is required for the sqlite store")
	}

	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs retention must be positive, got %s", c.Jobs.Retention)
	}

	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("jobs queue size must be at least 1, got %d", c.Jobs.QueueSize)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

func (c *CommandConfig) validate() error {
	commands := map[string]string{
		"ingest":        c.Ingest,
		"SLC copy":      c.SLCCopy,
		"interferogram": c.Interferogram,
		"coreg overlap": c.CoregOverlap,
		"unwrap":        c.Unwrap,
		"base_init":     c.BaseInit,
		"xslt":          c.XSLT,
		"browse":        c.Browse,
		"warp":          c.Warp,
		"utm2dem":       c.UTM2DEM,
	}
	for name, cmd := range commands {
		if cmd == "" {
			return fmt.Errorf("%s command is required", name)
		}
	}
	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
