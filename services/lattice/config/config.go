// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads lattice service configuration.
//
// Priority is environment > file > defaults. Files are YAML, with JSON
// accepted as a fallback. Every loaded configuration is validated with
// struct tags plus a few cross-field rules.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// Load returns.
type Config struct {
	Lattice   LatticeConfig   `json:"lattice" yaml:"lattice"`
	Input     InputConfig     `json:"input" yaml:"input"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Influx    InfluxConfig    `json:"influx" yaml:"influx"`
	GCS       GCSConfig       `json:"gcs" yaml:"gcs"`
}

// LatticeConfig shapes the layer and its distal wiring.
type LatticeConfig struct {
	Width            int    `json:"width" yaml:"width" validate:"gt=0"`
	Height           int    `json:"height" yaml:"height" validate:"gt=0"`
	EdgeRule         string `json:"edge_rule" yaml:"edge_rule" validate:"oneof=wrap constrain clamp noop none"`
	CellsPerColumn   int    `json:"cells_per_column" yaml:"cells_per_column" validate:"gt=0,lte=1024"`
	DendritesPerCell int    `json:"dendrites_per_cell" yaml:"dendrites_per_cell" validate:"gte=0,lte=256"`
	DendriteLength   int    `json:"dendrite_length" yaml:"dendrite_length" validate:"gte=0"`
	Seed             uint64 `json:"seed" yaml:"seed"`
	ShortPathPolicy  string `json:"short_path_policy" yaml:"short_path_policy" validate:"omitempty,oneof=accept log retry fail"`
	ShortPathRetries int    `json:"short_path_retries" yaml:"short_path_retries" validate:"gte=0"`
}

// InputConfig shapes the input vector and proximal wiring.
type InputConfig struct {
	Size                int     `json:"size" yaml:"size" validate:"gt=0"`
	SynapsesPerDendrite int     `json:"synapses_per_dendrite" yaml:"synapses_per_dendrite" validate:"gte=0"`
	DefaultPermanence   float64 `json:"default_permanence" yaml:"default_permanence" validate:"gte=0,lte=1"`
	ConnectedThreshold  float64 `json:"connected_threshold" yaml:"connected_threshold" validate:"gte=0,lte=1"`
	Density             float64 `json:"density" yaml:"density" validate:"gt=0,lte=1"`
	Seed                uint64  `json:"seed" yaml:"seed"`
}

// EngineConfig controls the cycle driver.
type EngineConfig struct {
	ActiveColumns   int     `json:"active_columns" yaml:"active_columns" validate:"gt=0"`
	CyclesPerSecond float64 `json:"cycles_per_second" yaml:"cycles_per_second" validate:"gte=0"`
	Burst           int     `json:"burst" yaml:"burst" validate:"gte=1"`
	Workers         int     `json:"workers" yaml:"workers" validate:"gte=0,lte=256"`
	CheckpointEvery int     `json:"checkpoint_every" yaml:"checkpoint_every" validate:"gte=0"`
}

// StorageConfig controls the checkpoint store.
type StorageConfig struct {
	Path             string        `json:"path" yaml:"path"`
	InMemory         bool          `json:"in_memory" yaml:"in_memory"`
	GCInterval       time.Duration `json:"gc_interval" yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio   float64       `json:"gc_discard_ratio" yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
	CompressionLevel int           `json:"compression_level" yaml:"compression_level" validate:"gte=-2,lte=9"`
	KeepCheckpoints  int           `json:"keep_checkpoints" yaml:"keep_checkpoints" validate:"gte=0"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// TelemetryConfig controls OpenTelemetry setup.
type TelemetryConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	ServiceName     string `json:"service_name" yaml:"service_name" validate:"required"`
	TraceExporter   string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	OTLPEndpoint    string `json:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	MetricsExporter string `json:"metrics_exporter" yaml:"metrics_exporter" validate:"oneof=prometheus stdout none"`
}

// ServerConfig controls the inspection API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required,hostname_port"`
}

// InfluxConfig controls the cycle statistics sink.
type InfluxConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token   string `json:"token" yaml:"token"`
	Org     string `json:"org" yaml:"org" validate:"required_if=Enabled true"`
	Bucket  string `json:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
}

// GCSConfig controls off-site checkpoint upload.
type GCSConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Bucket          string `json:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// Default returns the configuration used when no file or env is given:
// a 32x32 wrapped grid, 8 cells per column and a 1024-bit input.
func Default() Config {
	return Config{
		Lattice: LatticeConfig{
			Width:            32,
			Height:           32,
			EdgeRule:         "wrap",
			CellsPerColumn:   8,
			DendritesPerCell: 4,
			DendriteLength:   7,
			Seed:             42,
			ShortPathPolicy:  "accept",
			ShortPathRetries: 3,
		},
		Input: InputConfig{
			Size:                1024,
			SynapsesPerDendrite: 32,
			DefaultPermanence:   0.2,
			ConnectedThreshold:  0.2,
			Density:             0.05,
			Seed:                7,
		},
		Engine: EngineConfig{
			ActiveColumns:   20,
			CyclesPerSecond: 10,
			Burst:           1,
		},
		Storage: StorageConfig{
			Path:            "~/.aleutian/lattice/checkpoints",
			GCInterval:      10 * time.Minute,
			GCDiscardRatio:  0.5,
			KeepCheckpoints: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName:     "aleutian-lattice",
			TraceExporter:   "none",
			MetricsExporter: "prometheus",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:12250",
		},
	}
}

// Load builds a configuration from defaults, the file at path (if any)
// and LATTICE_* environment variables.
//
// Inputs:
//
//	path - YAML or JSON file. Empty or missing means defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - A parse error, or ErrInvalidConfig describing every failed rule.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return parse(data, cfg)
}

func parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	columns := c.Lattice.Width * c.Lattice.Height
	if c.Engine.ActiveColumns > columns && columns > 0 {
		problems = append(problems, fmt.Sprintf("engine.active_columns %d exceeds %d columns", c.Engine.ActiveColumns, columns))
	}
	if c.Input.SynapsesPerDendrite > c.Input.Size && c.Input.Size > 0 {
		problems = append(problems, fmt.Sprintf("input.synapses_per_dendrite %d exceeds input size %d", c.Input.SynapsesPerDendrite, c.Input.Size))
	}
	if c.Lattice.DendritesPerCell > 0 && c.Lattice.DendriteLength == 0 {
		problems = append(problems, "lattice.dendrite_length must be positive when dendrites_per_cell > 0")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		problems = append(problems, "storage.path is required unless storage.in_memory is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Columns returns Width*Height.
func (c LatticeConfig) Columns() int {
	return c.Width * c.Height
}

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

const envPrefix = "LATTICE_"

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envUint(name string, dst *uint64) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = u
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func applyEnv(c *Config) {
	// Lattice
	envInt("WIDTH", &c.Lattice.Width)
	envInt("HEIGHT", &c.Lattice.Height)
	envString("EDGE_RULE", &c.Lattice.EdgeRule)
	envInt("CELLS_PER_COLUMN", &c.Lattice.CellsPerColumn)
	envInt("DENDRITES_PER_CELL", &c.Lattice.DendritesPerCell)
	envInt("DENDRITE_LENGTH", &c.Lattice.DendriteLength)
	envUint("SEED", &c.Lattice.Seed)
	envString("SHORT_PATH_POLICY", &c.Lattice.ShortPathPolicy)

	// Input
	envInt("INPUT_SIZE", &c.Input.Size)
	envInt("SYNAPSES_PER_DENDRITE", &c.Input.SynapsesPerDendrite)
	envFloat("DEFAULT_PERMANENCE", &c.Input.DefaultPermanence)
	envFloat("CONNECTED_THRESHOLD", &c.Input.ConnectedThreshold)
	envFloat("INPUT_DENSITY", &c.Input.Density)

	// Engine
	envInt("ACTIVE_COLUMNS", &c.Engine.ActiveColumns)
	envFloat("CYCLES_PER_SECOND", &c.Engine.CyclesPerSecond)
	envInt("WORKERS", &c.Engine.Workers)
	envInt("CHECKPOINT_EVERY", &c.Engine.CheckpointEvery)

	// Storage
	envString("STORAGE_PATH", &c.Storage.Path)
	envBool("STORAGE_IN_MEMORY", &c.Storage.InMemory)
	envDuration("STORAGE_GC_INTERVAL", &c.Storage.GCInterval)

	// Logging
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_DIR", &c.Logging.Dir)
	envBool("LOG_JSON", &c.Logging.JSON)

	// Telemetry
	envBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envString("TRACE_EXPORTER", &c.Telemetry.TraceExporter)
	envString("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	// Server
	envString("SERVER_ADDR", &c.Server.Addr)

	// Influx
	envBool("INFLUX_ENABLED", &c.Influx.Enabled)
	envString("INFLUX_URL", &c.Influx.URL)
	envString("INFLUX_TOKEN", &c.Influx.Token)
	envString("INFLUX_ORG", &c.Influx.Org)
	envString("INFLUX_BUCKET", &c.Influx.Bucket)

	// GCS
	envBool("GCS_ENABLED", &c.GCS.Enabled)
	envString("GCS_BUCKET", &c.GCS.Bucket)
	envString("GCS_PREFIX", &c.GCS.Prefix)
	envString("GCS_CREDENTIALS_FILE", &c.GCS.CredentialsFile)
}
