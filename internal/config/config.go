package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/errors"
	"patchcert/internal/window"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Defense DefenseConfig `yaml:"defense"`
	Batch   BatchConfig   `yaml:"batch"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Export  ExportConfig  `yaml:"export"`
}

// DefenseConfig selects the adversary model and the window it reasons about.
// Window dimensions win when set; otherwise the window is derived from the
// patch size and the network's receptive field and stride.
type DefenseConfig struct {
	Model          verdict.AdversaryModel `yaml:"model"`
	WindowHeight   int                    `yaml:"window_height"`
	WindowWidth    int                    `yaml:"window_width"`
	Dataset        string                 `yaml:"dataset"`
	Network        string                 `yaml:"network"`
	PatchSize      int                    `yaml:"patch_size"`
	ReceptiveField int                    `yaml:"receptive_field"`
	Stride         int                    `yaml:"stride"`
	Threshold      float64                `yaml:"threshold"`
	ClipBound      float64                `yaml:"clip_bound"`
	Strategy       string                 `yaml:"strategy"` // "summed_area" (default) or "naive"
}

// BatchConfig holds batch runner settings
type BatchConfig struct {
	Workers   int `yaml:"workers"`
	StopAfter int `yaml:"stop_after"` // stop once this many vulnerable+certified samples are seen; 0 disables
}

// StoreConfig selects where run results are persisted. An empty driver
// disables persistence.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
}

// ExportConfig holds output paths for tabular exports and reports
type ExportConfig struct {
	TablePath  string `yaml:"table_path"`  // .xlsx or .csv
	ReportPath string `yaml:"report_path"` // .md or .html
}

// Receptive fields of the supported BagNet variants, in pixels.
var receptiveFields = map[string]int{
	"bagnet9":  9,
	"bagnet17": 17,
	"bagnet33": 33,
}

// Default patch sizes, in pixels, per dataset.
var defaultPatchSizes = map[string]int{
	"imagenette": 32,
	"imagenet":   32,
	"cifar":      30,
}

const defaultStride = 8

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Defense: DefenseConfig{
			Model:   verdict.ModelMasking,
			Dataset: "imagenette",
			Network: "bagnet17",
			Stride:  defaultStride,
		},
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
		},
		Server: ServerConfig{
			Port:    "8080",
			GinMode: "release",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// PATCHCERT_CONFIG (if any), then environment variables, then overrides (for
// command-line flags), and validates the result.
func Load(overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PATCHCERT_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	applyEnv(cfg)
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	d := &cfg.Defense
	d.Model = verdict.AdversaryModel(strings.ToLower(getEnvOrDefault("PATCHCERT_MODEL", string(d.Model))))
	if size := getEnvIntOrDefault("WINDOW_SIZE", 0); size > 0 {
		d.WindowHeight, d.WindowWidth = size, size
	}
	d.WindowHeight = getEnvIntOrDefault("WINDOW_HEIGHT", d.WindowHeight)
	d.WindowWidth = getEnvIntOrDefault("WINDOW_WIDTH", d.WindowWidth)
	d.Dataset = getEnvOrDefault("DATASET", d.Dataset)
	d.Network = getEnvOrDefault("NETWORK", d.Network)
	d.PatchSize = getEnvIntOrDefault("PATCH_SIZE", d.PatchSize)
	d.ReceptiveField = getEnvIntOrDefault("RECEPTIVE_FIELD", d.ReceptiveField)
	d.Stride = getEnvIntOrDefault("RF_STRIDE", d.Stride)
	d.Threshold = getEnvFloatOrDefault("THRESHOLD", d.Threshold)
	d.ClipBound = getEnvFloatOrDefault("CLIP_BOUND", d.ClipBound)
	d.Strategy = getEnvOrDefault("BOUND_STRATEGY", d.Strategy)

	cfg.Batch.Workers = getEnvIntOrDefault("WORKERS", cfg.Batch.Workers)
	cfg.Batch.StopAfter = getEnvIntOrDefault("STOP_AFTER", cfg.Batch.StopAfter)

	cfg.Store.Driver = getEnvOrDefault("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnvOrDefault("DATABASE_URL", cfg.Store.DSN)

	cfg.Server.Port = getEnvOrDefault("PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnvOrDefault("GIN_MODE", cfg.Server.GinMode)

	cfg.Export.TablePath = getEnvOrDefault("EXPORT_PATH", cfg.Export.TablePath)
	cfg.Export.ReportPath = getEnvOrDefault("REPORT_PATH", cfg.Export.ReportPath)
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	d := c.Defense
	switch d.Model {
	case verdict.ModelMasking:
		if math.IsNaN(d.Threshold) || math.IsInf(d.Threshold, 0) {
			return errors.ConfigInvalid("threshold must be finite")
		}
	case verdict.ModelClipping:
		if d.ClipBound <= 0 {
			return errors.ConfigInvalid("clipping model requires a positive clip bound")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown adversary model %q", d.Model))
	}
	switch d.Strategy {
	case "", "summed_area", "naive":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown bound strategy %q", d.Strategy))
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	if c.Batch.Workers < 1 {
		return errors.ConfigInvalid("workers must be at least 1")
	}
	if c.Batch.StopAfter < 0 {
		return errors.ConfigInvalid("stop_after must be non-negative")
	}
	switch c.Store.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return errors.ConfigInvalid("store driver set without DATABASE_URL")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	return nil
}

// Window resolves the window shape in grid cells.
func (c *Config) Window() (grid.WindowShape, error) {
	d := c.Defense
	if d.WindowHeight > 0 || d.WindowWidth > 0 {
		if d.WindowHeight < 1 || d.WindowWidth < 1 {
			return grid.WindowShape{}, errors.ConfigInvalid("window height and width must both be positive")
		}
		return grid.WindowShape{Height: d.WindowHeight, Width: d.WindowWidth}, nil
	}

	patch := d.PatchSize
	if patch <= 0 {
		patch = defaultPatchSizes[d.Dataset]
	}
	if patch <= 0 {
		return grid.WindowShape{}, errors.ConfigInvalid(fmt.Sprintf("no patch size given and no default for dataset %q", d.Dataset))
	}
	rf := d.ReceptiveField
	if rf <= 0 {
		rf = receptiveFields[d.Network]
	}
	if rf <= 0 {
		return grid.WindowShape{}, errors.ConfigInvalid(fmt.Sprintf("no receptive field given and unknown network %q", d.Network))
	}
	stride := d.Stride
	if stride <= 0 {
		stride = defaultStride
	}

	cells, err := window.CellsForPatch(patch, rf, stride)
	if err != nil {
		return grid.WindowShape{}, errors.Wrap(err, "failed to derive window")
	}
	return grid.Square(cells), nil
}

// Params flattens the defense settings for run fingerprints.
func (c *Config) Params() map[string]interface{} {
	shape, _ := c.Window()
	return map[string]interface{}{
		"model":      string(c.Defense.Model),
		"window":     shape.String(),
		"threshold":  c.Defense.Threshold,
		"clip_bound": c.Defense.ClipBound,
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
