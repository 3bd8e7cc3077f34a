package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"imagesorter/imageprocessor"
	"imagesorter/reference"
	"imagesorter/router"
	"imagesorter/signalhandler"

	"gopkg.in/yaml.v3"
)

// DefaultThreshold is used when neither the config file nor the command line sets one.
const DefaultThreshold = 0.7

// ErrInvalidThreshold is returned for thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("threshold must be within [0,1]")

// Collision policies for destination files
const (
	CollisionOverwrite = router.CollisionOverwrite
	CollisionSuffix    = router.CollisionSuffix
)

// Policies for files sitting directly under the template root
const (
	RootFilesSkip = reference.RootFilesSkip
	RootFilesStem = reference.RootFilesStem
)

// Matching strategies
const (
	StrategyNearest  = "nearest"
	StrategyCentroid = "centroid"
)

// Image loaders
const (
	LoaderOpenCV = "opencv"
	LoaderGo     = "go"
)

// Config holds classifier settings.
type Config struct {
	Threshold    float64    `yaml:"threshold"`
	Workers      int        `yaml:"workers"`
	Collision    string     `yaml:"collision"`
	RootFiles    string     `yaml:"root_files"`
	Strategy     string     `yaml:"strategy"`
	Loader       string     `yaml:"loader"`
	Hash         HashConfig `yaml:"hash"`
	ImageTimeout Duration   `yaml:"image_timeout"`
	Journal      string     `yaml:"journal"`
	SearchTopN   int        `yaml:"search_top_n"`
}

// HashConfig selects the perceptual hash
type HashConfig struct {
	Algorithm string `yaml:"algorithm"` // average | perception | difference
	Size      int    `yaml:"size"`      // width and height; W = size*size bits
}

// Duration lets YAML carry values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg, data)
	return &cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Threshold: DefaultThreshold,
		Workers:   signalhandler.GetOptimalProcs(),
		Collision: CollisionOverwrite,
		RootFiles: RootFilesSkip,
		Strategy:  StrategyNearest,
		Loader:    LoaderOpenCV,
		Hash: HashConfig{
			Algorithm: string(imageprocessor.HashAverage),
			Size:      imageprocessor.DefaultHashSize,
		},
		Journal:    ":memory:",
		SearchTopN: 5,
	}
}

func applyDefaults(cfg *Config, raw []byte) {
	def := Default()

	// A threshold of exactly 0 is meaningful, so only fill it when the key is absent.
	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err == nil {
		if _, ok := keys["threshold"]; !ok {
			cfg.Threshold = def.Threshold
		}
	}

	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Collision == "" {
		cfg.Collision = def.Collision
	}
	if cfg.RootFiles == "" {
		cfg.RootFiles = def.RootFiles
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.Loader == "" {
		cfg.Loader = def.Loader
	}
	if cfg.Hash.Algorithm == "" {
		cfg.Hash.Algorithm = def.Hash.Algorithm
	}
	if cfg.Hash.Size == 0 {
		cfg.Hash.Size = def.Hash.Size
	}
	if cfg.Journal == "" {
		cfg.Journal = def.Journal
	}
	if cfg.SearchTopN == 0 {
		cfg.SearchTopN = def.SearchTopN
	}
}

// Validate checks ranges and enum values
func (c *Config) Validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.Threshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SearchTopN < 1 {
		return fmt.Errorf("search_top_n must be at least 1, got %d", c.SearchTopN)
	}
	if c.ImageTimeout < 0 {
		return fmt.Errorf("image_timeout must not be negative")
	}
	if err := oneOf("collision", c.Collision, CollisionOverwrite, CollisionSuffix); err != nil {
		return err
	}
	if err := oneOf("root_files", c.RootFiles, RootFilesSkip, RootFilesStem); err != nil {
		return err
	}
	if err := oneOf("strategy", c.Strategy, StrategyNearest, StrategyCentroid); err != nil {
		return err
	}
	if err := oneOf("loader", c.Loader, LoaderOpenCV, LoaderGo); err != nil {
		return err
	}
	return imageprocessor.ValidateHash(imageprocessor.HashAlgorithm(c.Hash.Algorithm), c.Hash.Size)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (allowed: %v)", field, value, allowed)
}
