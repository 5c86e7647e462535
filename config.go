package examparse

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/parser"
)

// Config holds all configuration for the examparse engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.examparse/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "examparse".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.examparse/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// OutputDir receives <exam>_parsed.json and <exam>_validation.json.
	// Empty disables output files.
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
	SaveJSON      bool   `json:"save_json" yaml:"save_json"`
	SaveRawBlocks bool   `json:"save_raw_blocks" yaml:"save_raw_blocks"`

	// ImageDir is the root for extracted images; each exam gets a
	// subdirectory named by its exam key.
	ImageDir     string `json:"image_dir" yaml:"image_dir"`
	MinImageSize int    `json:"min_image_size" yaml:"min_image_size"` // pixels, both sides

	// Image attribution
	ProximityMargin     int `json:"proximity_margin" yaml:"proximity_margin"`
	MaxImagesPerSection int `json:"max_images_per_section" yaml:"max_images_per_section"`

	// Page range, 1-based and inclusive. Zero means unbounded.
	PageStart int `json:"page_start" yaml:"page_start"`
	PageEnd   int `json:"page_end" yaml:"page_end"`

	// Exam metadata defaults. ExamName also fixes the exam key.
	ExamName string `json:"exam_name" yaml:"exam_name"`
	Provider string `json:"provider" yaml:"provider"`
	Version  string `json:"version" yaml:"version"`

	// FingerprintDim is the dimension of the question similarity index.
	FingerprintDim int `json:"fingerprint_dim" yaml:"fingerprint_dim"`
}

// DefaultConfig returns a Config with the standard attribution and image
// thresholds. Database is stored in ~/.examparse/examparse.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:              "examparse",
		StorageDir:          "home",
		SaveJSON:            true,
		ImageDir:            "images",
		MinImageSize:        50,
		ProximityMargin:     attribution.DefaultMargin,
		MaxImagesPerSection: attribution.DefaultMaxImages,
		FingerprintDim:      64,
	}
}

// LoadConfig reads a YAML or JSON config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.MinImageSize < 0:
		return fmt.Errorf("%w: min_image_size must be >= 0", ErrInvalidConfig)
	case c.ProximityMargin < 0:
		return fmt.Errorf("%w: proximity_margin must be >= 0", ErrInvalidConfig)
	case c.MaxImagesPerSection < 0:
		return fmt.Errorf("%w: max_images_per_section must be >= 0", ErrInvalidConfig)
	case c.PageStart < 0 || c.PageEnd < 0:
		return fmt.Errorf("%w: page range must be >= 0", ErrInvalidConfig)
	case c.PageStart > 0 && c.PageEnd > 0 && c.PageStart > c.PageEnd:
		return fmt.Errorf("%w: page_start %d after page_end %d", ErrInvalidConfig, c.PageStart, c.PageEnd)
	case c.FingerprintDim < 0:
		return fmt.Errorf("%w: fingerprint_dim must be >= 0", ErrInvalidConfig)
	}
	switch c.StorageDir {
	case "", "home", "local", "cwd":
	default:
		return fmt.Errorf("%w: unknown storage_dir %q", ErrInvalidConfig, c.StorageDir)
	}
	return nil
}

// Attribution returns the image attribution settings.
func (c *Config) Attribution() attribution.Config {
	return attribution.Config{Margin: c.ProximityMargin, MaxImages: c.MaxImagesPerSection}
}

// extractOptions returns the extractor options for the exam with the given key.
func (c *Config) extractOptions(key string) parser.Options {
	opts := parser.Options{
		MinImageSize: c.MinImageSize,
		PageStart:    c.PageStart,
		PageEnd:      c.PageEnd,
	}
	if c.ImageDir != "" {
		opts.ImageDir = filepath.Join(c.ImageDir, key)
	}
	return opts
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "examparse"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".examparse", name+".db")
	}
}
