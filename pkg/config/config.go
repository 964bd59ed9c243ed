// Package config provides configuration loading and management for segprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"segprep/internal/models"
	"segprep/pkg/augment"
	"segprep/pkg/dataset"
	"segprep/pkg/generator"
	"segprep/pkg/reconstruction"
)

// Supported loss and optimizer names
var (
	Losses     = []string{"bce", "w_bce", "w_bce_dice"}
	Optimizers = []string{"sgd", "adam"}
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Data locations and loading parameters
	Data struct {
		TrainPath     string `yaml:"trainPath"`
		TrainMaskPath string `yaml:"trainMaskPath"`
		TestPath      string `yaml:"testPath"`
		TestMaskPath  string `yaml:"testMaskPath"`

		TrainShape dataset.Shape `yaml:"trainShape"`
		TestShape  dataset.Shape `yaml:"testShape"`

		// ValSplit is the fraction of training samples held out for validation
		ValSplit   float64 `yaml:"valSplit"`
		ShuffleVal bool    `yaml:"shuffleVal"`
		Seed       uint64  `yaml:"seed"`

		NumCropsPerDataset int `yaml:"numCropsPerDataset"`

		// CheckBinaryMasks verifies a sample of the train masks before loading
		CheckBinaryMasks bool `yaml:"checkBinaryMasks"`

		Extra []dataset.ExtraDataset `yaml:"extra,omitempty"`
	} `yaml:"data"`

	// Tiling parameters for cropping and reconstruction
	Tiling struct {
		// Mode is "grid" or "overlap"
		Mode string `yaml:"mode"`

		// CropH and CropW size the grid tiles. Zero disables grid cropping
		// of the datasets.
		CropH int `yaml:"cropH"`
		CropW int `yaml:"cropW"`

		Window      int `yaml:"window"`
		Subdivision int `yaml:"subdivision"`

		DiscardPercentage float64 `yaml:"discardPercentage"`
		ClassTag          float64 `yaml:"classTag"`

		CheckCrops bool `yaml:"checkCrops"`
		OverlapMap bool `yaml:"overlapMap"`

		// ZFilterSize smooths predictions along the stack when positive
		ZFilterSize int `yaml:"zFilterSize"`
	} `yaml:"tiling"`

	// Augmentation parameters for the transform pipeline
	Augmentation struct {
		Enabled bool `yaml:"enabled"`

		Elastic     bool    `yaml:"elastic"`
		ElasticProb float64 `yaml:"elasticProb"`

		VFlip bool `yaml:"vflip"`
		HFlip bool `yaml:"hflip"`

		RotationRange float64 `yaml:"rotationRange"`
		Rotation90    bool    `yaml:"rotation90"`

		BrightnessRange  [2]float64 `yaml:"brightnessRange"`
		MedianFilterSize [2]int     `yaml:"medianFilterSize"`

		RandomCrop bool `yaml:"randomCrop"`
		CropLength int  `yaml:"cropLength"`
	} `yaml:"augmentation"`

	// Generator parameters
	Generator struct {
		BatchSize int  `yaml:"batchSize"`
		Shuffle   bool `yaml:"shuffle"`

		// NumSamples augmented examples are written for inspection
		NumSamples      int  `yaml:"numSamples"`
		RandomImages    bool `yaml:"randomImages"`
		OriginalElastic bool `yaml:"originalElastic"`
	} `yaml:"generator"`

	// Model parameters
	Model struct {
		Loss         string  `yaml:"loss"`
		Optimizer    string  `yaml:"optimizer"`
		LearningRate float64 `yaml:"learningRate"`

		// BatchSize is the number of tiles predicted per call, 0 for all
		BatchSize int `yaml:"batchSize"`

		// NumCores specifies how many prediction batches run in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"model"`

	// Output parameters
	Output struct {
		Dir   string `yaml:"dir"`
		JobID string `yaml:"jobID"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Data.TrainShape = dataset.Shape{H: 1024, W: 768, C: 1}
	cfg.Data.TestShape = dataset.Shape{H: 1024, W: 768, C: 1}
	cfg.Data.ValSplit = 0.1
	cfg.Data.ShuffleVal = true

	cfg.Tiling.Mode = reconstruction.ModeOverlap
	cfg.Tiling.Window = 256
	cfg.Tiling.Subdivision = 16
	cfg.Tiling.ClassTag = 1

	cfg.Augmentation.ElasticProb = 0.5
	cfg.Augmentation.BrightnessRange = [2]float64{1, 1}

	cfg.Generator.BatchSize = 6
	cfg.Generator.Shuffle = true

	cfg.Model.Loss = "bce"
	cfg.Model.Optimizer = "sgd"
	cfg.Model.LearningRate = 0.002
	cfg.Model.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Output.Dir = "output"
	cfg.Output.JobID = "job"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks that the configuration can drive the pipeline
func (c *Config) Validate() error {
	if c.Tiling.Mode != reconstruction.ModeGrid && c.Tiling.Mode != reconstruction.ModeOverlap {
		return errors.Wrapf(models.ErrConfig, "unknown tiling mode %q", c.Tiling.Mode)
	}
	if s := c.Tiling.Subdivision; s < 1 || (s != 1 && s%2 != 0) {
		return errors.Wrapf(models.ErrConfig, "subdivision must be 1 or an even number, got %d", s)
	}
	if c.Tiling.Window <= 0 {
		return errors.Wrapf(models.ErrConfig, "invalid window size %d", c.Tiling.Window)
	}
	if c.Tiling.CropH < 0 || c.Tiling.CropW < 0 || (c.Tiling.CropH == 0) != (c.Tiling.CropW == 0) {
		return errors.Wrapf(models.ErrConfig, "invalid crop size %dx%d", c.Tiling.CropH, c.Tiling.CropW)
	}
	if c.Tiling.Mode == reconstruction.ModeGrid && c.Tiling.CropH == 0 {
		return errors.Wrap(models.ErrConfig, "grid mode requires a crop size")
	}
	if d := c.Tiling.DiscardPercentage; d < 0 || d > 100 {
		return errors.Wrapf(models.ErrConfig, "discard percentage %v out of [0, 100]", d)
	}
	for i, e := range c.Data.Extra {
		if e.DiscardPercentage < 0 || e.DiscardPercentage > 100 {
			return errors.Wrapf(models.ErrConfig, "extra dataset %d: discard percentage %v out of [0, 100]", i, e.DiscardPercentage)
		}
	}
	for name, s := range map[string]dataset.Shape{"train": c.Data.TrainShape, "test": c.Data.TestShape} {
		if s.H <= 0 || s.W <= 0 || s.C <= 0 {
			return errors.Wrapf(models.ErrConfig, "invalid %s shape %+v", name, s)
		}
	}
	if v := c.Data.ValSplit; v < 0 || v >= 1 {
		return errors.Wrapf(models.ErrConfig, "validation split %v out of [0, 1)", v)
	}
	if c.Augmentation.RandomCrop && c.Augmentation.CropLength <= 0 {
		return errors.Wrapf(models.ErrConfig, "invalid random crop length %d", c.Augmentation.CropLength)
	}
	if err := c.PipelineOptions().Validate(); err != nil {
		return err
	}
	if c.Generator.BatchSize <= 0 {
		return errors.Wrapf(models.ErrConfig, "invalid batch size %d", c.Generator.BatchSize)
	}
	if !slices.Contains(Losses, c.Model.Loss) {
		return errors.Wrapf(models.ErrConfig, "unknown loss %q, expected one of %v", c.Model.Loss, Losses)
	}
	if !slices.Contains(Optimizers, c.Model.Optimizer) {
		return errors.Wrapf(models.ErrConfig, "unknown optimizer %q, expected one of %v", c.Model.Optimizer, Optimizers)
	}
	return nil
}

// PipelineOptions returns the transform pipeline settings
func (c *Config) PipelineOptions() augment.Options {
	a := c.Augmentation
	return augment.Options{
		Elastic:          a.Elastic,
		ElasticProb:      a.ElasticProb,
		VFlip:            a.VFlip,
		HFlip:            a.HFlip,
		RotationRange:    a.RotationRange,
		Rotation90:       a.Rotation90,
		BrightnessRange:  a.BrightnessRange,
		MedianFilterSize: a.MedianFilterSize,
		Seed:             c.Data.Seed,
	}
}

// DatasetParams returns the loader settings
func (c *Config) DatasetParams(logger *logrus.Logger) dataset.Params {
	return dataset.Params{
		TrainPath:          c.Data.TrainPath,
		TrainMaskPath:      c.Data.TrainMaskPath,
		TestPath:           c.Data.TestPath,
		TestMaskPath:       c.Data.TestMaskPath,
		TrainShape:         c.Data.TrainShape,
		TestShape:          c.Data.TestShape,
		ValSplit:           c.Data.ValSplit,
		ShuffleVal:         c.Data.ShuffleVal,
		Seed:               c.Data.Seed,
		NumCropsPerDataset: c.Data.NumCropsPerDataset,
		CropH:              c.Tiling.CropH,
		CropW:              c.Tiling.CropW,
		DiscardPercentage:  c.Tiling.DiscardPercentage,
		ClassTag:           c.Tiling.ClassTag,
		CheckCrops:         c.Tiling.CheckCrops,
		CheckDir:           filepath.Join(c.Output.Dir, "check_crops"),
		JobID:              c.Output.JobID,
		Extra:              c.Data.Extra,
		Logger:             logger,
	}
}

// GeneratorOptions returns the batch generator settings
func (c *Config) GeneratorOptions(logger *logrus.Logger) generator.Options {
	return generator.Options{
		BatchSize:  c.Generator.BatchSize,
		Shuffle:    c.Generator.Shuffle,
		Augment:    c.Augmentation.Enabled,
		Pipeline:   c.PipelineOptions(),
		RandomCrop: c.Augmentation.RandomCrop,
		CropLength: c.Augmentation.CropLength,
		Logger:     logger,
	}
}

// ReconstructionParams returns the tile, predict and merge settings
func (c *Config) ReconstructionParams(logger *logrus.Logger) *reconstruction.Params {
	return &reconstruction.Params{
		Mode:                    c.Tiling.Mode,
		TileH:                   c.Tiling.CropH,
		TileW:                   c.Tiling.CropW,
		Window:                  c.Tiling.Window,
		Subdivision:             c.Tiling.Subdivision,
		BatchSize:               c.Model.BatchSize,
		NumCores:                c.Model.NumCores,
		ZFilterSize:             c.Tiling.ZFilterSize,
		OverlapMap:              c.Tiling.OverlapMap,
		OverlapMapDir:           filepath.Join(c.Output.Dir, c.Output.JobID),
		SaveIntermediaryResults: c.Output.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(c.Output.Dir, "intermediary", c.Output.JobID),
		Logger:                  logger,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
