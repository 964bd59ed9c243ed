package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"segprep/internal/models"
	"segprep/pkg/config"
	"segprep/pkg/dataset"
	"segprep/pkg/generator"
	"segprep/pkg/reconstruction"
	"segprep/pkg/tiling"
	"segprep/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	trainDir := flag.String("train", "", "Directory containing training images")
	trainMaskDir := flag.String("train-masks", "", "Directory containing training masks")
	testDir := flag.String("test", "", "Directory containing test images")
	testMaskDir := flag.String("test-masks", "", "Directory containing test masks")
	outputDir := flag.String("output", "", "Directory for every generated file")
	mode := flag.String("mode", "", "Reconstruction tiling mode: grid or overlap")
	window := flag.Int("window", 0, "Overlap tile side in pixels")
	subdivision := flag.Int("subdivision", 0, "Number of overlap tiles per image (1 or even)")
	crop := flag.Int("crop", 0, "Grid crop side in pixels, 0 disables dataset cropping")
	discard := flag.Float64("discard", 0, "Discard training crops with no more than this foreground percentage")
	checkMasks := flag.Bool("check-masks", false, "Verify that a sample of the training masks is binary")
	samples := flag.Int("samples", 0, "Number of augmented examples to write")
	extractSlices := flag.Bool("extract-slices", false, "Save slices of the reconstructed test volume along all axes")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log := initLogger(*debug)

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.WithError(err).Fatal("Failed to write default configuration")
		}
		log.WithField("path", *configPath).Info("Default configuration written")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	// Flags given on the command line override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "train":
			cfg.Data.TrainPath = *trainDir
		case "train-masks":
			cfg.Data.TrainMaskPath = *trainMaskDir
		case "test":
			cfg.Data.TestPath = *testDir
		case "test-masks":
			cfg.Data.TestMaskPath = *testMaskDir
		case "output":
			cfg.Output.Dir = *outputDir
		case "mode":
			cfg.Tiling.Mode = *mode
		case "window":
			cfg.Tiling.Window = *window
		case "subdivision":
			cfg.Tiling.Subdivision = *subdivision
		case "crop":
			cfg.Tiling.CropH, cfg.Tiling.CropW = *crop, *crop
		case "discard":
			cfg.Tiling.DiscardPercentage = *discard
		case "check-masks":
			cfg.Data.CheckBinaryMasks = *checkMasks
		case "samples":
			cfg.Generator.NumSamples = *samples
		case "debug":
			cfg.Output.Verbose = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.Data.TrainPath == "" || cfg.Data.TestPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now()
	if err := run(cfg, log, *extractSlices); err != nil {
		log.WithError(err).Fatal("Processing failed")
	}
	log.WithField("seconds", time.Since(start).Seconds()).Info("Processing completed successfully")
}

func run(cfg *config.Config, log *logrus.Logger, extractSlices bool) error {
	if cfg.Data.CheckBinaryMasks {
		log.Info("0) Checking that the training masks are binary")
		var rng *rand.Rand
		if cfg.Data.Seed != 0 {
			rng = rand.New(rand.NewSource(cfg.Data.Seed))
		}
		if err := dataset.CheckBinaryMasks(cfg.Data.TrainMaskPath, rng, log); err != nil {
			return err
		}
	}

	log.Info("1) Loading datasets")
	ds, err := dataset.Load(cfg.DatasetParams(log))
	if err != nil {
		return err
	}
	fields := logrus.Fields{"train": ds.XTrain.String(), "test": ds.XTest.String(), "norm": ds.Norm}
	if ds.XVal != nil {
		fields["val"] = ds.XVal.String()
	}
	log.WithFields(fields).Info("Datasets loaded")

	log.Info("2) Reconstructing the test volume")
	testVol := ds.XTest
	if ds.CropMade {
		// reconstruction works on whole images, undo the dataset crops
		testVol, err = tiling.Reassemble(ds.XTest, ds.TestLayout, cfg.Data.TestShape.H, cfg.Data.TestShape.W)
		if err != nil {
			return err
		}
	}
	rec := reconstruction.NewReconstructor(cfg.ReconstructionParams(log), reconstruction.Identity)
	res, err := rec.Process(testVol)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"rmse":         res.Metrics.RMSE,
		"ssim":         res.Metrics.SSIM,
		"max_abs_diff": res.Metrics.MaxAbsDiff,
	}).Info("Reconstruction fidelity")

	if extractSlices {
		if err := saveSlices(res.Volume, filepath.Join(cfg.Output.Dir, "slices", cfg.Output.JobID), log); err != nil {
			return err
		}
	}

	if cfg.Generator.NumSamples > 0 {
		log.WithField("num", cfg.Generator.NumSamples).Info("3) Writing augmentation samples")
		gen, err := generator.New(generator.Params{X: ds.XTrain, Y: ds.YTrain}, cfg.GeneratorOptions(log))
		if err != nil {
			return err
		}
		_, _, err = gen.TransformedSamples(generator.SampleParams{
			Num:             cfg.Generator.NumSamples,
			SaveDir:         filepath.Join(cfg.Output.Dir, "aug"),
			JobID:           cfg.Output.JobID,
			OriginalElastic: cfg.Generator.OriginalElastic,
			RandomImages:    cfg.Generator.RandomImages,
		})
		if err != nil {
			return err
		}
		gen.LogStats()
	}
	return nil
}

// saveSlices writes the reconstructed volume along every axis
func saveSlices(v *models.Volume, dir string, log *logrus.Logger) error {
	viewer := visualization.NewViewer(v, 0)
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(dir, axis)
		log.WithFields(logrus.Fields{"axis": axis, "dir": axisDir}).Info("Saving slices")
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			return err
		}
	}
	return nil
}

// initLogger configures structured logging
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
