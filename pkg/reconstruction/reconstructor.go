// Package reconstruction drives a volume through tiling, a per-tile model
// and merging, reproducing the original geometry from the predictions.
package reconstruction

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"segprep/internal/models"
	"segprep/pkg/tiling"
	"segprep/pkg/visualization"
)

// Tiling modes
const (
	ModeGrid    = "grid"
	ModeOverlap = "overlap"
)

// Model predicts one output tile per input tile. Predictions must have the
// same shape as the tiles. With NumCores > 1 Predict is called from several
// goroutines at once.
type Model interface {
	Predict(tiles *models.Volume) (*models.Volume, error)
}

// ModelFunc adapts a function to the Model interface
type ModelFunc func(tiles *models.Volume) (*models.Volume, error)

func (f ModelFunc) Predict(tiles *models.Volume) (*models.Volume, error) {
	return f(tiles)
}

// Identity returns the tiles unchanged. Reconstructing with it measures the
// loss introduced by tiling and merging alone.
var Identity = ModelFunc(func(tiles *models.Volume) (*models.Volume, error) {
	return tiles.Clone(), nil
})

// ValidationMetrics compares the merged output with the input volume
type ValidationMetrics struct {
	// RMSE (Root Mean Square Error) between input and output samples
	RMSE float64

	// SSIM (Structural Similarity Index) over the whole volume, 1 for
	// identical data.
	SSIM float64

	// MaxAbsDiff is the largest absolute difference of any sample
	MaxAbsDiff float64
}

// Params holds the reconstruction configuration
type Params struct {
	// Mode is ModeGrid or ModeOverlap
	Mode string

	// TileH and TileW size the grid tiles
	TileH, TileW int

	// Window and Subdivision configure overlap tiling
	Window      int
	Subdivision int

	// BatchSize is the number of tiles handed to the model at once.
	// Zero sends every tile in one call.
	BatchSize int

	// NumCores is the number of batches predicted concurrently
	NumCores int

	// ZFilterSize enables a median filter across the stack when positive
	ZFilterSize int

	// OverlapMap renders the overlap density map of the first image. It is
	// saved under OverlapMapDir, or IntermediaryDir when that is empty and
	// intermediary results are enabled.
	OverlapMap    bool
	OverlapMapDir string

	// SaveIntermediaryResults writes tiles, predictions and merged planes
	// as PNG under IntermediaryDir.
	SaveIntermediaryResults bool
	IntermediaryDir         string

	Logger *logrus.Logger
}

// Result is the output of Process
type Result struct {
	Volume  *models.Volume
	Metrics ValidationMetrics

	// Map is set when an overlap map was requested in overlap mode
	Map *tiling.OverlapMap
}

// Reconstructor runs crop, predict and merge over a volume.
//
// The process consists of several steps:
//  1. Tiling the input with the grid or overlap tiler
//  2. Predicting every tile with the model
//  3. Merging the predictions back to the input geometry
//  4. Optionally median filtering along the stack
//  5. Calculating fidelity metrics against the input
type Reconstructor struct {
	// params stores the reconstruction configuration
	params *Params

	// model is invoked on batches of tiles
	model Model

	log *logrus.Entry
}

// NewReconstructor creates a new reconstructor with the provided parameters.
//
// Parameters:
//   - params: Configuration parameters for the reconstruction process
//   - model: Per-tile predictor, Identity when nil
//
// Returns:
//   - A new Reconstructor instance
func NewReconstructor(params *Params, model Model) *Reconstructor {
	if model == nil {
		model = Identity
	}
	logger := params.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconstructor{
		params: params,
		model:  model,
		log:    logger.WithField("component", "reconstruction"),
	}
}

// Process runs the complete reconstruction pipeline over x
func (r *Reconstructor) Process(x *models.Volume) (*Result, error) {
	p := r.params

	r.log.WithFields(logrus.Fields{"mode": p.Mode, "input": x.String()}).Info("Step 1: Tiling input volume")
	var (
		tiles  *models.Volume
		layout models.Layout
		err    error
	)
	switch p.Mode {
	case ModeGrid:
		var res *tiling.GridResult
		res, err = tiling.CropGrid(x, nil, tiling.GridParams{TileH: p.TileH, TileW: p.TileW, Logger: p.Logger})
		if err == nil {
			tiles, layout = res.Images, res.Layout
		}
	case ModeOverlap:
		tiles, _, err = tiling.CropWithOverlap(x, nil, p.Window, p.Subdivision, p.Logger)
	default:
		err = errors.Wrapf(models.ErrConfig, "unknown tiling mode %q", p.Mode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to tile input")
	}
	r.saveVolume("01_tiles", tiles)

	r.log.WithField("tiles", tiles.N).Info("Step 2: Predicting tiles")
	preds, err := r.predictInParallel(tiles)
	if err != nil {
		return nil, errors.Wrap(err, "failed to predict tiles")
	}
	r.saveVolume("02_predictions", preds)

	r.log.Info("Step 3: Merging predictions")
	result := &Result{}
	switch p.Mode {
	case ModeGrid:
		result.Volume, err = tiling.Reassemble(preds, layout, x.H, x.W)
	case ModeOverlap:
		var merged *tiling.MergeResult
		merged, err = tiling.MergeWithOverlap(preds, tiling.MergeParams{
			Height: x.H, Width: x.W,
			Window: p.Window, Subdivision: p.Subdivision,
			OverlapMap: p.OverlapMap,
			OutDir:     r.overlapMapDir(),
			Logger:     p.Logger,
		})
		if err == nil {
			result.Volume, result.Map = merged.Merged, merged.Map
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to merge predictions")
	}

	if p.ZFilterSize > 0 {
		r.log.WithField("size", p.ZFilterSize).Info("Step 4: Applying z-axis median filter")
		result.Volume = ZFilter(result.Volume, p.ZFilterSize)
	}
	r.saveVolume("03_merged", result.Volume)

	r.log.Info("Step 5: Calculating validation metrics")
	result.Metrics = calculateValidationMetrics(x, result.Volume)
	r.log.WithFields(logrus.Fields{
		"rmse":         result.Metrics.RMSE,
		"ssim":         result.Metrics.SSIM,
		"max_abs_diff": result.Metrics.MaxAbsDiff,
	}).Info("Reconstruction finished")

	return result, nil
}

// predictInParallel splits tiles into batches and predicts up to NumCores
// of them at a time. Results are stored by batch so the output order
// matches the input order.
func (r *Reconstructor) predictInParallel(tiles *models.Volume) (*models.Volume, error) {
	batch := r.params.BatchSize
	if batch <= 0 || batch > tiles.N {
		batch = tiles.N
	}
	if batch == 0 {
		return nil, errors.Wrap(models.ErrShapeMismatch, "no tiles to predict")
	}
	numBatches := (tiles.N + batch - 1) / batch
	cores := r.params.NumCores
	if cores < 1 {
		cores = 1
	}

	type predictionResult struct {
		batchIdx int
		data     *models.Volume
		err      error
	}
	resultChan := make(chan predictionResult)
	sem := make(chan struct{}, cores)

	for b := 0; b < numBatches; b++ {
		go func(batchIdx int) {
			sem <- struct{}{}
			defer func() { <-sem }()

			in := tiles.Slice(batchIdx*batch, (batchIdx+1)*batch)
			out, err := r.model.Predict(in)
			if err == nil && out == nil {
				err = errors.Wrap(models.ErrShapeMismatch, "model returned no prediction")
			} else if err == nil && (out.N != in.N || !out.SameGeometry(in)) {
				err = errors.Wrapf(models.ErrShapeMismatch, "model returned %s for input %s", out, in)
			}
			resultChan <- predictionResult{batchIdx: batchIdx, data: out, err: err}
		}(b)
	}

	// Collect results
	outputs := make([]*models.Volume, numBatches)
	var firstErr error
	for completed := 0; completed < numBatches; completed++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = errors.Wrapf(res.err, "batch %d", res.batchIdx)
		}
		outputs[res.batchIdx] = res.data
	}
	if firstErr != nil {
		return nil, firstErr
	}

	preds := outputs[0]
	for _, out := range outputs[1:] {
		var err error
		if preds, err = models.Concat(preds, out); err != nil {
			return nil, err
		}
	}
	return preds, nil
}

func (r *Reconstructor) overlapMapDir() string {
	if r.params.OverlapMapDir != "" {
		return r.params.OverlapMapDir
	}
	return r.intermediaryDir()
}

func (r *Reconstructor) intermediaryDir() string {
	if !r.params.SaveIntermediaryResults {
		return ""
	}
	return r.params.IntermediaryDir
}

// saveVolume writes channel 0 of every image of v under stage. Failures
// are logged and do not stop the reconstruction.
func (r *Reconstructor) saveVolume(stage string, v *models.Volume) {
	dir := r.intermediaryDir()
	if dir == "" {
		return
	}
	scale := visualization.DisplayScale(v.Data)
	for n := 0; n < v.N; n++ {
		img := visualization.PlaneToGray(v.Plane(n, 0), v.H, v.W, scale)
		path := filepath.Join(dir, stage, fmt.Sprintf("%03d.png", n))
		if err := visualization.SavePNG(img, path); err != nil {
			r.log.WithError(err).WithField("stage", stage).Warn("Failed to save intermediary result")
		}
	}
}
