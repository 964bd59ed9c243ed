package reconstruction

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"segprep/internal/models"
)

// calculateValidationMetrics compares channel 0 of original and
// reconstructed. Volumes of different size yield zero metrics.
func calculateValidationMetrics(original, reconstructed *models.Volume) ValidationMetrics {
	if original.N != reconstructed.N || original.H != reconstructed.H || original.W != reconstructed.W {
		return ValidationMetrics{}
	}
	a := firstChannel(original)
	b := firstChannel(reconstructed)
	return ValidationMetrics{
		RMSE:       calculateRMSE(a, b),
		SSIM:       calculateSSIM(a, b),
		MaxAbsDiff: maxAbsDiff(a, b),
	}
}

func firstChannel(v *models.Volume) []float64 {
	if v.C == 1 {
		return v.Data
	}
	out := make([]float64, 0, v.N*v.H*v.W)
	for n := 0; n < v.N; n++ {
		out = append(out, v.Plane(n, 0)...)
	}
	return out
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

func maxAbsDiff(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, math.Inf(1))
}

// calculateSSIM computes the Structural Similarity Index. The dynamic range
// is 255 for 8-bit data and 1 for normalized data.
func calculateSSIM(original, reconstructed []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	L := 1.0
	if floats.Max(original) > 1 {
		L = 255
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)

	// single samples have no variance
	var sigmaX, sigmaY, sigmaXY float64
	if n > 1 {
		sigmaX = stat.Variance(original, nil)
		sigmaY = stat.Variance(reconstructed, nil)
		sigmaXY = stat.Covariance(original, reconstructed, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)

	if den > 0 {
		return num / den
	}
	return 0
}
