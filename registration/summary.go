package registration

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ResidualSummary describes the distribution of a set of residuals.
type ResidualSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
	// RMS is the root of the mean residual, which for squared distances is the RMS distance.
	RMS float64 `json:"rms"`
}

// SummarizeResiduals computes a ResidualSummary. It fails on an empty input.
func SummarizeResiduals(residuals []float64) (ResidualSummary, error) {
	if len(residuals) == 0 {
		return ResidualSummary{}, errors.New("no residuals to summarize")
	}
	data := stats.Float64Data(residuals)
	mean, err := stats.Mean(data)
	if err != nil {
		return ResidualSummary{}, err
	}
	median, err := stats.Median(data)
	if err != nil {
		return ResidualSummary{}, err
	}
	p95, err := stats.Percentile(data, 95)
	if err != nil {
		return ResidualSummary{}, err
	}
	maxVal, err := stats.Max(data)
	if err != nil {
		return ResidualSummary{}, err
	}
	stdDev, err := stats.StandardDeviation(data)
	if err != nil {
		return ResidualSummary{}, err
	}
	return ResidualSummary{
		Count:  len(residuals),
		Mean:   mean,
		Median: median,
		P95:    p95,
		Max:    maxVal,
		StdDev: stdDev,
		RMS:    math.Sqrt(math.Max(mean, 0)),
	}, nil
}
