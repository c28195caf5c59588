package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights controls how sub-scores aggregate into the overall score. Optional
// sub-score weights only participate when the grader computed that sub-score,
// so an absent optional metric never drags the aggregate down.
type Weights struct {
	RampUp               float64 `yaml:"rampUp"`
	Correctness          float64 `yaml:"correctness"`
	BusFactor            float64 `yaml:"busFactor"`
	ResponsiveMaintainer float64 `yaml:"responsiveMaintainer"`
	License              float64 `yaml:"license"`
	Reviewedness         float64 `yaml:"reviewedness"`
	Reproducibility      float64 `yaml:"reproducibility"`
}

// DefaultWeights returns the aggregation used when no weights file is configured.
func DefaultWeights() Weights {
	return Weights{
		RampUp:               0.20,
		Correctness:          0.25,
		BusFactor:            0.20,
		ResponsiveMaintainer: 0.15,
		License:              0.20,
		Reviewedness:         0.10,
		Reproducibility:      0.10,
	}
}

// LoadWeights reads a YAML weights file, falling back to defaults for the
// empty path.
func LoadWeights(path string) (Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read weights file: %w", err)
	}

	w := DefaultWeights()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("parse weights file: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate rejects weight sets that cannot produce a meaningful aggregate.
func (w Weights) Validate() error {
	all := []float64{w.RampUp, w.Correctness, w.BusFactor, w.ResponsiveMaintainer, w.License, w.Reviewedness, w.Reproducibility}
	for _, v := range all {
		if v < 0 {
			return errors.New("weights must be non-negative")
		}
	}
	if w.RampUp+w.Correctness+w.BusFactor+w.ResponsiveMaintainer+w.License <= 0 {
		return errors.New("required sub-score weights must sum to a positive value")
	}
	return nil
}

// Score computes the deterministic weighted aggregate of a metrics record,
// normalised over the weights of the sub-scores actually present.
func (w Weights) Score(m ModelMetrics) float64 {
	sum := w.RampUp*m.RampUp +
		w.Correctness*m.Correctness +
		w.BusFactor*m.BusFactor +
		w.ResponsiveMaintainer*m.ResponsiveMaintainer +
		w.License*m.License
	total := w.RampUp + w.Correctness + w.BusFactor + w.ResponsiveMaintainer + w.License

	if m.Reviewedness != nil {
		sum += w.Reviewedness * *m.Reviewedness
		total += w.Reviewedness
	}
	if m.Reproducibility != nil {
		sum += w.Reproducibility * *m.Reproducibility
		total += w.Reproducibility
	}

	if total <= 0 {
		return 0
	}

	score := sum / total
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
