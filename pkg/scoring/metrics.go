package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ModelMetrics is the fixed-shape record a grader must produce. The five
// required sub-scores must all be present and in [0, 1]. Optional sub-scores
// are nil when the grader did not compute them, never zero-filled.
type ModelMetrics struct {
	RampUp               float64  `json:"rampUp"`
	Correctness          float64  `json:"correctness"`
	BusFactor            float64  `json:"busFactor"`
	ResponsiveMaintainer float64  `json:"responsiveMaintainer"`
	License              float64  `json:"license"`
	Reviewedness         *float64 `json:"reviewedness,omitempty"`
	Reproducibility      *float64 `json:"reproducibility,omitempty"`
}

var requiredSubScores = []string{"rampUp", "correctness", "busFactor", "responsiveMaintainer", "license"}

// ErrInvalidMetrics marks a metrics record that fails schema validation.
// Failures of this kind are terminal: re-running the grader on the same
// input would produce the same malformed record.
var ErrInvalidMetrics = errors.New("invalid metrics record")

// Parse decodes and validates a grader's stdout into a ModelMetrics record.
// Missing required fields and out-of-range values are both rejected.
func Parse(data []byte) (ModelMetrics, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ModelMetrics{}, fmt.Errorf("%w: %v", ErrInvalidMetrics, err)
	}
	for _, name := range requiredSubScores {
		if _, ok := raw[name]; !ok {
			return ModelMetrics{}, fmt.Errorf("%w: missing required sub-score %q", ErrInvalidMetrics, name)
		}
	}

	var m ModelMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return ModelMetrics{}, fmt.Errorf("%w: %v", ErrInvalidMetrics, err)
	}
	if err := m.Validate(); err != nil {
		return ModelMetrics{}, err
	}
	return m, nil
}

// Validate checks all sub-scores are within [0, 1].
func (m ModelMetrics) Validate() error {
	required := map[string]float64{
		"rampUp":               m.RampUp,
		"correctness":          m.Correctness,
		"busFactor":            m.BusFactor,
		"responsiveMaintainer": m.ResponsiveMaintainer,
		"license":              m.License,
	}
	for _, name := range requiredSubScores {
		if v := required[name]; v < 0 || v > 1 {
			return fmt.Errorf("%w: sub-score %q = %v outside [0, 1]", ErrInvalidMetrics, name, v)
		}
	}

	optional := map[string]*float64{
		"reviewedness":    m.Reviewedness,
		"reproducibility": m.Reproducibility,
	}
	for name, v := range optional {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%w: sub-score %q = %v outside [0, 1]", ErrInvalidMetrics, name, *v)
		}
	}
	return nil
}

// AsMap renders the record as a generic map for jsonb storage. Optional
// sub-scores that were not computed are omitted entirely.
func (m ModelMetrics) AsMap() (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromMap rebuilds a ModelMetrics record from its jsonb representation.
func FromMap(in map[string]any) (ModelMetrics, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return ModelMetrics{}, err
	}
	return Parse(data)
}
