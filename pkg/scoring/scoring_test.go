package scoring

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ModelMetrics
		wantErr bool
	}{
		{
			name:  "all required present",
			input: `{"rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0}`,
			want: ModelMetrics{
				RampUp:               0.8,
				Correctness:          0.9,
				BusFactor:            0.5,
				ResponsiveMaintainer: 0.7,
				License:              1.0,
			},
		},
		{
			name:  "optional sub-score carried",
			input: `{"rampUp":0.1,"correctness":0.2,"busFactor":0.3,"responsiveMaintainer":0.4,"license":0.5,"reviewedness":0.6}`,
			want: ModelMetrics{
				RampUp:               0.1,
				Correctness:          0.2,
				BusFactor:            0.3,
				ResponsiveMaintainer: 0.4,
				License:              0.5,
				Reviewedness:         f(0.6),
			},
		},
		{
			name:    "missing required sub-score",
			input:   `{"rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7}`,
			wantErr: true,
		},
		{
			name:    "required out of range",
			input:   `{"rampUp":1.5,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0}`,
			wantErr: true,
		},
		{
			name:    "optional out of range",
			input:   `{"rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0,"reproducibility":-0.1}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `rampUp=0.8`,
			wantErr: true,
		},
		{
			name:    "required present but explicit zero is valid",
			input:   `{"rampUp":0,"correctness":0,"busFactor":0,"responsiveMaintainer":0,"license":0}`,
			want:    ModelMetrics{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidMetrics) {
					t.Fatalf("Parse() error = %v, want ErrInvalidMetrics", err)
				}
				return
			}
			if got.RampUp != tt.want.RampUp || got.Correctness != tt.want.Correctness ||
				got.BusFactor != tt.want.BusFactor || got.ResponsiveMaintainer != tt.want.ResponsiveMaintainer ||
				got.License != tt.want.License {
				t.Fatalf("Parse() = %+v, want %+v", got, tt.want)
			}
			if (got.Reviewedness == nil) != (tt.want.Reviewedness == nil) {
				t.Fatalf("Reviewedness presence mismatch: got %v, want %v", got.Reviewedness, tt.want.Reviewedness)
			}
			if got.Reviewedness != nil && *got.Reviewedness != *tt.want.Reviewedness {
				t.Fatalf("Reviewedness = %v, want %v", *got.Reviewedness, *tt.want.Reviewedness)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	m := ModelMetrics{
		RampUp:               0.8,
		Correctness:          0.9,
		BusFactor:            0.5,
		ResponsiveMaintainer: 0.7,
		License:              1.0,
	}
	w := DefaultWeights()

	first := w.Score(m)
	for i := 0; i < 10; i++ {
		if got := w.Score(m); got != first {
			t.Fatalf("Score() not deterministic: %v != %v", got, first)
		}
	}
	if first < 0 || first > 1 {
		t.Fatalf("Score() = %v outside [0, 1]", first)
	}

	// Weighted mean over the required weights only.
	want := (0.20*0.8 + 0.25*0.9 + 0.20*0.5 + 0.15*0.7 + 0.20*1.0) / 1.0
	if math.Abs(first-want) > 1e-9 {
		t.Fatalf("Score() = %v, want %v", first, want)
	}
}

func TestScoreOptionalNormalisation(t *testing.T) {
	m := ModelMetrics{
		RampUp:               1,
		Correctness:          1,
		BusFactor:            1,
		ResponsiveMaintainer: 1,
		License:              1,
		Reviewedness:         f(0),
	}
	w := DefaultWeights()

	got := w.Score(m)
	want := 1.0 / 1.10 // perfect required scores dragged by the present zero optional
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Score() = %v, want %v", got, want)
	}

	// Absent optional must not participate at all.
	m.Reviewedness = nil
	if got := w.Score(m); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("Score() with absent optional = %v, want 1.0", got)
	}
}

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "weights.yaml")
	if err := os.WriteFile(path, []byte("correctness: 0.5\nlicense: 0.1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("LoadWeights() error = %v", err)
	}
	if w.Correctness != 0.5 || w.License != 0.1 {
		t.Fatalf("overrides not applied: %+v", w)
	}
	if w.RampUp != DefaultWeights().RampUp {
		t.Fatalf("defaults not preserved for unset keys: %+v", w)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("correctness: -4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWeights(bad); err == nil {
		t.Fatal("LoadWeights() accepted negative weight")
	}

	if _, err := LoadWeights(""); err != nil {
		t.Fatalf("LoadWeights(\"\") error = %v", err)
	}
}

func TestMetricsMapRoundTrip(t *testing.T) {
	m := ModelMetrics{
		RampUp:               0.8,
		Correctness:          0.9,
		BusFactor:            0.5,
		ResponsiveMaintainer: 0.7,
		License:              1.0,
		Reproducibility:      f(0.4),
	}

	asMap, err := m.AsMap()
	if err != nil {
		t.Fatalf("AsMap() error = %v", err)
	}
	if _, ok := asMap["reviewedness"]; ok {
		t.Fatal("absent optional sub-score serialised into map")
	}

	back, err := FromMap(asMap)
	if err != nil {
		t.Fatalf("FromMap() error = %v", err)
	}
	if back.RampUp != m.RampUp || back.License != m.License {
		t.Fatalf("round trip mismatch: %+v != %+v", back, m)
	}
	if back.Reproducibility == nil || *back.Reproducibility != 0.4 {
		t.Fatalf("optional sub-score lost in round trip: %+v", back)
	}
	if back.Reviewedness != nil {
		t.Fatal("absent optional sub-score materialised in round trip")
	}
}
