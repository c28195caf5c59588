package executor

import (
	"errors"
	"strings"
	"testing"

	"trustd/services/scheduler"
)

func testGrader(t *testing.T) *Grader {
	t.Helper()
	g, err := NewGrader(GraderConfig{Command: "/bin/true"})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestEvaluate(t *testing.T) {
	validReport := `{"name":"pkg-a","rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0}`

	tests := []struct {
		name     string
		res      runResult
		wantKind scheduler.OutcomeKind
	}{
		{
			name:     "start failure is retryable",
			res:      runResult{StartErr: errors.New("no such file")},
			wantKind: scheduler.OutcomeRetryable,
		},
		{
			name:     "timeout is retryable",
			res:      runResult{TimedOut: true, ExitCode: -1},
			wantKind: scheduler.OutcomeRetryable,
		},
		{
			name:     "unscorable exit is terminal",
			res:      runResult{ExitCode: unscorableExitCode, Stderr: []byte("not a package")},
			wantKind: scheduler.OutcomeTerminal,
		},
		{
			name:     "other non-zero exit is retryable",
			res:      runResult{ExitCode: 1, Stderr: []byte("segfault")},
			wantKind: scheduler.OutcomeRetryable,
		},
		{
			name:     "valid report succeeds",
			res:      runResult{ExitCode: 0, Stdout: []byte(validReport)},
			wantKind: scheduler.OutcomeSuccess,
		},
		{
			name:     "missing required sub-score is terminal",
			res:      runResult{ExitCode: 0, Stdout: []byte(`{"rampUp":0.8}`)},
			wantKind: scheduler.OutcomeTerminal,
		},
		{
			name:     "out-of-range sub-score is terminal",
			res:      runResult{ExitCode: 0, Stdout: []byte(`{"rampUp":3,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0}`)},
			wantKind: scheduler.OutcomeTerminal,
		},
		{
			name:     "garbage stdout is terminal",
			res:      runResult{ExitCode: 0, Stdout: []byte("done!")},
			wantKind: scheduler.OutcomeTerminal,
		},
	}

	g := testGrader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := g.evaluate(tt.res)
			if out.Kind != tt.wantKind {
				t.Fatalf("evaluate() kind = %s, want %s (diag: %s)", out.Kind, tt.wantKind, out.Diagnostic)
			}
			if tt.wantKind != scheduler.OutcomeSuccess && out.Diagnostic == "" {
				t.Fatal("failure outcome carries no diagnostic")
			}
		})
	}
}

func TestEvaluateCarriesDescriptor(t *testing.T) {
	g := testGrader(t)
	out := g.evaluate(runResult{
		ExitCode: 0,
		Stdout:   []byte(`{"name":"pkg-a","version":"1.2.0","license":1.0,"rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7}`),
	})
	if out.Kind != scheduler.OutcomeSuccess {
		t.Fatalf("kind = %s, diag %s", out.Kind, out.Diagnostic)
	}
	if out.Descriptor.Name != "pkg-a" || out.Descriptor.Version != "1.2.0" {
		t.Fatalf("descriptor = %+v", out.Descriptor)
	}
	if out.Metrics.Correctness != 0.9 {
		t.Fatalf("metrics = %+v", out.Metrics)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(no diagnostic output)"},
		{"one line", "one line"},
		{"first\nsecond", "first"},
		{strings.Repeat("x", 400), strings.Repeat("x", 300)},
	}
	for _, tt := range tests {
		if got := firstLine([]byte(tt.in)); got != tt.want {
			t.Errorf("firstLine(%.20q...) = %.20q, want %.20q", tt.in, got, tt.want)
		}
	}
}

func TestLogKey(t *testing.T) {
	if got := LogKey("abc", 2); got != "jobs/abc/attempt-2.log.zst" {
		t.Fatalf("LogKey() = %q", got)
	}
}

func TestGraderConfigValidate(t *testing.T) {
	if _, err := NewGrader(GraderConfig{}); err == nil {
		t.Fatal("NewGrader accepted empty command")
	}
	if _, err := NewGrader(GraderConfig{Command: " "}); err == nil {
		t.Fatal("NewGrader accepted blank command")
	}
}
