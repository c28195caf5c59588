//go:build linux

package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"trustd/services/scheduler"
)

func shGrader(t *testing.T, script string) *Grader {
	t.Helper()
	g, err := NewGrader(GraderConfig{Command: "/bin/sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestInvokeSuccess(t *testing.T) {
	script := `echo '{"rampUp":0.8,"correctness":0.9,"busFactor":0.5,"responsiveMaintainer":0.7,"license":1.0}'`
	g := shGrader(t, script)

	res := g.invoke(context.Background(), "https://example.com/pkg-a", time.Now().Add(10*time.Second))
	if res.StartErr != nil {
		t.Fatalf("StartErr = %v", res.StartErr)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr: %s", res.ExitCode, res.Stderr)
	}

	out := g.evaluate(res)
	if out.Kind != scheduler.OutcomeSuccess {
		t.Fatalf("kind = %s, diag %s", out.Kind, out.Diagnostic)
	}
	if out.Metrics.RampUp != 0.8 {
		t.Fatalf("metrics = %+v", out.Metrics)
	}
}

func TestInvokeTimeoutKillsGrader(t *testing.T) {
	g := shGrader(t, "sleep 30")

	start := time.Now()
	res := g.invoke(context.Background(), "https://example.com/pkg-a", time.Now().Add(200*time.Millisecond))
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("invoke did not enforce the deadline, took %s", elapsed)
	}
	if !res.TimedOut {
		t.Fatalf("TimedOut = false, exit %d", res.ExitCode)
	}

	out := g.evaluate(res)
	if out.Kind != scheduler.OutcomeRetryable {
		t.Fatalf("kind = %s, want retryable", out.Kind)
	}
}

func TestInvokeUnscorableExit(t *testing.T) {
	g := shGrader(t, `echo 'not a package' >&2; exit 2`)

	res := g.invoke(context.Background(), "https://example.com/pkg-a", time.Now().Add(10*time.Second))
	out := g.evaluate(res)
	if out.Kind != scheduler.OutcomeTerminal {
		t.Fatalf("kind = %s, want terminal", out.Kind)
	}
	if !strings.Contains(out.Diagnostic, "not a package") {
		t.Fatalf("diagnostic lost stderr: %q", out.Diagnostic)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	g, err := NewGrader(GraderConfig{Command: "/nonexistent/grader"})
	if err != nil {
		t.Fatal(err)
	}

	res := g.invoke(context.Background(), "https://example.com/pkg-a", time.Now().Add(time.Second))
	if res.StartErr == nil {
		t.Fatal("expected start error")
	}
	if out := g.evaluate(res); out.Kind != scheduler.OutcomeRetryable {
		t.Fatalf("kind = %s, want retryable", out.Kind)
	}
}

func TestEnvironmentIsScrubbed(t *testing.T) {
	t.Setenv("TRUSTD_TEST_SECRET", "leak")
	t.Setenv("TRUSTD_TEST_ALLOWED", "ok")

	g, err := NewGrader(GraderConfig{Command: "/bin/sh", PassEnv: []string{"TRUSTD_TEST_ALLOWED"}})
	if err != nil {
		t.Fatal(err)
	}

	env := g.environment("https://example.com/pkg-a")
	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "TRUSTD_TEST_SECRET") {
		t.Fatal("unlisted variable leaked into grader environment")
	}
	if !strings.Contains(joined, "TRUSTD_TEST_ALLOWED=ok") {
		t.Fatal("allow-listed variable missing from grader environment")
	}
	if !strings.Contains(joined, locatorEnv+"=https://example.com/pkg-a") {
		t.Fatal("locator missing from grader environment")
	}
}
