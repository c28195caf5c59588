package executor

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// unscorableExitCode is the grader's way of declaring the input itself
	// cannot be scored. Anything else non-zero is treated as transient.
	unscorableExitCode = 2

	// locatorEnv carries the package locator into the grader process.
	locatorEnv = "TRUSTD_PACKAGE_URL"
)

// GraderConfig describes how to invoke the metric computation unit.
type GraderConfig struct {
	// Command is the grader executable; the package locator is appended as
	// the final argument.
	Command string
	Args    []string

	// MemoryLimitBytes caps the grader's address space (swap is unusable
	// once the cap is hit). Zero means no cap.
	MemoryLimitBytes uint64

	// CPUSeconds caps consumed CPU time. Zero means no cap.
	CPUSeconds uint64

	// PassEnv lists environment variable names forwarded from the worker,
	// typically fetch credentials and region. Everything else is stripped so
	// the grader sees no ambient configuration.
	PassEnv []string

	WorkDir string
}

// Validate rejects unusable grader configurations.
func (c *GraderConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("grader command is required")
	}
	return nil
}

// Grader invokes the external metric computation unit under resource and
// wall-clock ceilings.
type Grader struct {
	cfg GraderConfig
}

// NewGrader validates the configuration and returns a Grader.
func NewGrader(cfg GraderConfig) (*Grader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Grader{cfg: cfg}, nil
}

// runResult is the raw observation of one grader invocation.
type runResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
	StartErr error
	WaitErr  error
	Duration time.Duration
}

// environment builds the minimal process environment for the grader: the
// locator, a PATH, and the explicitly forwarded variables only.
func (g *Grader) environment(locator string) []string {
	env := []string{
		locatorEnv + "=" + locator,
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	for _, name := range g.cfg.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, fmt.Sprintf("%s=%s", name, v))
		}
	}
	return env
}
