//go:build !linux

package executor

import (
	"context"
	"errors"
	"time"
)

// The sandbox depends on Linux process groups and prlimit.
func (g *Grader) invoke(ctx context.Context, locator string, deadline time.Time) runResult {
	return runResult{StartErr: errors.New("grader sandbox requires linux")}
}
