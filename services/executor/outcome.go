package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"trustd/pkg/scoring"
	"trustd/services/scheduler"
)

// graderReport is the full stdout shape of a successful grader run: the
// metrics record plus optional package descriptor fields.
type graderReport struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	License     string `json:"license,omitempty"`
	Author      string `json:"author,omitempty"`
}

// evaluate classifies a finished invocation into the scheduler's outcome
// taxonomy. Timeouts, start failures, and unexpected exits are retryable;
// a declared-unscorable exit or a malformed metrics record is terminal.
func (g *Grader) evaluate(res runResult) scheduler.Outcome {
	if res.StartErr != nil {
		return scheduler.Outcome{
			Kind:       scheduler.OutcomeRetryable,
			Diagnostic: fmt.Sprintf("grader failed to start: %v", res.StartErr),
		}
	}

	if res.TimedOut {
		return scheduler.Outcome{
			Kind:       scheduler.OutcomeRetryable,
			Diagnostic: "grader exceeded the attempt deadline and was killed",
		}
	}

	if res.ExitCode == unscorableExitCode {
		return scheduler.Outcome{
			Kind:       scheduler.OutcomeTerminal,
			Diagnostic: fmt.Sprintf("grader declared input unscorable: %s", firstLine(res.Stderr)),
		}
	}

	if res.ExitCode != 0 {
		return scheduler.Outcome{
			Kind:       scheduler.OutcomeRetryable,
			Diagnostic: fmt.Sprintf("grader exited %d: %s", res.ExitCode, firstLine(res.Stderr)),
		}
	}

	metrics, err := scoring.Parse(res.Stdout)
	if err != nil {
		// The grader ran to completion and produced an invalid record;
		// re-running it cannot produce a different one.
		return scheduler.Outcome{
			Kind:       scheduler.OutcomeTerminal,
			Diagnostic: fmt.Sprintf("grader output rejected: %v", err),
		}
	}

	var report graderReport
	_ = json.Unmarshal(res.Stdout, &report)

	return scheduler.Outcome{
		Kind:    scheduler.OutcomeSuccess,
		Metrics: metrics,
		Descriptor: scheduler.Descriptor{
			Name:        report.Name,
			Description: report.Description,
			Version:     report.Version,
			License:     report.License,
			Author:      report.Author,
		},
	}
}

func firstLine(out []byte) string {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return "(no diagnostic output)"
	}
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}
