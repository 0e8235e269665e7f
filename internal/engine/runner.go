// Package engine invokes the external semantic query engine CLI. The engine
// owns metric definitions and SQL generation; this package only shells out,
// enforces timeouts, and parses tabular output.
package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"metricgate/internal/domain"
)

// Result is one engine invocation's output: ordered columns, row values,
// process status, and raw output kept for diagnostics.
type Result struct {
	Columns    []string
	Rows       [][]string
	Returncode int
	RawOutput  string
	Duration   time.Duration
}

// Config holds the engine invocation parameters.
type Config struct {
	// Command is the engine CLI binary (e.g. "mf").
	Command string
	// ProjectDir is the working directory the CLI runs in.
	ProjectDir string
	// QueryTimeout bounds a single query invocation.
	QueryTimeout time.Duration
	// ListTimeout bounds catalog listing invocations.
	ListTimeout time.Duration
}

// Runner executes plans against the engine CLI as bounded subprocesses.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner. Zero timeouts fall back to 60s for queries and
// 30s for listings.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Query executes a validated plan with the compiled predicate. The wall-clock
// timeout is hard: on expiry the subprocess is killed and an
// ExecutionError{Timeout} is returned with no partial rows. A non-zero exit
// surfaces as ExecutionError{EngineFailure} carrying the raw output.
// Zero rows with a zero exit is success.
func (r *Runner) Query(ctx context.Context, plan domain.QueryPlan, predicate string) (*Result, error) {
	args := []string{"query", "--metrics", strings.Join(plan.Metrics, ",")}
	if len(plan.Dimensions) > 0 {
		args = append(args, "--group-by", strings.Join(plan.Dimensions, ","))
	}
	if predicate != "" {
		args = append(args, "--where", predicate)
	}
	if plan.StartTime != "" {
		args = append(args, "--start-time", plan.StartTime)
	}
	if plan.EndTime != "" {
		args = append(args, "--end-time", plan.EndTime)
	}
	args = append(args, "--limit", fmt.Sprintf("%d", plan.Limit), "--csv", "-")

	stdout, stderr, code, duration, err := r.run(ctx, r.cfg.QueryTimeout, args)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, &domain.ExecutionError{
			Kind:   domain.ExecutionEngineFailure,
			Detail: strings.TrimSpace(stderr + "\n" + stdout),
		}
	}

	columns, rows, err := parseCSV(stdout)
	if err != nil {
		return nil, &domain.ExecutionError{
			Kind:   domain.ExecutionEngineFailure,
			Detail: fmt.Sprintf("unparseable engine output: %v", err),
		}
	}

	return &Result{
		Columns:    columns,
		Rows:       rows,
		Returncode: code,
		RawOutput:  stdout,
		Duration:   duration,
	}, nil
}

// ListMetrics returns the raw `list metrics` output.
func (r *Runner) ListMetrics(ctx context.Context) (string, error) {
	stdout, stderr, code, _, err := r.run(ctx, r.cfg.ListTimeout, []string{"list", "metrics"})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("list metrics failed: %s", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// ListDimensions returns the raw dimension listing. The engine requires a
// metric for dimension discovery, so the first metric from the metrics
// listing is used.
func (r *Runner) ListDimensions(ctx context.Context) (string, error) {
	metricsRaw, err := r.ListMetrics(ctx)
	if err != nil {
		return "", err
	}
	first := firstListedName(metricsRaw)
	if first == "" {
		return "", fmt.Errorf("no metrics available for dimension discovery")
	}

	stdout, stderr, code, _, err := r.run(ctx, r.cfg.ListTimeout, []string{"list", "dimensions", "--metrics", first})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("list dimensions failed: %s", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// run executes one CLI invocation under a hard timeout. exec.CommandContext
// kills the process group on context expiry, so every exit path — success,
// failure, timeout — releases the subprocess.
func (r *Runner) run(ctx context.Context, timeout time.Duration, args []string) (stdout, stderr string, code int, duration time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...) //nolint:gosec // command is operator-configured
	if r.cfg.ProjectDir != "" {
		cmd.Dir = r.cfg.ProjectDir
	}
	cmd.WaitDelay = 2 * time.Second

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	start := time.Now()
	runErr := cmd.Run()
	duration = time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		r.logger.Warn("engine invocation timed out", "args", args, "timeout", timeout)
		return "", "", 0, duration, &domain.ExecutionError{Kind: domain.ExecutionTimeout}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitCode(), duration, nil
		}
		return "", "", 0, duration, &domain.ExecutionError{
			Kind:   domain.ExecutionEngineFailure,
			Detail: fmt.Sprintf("start %s: %v", r.cfg.Command, runErr),
		}
	}

	return outBuf.String(), errBuf.String(), 0, duration, nil
}

// parseCSV reads the engine's CSV table: a header row then data rows.
// Leading non-CSV noise lines (progress output) before the header are
// skipped by starting at the first line containing a comma or a single
// bare identifier.
func parseCSV(out string) ([]string, [][]string, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil, nil
	}

	reader := csv.NewReader(strings.NewReader(trimmed))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	columns := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(columns) {
			return nil, nil, fmt.Errorf("row has %d fields, header has %d", len(rec), len(columns))
		}
		rows = append(rows, rec)
	}
	return columns, rows, nil
}

func firstListedName(listing string) string {
	for _, line := range strings.Split(listing, "\n") {
		if idx := strings.Index(line, "•"); idx >= 0 {
			rest := strings.TrimSpace(line[idx+len("•"):])
			name := strings.TrimSpace(strings.SplitN(rest, ":", 2)[0])
			if name != "" {
				return name
			}
		}
	}
	return ""
}
