// Package coreg reads the coregistration quality metric from the processor
// log and applies the azimuth offset acceptance gate.
package coreg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// OffsetLabel marks the log line carrying the final azimuth offset.
const OffsetLabel = "final azimuth offset poly. coeff."

// DefaultThreshold is the largest acceptable azimuth offset.
const DefaultThreshold = 0.02

var (
	// ErrOffsetOutOfBounds is returned by the abort policy when the offset
	// exceeds the threshold.
	ErrOffsetOutOfBounds = errors.New("azimuth offset out of bounds")

	// ErrOffsetNotFound is returned when the log has no offset line.
	ErrOffsetNotFound = errors.New("azimuth offset not found")
)

// Policy decides what an out-of-bounds offset does to the run.
type Policy string

const (
	// PolicyAbort fails the run.
	PolicyAbort Policy = "abort"
	// PolicyReport logs the offset and lets the run continue.
	PolicyReport Policy = "report"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicyReport:
		return p, nil
	default:
		return "", fmt.Errorf("invalid offset policy %q, must be one of: abort, report", s)
	}
}

// ReadOffset scans r for the offset label. When the label occurs more than
// once the last occurrence wins, since later iterations refine the fit.
func ReadOffset(r io.Reader) (float64, error) {
	var (
		raw   string
		found bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, OffsetLabel) {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			continue
		}
		raw = parts[1]
		found = true
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read offset log: %w", err)
	}
	if !found {
		return 0, ErrOffsetNotFound
	}

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty value after label", ErrOffsetNotFound)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid azimuth offset %q: %w", fields[0], err)
	}
	return v, nil
}

// ReadOffsetFile reads the offset from a log file.
func ReadOffsetFile(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open offset log: %w", err)
	}
	defer f.Close()

	v, err := ReadOffset(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Gate applies the azimuth offset threshold.
type Gate struct {
	Threshold float64
	Policy    Policy
	logger    *slog.Logger
}

// NewGate creates a gate with the given threshold and policy.
func NewGate(threshold float64, policy Policy) *Gate {
	return &Gate{
		Threshold: threshold,
		Policy:    policy,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger for the gate.
func (g *Gate) WithLogger(logger *slog.Logger) *Gate {
	g.logger = logger
	return g
}

// Result records a gate decision.
type Result struct {
	Offset   float64
	Exceeded bool
}

// Check compares offset against the threshold. Exceeding it returns
// ErrOffsetOutOfBounds under PolicyAbort and only logs under PolicyReport.
func (g *Gate) Check(offset float64) (Result, error) {
	res := Result{Offset: offset, Exceeded: offset > g.Threshold}
	if !res.Exceeded {
		g.logger.Info("azimuth offset accepted",
			slog.Float64("offset", offset),
			slog.Float64("threshold", g.Threshold),
		)
		return res, nil
	}

	g.logger.Error("azimuth offset exceeds threshold",
		slog.Float64("offset", offset),
		slog.Float64("threshold", g.Threshold),
		slog.String("policy", string(g.Policy)),
	)
	if g.Policy == PolicyReport {
		return res, nil
	}
	return res, fmt.Errorf("%w: %g > %g", ErrOffsetOutOfBounds, offset, g.Threshold)
}
