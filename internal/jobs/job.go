// Package jobs queues interferogram runs and tracks their progress.
package jobs

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robert-malhotra/s1-insar/internal/burst"
	"github.com/robert-malhotra/s1-insar/internal/granule"
	"github.com/robert-malhotra/s1-insar/internal/pipeline"
	"github.com/robert-malhotra/s1-insar/internal/product"
)

// Sentinel errors for job operations.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrInvalidJob  = errors.New("invalid job request")
	ErrInterrupted = errors.New("job interrupted by service shutdown")
)

// Status is the lifecycle of a job as seen by API clients.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Finished reports whether the job will not change again.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

const (
	defaultRangeLooks   = 20
	defaultAzimuthLooks = 4
)

// Request is a job submission.
type Request struct {
	// Reference and Secondary are absolute SAFE directory paths.
	Reference    string `json:"reference"`
	Secondary    string `json:"secondary"`
	Output       string `json:"output,omitempty"`
	DEM          string `json:"dem,omitempty"`
	RangeLooks   int    `json:"range_looks,omitempty"`
	AzimuthLooks int    `json:"azimuth_looks,omitempty"`
	Incidence    bool   `json:"incidence,omitempty"`
	LookVectors  bool   `json:"look_vectors,omitempty"`
	LOS          bool   `json:"los,omitempty"`
	AltDEMSource bool   `json:"alt_dem_source,omitempty"`
	CrossPol     bool   `json:"cross_pol,omitempty"`
	// Bursts is the directed selection "t1,t2,t3,length".
	Bursts string `json:"bursts,omitempty"`
}

// Normalize fills defaults and validates the request without touching the
// filesystem.
func (r *Request) Normalize() error {
	if r.RangeLooks == 0 {
		r.RangeLooks = defaultRangeLooks
	}
	if r.AzimuthLooks == 0 {
		r.AzimuthLooks = defaultAzimuthLooks
	}
	if r.RangeLooks < 0 || r.AzimuthLooks < 0 {
		return fmt.Errorf("%w: looks must be positive", ErrInvalidJob)
	}
	if !filepath.IsAbs(r.Reference) || !filepath.IsAbs(r.Secondary) {
		return fmt.Errorf("%w: reference and secondary must be absolute paths", ErrInvalidJob)
	}
	if _, _, err := granule.ParsePair(r.Reference, r.Secondary); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if r.Output == "" {
		r.Output = "ifm"
	}
	if filepath.Base(r.Output) != r.Output {
		return fmt.Errorf("%w: output %q must be a plain name", ErrInvalidJob, r.Output)
	}
	if r.Bursts != "" {
		if _, err := burst.ParseSelection(r.Bursts); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
	}
	return nil
}

// Options converts the request into pipeline options for workDir. The
// acquisitions are expected to be linked into workDir under their base names.
func (r *Request) Options(workDir string) (pipeline.Options, error) {
	opts := pipeline.Options{
		Reference:    filepath.Base(r.Reference),
		Secondary:    filepath.Base(r.Secondary),
		Output:       r.Output,
		WorkDir:      workDir,
		DEM:          r.DEM,
		RangeLooks:   r.RangeLooks,
		AzimuthLooks: r.AzimuthLooks,
		Flags: product.Flags{
			Incidence:   r.Incidence,
			LookVectors: r.LookVectors,
			LOS:         r.LOS,
		},
		AltDEMSource: r.AltDEMSource,
		CrossPol:     r.CrossPol,
	}
	if r.Bursts != "" {
		sel, err := burst.ParseSelection(r.Bursts)
		if err != nil {
			return opts, err
		}
		opts.Selection = sel
	}
	return opts, nil
}

// Job is a queued or executed run.
type Job struct {
	ID      string  `json:"id"`
	Status  Status  `json:"status"`
	State   string  `json:"state"`
	Request Request `json:"request"`
	WorkDir string  `json:"work_dir"`

	Error       string     `json:"error,omitempty"`
	FailedState string     `json:"failed_state,omitempty"`
	Offset      *float64   `json:"azimuth_offset,omitempty"`
	DEMSource   string     `json:"dem_source,omitempty"`
	Product     []string   `json:"product,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of a store.
func (j *Job) Clone() *Job {
	c := *j
	if j.Offset != nil {
		v := *j.Offset
		c.Offset = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	if j.Product != nil {
		c.Product = append([]string(nil), j.Product...)
	}
	return &c
}
