package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robert-malhotra/s1-insar/internal/coreg"
	"github.com/robert-malhotra/s1-insar/internal/pipeline"
	"github.com/robert-malhotra/s1-insar/internal/product"
)

const (
	refScene = "S1A_IW_SLC__1SDV_20180101T120000_20180101T120027_019951_021F9E_7A3C"
	secScene = "S1B_IW_SLC__1SDV_20180113T120001_20180113T120028_009072_0103A1_A8E2"
)

type fakeProcessor struct {
	mu   sync.Mutex
	opts []pipeline.Options
	err  error
}

func (f *fakeProcessor) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	for _, name := range []string{opts.Reference, opts.Secondary} {
		if _, err := os.Stat(filepath.Join(opts.WorkDir, name)); err != nil {
			return nil, err
		}
	}

	opts.Observer(pipeline.Event{From: pipeline.Init, To: pipeline.PolarizationSelected})
	opts.Observer(pipeline.Event{From: pipeline.PolarizationSelected, To: pipeline.DEMReady})
	if f.err != nil {
		opts.Observer(pipeline.Event{From: pipeline.DEMReady, To: pipeline.Failed, Err: f.err})
		return nil, &pipeline.RunError{State: pipeline.DEMReady, Err: f.err}
	}
	opts.Observer(pipeline.Event{From: pipeline.ProductsCollected, To: pipeline.Done})

	return &pipeline.Result{
		State:     pipeline.Done,
		DEMSource: "GLO30",
		Offset:    coreg.Result{Offset: 0.0042},
		Product: &product.Product{
			Dir:   filepath.Join(opts.WorkDir, "PRODUCT"),
			Files: []product.File{{Kind: product.KindAmplitude, Name: "x_amp.tif"}},
		},
	}, nil
}

func acquisitions(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	ref := filepath.Join(dir, refScene+".SAFE")
	sec := filepath.Join(dir, secScene+".SAFE")
	for _, p := range []string{ref, sec} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return ref, sec
}

func waitFinished(t *testing.T, store Store, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if job.Status.Finished() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestQueue_RunsJob(t *testing.T) {
	ref, sec := acquisitions(t)
	store := NewMemoryStore(time.Hour, time.Hour)
	defer store.Close()
	proc := &fakeProcessor{}
	q := NewQueue(store, proc, t.TempDir(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	job, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec, Bursts: "1,2,3,4"})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if job.Status != StatusQueued || job.State != "INIT" {
		t.Errorf("expected queued/INIT, got %s/%s", job.Status, job.State)
	}

	done := waitFinished(t, store, job.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", done.Status, done.Error)
	}
	if done.State != "DONE" {
		t.Errorf("expected state DONE, got %s", done.State)
	}
	if done.Offset == nil || *done.Offset != 0.0042 {
		t.Errorf("expected offset 0.0042, got %v", done.Offset)
	}
	if done.DEMSource != "GLO30" {
		t.Errorf("expected DEM source GLO30, got %s", done.DEMSource)
	}
	if len(done.Product) != 1 || !strings.HasSuffix(done.Product[0], "PRODUCT/x_amp.tif") {
		t.Errorf("unexpected product files: %v", done.Product)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("expected start and finish times")
	}

	proc.mu.Lock()
	opts := proc.opts[0]
	proc.mu.Unlock()
	if opts.Reference != refScene+".SAFE" || opts.WorkDir != done.WorkDir {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.RangeLooks != 20 || opts.AzimuthLooks != 4 {
		t.Errorf("expected default looks 20x4, got %dx%d", opts.RangeLooks, opts.AzimuthLooks)
	}
	if opts.Selection == nil || opts.Selection.Length != 4 {
		t.Errorf("expected directed selection of length 4, got %+v", opts.Selection)
	}
}

func TestQueue_RecordsFailure(t *testing.T) {
	ref, sec := acquisitions(t)
	store := NewMemoryStore(time.Hour, time.Hour)
	defer store.Close()
	q := NewQueue(store, &fakeProcessor{err: errors.New("dem service unavailable")}, t.TempDir(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	job, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	done := waitFinished(t, store, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.FailedState != "DEM_READY" {
		t.Errorf("expected failed state DEM_READY, got %s", done.FailedState)
	}
	if done.State != "FAILED" {
		t.Errorf("expected state FAILED, got %s", done.State)
	}
	if !strings.Contains(done.Error, "dem service unavailable") {
		t.Errorf("unexpected error: %s", done.Error)
	}
}

func TestQueue_MissingAcquisition(t *testing.T) {
	store := NewMemoryStore(time.Hour, time.Hour)
	defer store.Close()
	q := NewQueue(store, &fakeProcessor{}, t.TempDir(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	missing := t.TempDir()
	job, err := q.Submit(ctx, Request{
		Reference: filepath.Join(missing, refScene+".SAFE"),
		Secondary: filepath.Join(missing, secScene+".SAFE"),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	done := waitFinished(t, store, job.ID)
	if done.Status != StatusFailed || !strings.Contains(done.Error, "not accessible") {
		t.Errorf("expected access failure, got %s: %s", done.Status, done.Error)
	}
}

func TestQueue_Full(t *testing.T) {
	ref, sec := acquisitions(t)
	store := NewMemoryStore(time.Hour, time.Hour)
	defer store.Close()
	q := NewQueue(store, &fakeProcessor{}, t.TempDir(), 1)
	ctx := context.Background()

	if _, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec}); err != nil {
		t.Fatalf("first Submit() failed: %v", err)
	}
	if _, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	jobs, _ := store.List(ctx, 0)
	failed := 0
	for _, j := range jobs {
		if j.Status == StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected the rejected job to be recorded as failed, got %d", failed)
	}
}

// blockingProcessor holds each run until its context is cancelled.
type blockingProcessor struct {
	started chan string
}

func (b *blockingProcessor) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	opts.Observer(pipeline.Event{From: pipeline.Init, To: pipeline.PolarizationSelected})
	b.started <- opts.WorkDir
	<-ctx.Done()
	return nil, &pipeline.RunError{State: pipeline.PolarizationSelected, Err: ctx.Err()}
}

func TestQueue_ShutdownFailsWaitingJobs(t *testing.T) {
	ref, sec := acquisitions(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() failed: %v", err)
	}
	proc := &blockingProcessor{started: make(chan string, 1)}
	q := NewQueue(store, proc, t.TempDir(), 4)

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		q.Run(runCtx)
		close(stopped)
	}()

	first, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	second, err := q.Submit(ctx, Request{Reference: ref, Secondary: sec})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	<-proc.started
	cancel()
	<-stopped
	store.Close()

	reopened, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	tests := []struct {
		id          string
		failedState string
	}{
		{first.ID, "POLARIZATION_SELECTED"},
		{second.ID, "INIT"},
	}
	for _, tt := range tests {
		job, err := reopened.Get(ctx, tt.id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tt.id, err)
		}
		if job.Status != StatusFailed || job.State != "FAILED" {
			t.Errorf("job %s: expected failed/FAILED, got %s/%s", tt.id, job.Status, job.State)
		}
		if job.FailedState != tt.failedState {
			t.Errorf("job %s: expected failed state %s, got %s", tt.id, tt.failedState, job.FailedState)
		}
		if job.FinishedAt == nil {
			t.Errorf("job %s: expected a finish time", tt.id)
		}
	}

	waiting, _ := reopened.Get(ctx, second.ID)
	if waiting.Error != ErrInterrupted.Error() {
		t.Errorf("expected interrupted error, got %q", waiting.Error)
	}
}

func TestQueue_Recover(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			seed := []*Job{
				{ID: "waiting", Status: StatusQueued, State: "INIT", CreatedAt: now},
				{ID: "midway", Status: StatusRunning, State: "COREGISTERED", CreatedAt: now.Add(time.Second), StartedAt: &now},
				{ID: "finished", Status: StatusSucceeded, State: "DONE", CreatedAt: now.Add(2 * time.Second), FinishedAt: &now},
			}
			for _, j := range seed {
				if err := store.Create(ctx, j); err != nil {
					t.Fatalf("Create() failed: %v", err)
				}
			}

			q := NewQueue(store, &fakeProcessor{}, t.TempDir(), 1)
			n, err := q.Recover(ctx)
			if err != nil {
				t.Fatalf("Recover() failed: %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 recovered jobs, got %d", n)
			}

			want := map[string][2]string{
				"waiting":  {string(StatusFailed), "INIT"},
				"midway":   {string(StatusFailed), "COREGISTERED"},
				"finished": {string(StatusSucceeded), ""},
			}
			for id, w := range want {
				job, err := store.Get(ctx, id)
				if err != nil {
					t.Fatalf("Get(%s) failed: %v", id, err)
				}
				if string(job.Status) != w[0] || job.FailedState != w[1] {
					t.Errorf("job %s: expected %s/%q, got %s/%q", id, w[0], w[1], job.Status, job.FailedState)
				}
			}
		})
	}
}

func TestRequest_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "defaults",
			req:  Request{Reference: "/d/" + refScene + ".SAFE", Secondary: "/d/" + secScene + ".SAFE"},
		},
		{
			name:    "relative path",
			req:     Request{Reference: refScene + ".SAFE", Secondary: "/d/" + secScene + ".SAFE"},
			wantErr: true,
		},
		{
			name:    "malformed granule",
			req:     Request{Reference: "/d/not-a-granule", Secondary: "/d/" + secScene + ".SAFE"},
			wantErr: true,
		},
		{
			name:    "negative looks",
			req:     Request{Reference: "/d/" + refScene + ".SAFE", Secondary: "/d/" + secScene + ".SAFE", RangeLooks: -1},
			wantErr: true,
		},
		{
			name:    "output with separator",
			req:     Request{Reference: "/d/" + refScene + ".SAFE", Secondary: "/d/" + secScene + ".SAFE", Output: "a/b"},
			wantErr: true,
		},
		{
			name:    "bad burst selection",
			req:     Request{Reference: "/d/" + refScene + ".SAFE", Secondary: "/d/" + secScene + ".SAFE", Bursts: "1,2"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidJob) {
					t.Errorf("expected ErrInvalidJob, got %v", err)
				}
				return
			}
			if tt.req.RangeLooks != 20 || tt.req.AzimuthLooks != 4 || tt.req.Output != "ifm" {
				t.Errorf("defaults not applied: %+v", tt.req)
			}
		})
	}
}
