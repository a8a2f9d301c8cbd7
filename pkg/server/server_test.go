package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robert-malhotra/s1-insar/internal/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withStylesheet(t *testing.T) {
	t.Helper()
	xsl := filepath.Join(t.TempDir(), "sentinel_xml.xsl")
	if err := os.WriteFile(xsl, []byte("<xsl:stylesheet/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("METADATA_XSL_PATH", xsl)
}

func TestNew(t *testing.T) {
	withStylesheet(t)
	for _, store := range []StoreType{StoreMemory, StoreSQLite} {
		t.Run(string(store), func(t *testing.T) {
			root := t.TempDir()
			svc, err := New(Options{
				WorkRoot: filepath.Join(root, "jobs"),
				Store:    store,
				DBPath:   filepath.Join(root, "db", "jobs.db"),
				Logger:   quietLogger(),
			})
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			defer func() {
				if err := svc.Close(); err != nil {
					t.Errorf("Close() failed: %v", err)
				}
			}()

			ts := httptest.NewServer(svc.Router())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/jobs")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), `"jobs":[]`) {
				t.Errorf("expected an empty job list, got %s", body)
			}
		})
	}
}

func TestNew_InvalidStore(t *testing.T) {
	withStylesheet(t)
	_, err := New(Options{WorkRoot: t.TempDir(), Store: "redis", Logger: quietLogger()})
	if err == nil {
		t.Fatal("expected an error for an unknown store")
	}
}

func TestNew_FailsJobsLeftByPreviousRun(t *testing.T) {
	withStylesheet(t)
	root := t.TempDir()
	dbPath := filepath.Join(root, "jobs.db")
	ctx := context.Background()

	store, err := jobs.OpenSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() failed: %v", err)
	}
	if err := store.Create(ctx, &jobs.Job{ID: "stale", Status: jobs.StatusQueued, State: "INIT", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	store.Close()

	svc, err := New(Options{WorkRoot: filepath.Join(root, "jobs"), Store: StoreSQLite, DBPath: dbPath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer svc.Close()

	ts := httptest.NewServer(svc.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/stale")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.Status != jobs.StatusFailed || job.Error != jobs.ErrInterrupted.Error() {
		t.Errorf("expected interrupted failure, got %s: %s", job.Status, job.Error)
	}
}
