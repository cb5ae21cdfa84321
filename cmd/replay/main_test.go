package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/settle/internal/resolution"
)

const fixture = `
tickets:
  - id: 101
    subject: "[FIRING:1] Disk usage warning on server-01"
    created_at: "2025-01-10T10:00:00Z"
  - id: 102
    subject: "[RESOLVED] Disk usage warning on server-01"
    created_at: "2025-01-10T10:03:00Z"
  - id: 201
    subject: "ALERT-CRITICAL: db-07 connection lost"
    created_at: "2025-01-10T11:00:00Z"
  - id: 202
    subject: "RESOLVED: db-07 connection restored"
    created_at: "2025-01-10T11:40:00Z"
  - id: 301
    subject: "Weekly maintenance window"
    created_at: "2025-01-10T12:00:00Z"
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplay_PreviewsFixture(t *testing.T) {
	t.Parallel()

	opts := options{file: writeFixture(t), threshold: 5 * time.Minute, workers: 2}
	run, err := replay(context.Background(), &opts, log.Nop())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if run.Mode != resolution.ModePreview {
		t.Errorf("mode = %q, want preview", run.Mode)
	}
	if run.Summary.Total != 5 || run.Summary.FiringCount != 2 || run.Summary.ResolvedCount != 2 {
		t.Errorf("summary = %+v", run.Summary)
	}
	if len(run.AutoClose) != 1 || run.AutoClose[0].FiringID != 101 {
		t.Errorf("auto close = %+v", run.AutoClose)
	}
	if len(run.ManualReview) != 1 || run.ManualReview[0].ResolvedID != 202 {
		t.Errorf("manual review = %+v", run.ManualReview)
	}
	if len(run.Closed) != 0 || run.Summary.Notified {
		t.Error("preview must not close or notify")
	}
}

func TestReplay_LookbackFiltersOldFixture(t *testing.T) {
	t.Parallel()

	opts := options{file: writeFixture(t), hours: 24, threshold: 5 * time.Minute, workers: 1}
	run, err := replay(context.Background(), &opts, log.Nop())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if run.Summary.Total != 0 {
		t.Errorf("total = %d, want 0 for fixture older than the window", run.Summary.Total)
	}
}

func TestReplay_MissingFile(t *testing.T) {
	t.Parallel()

	opts := options{file: filepath.Join(t.TempDir(), "nope.yaml"), threshold: time.Minute, workers: 1}
	if _, err := replay(context.Background(), &opts, log.Nop()); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestRun_PrintsJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := run([]string{"-file", writeFixture(t)}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	var got resolution.Run
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not run JSON: %v\n%s", err, out.String())
	}
	if got.Summary.MatchedCount != 2 {
		t.Errorf("matched = %d, want 2", got.Summary.MatchedCount)
	}
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	err := (&options{hours: -1}).validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"FILE", "HOURS", "AUTO_CLOSE_THRESHOLD", "PAIR_WORKERS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	ok := options{file: "x.yaml", threshold: time.Minute, workers: 1}
	if err := ok.validate(); err != nil {
		t.Errorf("valid options: %v", err)
	}
}
