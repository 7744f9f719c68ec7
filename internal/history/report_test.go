package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

func TestReportWriter_Write(t *testing.T) {
	out := filepath.Join(t.TempDir(), "audit.xlsx")
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	entries := []*entity.HistoryEntry{
		{
			InstanceID: "doc-1",
			ModelType:  "document",
			Workflow:   "approval",
			FromState:  "draft",
			ToState:    "submitted",
			Trigger:    "submit",
			ActorID:    "alice",
			Reason:     "ready",
			TraceID:    "trace-1",
			Tags:       []string{"manual", "priority"},
			Timestamp:  ts,
		},
		{
			InstanceID: "doc-1",
			ModelType:  "document",
			Workflow:   "approval",
			FromState:  "submitted",
			ToState:    "draft",
			Trigger:    "revert",
			ActorID:    "admin",
			Revert:     true,
			Timestamp:  ts.Add(time.Hour),
		},
	}

	w := NewReportWriter(zap.NewNop())
	if err := w.Write(entries, out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("History")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("report has %d rows, want header plus 2 entries", len(rows))
	}
	if rows[0][0] != "Timestamp" || rows[0][6] != "Trigger" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][1] != "doc-1" || rows[1][5] != "submitted" || rows[1][10] != "manual, priority" {
		t.Errorf("first entry row = %v", rows[1])
	}
	if rows[2][6] != "revert" || rows[2][11] != "TRUE" {
		t.Errorf("revert row = %v", rows[2])
	}
}

func TestReportWriter_Write_Empty(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.xlsx")

	w := NewReportWriter(zap.NewNop())
	if err := w.Write(nil, out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("History")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("empty report has %d rows, want header only", len(rows))
	}
}
