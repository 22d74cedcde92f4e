package storage

import (
	"context"
	"testing"

	"github.com/cuemby/ids2agent/pkg/types"
)

func TestRecordAndReadRenderHistory(t *testing.T) {
	h, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if err := h.RecordRender(context.Background(), map[string]string{"sniffer_config": "/etc/sniffer.yaml"}); err != nil {
		t.Fatalf("RecordRender: %v", err)
	}

	records, err := h.RenderHistory()
	if err != nil {
		t.Fatalf("RenderHistory: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Files["sniffer_config"] != "/etc/sniffer.yaml" {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestRecordAndFilterRestartHistory(t *testing.T) {
	h, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if err := h.RecordRestart(RestartRecord{ID: "1", Worker: types.WorkerResource, Reason: "heartbeat stale"}); err != nil {
		t.Fatalf("RecordRestart: %v", err)
	}
	if err := h.RecordRestart(RestartRecord{ID: "2", Worker: types.WorkerMetrics, Reason: "panic"}); err != nil {
		t.Fatalf("RecordRestart: %v", err)
	}

	records, err := h.RestartHistory(types.WorkerResource)
	if err != nil {
		t.Fatalf("RestartHistory: %v", err)
	}
	if len(records) != 1 || records[0].ID != "1" {
		t.Fatalf("RestartHistory(resource) = %+v, want exactly the resource record", records)
	}
}

func TestReopenDatabasePreservesHistory(t *testing.T) {
	dir := t.TempDir()

	h1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h1.RecordRestart(RestartRecord{ID: "1", Worker: types.WorkerMetrics}); err != nil {
		t.Fatalf("RecordRestart: %v", err)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer h2.Close()

	records, err := h2.RestartHistory(types.WorkerMetrics)
	if err != nil {
		t.Fatalf("RestartHistory: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 after reopen", len(records))
	}
}
