package mcp

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_NilSafety(t *testing.T) {
	t.Run("nil logger Log is no-op", func(t *testing.T) {
		var logger *AuditLogger
		logger.Log(AuditEntry{Tool: "test"})
	})

	t.Run("nil logger Close is no-op", func(t *testing.T) {
		var logger *AuditLogger
		if err := logger.Close(); err != nil {
			t.Errorf("Close() on nil logger returned error: %v", err)
		}
	})
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir, nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	now := time.Now()
	logger.Log(AuditEntry{
		Timestamp:  now,
		Tool:       "brain_status",
		DurationMs: 42,
		Status:     "success",
		Params:     map[string]string{"_param_count": "0"},
	})
	logger.Log(AuditEntry{Timestamp: now, Tool: "brain_history", Status: "error", Error: "boom"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Writes after Close are dropped
	logger.Log(AuditEntry{Tool: "late"})

	entries := readAudit(t, filepath.Join(dir, "audit.jsonl"))
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Tool != "brain_status" || entries[0].DurationMs != 42 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Error != "boom" {
		t.Errorf("error = %q, want boom", entries[1].Error)
	}
}

func TestAuditLogger_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	logger := NewAuditLogger(dir, nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	defer logger.Close()

	info, err := os.Stat(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("stat audit log: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir, nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "brain_status", Status: "success"})
		})
	}
	wg.Wait()
	logger.Close()

	if got := len(readAudit(t, filepath.Join(dir, "audit.jsonl"))); got != 50 {
		t.Errorf("entries = %d, want 50", got)
	}
}

func TestSanitizeToolParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   map[string]string
	}{
		{
			name:   "nil params",
			params: nil,
			want:   nil,
		},
		{
			name:   "safe values kept",
			params: map[string]any{"spark": "Trick", "soft": true, "limit": 10},
			want:   map[string]string{"spark": "Trick", "soft": "true", "limit": "10", "_param_count": "3"},
		},
		{
			name:   "fields masked",
			params: map[string]any{"tag": "VoiceCommand", "fields": map[string]any{"command": "dance"}},
			want:   map[string]string{"tag": "VoiceCommand", "fields": "(set)", "_param_count": "2"},
		},
		{
			name:   "unknown params dropped",
			params: map[string]any{"secret": "x"},
			want:   map[string]string{"_param_count": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeToolParams(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
