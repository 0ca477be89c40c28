package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/ratelimit"
)

// AuditStatus is the outcome of an audited tool call.
type AuditStatus string

const (
	AuditSuccess     AuditStatus = "success"
	AuditError       AuditStatus = "error"
	AuditRateLimited AuditStatus = "rate_limited"
)

// AuditEntry is one line of audit.jsonl. Besides the call itself it records
// what the brain was doing when the call arrived, so an injected event can be
// matched against the behavior it interrupted.
type AuditEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Tool       string                 `json:"tool"`
	DurationMs int64                  `json:"duration_ms"`
	Status     AuditStatus            `json:"status"`
	Error      string                 `json:"error,omitempty"`
	Params     map[string]string      `json:"params,omitempty"`
	Tick       uint64                 `json:"tick"`
	Behavior   models.BehaviorID      `json:"behavior,omitempty"`
	Trigger    models.ReactionTrigger `json:"trigger,omitempty"`
}

// AuditLogger appends entries to a JSONL file. Methods are safe for
// concurrent use and are no-ops on a nil receiver.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens dir/audit.jsonl for appending. Failure to open is
// logged and yields a nil logger; auditing never stops the server.
func NewAuditLogger(dir string, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.Warn("audit log disabled", "dir", dir, "error", err)
		return nil
	}
	path := filepath.Join(dir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		logger.Warn("audit log disabled", "path", path, "error", err)
		return nil
	}
	return &AuditLogger{file: f}
}

// Log appends entry as a single JSON line.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(line)
	}
}

// Close closes the file. Later calls and later writes are no-ops.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

type paramPolicy int

const (
	logValue    paramPolicy = iota + 1 // key and value
	logPresence                        // key only, value masked
)

// auditedParams lists the tool parameters that reach the audit log. Event
// fields are client-supplied and only their presence is recorded.
var auditedParams = map[string]paramPolicy{
	"tag":       logValue,
	"tags":      logValue,
	"spark":     logValue,
	"soft":      logValue,
	"cancel":    logValue,
	"limit":     logValue,
	"since_sec": logValue,
	"fields":    logPresence,
}

// sanitizeToolParams keeps the parameters auditedParams allows and drops the
// rest. "_param_count" always records how many were passed.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params)+1)
	for key, val := range params {
		switch auditedParams[key] {
		case logValue:
			out[key] = fmt.Sprintf("%v", val)
		case logPresence:
			out[key] = "(set)"
		}
	}
	out["_param_count"] = fmt.Sprintf("%d", len(params))
	return out
}

// auditTool records a finished tool call together with the brain state at
// the last completed tick.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]string) {
	if s.auditLogger == nil {
		return
	}
	entry := AuditEntry{
		Timestamp:  start,
		Tool:       tool,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     AuditSuccess,
		Params:     params,
	}
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		entry.Status = AuditRateLimited
	case err != nil:
		entry.Status = AuditError
		entry.Error = err.Error()
	}
	snap := s.brain.Scheduler.Snapshot()
	entry.Tick = snap.Tick
	entry.Behavior = snap.Behavior
	entry.Trigger = snap.Trigger
	s.auditLogger.Log(entry)
}
