package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/tracegraph/internal/store"
)

// AuditFileName is the audit log inside the project data directory.
const AuditFileName = "audit.jsonl"

// AuditEntry records one MCP tool invocation. It carries metadata only,
// never requirement text.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"` // sanitized metadata only
}

// AuditLogger appends entries to <root>/.tracegraph/audit.jsonl. It is safe
// for concurrent use, and a nil AuditLogger ignores every call.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditLogger opens the audit log under projectRoot. When the file
// cannot be opened a warning goes to stderr and nil is returned; auditing
// never blocks the server from starting.
func NewAuditLogger(projectRoot string) *AuditLogger {
	path := filepath.Join(store.LocalPath(projectRoot), AuditFileName)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory: %v\n", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log: %v\n", err)
		return nil
	}
	return &AuditLogger{file: f, path: path}
}

// Path returns the audit log location, or "" for a nil logger.
func (a *AuditLogger) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Log appends entry as a single JSON line.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(data)
	}
}

// Close closes the log file. Later calls are no-ops.
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

// sanitizeToolParams extracts safe metadata from tool parameters.
//
// Parameters are classified into three categories:
//   - Safe-value params: identifiers, kinds and limits, logged as given
//   - Presence-only params: free text, logged as "(set)"
//   - Unknown params: not logged at all
//
// A "_param_count" key is always included.
func sanitizeToolParams(params map[string]interface{}) map[string]string {
	if params == nil {
		return nil
	}

	safeValueParams := map[string]bool{
		"project_id": true,
		"node_id":    true,
		"suspect_id": true,
		"id":         true,
		"kind":       true,
		"limit":      true,
		"source_id":  true,
		"target_id":  true,
		"priority":   true,
		"status":     true,
		"comment_id": true,
		"parent_id":  true,
		"review_id":  true,
		"item_id":    true,
		"verdict":    true,
	}

	presenceOnlyParams := map[string]bool{
		"name":        true,
		"description": true,
		"text":        true,
		"rationale":   true,
		"reason":      true,
		"resolved_by": true,
		"actor":       true,
		"label":       true,
		"allocations": true,
		"body":        true,
		"author":      true,
		"note":        true,
	}

	result := make(map[string]string)
	set := 0
	for key, val := range params {
		if isZeroParam(val) {
			continue
		}
		set++
		if safeValueParams[key] {
			result[key] = fmt.Sprintf("%v", val)
		} else if presenceOnlyParams[key] {
			result[key] = "(set)"
		}
	}
	result["_param_count"] = fmt.Sprintf("%d", set)
	return result
}

// isZeroParam reports whether an optional tool argument was left out.
func isZeroParam(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case []string:
		return len(x) == 0
	}
	return false
}

// auditTool logs a tool invocation with its outcome and duration.
func (s *Server) auditTool(toolName string, start time.Time, err error, params map[string]string) {
	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}

	s.auditLogger.Log(AuditEntry{
		Timestamp:  start,
		Tool:       toolName,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     status,
		Error:      errMsg,
		Params:     params,
	})
}
