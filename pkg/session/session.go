// Package session persists a JSON record of one hook run: which device was
// held, how capture moved over time, and how much traffic went each way.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SchemaVersion captures the record version for compatibility checks.
const SchemaVersion = 1

// Record lifecycle states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const timelineLimit = 256

// ErrNoSessions is returned by Latest when the directory holds no records.
var ErrNoSessions = errors.New("no session records found")

// Device identifies the physical device the session held.
type Device struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// TimelineEntry records a capture state transition.
type TimelineEntry struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Counters tallies the traffic seen during the session.
type Counters struct {
	Intercepted     int `json:"intercepted"`
	Forwarded       int `json:"forwarded"`
	ForwardFailures int `json:"forward_failures"`
	Dropped         int `json:"dropped"`
	GrabFailures    int `json:"grab_failures"`
}

// Status summarises the lifecycle of the session.
type Status struct {
	State     string          `json:"state"`
	Summary   string          `json:"summary,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timeline  []TimelineEntry `json:"capture_timeline,omitempty"`
	Counters  Counters        `json:"counters"`
}

// Record is the durable metadata describing a hook session.
type Record struct {
	SchemaVersion int       `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	Hostname      string    `json:"hostname"`
	AppVersion    string    `json:"app_version"`
	ConfigSource  string    `json:"config_source"`
	Variant       string    `json:"variant"`
	Device        Device    `json:"device"`
	Status        Status    `json:"status"`
}

// Options captures the knobs for creating a new record.
type Options struct {
	SessionID    string
	CreatedAt    time.Time
	Hostname     string
	AppVersion   string
	ConfigSource string
	Variant      string
	Device       Device
}

// New constructs a running record.
func New(opts Options) Record {
	started := opts.CreatedAt.UTC()
	return Record{
		SchemaVersion: SchemaVersion,
		SessionID:     opts.SessionID,
		CreatedAt:     started,
		Hostname:      opts.Hostname,
		AppVersion:    opts.AppVersion,
		ConfigSource:  opts.ConfigSource,
		Variant:       opts.Variant,
		Device:        opts.Device,
		Status:        Status{State: StateRunning, StartedAt: &started},
	}
}

// Finish marks the record completed, or failed when runErr is non-nil.
func (r *Record) Finish(endedAt time.Time, runErr error) {
	ended := endedAt.UTC()
	r.Status.EndedAt = &ended
	if runErr != nil {
		r.Status.State = StateFailed
		r.Status.Error = runErr.Error()
		return
	}
	r.Status.State = StateCompleted
}

// SetTimeline stores the most recent entries, dropping the oldest beyond the limit.
func (r *Record) SetTimeline(entries []TimelineEntry) {
	if len(entries) > timelineLimit {
		entries = entries[len(entries)-timelineLimit:]
	}
	r.Status.Timeline = append([]TimelineEntry(nil), entries...)
}

// Duration reports how long the session ran, or has been running as of now.
func (r Record) Duration(now time.Time) time.Duration {
	start := r.CreatedAt
	if r.Status.StartedAt != nil {
		start = *r.Status.StartedAt
	}
	end := now
	if r.Status.EndedAt != nil {
		end = *r.Status.EndedAt
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// Path returns where the record for sessionID lives in dir.
func Path(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".json")
}

// Save writes the record JSON to disk with indentation for readability. The
// file is replaced atomically so a reader never sees a partial record.
func Save(rec Record, path string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

// Load reads a session JSON file from disk.
func Load(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

// ResolveSessionID chooses an identifier derived from the timestamp and avoids collisions.
func ResolveSessionID(dir string, now time.Time) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("sessions directory must not be empty")
	}

	base := now.UTC().Format("20060102_150405")
	candidate := base
	suffix := 1
	for {
		_, err := os.Stat(Path(dir, candidate))
		if err == nil {
			candidate = fmt.Sprintf("%s_%02d", base, suffix)
			suffix++
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		return "", fmt.Errorf("inspect sessions directory: %w", err)
	}
}

// Latest loads the most recent record in dir. Identifiers sort chronologically.
func Latest(dir string) (Record, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, "", ErrNoSessions
		}
		return Record{}, "", fmt.Errorf("list sessions: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Record{}, "", ErrNoSessions
	}
	sort.Strings(names)
	path := filepath.Join(dir, names[len(names)-1])
	rec, err := Load(path)
	if err != nil {
		return Record{}, path, err
	}
	return rec, path, nil
}
