// Package bypass tracks emergency gate overrides. The log is the one
// piece of shared mutable state in the engine: an append-only JSONL file
// that is never edited in place, only appended and pruned by age. Reads
// take a point-in-time snapshot and tolerate a concurrently appended
// record not being visible yet; the tracker is advisory and never blocks
// an override.
package bypass

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDir is the project-relative directory holding the log.
	DefaultDir = ".qgate"

	// LogFile is the append-only bypass history.
	LogFile = "bypasses.jsonl"

	// DefaultWindow is the trailing period examined by abuse checks.
	DefaultWindow = time.Hour

	// DefaultThreshold is the in-window count that triggers an alert.
	DefaultThreshold = 3

	// repeatThreshold is the cluster size that marks a repeated reason
	// as a likely policy defect.
	repeatThreshold = 2
)

// Record is one emergency bypass event. Records are append-only evidence:
// written once, never mutated.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Branch    string    `json:"branch"`
	User      string    `json:"user"`
}

// Alert is an advisory raised when bypasses repeat suspiciously. It never
// blocks anything; overrides are an explicit escape hatch.
type Alert struct {
	// Count is the number of bypasses inside the window.
	Count int `json:"count"`

	// Window and Threshold echo the check parameters.
	Window    time.Duration `json:"window"`
	Threshold int           `json:"threshold"`

	// RepeatedReason is set when one reason accounts for repeatThreshold
	// or more of the in-window bypasses, suggesting a policy defect (the
	// same condition keeps forcing an override) rather than independent
	// emergencies.
	RepeatedReason string `json:"repeated_reason,omitempty"`
	RepeatCount    int    `json:"repeat_count,omitempty"`

	Message string `json:"message"`
}

// Tracker records bypasses and checks the sliding window for abuse.
type Tracker struct {
	dir       string
	window    time.Duration
	threshold int

	mu sync.Mutex
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithDir sets the directory holding the bypass log.
func WithDir(dir string) TrackerOption {
	return func(t *Tracker) {
		t.dir = dir
	}
}

// WithWindow sets the trailing window for abuse checks.
func WithWindow(w time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.window = w
	}
}

// WithThreshold sets the in-window count that triggers an alert.
func WithThreshold(n int) TrackerOption {
	return func(t *Tracker) {
		t.threshold = n
	}
}

// NewTracker creates a tracker with the given options.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		dir:       DefaultDir,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogPath returns the full path of the bypass log.
func (t *Tracker) LogPath() string {
	return filepath.Join(t.dir, LogFile)
}

// Append records a bypass event and returns the stored record.
func (t *Tracker) Append(reason, branch string, now time.Time) (*Record, error) {
	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Reason:    strings.TrimSpace(reason),
		Branch:    branch,
		User:      currentUser(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return nil, fmt.Errorf("create bypass directory: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(t.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open bypass log: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync bypass log: %w", err)
	}

	return rec, nil
}

// CheckAbuse counts bypasses in the trailing window ending at now. When
// the count reaches the threshold, the in-window records are clustered by
// reason text; a cluster of repeatThreshold or more marks the alert as a
// likely policy defect.
func (t *Tracker) CheckAbuse(now time.Time) (*Alert, error) {
	records, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-t.window)
	var inWindow []Record
	for _, r := range records {
		if r.Timestamp.After(cutoff) && !r.Timestamp.After(now) {
			inWindow = append(inWindow, r)
		}
	}

	if len(inWindow) < t.threshold {
		return nil, nil
	}

	alert := &Alert{
		Count:     len(inWindow),
		Window:    t.window,
		Threshold: t.threshold,
	}

	reason, count := dominantReason(inWindow)
	if count >= repeatThreshold {
		alert.RepeatedReason = reason
		alert.RepeatCount = count
		alert.Message = fmt.Sprintf(
			"%d bypasses in the last %s, %d sharing reason %q: this looks like a policy defect, not independent emergencies; review the gate configuration",
			alert.Count, t.window, count, reason)
	} else {
		alert.Message = fmt.Sprintf("%d bypasses in the last %s (threshold %d)", alert.Count, t.window, t.threshold)
	}

	return alert, nil
}

// Prune rewrites the log keeping only records newer than maxAge. The
// rewrite goes through a temp file and an atomic rename so a concurrent
// reader never sees a half-written log.
func (t *Tracker) Prune(maxAge time.Duration, now time.Time) (kept int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.readAll()
	if err != nil {
		return 0, err
	}
	if records == nil {
		return 0, nil
	}

	cutoff := now.Add(-maxAge)
	var recent []Record
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			recent = append(recent, r)
		}
	}

	tmp, err := os.CreateTemp(t.dir, ".tmp-bypasses-")
	if err != nil {
		return 0, fmt.Errorf("create temp log: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeRecords(tmp, recent); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return 0, fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpPath, t.LogPath()); err != nil {
		return 0, fmt.Errorf("replace bypass log: %w", err)
	}

	success = true
	return len(recent), nil
}

// snapshot returns a point-in-time copy of the log for readers.
func (t *Tracker) snapshot() ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readAll()
}

// readAll reads every parseable record. Malformed lines are skipped: the
// log is evidence, and one corrupt line must not hide the rest.
func (t *Tracker) readAll() (records []Record, err error) {
	f, err := os.Open(t.LogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open bypass log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}

// writeRecords writes records as JSONL.
func writeRecords(w io.Writer, records []Record) error {
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

// dominantReason returns the most common normalized reason and its count.
// Ties break lexicographically so the result is deterministic.
func dominantReason(records []Record) (string, int) {
	counts := make(map[string]int)
	for _, r := range records {
		counts[normalizeReason(r.Reason)]++
	}

	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	best, bestCount := "", 0
	for _, reason := range reasons {
		if counts[reason] > bestCount {
			best, bestCount = reason, counts[reason]
		}
	}
	return best, bestCount
}

// normalizeReason folds trivial formatting differences when clustering.
func normalizeReason(reason string) string {
	return strings.ToLower(strings.Join(strings.Fields(reason), " "))
}

// currentUser returns the OS-level username. Uses os/user, not
// environment variables, so the identity in the audit trail is not
// trivially spoofable.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
