package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RequestType classifies an API call for billing estimation.
type RequestType string

const (
	RequestList   RequestType = "LIST"
	RequestGet    RequestType = "GET"
	RequestPut    RequestType = "PUT"
	RequestDelete RequestType = "DELETE"
	RequestHead   RequestType = "HEAD"
	RequestCopy   RequestType = "COPY"
)

const (
	ledgerRetention = 30 * 24 * time.Hour
	// SummaryWindow is the trailing window the usage query covers.
	SummaryWindow = 72 * time.Hour

	hourFileFormat = "2006010215"
)

// Event is one ledger line: a counted request of one type, attributed to a
// profile and an hour bucket. Payload content is never recorded.
type Event struct {
	Profile     string      `json:"profile"`
	Hour        time.Time   `json:"hour"`
	RequestType RequestType `json:"request_type"`
	Count       int64       `json:"count"`
}

// Summary aggregates a profile's events over the trailing window.
type Summary struct {
	Profile string
	Window  time.Duration
	Counts  map[RequestType]int64
	Total   int64
}

// Ledger is an append-only, hourly-bucketed usage ledger: one JSONL file
// per profile per hour under dir/<profile>/<YYYYMMDDHH>.jsonl. Writes are
// serialized by a single mutex; files older than the retention are pruned
// on write.
type Ledger struct {
	dir string

	mu  sync.Mutex
	now func() time.Time
}

// NewLedger creates the ledger root directory if needed.
func NewLedger(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &Ledger{dir: dir, now: time.Now}, nil
}

// Record appends one event for the profile in the current hour bucket.
// Failed backend calls are recorded the same as successful ones; billing
// counts the attempt.
func (l *Ledger) Record(profileName string, rt RequestType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	hour := now.Truncate(time.Hour)

	profileDir := filepath.Join(l.dir, sanitizeName(profileName))
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile ledger dir: %w", err)
	}

	event := Event{Profile: profileName, Hour: hour, RequestType: rt, Count: 1}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode ledger event: %w", err)
	}

	path := filepath.Join(profileDir, hour.Format(hourFileFormat)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append ledger event: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close ledger file: %w", cerr)
	}

	l.pruneLocked(now)
	return nil
}

// Summarize aggregates per-request-type totals for the profile over the
// trailing 72-hour window.
func (l *Ledger) Summarize(profileName string) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := Summary{
		Profile: profileName,
		Window:  SummaryWindow,
		Counts:  make(map[RequestType]int64),
	}

	cutoff := l.now().UTC().Add(-SummaryWindow).Truncate(time.Hour)

	profileDir := filepath.Join(l.dir, sanitizeName(profileName))
	entries, err := os.ReadDir(profileDir)
	if os.IsNotExist(err) {
		return summary, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("read ledger dir: %w", err)
	}

	for _, entry := range entries {
		hour, ok := parseHourFile(entry.Name())
		if !ok || hour.Before(cutoff) {
			continue
		}
		if err := l.sumFile(filepath.Join(profileDir, entry.Name()), &summary); err != nil {
			return Summary{}, err
		}
	}
	return summary, nil
}

func (l *Ledger) sumFile(path string, summary *Summary) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			// A torn trailing line from a crash is skipped, not fatal.
			continue
		}
		summary.Counts[event.RequestType] += event.Count
		summary.Total += event.Count
	}
	return scanner.Err()
}

// pruneLocked removes hour files past the retention across all profiles.
func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-ledgerRetention).Truncate(time.Hour)

	profiles, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	for _, p := range profiles {
		if !p.IsDir() {
			continue
		}
		profileDir := filepath.Join(l.dir, p.Name())
		files, err := os.ReadDir(profileDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if hour, ok := parseHourFile(f.Name()); ok && hour.Before(cutoff) {
				os.Remove(filepath.Join(profileDir, f.Name()))
			}
		}
	}
}

func parseHourFile(name string) (time.Time, bool) {
	base, found := cutSuffix(name, ".jsonl")
	if !found {
		return time.Time{}, false
	}
	hour, err := time.Parse(hourFileFormat, base)
	if err != nil {
		return time.Time{}, false
	}
	return hour, true
}

func cutSuffix(s, suffix string) (string, bool) {
	if len(s) < len(suffix) || s[len(s)-len(suffix):] != suffix {
		return s, false
	}
	return s[:len(s)-len(suffix)], true
}

// sanitizeName keeps profile names safe as directory names.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
