package listlane

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Envelope is one deferred event awaiting replay. UtcTime is the capture
// time in UTC milliseconds and drives replay order.
type Envelope struct {
	EventID string `json:"eventId"`
	UtcTime int64  `json:"utc_time"`
	Data    string `json:"data"`
}

// Outbox buffers events written while the realtime channel is unavailable.
// Append records an event, DrainSince returns buffered events captured at or
// after the given UTC millisecond timestamp in order, and Clear discards the
// buffer once a replay has fully succeeded.
type Outbox interface {
	Append(envelope Envelope) error
	DrainSince(sinceUTCMillis int64) ([]Envelope, error)
	Clear() error
	Depth() (int, error)
	Close() error
}

// NowUTCMillis is the capture timestamp used for new envelopes.
func NowUTCMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func validateEnvelope(envelope Envelope) error {
	if strings.TrimSpace(envelope.EventID) == "" {
		return fmt.Errorf("%w: envelope requires an event id", ErrInvalidInput)
	}
	if envelope.UtcTime < 0 {
		return fmt.Errorf("%w: envelope timestamp must not be negative", ErrInvalidInput)
	}
	return nil
}

// sortEnvelopes orders by capture time, ties broken by event id so every
// backend replays an equal-timestamp batch identically.
func sortEnvelopes(envelopes []Envelope) {
	sort.Slice(envelopes, func(i, j int) bool {
		if envelopes[i].UtcTime != envelopes[j].UtcTime {
			return envelopes[i].UtcTime < envelopes[j].UtcTime
		}
		return envelopes[i].EventID < envelopes[j].EventID
	})
}

// MemoryOutbox keeps envelopes in process memory. Contents are lost on
// restart, which is acceptable for tests and throwaway sessions.
type MemoryOutbox struct {
	mu        sync.Mutex
	envelopes []Envelope
	seen      map[string]struct{}
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{seen: make(map[string]struct{})}
}

func (o *MemoryOutbox) Append(envelope Envelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.seen[envelope.EventID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, envelope.EventID)
	}
	o.seen[envelope.EventID] = struct{}{}
	o.envelopes = append(o.envelopes, envelope)
	return nil
}

func (o *MemoryOutbox) DrainSince(sinceUTCMillis int64) ([]Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Envelope, 0, len(o.envelopes))
	for _, envelope := range o.envelopes {
		if envelope.UtcTime >= sinceUTCMillis {
			out = append(out, envelope)
		}
	}
	sortEnvelopes(out)
	return out, nil
}

func (o *MemoryOutbox) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envelopes = nil
	o.seen = make(map[string]struct{})
	return nil
}

func (o *MemoryOutbox) Depth() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.envelopes), nil
}

func (o *MemoryOutbox) Close() error {
	return nil
}

// FileOutbox persists the full envelope list as a JSON file after every
// mutation so a crash between append and replay loses nothing.
type FileOutbox struct {
	mu        sync.Mutex
	path      string
	envelopes []Envelope
	seen      map[string]struct{}
	loaded    bool
}

func NewFileOutbox(path string) (*FileOutbox, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: file outbox requires a path", ErrInvalidInput)
	}
	return &FileOutbox{path: path, seen: make(map[string]struct{})}, nil
}

func (o *FileOutbox) loadLocked() error {
	if o.loaded {
		return nil
	}
	raw, err := os.ReadFile(o.path)
	if errors.Is(err, os.ErrNotExist) {
		o.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var envelopes []Envelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return fmt.Errorf("decode outbox file %s: %w", o.path, err)
	}
	o.envelopes = envelopes
	o.seen = make(map[string]struct{}, len(envelopes))
	for _, envelope := range envelopes {
		o.seen[envelope.EventID] = struct{}{}
	}
	o.loaded = true
	return nil
}

func (o *FileOutbox) persistLocked() error {
	raw, err := json.MarshalIndent(o.envelopes, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(o.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := o.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, o.path)
}

func (o *FileOutbox) Append(envelope Envelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadLocked(); err != nil {
		return err
	}
	if _, dup := o.seen[envelope.EventID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, envelope.EventID)
	}
	o.seen[envelope.EventID] = struct{}{}
	o.envelopes = append(o.envelopes, envelope)
	return o.persistLocked()
}

func (o *FileOutbox) DrainSince(sinceUTCMillis int64) ([]Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(o.envelopes))
	for _, envelope := range o.envelopes {
		if envelope.UtcTime >= sinceUTCMillis {
			out = append(out, envelope)
		}
	}
	sortEnvelopes(out)
	return out, nil
}

func (o *FileOutbox) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadLocked(); err != nil {
		return err
	}
	o.envelopes = nil
	o.seen = make(map[string]struct{})
	return o.persistLocked()
}

func (o *FileOutbox) Depth() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.loadLocked(); err != nil {
		return 0, err
	}
	return len(o.envelopes), nil
}

func (o *FileOutbox) Close() error {
	return nil
}
