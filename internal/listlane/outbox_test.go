package listlane

import (
	"errors"
	"path/filepath"
	"testing"
)

func envelopeIDs(envelopes []Envelope) []string {
	ids := make([]string, 0, len(envelopes))
	for _, envelope := range envelopes {
		ids = append(ids, envelope.EventID)
	}
	return ids
}

func TestMemoryOutboxDrainsInCaptureOrder(t *testing.T) {
	outbox := NewMemoryOutbox()
	appendOrder := []Envelope{
		{EventID: "e2", UtcTime: 200, Data: `{"type":"task-add"}`},
		{EventID: "e1", UtcTime: 100, Data: `{"type":"project-add"}`},
		{EventID: "e3", UtcTime: 300, Data: `{"type":"task-update"}`},
	}
	for _, envelope := range appendOrder {
		if err := outbox.Append(envelope); err != nil {
			t.Fatalf("append %s failed: %v", envelope.EventID, err)
		}
	}
	drained, err := outbox.DrainSince(0)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := envelopeIDs(drained); !equalOrder(got, []string{"e1", "e2", "e3"}) {
		t.Fatalf("unexpected drain order: %v", got)
	}
	// drain with a floor skips older envelopes
	drained, err = outbox.DrainSince(150)
	if err != nil {
		t.Fatalf("drain since 150 failed: %v", err)
	}
	if got := envelopeIDs(drained); !equalOrder(got, []string{"e2", "e3"}) {
		t.Fatalf("unexpected filtered drain: %v", got)
	}
}

func TestOutboxBreaksTimestampTiesByEventID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	fileOutbox, err := NewFileOutbox(path)
	if err != nil {
		t.Fatalf("new file outbox failed: %v", err)
	}
	for name, outbox := range map[string]Outbox{"memory": NewMemoryOutbox(), "file": fileOutbox} {
		appendOrder := []Envelope{
			{EventID: "e3", UtcTime: 100, Data: "{}"},
			{EventID: "e1", UtcTime: 100, Data: "{}"},
			{EventID: "e2", UtcTime: 100, Data: "{}"},
		}
		for _, envelope := range appendOrder {
			if err := outbox.Append(envelope); err != nil {
				t.Fatalf("%s: append %s failed: %v", name, envelope.EventID, err)
			}
		}
		drained, err := outbox.DrainSince(0)
		if err != nil {
			t.Fatalf("%s: drain failed: %v", name, err)
		}
		if got := envelopeIDs(drained); !equalOrder(got, []string{"e1", "e2", "e3"}) {
			t.Fatalf("%s: unexpected tie order: %v", name, got)
		}
	}
}

func TestMemoryOutboxRejectsDuplicateEventID(t *testing.T) {
	outbox := NewMemoryOutbox()
	envelope := Envelope{EventID: "e1", UtcTime: 100, Data: "{}"}
	if err := outbox.Append(envelope); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := outbox.Append(envelope); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestMemoryOutboxClearEmptiesBuffer(t *testing.T) {
	outbox := NewMemoryOutbox()
	if err := outbox.Append(Envelope{EventID: "e1", UtcTime: 100, Data: "{}"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := outbox.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	depth, err := outbox.Depth()
	if err != nil {
		t.Fatalf("depth failed: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty outbox, depth=%d", depth)
	}
	// a cleared event id may be recorded again
	if err := outbox.Append(Envelope{EventID: "e1", UtcTime: 150, Data: "{}"}); err != nil {
		t.Fatalf("append after clear failed: %v", err)
	}
}

func TestOutboxRejectsBlankEventID(t *testing.T) {
	outbox := NewMemoryOutbox()
	if err := outbox.Append(Envelope{EventID: "  ", UtcTime: 100}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFileOutboxPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	outbox, err := NewFileOutbox(path)
	if err != nil {
		t.Fatalf("new file outbox failed: %v", err)
	}
	if err := outbox.Append(Envelope{EventID: "e1", UtcTime: 100, Data: `{"type":"task-add"}`}); err != nil {
		t.Fatalf("append e1 failed: %v", err)
	}
	if err := outbox.Append(Envelope{EventID: "e2", UtcTime: 200, Data: `{"type":"task-delete"}`}); err != nil {
		t.Fatalf("append e2 failed: %v", err)
	}

	reopened, err := NewFileOutbox(path)
	if err != nil {
		t.Fatalf("reopen file outbox failed: %v", err)
	}
	drained, err := reopened.DrainSince(0)
	if err != nil {
		t.Fatalf("drain after reopen failed: %v", err)
	}
	if got := envelopeIDs(drained); !equalOrder(got, []string{"e1", "e2"}) {
		t.Fatalf("unexpected drain order after reopen: %v", got)
	}
	if err := reopened.Append(Envelope{EventID: "e1", UtcTime: 300}); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected duplicate rejection after reopen, got %v", err)
	}
}

func TestFileOutboxClearPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	outbox, err := NewFileOutbox(path)
	if err != nil {
		t.Fatalf("new file outbox failed: %v", err)
	}
	if err := outbox.Append(Envelope{EventID: "e1", UtcTime: 100, Data: "{}"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := outbox.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	reopened, err := NewFileOutbox(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	depth, err := reopened.Depth()
	if err != nil {
		t.Fatalf("depth failed: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected cleared outbox after reopen, depth=%d", depth)
	}
}
