package bus

import (
	"path/filepath"
	"testing"
)

func TestOutboxEnqueueRemove(t *testing.T) {
	ob, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"), 0)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer ob.Close()

	id, err := ob.Enqueue("titan.evt.execution.fill.v1", []byte("payload-1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var seen []string
	if err := ob.ForEach(func(_ uint64, subject string, payload []byte) error {
		seen = append(seen, subject+":"+string(payload))
		return nil
	}); err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if len(seen) != 1 || seen[0] != "titan.evt.execution.fill.v1:payload-1" {
		t.Fatalf("unexpected pending entries: %v", seen)
	}

	if err := ob.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	seen = nil
	if err := ob.ForEach(func(_ uint64, subject string, payload []byte) error {
		seen = append(seen, subject)
		return nil
	}); err != nil {
		t.Fatalf("foreach after remove: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("expected empty outbox after remove, got %v", seen)
	}
}

func TestOutboxCapacityEvictsOldest(t *testing.T) {
	ob, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox.db"), 2)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer ob.Close()

	for i := 0; i < 3; i++ {
		if _, err := ob.Enqueue("subj", []byte{byte(i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	var count int
	_ = ob.ForEach(func(_ uint64, _ string, _ []byte) error {
		count++
		return nil
	})
	if count != 2 {
		t.Fatalf("expected ring bounded at 2 entries, got %d", count)
	}
}
