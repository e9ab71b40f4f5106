package bus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestRequiredStreamsMatchRetentionTable(t *testing.T) {
	byName := make(map[string]StreamSpec, len(RequiredStreams))
	for _, s := range RequiredStreams {
		byName[s.Name] = s
	}

	commands, ok := byName["COMMANDS"]
	if !ok {
		t.Fatal("COMMANDS stream missing")
	}
	if !commands.WorkQueue || commands.MaxAge != 7*24*time.Hour || commands.Dedup != 60*time.Second {
		t.Fatalf("COMMANDS spec wrong: %+v", commands)
	}

	data, ok := byName["DATA"]
	if !ok {
		t.Fatal("DATA stream missing")
	}
	if data.Storage != nats.MemoryStorage || data.MaxAge != 15*time.Minute {
		t.Fatalf("DATA spec wrong: %+v", data)
	}

	for _, name := range []string{"EVENTS", "DLQ"} {
		s, ok := byName[name]
		if !ok {
			t.Fatalf("%s stream missing", name)
		}
		if s.MaxAge != 30*24*time.Hour {
			t.Fatalf("%s retention wrong: %v", name, s.MaxAge)
		}
	}

	signals, ok := byName["SIGNALS"]
	if !ok {
		t.Fatal("SIGNALS stream missing")
	}
	if signals.MaxAge != 24*time.Hour {
		t.Fatalf("SIGNALS retention wrong: %v", signals.MaxAge)
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	cases := []struct {
		delivered int
		want      time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 5 * time.Second},
		{3, 15 * time.Second},
		{4, 30 * time.Second},
		{5, 30 * time.Second},
		{99, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.delivered); got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.delivered, got, c.want)
		}
	}
}
