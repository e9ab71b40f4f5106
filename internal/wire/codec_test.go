package wire

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	intent := Intent{
		SignalID: "01J8Z",
		Symbol:   "BTC/USDT:PERP",
		Type:     IntentBuySetup,
		Size:     decimal.NewFromFloat(0.1),
		TSignal:  1000,
		Status:   IntentPending,
	}
	env, err := NewEnvelope(TypeIntentV1, "brain", intent)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	env.Sig = "deadbeef"
	env.KeyID = "k1"
	env.Nonce = "n1"

	codec := NewCodec()
	raw, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != env.ID || decoded.Type != env.Type || decoded.Sig != env.Sig {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, env)
	}

	var gotIntent Intent
	if err := json.Unmarshal(decoded.Payload, &gotIntent); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if gotIntent.SignalID != intent.SignalID {
		t.Fatalf("payload mismatch: got %q want %q", gotIntent.SignalID, intent.SignalID)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"id":"x","type":"titan.bogus.v1","version":1,"schema_version":1,"ts":1,"producer":"p","payload":{}}`)
	if _, err := NewCodec().Decode(raw); err != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeRejectsNewerSchemaVersion(t *testing.T) {
	raw := []byte(`{"id":"x","type":"titan.cmd.execution.place.v1","version":1,"schema_version":99,"ts":1,"producer":"p","payload":{}}`)
	if _, err := NewCodec().Decode(raw); err != ErrSchemaMismatch {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestLegacyAliasNormalization(t *testing.T) {
	raw := []byte(`{"id":"x","type":"titan.cmd.execution.place.v1","version":1,"schema_version":1,"ts":1,"producer":"p","payload":{"signal_id":"s1","timestamp":123,"symbol":"BTC/USDT","direction":1,"type":"BUY_SETUP","size":"0.1","status":"PENDING"}}`)
	env, err := NewCodec().Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var intent Intent
	if err := json.Unmarshal(env.Payload, &intent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if intent.TSignal != 123 {
		t.Fatalf("expected legacy timestamp aliased to t_signal, got %d", intent.TSignal)
	}
}

func TestCanonicalJSONKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}
	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical json not key-order independent: %s vs %s", ca, cb)
	}
}

func TestOrderClassDeterminism(t *testing.T) {
	cases := []struct {
		v    float64
		want OrderClass
	}{
		{0.05, ClassLimit},
		{0.1, ClassLimit},
		{0.3, ClassAggressiveLimit},
		{0.5, ClassAggressiveLimit},
		{0.9, ClassMarket},
	}
	for _, c := range cases {
		got := SelectOrderClass(c.v)
		if got != c.want {
			t.Errorf("SelectOrderClass(%v) = %v, want %v", c.v, got, c.want)
		}
		// Determinism: calling twice with the same velocity always agrees.
		if again := SelectOrderClass(c.v); again != got {
			t.Errorf("SelectOrderClass(%v) not deterministic: %v then %v", c.v, got, again)
		}
	}
}

func TestOrderApplyFillNoDoubleFill(t *testing.T) {
	o := &Order{Size: decimal.NewFromFloat(0.5), State: OrderOpen}
	if err := o.ApplyFill(decimal.NewFromFloat(0.2), decimal.NewFromFloat(100), false); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if o.State != OrderPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", o.State)
	}
	if err := o.ApplyFill(decimal.NewFromFloat(0.3), decimal.NewFromFloat(110), false); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if o.State != OrderFilled {
		t.Fatalf("expected FILLED, got %s", o.State)
	}
	if !o.FilledSize.Equal(o.Size) {
		t.Fatalf("filled size %s != size %s", o.FilledSize, o.Size)
	}
	if err := o.ApplyFill(decimal.NewFromFloat(0.01), decimal.NewFromFloat(100), false); err == nil {
		t.Fatal("expected error filling a terminal order")
	}
}

func TestOrderApplyFillRejectsOverfill(t *testing.T) {
	o := &Order{Size: decimal.NewFromFloat(1), State: OrderOpen}
	if err := o.ApplyFill(decimal.NewFromFloat(1.5), decimal.NewFromFloat(100), false); err == nil {
		t.Fatal("expected overfill to be rejected")
	}
}
