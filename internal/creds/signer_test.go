package creds

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/peycheff-com/titan-execution-core/internal/store"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func newSignerFixture(t *testing.T) (*Signer, *Verifier) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	keys := StaticKeySource{"k1": []byte("topsecret")}
	signer, err := NewSigner(keys, "k1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer, NewVerifier(keys, st, 5*time.Second, 60*time.Second)
}

func TestSignedEnvelopeVerifies(t *testing.T) {
	signer, verifier := newSignerFixture(t)

	env, err := wire.NewEnvelope(wire.TypeIntentV1, "brain", map[string]any{"signal_id": "s1", "t_signal": 1})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := signer.SignEnvelope(env); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifier.VerifyEnvelope(env); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

// The signature must survive a payload re-serialization that reorders
// object keys, since the canonical form is what gets signed.
func TestSignatureInvariantUnderKeyReordering(t *testing.T) {
	signer, verifier := newSignerFixture(t)

	env, err := wire.NewEnvelope(wire.TypeIntentV1, "brain", nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	env.Payload = json.RawMessage(`{"b":2,"a":1,"nested":{"y":"2","x":"1"}}`)
	if err := signer.SignEnvelope(env); err != nil {
		t.Fatalf("sign: %v", err)
	}

	env.Payload = json.RawMessage(`{"nested":{"x":"1","y":"2"},"a":1,"b":2}`)
	if err := verifier.VerifyEnvelope(env); err != nil {
		t.Fatalf("verify after reorder: %v", err)
	}
}

func TestReplayedNonceRejected(t *testing.T) {
	signer, verifier := newSignerFixture(t)

	env, err := wire.NewEnvelope(wire.TypeIntentV1, "brain", map[string]any{"signal_id": "s1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := signer.SignEnvelope(env); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifier.VerifyEnvelope(env); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := verifier.VerifyEnvelope(env); err != ErrReplayDetected {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestNewSignerRejectsUnknownKey(t *testing.T) {
	if _, err := NewSigner(StaticKeySource{}, "nope"); err != ErrUnknownKeyID {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
}
