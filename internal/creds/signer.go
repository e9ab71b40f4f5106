package creds

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// Signer produces the HMAC material for outgoing envelopes — the producer
// half of the contract Verifier enforces. Tests use it to build valid
// fixtures; the synthetic CLOSE intents of automatic flatten are admitted
// directly and are not signed.
type Signer struct {
	keys  StaticKeySource
	keyID string
}

// NewSigner returns a Signer using the key identified by keyID.
func NewSigner(keys StaticKeySource, keyID string) (*Signer, error) {
	if _, ok := keys.Key(keyID); !ok {
		return nil, ErrUnknownKeyID
	}
	return &Signer{keys: keys, keyID: keyID}, nil
}

// SignEnvelope fills env's Sig, KeyID, and Nonce over the canonical
// string ts.nonce.canonical_json(payload). The canonical form makes the
// signature invariant under payload key reordering.
func (s *Signer) SignEnvelope(env *wire.Envelope) error {
	nonce, err := newNonce()
	if err != nil {
		return err
	}
	canonicalPayload, err := wire.CanonicalJSONRaw(env.Payload)
	if err != nil {
		return err
	}
	key, _ := s.keys.Key(s.keyID)
	env.KeyID = s.keyID
	env.Nonce = nonce
	env.Sig = sign(key, fmt.Sprintf("%d.%s.%s", env.TS, nonce, canonicalPayload))
	return nil
}

// SignOperatorCommand fills cmd's Signature over
// ts:action:actor_id:command_id.
func (s *Signer) SignOperatorCommand(cmd *wire.OperatorCommand) {
	key, _ := s.keys.Key(s.keyID)
	cmd.Signature = sign(key, cmd.CanonicalString())
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
