package wire

import (
	"encoding/json"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// Codec is the single canonical binding between typed envelopes and bus
// bytes. It is stateless and safe for concurrent use.
type Codec struct{}

// NewCodec returns a ready-to-use Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes env to bytes suitable for publishing on the bus.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	if !KnownType(env.Type) {
		return nil, ErrUnknownType
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, utils.Wrap(err, "encode envelope")
	}
	return b, nil
}

// Decode parses bytes into an Envelope, rejecting unknown types, payloads
// whose schema_version is newer than this build implements, and
// normalizing legacy field aliases present in the raw payload.
func (c *Codec) Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid envelope json", Err: err}
	}
	if !KnownType(env.Type) {
		return nil, ErrUnknownType
	}
	maxVer, _ := MaxSchemaVersion(env.Type)
	if env.SchemaVersion > maxVer {
		return nil, ErrSchemaMismatch
	}
	normalized, err := normalizePayload(env.Payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid payload json", Err: err}
	}
	env.Payload = normalized
	return &env, nil
}

// normalizePayload rewrites legacy field names in a JSON object payload to
// their current names, leaving unrecognized fields untouched.
func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Non-object payloads (arrays, scalars) pass through unchanged.
		return raw, nil
	}
	changed := false
	normalized := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		nk := NormalizeLegacyField(k)
		if nk != k {
			changed = true
		}
		normalized[nk] = v
	}
	if !changed {
		return raw, nil
	}
	return json.Marshal(normalized)
}
