package wire

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope is the immutable wrapper around every message placed on the bus.
// Payload carries the type-specific body, already normalized of legacy
// field aliases.
type Envelope struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	Version        int             `json:"version"`
	SchemaVersion  int             `json:"schema_version"`
	TS             int64           `json:"ts"`
	Producer       string          `json:"producer"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausationID    string          `json:"causation_id,omitempty"`
	PartitionKey   string          `json:"partition_key,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Sig            string          `json:"sig,omitempty"`
	KeyID          string          `json:"key_id,omitempty"`
	Nonce          string          `json:"nonce,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope builds an Envelope with a fresh ULID id and the current
// schema_version registered for t. The caller still must set Sig/KeyID/
// Nonce before the envelope is published.
func NewEnvelope(t Type, producer string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	schemaVer, ok := MaxSchemaVersion(t)
	if !ok {
		return nil, ErrUnknownType
	}
	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          t,
		Version:       1,
		SchemaVersion: schemaVer,
		TS:            time.Now().UnixMilli(),
		Producer:      producer,
		Payload:       raw,
	}, nil
}

// CanonicalJSON serializes v as UTF-8 JSON with sorted object keys and no
// insignificant whitespace, the form required for HMAC signing of
// envelopes and operator commands.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalJSONRaw(raw)
}

// CanonicalJSONRaw re-serializes already-encoded JSON bytes into the
// canonical (sorted-key, whitespace-free) form.
func CanonicalJSONRaw(raw json.RawMessage) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
