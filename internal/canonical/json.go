// Package canonical implements the byte-deterministic JSON serialization
// used for hashing plans, policies, tool arguments, and tool outputs.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v as canonical JSON: UTF-8, object keys sorted
// ascending, no insignificant whitespace, numbers in the shortest
// round-trip form produced by encoding/json.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: decode for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// encode writes v to buf following the canonical rules. json.Unmarshal into
// `any` already gives us shortest round-trip numbers and standard string
// escaping, so encode only needs to own key ordering.
func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	default:
		// Scalars (bool, float64, string): encoding/json already produces
		// the canonical form for these.
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	for i, el := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, el); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical JSON form.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of already-canonical bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashOrEmpty hashes v, treating a nil v as the canonical JSON "null" per
// spec: output_hash for an absent output is the hash of "null".
func HashOrEmpty(v any) string {
	h, err := Hash(v)
	if err != nil {
		// v was not JSON-marshalable; this should not happen for values
		// already produced by our own tool outputs.
		return HashBytes([]byte("null"))
	}
	return h
}
