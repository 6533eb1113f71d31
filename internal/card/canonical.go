package card

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/a2aregistry/registry/pkg/a2acard"
)

// Canonicalize renders a card as key-sorted, whitespace-free JSON with
// stable number formatting, so that byte-identical cards always produce
// byte-identical output regardless of field ordering at the source.
func Canonicalize(c *a2acard.Card) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	var generic any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentHash computes the SHA-256 digest of a card's canonical bytes,
// hex-encoded.
func ContentHash(c *a2acard.Card) (string, error) {
	canon, err := Canonicalize(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// writeCanonical recursively serializes a decoded JSON value (object, array,
// json.Number, string, bool, or nil) with sorted object keys and no
// insignificant whitespace. json.Number is re-marshaled through it
// unchanged, which preserves minimal number formatting as decoded by
// encoding/json (no trailing zeros, no unnecessary exponents) rather than
// re-deriving it via float64 round-tripping, which would lose precision on
// large integers.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
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
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Unreachable for values decoded by encoding/json with UseNumber.
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}
