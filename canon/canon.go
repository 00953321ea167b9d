// Package canon produces the deterministic byte image used for signing and
// dedupe fingerprints: UTF-8 JSON with lexicographically sorted keys at every
// object level, compact separators, non-ASCII passed through. It also carries
// the unpadded base64url codec used throughout the wire format.
package canon

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Marshal returns the canonical bytes of v. Two object graphs that are equal
// up to key order map to identical bytes. NaN and infinities are rejected.
func Marshal(v interface{}) ([]byte, error) {
	// Round-trip through encoding/json first so struct values and maps end
	// up in the same generic tree. json.Marshal already refuses NaN/±Inf.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep int64 timestamps exact
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case json.Number:
		buf.WriteString(t.String())

	case string:
		return writeString(buf, t)

	case []interface{}:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("canon: unsupported value %T", v)
	}
	return nil
}

// writeString emits a JSON string without HTML escaping so that non-ASCII
// text passes through byte-for-byte.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b := tmp.Bytes()
	// Encode appends a newline
	buf.Write(bytes.TrimRight(b, "\n"))
	return nil
}

// B64u encodes with the URL-safe alphabet, no padding.
func B64u(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// B64uDecode tolerates absent padding by right-padding to a multiple of four
// before decoding.
func B64uDecode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	switch len(s) % 4 {
	case 1:
		return nil, errors.New("canon: invalid base64url length")
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
