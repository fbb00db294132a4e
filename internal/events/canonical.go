/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalCanonical renders v as JSON with object keys sorted
// lexicographically at every nesting level. Webhook signatures are
// computed over this form, and consumers recompute them by the same
// rule, so the ordering is contractual.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
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
		return nil

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
		return nil

	case json.Number:
		buf.WriteString(val.String())
		return nil

	case string, bool, nil:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil

	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
}
