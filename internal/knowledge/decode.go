package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeBatch splits an upload into raw records. It accepts a JSON array of
// records or the export format: an object keyed by external id. Keys of the
// export become each record's external_id unless the record already has one.
func DecodeBatch(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("decode batch: empty body")
	}

	switch body[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return raws, nil
	case '{':
		return decodeKeyed(body)
	default:
		return nil, fmt.Errorf("decode batch: expected array or object")
	}
}

// decodeKeyed walks the object in document order.
func decodeKeyed(body []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	var raws []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode batch %q: %w", key, err)
		}
		raws = append(raws, withExternalID(raw, key))
	}
	return raws, nil
}

func withExternalID(raw json.RawMessage, key string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		// Left for the normalizer to reject with its index.
		return raw
	}
	if _, ok := fields["external_id"]; ok {
		return raw
	}
	id, err := json.Marshal(key)
	if err != nil {
		return raw
	}
	fields["external_id"] = id
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}
