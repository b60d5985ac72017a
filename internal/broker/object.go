package broker

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Object is a named JSON value with its last write time. Value is kept as
// raw JSON text so the field order a client sent is the order everyone
// else observes.
type Object struct {
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value"`
	LastModified time.Time       `json:"lastModified"`
}

// validateName rejects empty and reserved ($-prefixed) object names for
// client-originated mutations.
func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "$") {
		return errInvalidObjectName(name)
	}
	return nil
}

type jsonMember struct {
	key   string
	value json.RawMessage
}

// objectMembers decodes the top-level members of a JSON object in document
// order. ok is false when raw is not a JSON object.
func objectMembers(raw json.RawMessage) ([]jsonMember, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if delim, isDelim := tok.(json.Delim); !isDelim || delim != '{' {
		return nil, false
	}

	var members []jsonMember
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, isString := keyTok.(string)
		if !isString {
			return nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		members = append(members, jsonMember{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	return members, true
}

// mergeValues shallow-merges patch into old: existing keys keep their
// position with the patched value in place, new keys append in patch
// order. ok is false when either value is not a JSON object, in which
// case the caller falls back to replace semantics.
func mergeValues(old, patch json.RawMessage) (json.RawMessage, bool) {
	oldMembers, ok := objectMembers(old)
	if !ok {
		return nil, false
	}
	patchMembers, ok := objectMembers(patch)
	if !ok {
		return nil, false
	}

	patched := make(map[string]json.RawMessage, len(patchMembers))
	for _, m := range patchMembers {
		patched[m.key] = m.value
	}

	merged := make([]jsonMember, 0, len(oldMembers)+len(patchMembers))
	seen := make(map[string]struct{}, len(oldMembers))
	for _, m := range oldMembers {
		if v, replaced := patched[m.key]; replaced {
			m.value = v
		}
		merged = append(merged, m)
		seen[m.key] = struct{}{}
	}
	for _, m := range patchMembers {
		if _, dup := seen[m.key]; !dup {
			merged = append(merged, m)
			seen[m.key] = struct{}{}
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range merged {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(m.key)
		if err != nil {
			return nil, false
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), true
}
