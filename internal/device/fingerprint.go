package device

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Attributes is a client-supplied device fingerprint. Known fields are typed;
// anything else the client sends is kept in Extra so it still contributes to
// the digest.
type Attributes struct {
	Model            string
	Brand            string
	Manufacturer     string
	DeviceName       string
	OS               string
	OSVersion        string
	Platform         string
	BuildID          string
	AppVersion       string
	ScreenResolution string
	Locale           string
	Timezone         string
	Extra            map[string]string
}

const maxAttributeLength = 256

// fieldRefs maps wire names to the typed fields. Wire names are also the
// canonical keys used for hashing.
func (a *Attributes) fieldRefs() map[string]*string {
	return map[string]*string{
		"model":            &a.Model,
		"brand":            &a.Brand,
		"manufacturer":     &a.Manufacturer,
		"deviceName":       &a.DeviceName,
		"os":               &a.OS,
		"osVersion":        &a.OSVersion,
		"platform":         &a.Platform,
		"buildId":          &a.BuildID,
		"appVersion":       &a.AppVersion,
		"screenResolution": &a.ScreenResolution,
		"locale":           &a.Locale,
		"timezone":         &a.Timezone,
	}
}

// Fields returns every non-empty attribute keyed by wire name, values
// trimmed. Typed fields win over Extra entries with the same key.
func (a Attributes) Fields() map[string]string {
	out := make(map[string]string)
	for k, v := range a.Extra {
		if v = strings.TrimSpace(v); v != "" {
			out[strings.TrimSpace(k)] = v
		}
	}
	for k, p := range a.fieldRefs() {
		if v := strings.TrimSpace(*p); v != "" {
			out[k] = v
		}
	}
	return out
}

// IsEmpty reports whether no attribute carries a value.
func (a Attributes) IsEmpty() bool {
	return len(a.Fields()) == 0
}

// Canonical serializes Fields in sorted key order. The result depends only
// on the set of key/value pairs, never on the order they were supplied in.
func (a Attributes) Canonical() string {
	fields := a.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, fields[k]})
	}
	// JSON quoting keeps "a=b" + "c" distinct from "a" + "b=c".
	b, _ := json.Marshal(pairs)
	return string(b)
}

// Digest is the hex SHA-256 of Canonical.
func (a Attributes) Digest() string {
	sum := sha256.Sum256([]byte(a.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Validate rejects empty fingerprints and oversized values.
func (a Attributes) Validate() error {
	fields := a.Fields()
	if len(fields) == 0 {
		return ErrInvalidFingerprint
	}
	for k, v := range fields {
		if len(k) > maxAttributeLength || len(v) > maxAttributeLength {
			return fmt.Errorf("%w: attribute %q too long", ErrInvalidFingerprint, k)
		}
	}
	return nil
}

// UnmarshalJSON accepts a flat object. Non-string scalars are stored in
// their JSON text form; nested values are kept as compact JSON.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Attributes{}
	refs := a.fieldRefs()
	for k, msg := range raw {
		v, ok := scalarString(msg)
		if !ok {
			continue
		}
		if p, known := refs[k]; known {
			*p = v
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]string)
		}
		a.Extra[k] = v
	}
	return nil
}

// MarshalJSON emits the flat attribute object (keys sorted).
func (a Attributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Fields())
}

func (a Attributes) clone() Attributes {
	cp := a
	if a.Extra != nil {
		cp.Extra = make(map[string]string, len(a.Extra))
		for k, v := range a.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

func scalarString(msg json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	var v any
	if err := json.Unmarshal(msg, &v); err != nil || v == nil {
		return "", false
	}
	out, _ := json.Marshal(v)
	return string(out), true
}

// FromMap builds Attributes from a plain map (tests and stored JSON).
func FromMap(m map[string]string) Attributes {
	data, _ := json.Marshal(m)
	var a Attributes
	_ = a.UnmarshalJSON(data)
	return a
}
