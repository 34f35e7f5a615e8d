// Package canonicalize provides the single canonical-hashing boundary
// used throughout the runtime: the TRACE event hash (§4.3), the atlas
// content hash (§4.1), and the resolution cache key (§4.6) are all
// computed by calling into this package, never by ad hoc json.Marshal.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JSON returns the RFC 8785 (JSON Canonicalization Scheme) canonical
// encoding of v: object keys sorted, no insignificant whitespace,
// numbers in shortest lossless form, strings escaped minimally and
// normalized to Unicode NFC.
//
// NFC normalization closes an ambiguity the teacher lineage's own
// canonicalizer left open (two byte-distinct but NFC-equivalent
// strings must hash identically, or a content_hash check silently
// breaks on editor-introduced Unicode variation in pack text).
func JSON(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	normalized, err := normalizeStrings(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: normalize: %w", err)
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of v's canonical JSON encoding.
func Hash(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes (used for
// context-block content hashing, where the content is already bytes
// and must not be re-encoded as JSON).
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeStrings decodes generic JSON, NFC-normalizes every string
// leaf, and re-encodes. Numbers round-trip via json.Number so large
// integers and exact decimals are not perturbed by float64 rounding.
func normalizeStrings(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return json.Marshal(normalizeValue(generic))
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
