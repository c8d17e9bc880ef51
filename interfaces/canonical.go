package interfaces

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonical serialization writes sorted object keys, no whitespace, ASCII-only
// strings and a fixed float notation, so logically equal values always
// produce identical bytes. Fragment leaf hashes and content fingerprints are
// computed over this form; changing it invalidates stored Merkle roots.

const hexDigits = "0123456789abcdef"

func writeCanonicalValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case IntKind:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case FloatKind:
		s, err := formatFloat(v.f)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case StringKind:
		return writeCanonicalString(buf, v.s)
	case ListKind:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ObjectKind:
		buf.WriteByte('{')
		for i, k := range sortedKeys(v.obj) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonicalValue(buf, v.obj[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

// formatFloat prints the shortest representation that round-trips, always
// with a fraction or an exponent so the number decodes back as a float.
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite float %v", ErrInvalidRecord, f)
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, nil
}

// writeCanonicalString fails on invalid UTF-8.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string %q is not valid UTF-8", ErrInvalidRecord, s)
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r >= 0x20 && r < 0x7f:
			buf.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			writeUnicodeEscape(buf, hi)
			writeUnicodeEscape(buf, lo)
		default:
			writeUnicodeEscape(buf, r)
		}
	}
	buf.WriteByte('"')
	return nil
}

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}

// CanonicalJSON returns the canonical encoding of a fragment. This is the
// exact byte string hashed into Merkle leaves (after the "leaf:" prefix).
func (f Fragment) CanonicalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.writeCanonical(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f Fragment) writeCanonical(buf *bytes.Buffer) error {
	timestamp, err := formatFloat(f.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	weight, err := formatFloat(f.Weight)
	if err != nil {
		return fmt.Errorf("weight: %w", err)
	}

	// Keys in sorted order: domain, key, provenance, timestamp, value, weight
	buf.WriteString(`{"domain":`)
	if err := writeCanonicalString(buf, string(f.Domain)); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	buf.WriteString(`,"key":`)
	if err := writeCanonicalString(buf, f.Key); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	buf.WriteString(`,"provenance":`)
	if err := writeCanonicalString(buf, f.Provenance); err != nil {
		return fmt.Errorf("provenance of %q: %w", f.Key, err)
	}
	buf.WriteString(`,"timestamp":`)
	buf.WriteString(timestamp)
	buf.WriteString(`,"value":`)
	if err := writeCanonicalValue(buf, f.Value); err != nil {
		return fmt.Errorf("value of %q: %w", f.Key, err)
	}
	buf.WriteString(`,"weight":`)
	buf.WriteString(weight)
	buf.WriteByte('}')
	return nil
}

// CanonicalJSON returns the canonical encoding of the whole soul. The codec
// compresses and encrypts exactly these bytes.
func (s *Soul) CanonicalJSON() ([]byte, error) {
	createdAt, err := formatFloat(s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}

	var buf bytes.Buffer
	// Keys in sorted order: agent_id, created_at, fragments, metadata, model_origin, version
	buf.WriteString(`{"agent_id":`)
	if err := writeCanonicalString(&buf, s.AgentID); err != nil {
		return nil, fmt.Errorf("agent_id: %w", err)
	}
	buf.WriteString(`,"created_at":`)
	buf.WriteString(createdAt)
	buf.WriteString(`,"fragments":[`)
	for i, f := range s.Fragments {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := f.writeCanonical(&buf); err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
	}
	buf.WriteString(`],"metadata":{`)
	for i, k := range sortedKeys(s.Metadata) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(&buf, k); err != nil {
			return nil, fmt.Errorf("metadata key: %w", err)
		}
		buf.WriteByte(':')
		if err := writeCanonicalValue(&buf, s.Metadata[k]); err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
	}
	buf.WriteString(`},"model_origin":`)
	if err := writeCanonicalString(&buf, s.ModelOrigin); err != nil {
		return nil, fmt.Errorf("model_origin: %w", err)
	}
	buf.WriteString(`,"version":`)
	buf.WriteString(strconv.Itoa(s.Version))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
