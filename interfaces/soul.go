package interfaces

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// Domain classifies a fragment of identity content.
type Domain string

const (
	PersonalityDomain Domain = "personality"
	ValuesDomain      Domain = "values"
	MemoriesDomain    Domain = "memories"
	BehaviorsDomain   Domain = "behaviors"
	MetaDomain        Domain = "meta"
)

// Validate checks that the domain is one of the known domains.
func (d Domain) Validate() error {
	switch d {
	case PersonalityDomain, ValuesDomain, MemoriesDomain, BehaviorsDomain, MetaDomain:
		return nil
	default:
		return fmt.Errorf("unknown fragment domain %q", string(d))
	}
}

// MerkleRootKey is the metadata entry under which the Merkle root of the
// fragment list is recorded before encoding.
const MerkleRootKey = "merkle_root"

// Fragment is one atomic, weighted, timestamped unit of identity content.
// Fragments are not edited in place once appended to a Soul.
type Fragment struct {
	Domain     Domain
	Key        string
	Value      Value
	Weight     float64 // importance in [0, 1]
	Timestamp  float64 // unix seconds
	Provenance string  // originating model or session
}

// Equal reports field-for-field equality.
func (f Fragment) Equal(other Fragment) bool {
	return f.Domain == other.Domain &&
		f.Key == other.Key &&
		f.Value.Equal(other.Value) &&
		f.Weight == other.Weight &&
		f.Timestamp == other.Timestamp &&
		f.Provenance == other.Provenance
}

// Validate checks the fragment invariants.
func (f Fragment) Validate() error {
	if err := f.Domain.Validate(); err != nil {
		return err
	}
	if math.IsNaN(f.Weight) || f.Weight < 0 || f.Weight > 1 {
		return fmt.Errorf("weight %v of %q outside [0, 1]", f.Weight, f.Key)
	}
	if math.IsNaN(f.Timestamp) || math.IsInf(f.Timestamp, 0) {
		return fmt.Errorf("non-finite timestamp on %q", f.Key)
	}
	if !utf8.ValidString(f.Key) {
		return fmt.Errorf("key %q is not valid UTF-8", f.Key)
	}
	if !utf8.ValidString(f.Provenance) {
		return fmt.Errorf("provenance of %q is not valid UTF-8", f.Key)
	}
	if err := f.Value.validateText(); err != nil {
		return fmt.Errorf("value of %q: %w", f.Key, err)
	}
	return nil
}

// Soul is the complete identity record of an agent: an ordered list of
// fragments plus provenance metadata. Fragment order is significant; it
// determines the canonical encoding and the Merkle leaf indices.
type Soul struct {
	AgentID     string
	Version     int
	Fragments   []Fragment
	CreatedAt   float64 // unix seconds
	ModelOrigin string
	Metadata    map[string]Value
}

// FragmentOption customizes a fragment appended through the Soul builders.
type FragmentOption func(*Fragment)

// WithWeight overrides the fragment weight.
func WithWeight(w float64) FragmentOption {
	return func(f *Fragment) { f.Weight = w }
}

// WithTimestamp overrides the fragment timestamp.
func WithTimestamp(ts float64) FragmentOption {
	return func(f *Fragment) { f.Timestamp = ts }
}

// WithProvenance records where the fragment came from.
func WithProvenance(p string) FragmentOption {
	return func(f *Fragment) { f.Provenance = p }
}

// UnixSeconds converts a time into fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// NewSoul creates an empty version 1 soul stamped with the current time.
func NewSoul(agentID string) *Soul {
	return &Soul{
		AgentID:   agentID,
		Version:   1,
		CreatedAt: UnixSeconds(time.Now()),
		Metadata:  make(map[string]Value),
	}
}

// Add appends a fragment with weight 1.0 and the current timestamp unless
// overridden by opts. It returns the soul for chaining.
func (s *Soul) Add(domain Domain, key string, value Value, opts ...FragmentOption) *Soul {
	f := Fragment{
		Domain:    domain,
		Key:       key,
		Value:     value,
		Weight:    1.0,
		Timestamp: UnixSeconds(time.Now()),
	}
	for _, opt := range opts {
		opt(&f)
	}
	s.Fragments = append(s.Fragments, f)
	return s
}

// Personality appends a personality trait.
func (s *Soul) Personality(key string, value Value, opts ...FragmentOption) *Soul {
	return s.Add(PersonalityDomain, key, value, opts...)
}

// Values appends an entry of the value hierarchy.
func (s *Soul) Values(key string, value Value, opts ...FragmentOption) *Soul {
	return s.Add(ValuesDomain, key, value, opts...)
}

// Memory appends an episodic memory, weighted 0.8 by default.
func (s *Soul) Memory(key string, value Value, opts ...FragmentOption) *Soul {
	return s.Add(MemoriesDomain, key, value, append([]FragmentOption{WithWeight(0.8)}, opts...)...)
}

// Behavior appends a behavioral pattern, weighted 0.9 by default.
func (s *Soul) Behavior(key string, value Value, opts ...FragmentOption) *Soul {
	return s.Add(BehaviorsDomain, key, value, append([]FragmentOption{WithWeight(0.9)}, opts...)...)
}

// Validate checks the record invariants.
func (s *Soul) Validate() error {
	if s.AgentID == "" {
		return errors.New("agent_id must not be empty")
	}
	if s.Version < 1 {
		return fmt.Errorf("version %d must be at least 1", s.Version)
	}
	if math.IsNaN(s.CreatedAt) || math.IsInf(s.CreatedAt, 0) {
		return errors.New("non-finite created_at")
	}
	if !utf8.ValidString(s.AgentID) {
		return errors.New("agent_id is not valid UTF-8")
	}
	if !utf8.ValidString(s.ModelOrigin) {
		return errors.New("model_origin is not valid UTF-8")
	}
	for k, v := range s.Metadata {
		if !utf8.ValidString(k) {
			return fmt.Errorf("metadata key %q is not valid UTF-8", k)
		}
		if err := v.validateText(); err != nil {
			return fmt.Errorf("metadata %q: %w", k, err)
		}
	}
	for i, f := range s.Fragments {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("fragment %d: %w", i, err)
		}
	}
	return nil
}

// MerkleRoot returns the root recorded in metadata, if any.
func (s *Soul) MerkleRoot() (string, bool) {
	v, ok := s.Metadata[MerkleRootKey]
	if !ok {
		return "", false
	}
	root, ok := v.AsString()
	return root, ok && root != ""
}

// SetMetadata records a metadata entry, allocating the map if needed.
func (s *Soul) SetMetadata(key string, v Value) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]Value)
	}
	s.Metadata[key] = v
}

// Clone returns a copy that shares no slices or maps with s.
func (s *Soul) Clone() *Soul {
	cp := *s
	cp.Fragments = append([]Fragment(nil), s.Fragments...)
	cp.Metadata = make(map[string]Value, len(s.Metadata))
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Equal reports field-for-field equality, including fragment order. A nil
// and an empty metadata map are equal.
func (s *Soul) Equal(other *Soul) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.AgentID != other.AgentID ||
		s.Version != other.Version ||
		s.CreatedAt != other.CreatedAt ||
		s.ModelOrigin != other.ModelOrigin ||
		len(s.Fragments) != len(other.Fragments) ||
		len(s.Metadata) != len(other.Metadata) {
		return false
	}
	for i := range s.Fragments {
		if !s.Fragments[i].Equal(other.Fragments[i]) {
			return false
		}
	}
	for k, v := range s.Metadata {
		o, ok := other.Metadata[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

type fragmentWire struct {
	Domain     *string  `json:"domain"`
	Key        *string  `json:"key"`
	Value      Value    `json:"value"`
	Weight     *float64 `json:"weight"`
	Timestamp  float64  `json:"timestamp"`
	Provenance string   `json:"provenance"`
}

type soulWire struct {
	AgentID     string           `json:"agent_id"`
	Version     *int             `json:"version"`
	Fragments   []fragmentWire   `json:"fragments"`
	CreatedAt   float64          `json:"created_at"`
	ModelOrigin string           `json:"model_origin"`
	Metadata    map[string]Value `json:"metadata"`
}

// ParseSoul rebuilds a soul from its JSON form. Missing optional fields take
// their defaults (version 1, weight 1.0); structural problems and invariant
// violations are reported as ErrMalformedContent.
func ParseSoul(data []byte) (*Soul, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w soulWire
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	s := &Soul{
		AgentID:     w.AgentID,
		Version:     1,
		Fragments:   make([]Fragment, 0, len(w.Fragments)),
		CreatedAt:   w.CreatedAt,
		ModelOrigin: w.ModelOrigin,
		Metadata:    w.Metadata,
	}
	if w.Version != nil {
		s.Version = *w.Version
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]Value)
	}

	for i, fw := range w.Fragments {
		if fw.Domain == nil || fw.Key == nil {
			return nil, fmt.Errorf("%w: fragment %d lacks domain or key", ErrMalformedContent, i)
		}
		f := Fragment{
			Domain:     Domain(*fw.Domain),
			Key:        *fw.Key,
			Value:      fw.Value,
			Weight:     1.0,
			Timestamp:  fw.Timestamp,
			Provenance: fw.Provenance,
		}
		if fw.Weight != nil {
			f.Weight = *fw.Weight
		}
		s.Fragments = append(s.Fragments, f)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return s, nil
}
