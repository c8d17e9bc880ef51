package interfaces

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFloat(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{1, "1.0"},
		{-2, "-2.0"},
		{0.5, "0.5"},
		{0.1, "0.1"},
		{1718000000.25, "1718000000.25"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{1.5e-7, "1.5e-07"},
		{1e15, "1000000000000000.0"},
		{1e16, "1e+16"},
		{-3.25e20, "-3.25e+20"},
	}

	for _, tc := range testCases {
		got, err := formatFloat(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "formatting %v", tc.in)
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := formatFloat(bad)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}
}

func TestCanonicalValue(t *testing.T) {
	testCases := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null(), `null`},
		{"bool", Bool(true), `true`},
		{"int", Int(-42), `-42`},
		{"float", Float(42), `42.0`},
		{"string escapes", String("a\"b\\c\nd\te"), `"a\"b\\c\nd\te"`},
		{"control", String("\x01\x7f"), `"\u0001\u007f"`},
		{"non-ascii", String("Zürich"), `"Z\u00fcrich"`},
		{"astral", String("😀"), `"\ud83d\ude00"`},
		{"html untouched", String("<a&b>"), `"<a&b>"`},
		{"list", List(Int(1), Float(1), String("x")), `[1,1.0,"x"]`},
		{"sorted object", Object(map[string]Value{"b": Int(2), "a": Int(1), "B": Null()}), `{"B":null,"a":1,"b":2}`},
		{"nested", Object(map[string]Value{"z": List(Object(map[string]Value{"y": Bool(false), "x": Bool(true)}))}), `{"z":[{"x":true,"y":false}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestFragmentCanonicalJSON(t *testing.T) {
	f := Fragment{
		Domain:     PersonalityDomain,
		Key:        "tone",
		Value:      String("dry"),
		Weight:     1,
		Timestamp:  1718000000.5,
		Provenance: "",
	}

	got, err := f.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"domain":"personality","key":"tone","provenance":"","timestamp":1718000000.5,"value":"dry","weight":1.0}`, string(got))

	f.Value = Float(math.Inf(1))
	_, err = f.CanonicalJSON()
	assert.ErrorIs(t, err, ErrInvalidRecord)

	// Invalid UTF-8 is refused, never replaced with U+FFFD
	for _, v := range []Value{String("a\xffb"), String("\xfe"), Object(map[string]Value{"\xff": Int(1)})} {
		f.Value = v
		_, err = f.CanonicalJSON()
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}
	f.Value = String("\ufffd")
	got, err = f.CanonicalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(got), `"value":"\ufffd"`)
}

func TestSoulCanonicalJSON(t *testing.T) {
	soul := &Soul{
		AgentID:     "agent",
		Version:     3,
		CreatedAt:   10,
		ModelOrigin: "m",
		Metadata:    map[string]Value{"merkle_root": String("abc"), "count": Int(2)},
		Fragments: []Fragment{
			{Domain: MemoriesDomain, Key: "k", Value: Int(1), Weight: 0.8, Timestamp: 11},
		},
	}

	got, err := soul.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"agent_id":"agent","created_at":10.0,"fragments":[{"domain":"memories","key":"k","provenance":"","timestamp":11.0,"value":1,"weight":0.8}],"metadata":{"count":2,"merkle_root":"abc"},"model_origin":"m","version":3}`,
		string(got))

	empty := &Soul{AgentID: "x", Version: 1}
	got, err = empty.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"agent_id":"x","created_at":0.0,"fragments":[],"metadata":{},"model_origin":"","version":1}`, string(got))
}

func TestCanonicalJSONIsStable(t *testing.T) {
	build := func() *Soul {
		s := &Soul{AgentID: "a", Version: 1, CreatedAt: 1}
		s.Metadata = map[string]Value{}
		for _, k := range []string{"q", "w", "e", "r", "t", "y"} {
			s.Metadata[k] = String(k)
		}
		return s
	}

	first, err := build().CanonicalJSON()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := build().CanonicalJSON()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
