package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genLSN() gopter.Gen {
	return gopter.CombineGens(
		gen.UInt32Range(0, 1<<20),
		gen.UInt64Range(0, 1<<40),
	).Map(func(v []interface{}) LSN {
		return NewLSN(v[0].(uint32), v[1].(uint64))
	})
}

func TestLSNOrderingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("compare is antisymmetric", prop.ForAll(
		func(a, b LSN) bool {
			return a.Compare(b) == -b.Compare(a)
		},
		genLSN(), genLSN(),
	))

	properties.Property("view dominates sequence", prop.ForAll(
		func(a, b LSN) bool {
			if a.ViewID == b.ViewID {
				return true
			}
			return a.Less(b) == (a.ViewID < b.ViewID)
		},
		genLSN(), genLSN(),
	))

	properties.Property("next is a successor and greater", prop.ForAll(
		func(a LSN) bool {
			return a.IsSuccessor(a.Next()) && a.Less(a.Next())
		},
		genLSN(),
	))

	properties.Property("next view is a successor and greater", prop.ForAll(
		func(a LSN) bool {
			return a.IsSuccessor(a.NextView()) && a.Less(a.NextView())
		},
		genLSN(),
	))

	properties.Property("string round trip", prop.ForAll(
		func(a LSN) bool {
			parsed, err := ParseLSN(a.String())
			return err == nil && parsed == a
		},
		genLSN(),
	))

	properties.TestingRun(t)
}

func TestIsSuccessor(t *testing.T) {
	cases := []struct {
		prev, next LSN
		want       bool
	}{
		{NewLSN(1, 5), NewLSN(1, 6), true},
		{NewLSN(1, 5), NewLSN(1, 7), false},
		{NewLSN(1, 5), NewLSN(2, 1), true},
		{NewLSN(1, 5), NewLSN(2, 2), false},
		{NewLSN(1, 5), NewLSN(3, 1), false},
		{NewLSN(2, 0), NewLSN(2, 1), true},
		{NewLSN(1, 5), NewLSN(1, 5), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.prev.IsSuccessor(tc.next), "%s -> %s", tc.prev, tc.next)
	}
}

func TestRange(t *testing.T) {
	var nilRange *Range
	assert.True(t, nilRange.Empty())
	assert.True(t, NewRange(NewLSN(1, 4), NewLSN(1, 4)).Empty())
	assert.True(t, NewRange(NewLSN(2, 1), NewLSN(1, 9)).Empty())

	r := NewRange(NewLSN(1, 4), NewLSN(2, 3))
	require.False(t, r.Empty())
	assert.True(t, r.Contains(NewLSN(1, 4)))
	assert.True(t, r.Contains(NewLSN(1, 100)))
	assert.True(t, r.Contains(NewLSN(2, 2)))
	assert.False(t, r.Contains(NewLSN(2, 3)))
	assert.False(t, r.Contains(NewLSN(1, 3)))
	assert.Equal(t, NewLSN(2, 2), r.Last())
	assert.Equal(t, "[1:4, 2:3)", r.String())
}

func TestParseLSNErrors(t *testing.T) {
	for _, in := range []string{"", "1", "a:1", "1:b", "99999999999:1"} {
		_, err := ParseLSN(in)
		assert.Error(t, err, in)
	}
}
