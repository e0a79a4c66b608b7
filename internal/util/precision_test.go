package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.005, 1.0},
		{2.676, 2.68},
		{-3.14159, -3.14},
		{-0.001, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{85, 85},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Round2(c.in), "Round2(%v)", c.in)
	}
}

type roundNested struct {
	Rate   float64
	Scores []float64
	Extra  map[string]any
	Ptr    *float64
	hidden float64
}

func TestRoundFloats(t *testing.T) {
	p := 1.23456
	v := &roundNested{
		Rate:   0.33333,
		Scores: []float64{1.111, 2.226},
		Extra: map[string]any{
			"a":    1.0 / 3,
			"n":    7,
			"deep": map[string]float64{"x": 2.0 / 3},
			"list": []any{0.125, "text", nil},
		},
		Ptr:    &p,
		hidden: 0.33333,
	}
	RoundFloats(v)

	assert.Equal(t, 0.33, v.Rate)
	assert.Equal(t, []float64{1.11, 2.23}, v.Scores)
	assert.Equal(t, 0.33, v.Extra["a"])
	assert.Equal(t, 7, v.Extra["n"])
	assert.Equal(t, map[string]float64{"x": 0.67}, v.Extra["deep"])
	assert.Equal(t, []any{0.13, "text", nil}, v.Extra["list"])
	assert.Equal(t, 1.23, *v.Ptr)
	assert.Equal(t, 0.33333, v.hidden)
}

func TestRoundFloatsStructInMap(t *testing.T) {
	type share struct{ Pct float64 }
	m := map[int]share{1: {Pct: 33.3333}}
	RoundFloats(m)
	assert.Equal(t, 33.33, m[1].Pct)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b,"))
	assert.Nil(t, SplitList(""))
	assert.Equal(t, 20, QueryInt("x", 20))
	assert.Equal(t, 3, QueryInt("3", 20))
}
