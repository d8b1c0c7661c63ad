package intpack

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Pack32_outlier(t *testing.T) {
	values := []int32{10, 10, 10, 50, 10}
	data := Pack32(values)

	// common delta 0, then 2 code bytes, then literals 10, 40, -40
	require.Equal(t, []byte{
		0, 0, 0, 0,
		0x41, 0x01,
		10, 40, 0xD8,
	}, data)

	out, err := Unpack32(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, out)
}

func Test_Pack32_roundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	random := make([]int32, 1000)
	for i := range random {
		random[i] = rnd.Int31() - math.MaxInt32/2
	}
	ascending := make([]int32, 1000)
	for i := range ascending {
		ascending[i] = int32(i * 3)
	}
	distinct := make([]int32, 200)
	for i := range distinct {
		distinct[i] = int32(i * i * 97)
	}

	cases := map[string][]int32{
		"empty":     {},
		"single":    {-7},
		"negative":  {-1, -2, -300, -70000, 5},
		"extremes":  {math.MinInt32, math.MaxInt32, 0, math.MinInt32, -1},
		"sentinel":  {0, 1, 2, -1, 3, 4, -1},
		"ascending": ascending,
		"distinct":  distinct,
		"random":    random,
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			data := Pack32(values)
			require.LessOrEqual(t, len(data), EncodedSize(len(values), 32))
			out, err := Unpack32(data, len(values))
			require.NoError(t, err)
			require.Equal(t, values, out)
		})
	}
}

func Test_Pack64_roundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	random := make([]int64, 500)
	for i := range random {
		random[i] = rnd.Int63() - math.MaxInt64/2
	}
	offsets := make([]int64, 300)
	for i := range offsets {
		offsets[i] = int64(88 + i*24)
	}

	cases := map[string][]int64{
		"empty":    {},
		"single":   {1 << 40},
		"extremes": {math.MinInt64, math.MaxInt64, 0, -1},
		"widths":   {0, 100, 40000, 3000000000, -3000000000, 1 << 62},
		"offsets":  offsets,
		"random":   random,
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			data := Pack64(values)
			require.LessOrEqual(t, len(data), EncodedSize(len(values), 64))
			out, err := Unpack64(data, len(values))
			require.NoError(t, err)
			require.Equal(t, values, out)
		})
	}
}

func Test_Pack64_widths(t *testing.T) {
	// deltas 0, 0, 300 (2 bytes), 69700 (4 bytes), 2^40 (8 bytes)
	values := []int64{0, 0, 300, 70000, 70000 + 1<<40}
	data := Pack64(values)
	require.Len(t, data, 8+2+2+4+8)
	require.EqualValues(t, 0x01<<4|0x02<<6, data[8])
	require.EqualValues(t, 0x03, data[9])
}

func Test_mostCommon_tieBreak(t *testing.T) {
	require.EqualValues(t, -5, mostCommon([]int32{3, -5, 3, -5, 9}))
	require.EqualValues(t, 1, mostCommon([]int64{4, 1, 2}))
	require.EqualValues(t, 2, mostCommon([]int32{2, 2, 1, 0}))
}

func Test_Unpack32_truncated(t *testing.T) {
	values := []int32{1, 1000, -100000, 7}
	data := Pack32(values)

	for n := 0; n < len(data); n++ {
		_, err := Unpack32(data[:n], len(values))
		require.ErrorIs(t, err, ErrTruncated, "length %d", n)
	}

	_, err := Unpack32(data, -1)
	require.Error(t, err)
}

func Test_Unpack32_zeroCount(t *testing.T) {
	out, err := Unpack32(nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 0)
}
