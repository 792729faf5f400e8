package daterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func rangeStrings(rs []Range) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		g    Granularity
		want []string
	}{
		{
			name: "months with partial ends",
			from: "2023-01-15",
			to:   "2023-08-10",
			g:    Month,
			want: []string{
				"2023-01-15..2023-01-31",
				"2023-02-01..2023-02-28",
				"2023-03-01..2023-03-31",
				"2023-04-01..2023-04-30",
				"2023-05-01..2023-05-31",
				"2023-06-01..2023-06-30",
				"2023-07-01..2023-07-31",
				"2023-08-01..2023-08-10",
			},
		},
		{
			name: "single day",
			from: "2024-02-29",
			to:   "2024-02-29",
			g:    Month,
			want: []string{"2024-02-29..2024-02-29"},
		},
		{
			name: "quarters across a year boundary",
			from: "2023-11-20",
			to:   "2024-05-02",
			g:    Quarter,
			want: []string{
				"2023-11-20..2023-12-31",
				"2024-01-01..2024-03-31",
				"2024-04-01..2024-05-02",
			},
		},
		{
			name: "leap february",
			from: "2024-02-01",
			to:   "2024-03-01",
			g:    Month,
			want: []string{"2024-02-01..2024-02-29", "2024-03-01..2024-03-01"},
		},
		{
			name: "range inside one quarter",
			from: "2024-07-04",
			to:   "2024-09-30",
			g:    Quarter,
			want: []string{"2024-07-04..2024-09-30"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chunk(mustDate(t, tt.from), mustDate(t, tt.to), tt.g)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rangeStrings(got))
		})
	}
}

func TestChunkCoversRangeExactly(t *testing.T) {
	from := mustDate(t, "2021-03-17")
	to := mustDate(t, "2024-10-03")

	for _, g := range []Granularity{Month, Quarter} {
		chunks, err := Chunk(from, to, g)
		require.NoError(t, err)

		assert.True(t, chunks[0].Start.Equal(from))
		assert.True(t, chunks[len(chunks)-1].End.Equal(to))

		total := 0
		for i, c := range chunks {
			assert.False(t, c.End.Before(c.Start))
			total += c.Days()
			if i > 0 {
				assert.True(t, c.Start.Equal(chunks[i-1].End.AddDate(0, 0, 1)), "gap or overlap before %s", c)
				assert.Equal(t, 1, c.Start.Day(), "interior chunk %s not aligned", c)
			}
		}
		assert.Equal(t, Range{Start: from, End: to}.Days(), total)
	}
}

func TestChunkErrors(t *testing.T) {
	_, err := Chunk(mustDate(t, "2024-02-01"), mustDate(t, "2024-01-01"), Month)
	assert.Error(t, err)

	_, err = Chunk(mustDate(t, "2024-01-01"), mustDate(t, "2024-02-01"), Granularity("week"))
	assert.Error(t, err)

	_, err = ParseDate("01/02/2024")
	assert.Error(t, err)
}

func TestChunkIgnoresTimeOfDay(t *testing.T) {
	from := time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 1, 0, 0, time.UTC)

	got, err := Chunk(from, to, Month)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31..2024-01-31", "2024-02-01..2024-02-01"}, rangeStrings(got))
}

func TestDay(t *testing.T) {
	r := Day(time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, r.Days())
	assert.Equal(t, "2024-06-01..2024-06-01", r.String())
}

func TestChunkHalfMonth(t *testing.T) {
	got, err := Chunk(mustDate(t, "2024-01-10"), mustDate(t, "2024-02-20"), HalfMonth)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-10..2024-01-15",
		"2024-01-16..2024-01-31",
		"2024-02-01..2024-02-15",
		"2024-02-16..2024-02-20",
	}, rangeStrings(got))

	for _, r := range got {
		assert.LessOrEqual(t, r.Days(), 16)
	}
}
