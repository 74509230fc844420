package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexQuery(t *testing.T) {
	ix := NewIndex()
	ix.Add(
		Item{Kind: KindSong, ID: "s1", Title: "Heart of Gold"},
		Item{Kind: KindSong, ID: "s2", Title: "Old Man"},
		Item{Kind: KindAlbum, ID: "a1", Title: "Harvest"},
	)

	matches := ix.Query("heart", 0)
	require.NotEmpty(t, matches)
	assert.Equal(t, "s1", matches[0].ID)
}

func TestIndexQueryEmpty(t *testing.T) {
	ix := NewIndex()
	ix.Add(Item{Kind: KindSong, ID: "s1", Title: "Anything"})

	assert.Nil(t, ix.Query("", 0))
	assert.Nil(t, ix.Query("   ", 0))
	assert.Nil(t, NewIndex().Query("x", 0))
}

func TestIndexQueryLimit(t *testing.T) {
	ix := NewIndex()
	ix.Add(
		Item{Kind: KindSong, ID: "1", Title: "gold one"},
		Item{Kind: KindSong, ID: "2", Title: "gold two"},
		Item{Kind: KindSong, ID: "3", Title: "gold three"},
	)

	assert.Len(t, ix.Query("gold", 2), 2)
}

func TestRankPrefersExactThenPrefix(t *testing.T) {
	titles := []string{"Goldfinger", "Gold", "Heart of Gold", "Completely Unrelated"}

	ranked := Rank("gold", titles, func(s string) string { return s })
	require.Len(t, ranked, 4, "Rank reorders, never filters")
	assert.Equal(t, "Gold", ranked[0])
	assert.Equal(t, "Goldfinger", ranked[1])
	assert.Equal(t, "Heart of Gold", ranked[2])
	assert.Equal(t, "Completely Unrelated", ranked[3])
}
