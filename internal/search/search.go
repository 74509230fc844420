// Package search provides local fuzzy matching over cached entities. It backs
// the caching adapter's half of a search: fast, offline, ranked results the UI
// can show while the server round trip is still in flight.
package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"
)

// Kind identifies the entity type behind an index item
type Kind string

const (
	KindSong     Kind = "song"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
	KindPlaylist Kind = "playlist"
)

// Item is one searchable entry
type Item struct {
	Kind  Kind
	ID    string
	Title string
	Ref   any // The underlying entity
}

// Match is an index hit with its score (higher = better)
type Match struct {
	Item
	Score          int
	MatchedIndexes []int // Character positions that matched (for highlighting)
}

// Index implements sahilm/fuzzy.Source for zero-allocation matching.
// Lowercase titles are pre-computed at add time.
type Index struct {
	items       []Item
	lowerTitles []string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{}
}

// String returns the lowercase title at index i (implements fuzzy.Source)
func (ix *Index) String(i int) string { return ix.lowerTitles[i] }

// Len returns the number of items (implements fuzzy.Source)
func (ix *Index) Len() int { return len(ix.items) }

// Add appends items to the index
func (ix *Index) Add(items ...Item) {
	for _, item := range items {
		ix.items = append(ix.items, item)
		ix.lowerTitles = append(ix.lowerTitles, strings.ToLower(item.Title))
	}
}

// Query fuzzy-matches the query against the index and returns hits best-first.
// A limit <= 0 returns everything.
func (ix *Index) Query(query string, limit int) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || ix.Len() == 0 {
		return nil
	}

	found := sahilm.FindFrom(query, ix)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	matches := make([]Match, len(found))
	for i, f := range found {
		matches[i] = Match{
			Item:           ix.items[f.Index],
			Score:          f.Score,
			MatchedIndexes: f.MatchedIndexes,
		}
	}
	return matches
}

// Rank orders items by fuzzy match quality against the query, best first.
// It keeps every item so server-provided results are reordered, not filtered.
func Rank[T any](query string, items []T, title func(T) string) []T {
	if query == "" || len(items) <= 1 {
		return items
	}

	query = strings.ToLower(query)

	type ranked struct {
		item  T
		score int
	}

	out := make([]ranked, len(items))
	for i, item := range items {
		out[i] = ranked{item: item, score: matchScore(strings.ToLower(title(item)), query)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score < out[j].score
	})

	results := make([]T, len(items))
	for i, r := range out {
		results[i] = r.item
	}
	return results
}

// matchScore ranks a single title against the query (lower = better)
func matchScore(title, query string) int {
	if title == query {
		return 0
	}
	if strings.HasPrefix(title, query) {
		return 10
	}
	if strings.Contains(title, query) {
		return 50
	}
	return 100 + fuzzy.LevenshteinDistance(query, title)
}
