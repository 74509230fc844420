package domain

import (
	"fmt"
	"time"
)

// Song represents a single playable track
type Song struct {
	ID         string        // Server-specific unique identifier
	Title      string        // Display title
	Album      string        // Album name
	AlbumID    string        // Album ID (may be empty for orphan tracks)
	Artist     string        // Artist name (may be known only as a tag)
	ArtistID   string        // Artist ID (may be empty, see Artist)
	Genre      string        // Genre name
	Track      int           // Track number within the disc
	Disc       int           // Disc number
	Year       int           // Release year
	Duration   time.Duration // Total runtime
	Size       int64         // File size in bytes (0 if unknown)
	Suffix     string        // File extension reported by the server ("mp3", "flac")
	BitRate    int           // Bitrate in kbps
	CoverArtID string        // Cover art identifier (empty if none)
	Path       string        // Server-side library path
	PlayCount  int           // Server-reported play count
	CreatedAt  int64         // Unix timestamp when added to the library
}

// FormattedDuration returns the duration in a human-readable format
func (s Song) FormattedDuration() string {
	mins := int(s.Duration.Minutes())
	secs := int(s.Duration.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// Playlist represents a user playlist (summary row, no songs)
type Playlist struct {
	ID         string        // Playlist identifier
	Name       string        // Display name
	Comment    string        // User comment
	Owner      string        // Owning username
	Public     bool          // Visible to other users
	SongCount  int           // Number of songs
	Duration   time.Duration // Total duration of all songs
	CoverArtID string        // Cover art identifier (empty if none)
	CreatedAt  int64         // Unix timestamp when created
	ChangedAt  int64         // Unix timestamp when last modified
}

// PlaylistDetails is a playlist with its full song list
type PlaylistDetails struct {
	Playlist
	Songs []Song
}

// PlaylistUpdate describes a partial playlist mutation.
// Nil fields are left unchanged on the server.
type PlaylistUpdate struct {
	Name          *string
	Comment       *string
	Public        *bool
	SongIDs       []string // Replaces the song list when non-nil
	AppendSongIDs []string // Appended after any replacement
}

// Album represents an album (summary row, no songs)
type Album struct {
	ID         string        // Server-specific unique identifier
	Name       string        // Display name
	Artist     string        // Artist name
	ArtistID   string        // Artist ID (may be empty)
	Genre      string        // Genre name
	Year       int           // Release year
	SongCount  int           // Number of songs
	Duration   time.Duration // Total duration
	CoverArtID string        // Cover art identifier (empty if none)
	CreatedAt  int64         // Unix timestamp when added to the library
}

// AlbumWithSongs is an album with its full song list
type AlbumWithSongs struct {
	Album
	Songs []Song
}

// Artist represents an artist. The ID may legitimately be empty when the
// artist is known only as a tag on a song; callers must tolerate that.
type Artist struct {
	ID         string  // Server identifier, possibly empty
	Name       string  // Display name
	AlbumCount int     // Number of albums
	CoverArtID string  // Artist image identifier (empty if none)
	Albums     []Album // Populated only on detail fetches
}

// Genre represents a tag genre with usage counts
type Genre struct {
	Name       string
	SongCount  int
	AlbumCount int
}

// PlayQueue is the server-persisted play queue state
type PlayQueue struct {
	SongIDs      []string
	CurrentIndex int           // Index into SongIDs (-1 if none)
	Position     time.Duration // Playback position within the current song
	ChangedBy    string        // Client that last saved the queue
	ChangedAt    int64         // Unix timestamp of the last save
}

// AlbumQueryType selects how an album listing is generated
type AlbumQueryType int

const (
	AlbumQueryRandom AlbumQueryType = iota
	AlbumQueryNewest
	AlbumQueryFrequent
	AlbumQueryRecent
	AlbumQueryStarred
	AlbumQueryAlphabetical
	AlbumQueryAlphabeticalByArtist
	AlbumQueryByYear
	AlbumQueryByGenre
)

// String returns the Subsonic list type name for the query type
func (t AlbumQueryType) String() string {
	switch t {
	case AlbumQueryRandom:
		return "random"
	case AlbumQueryNewest:
		return "newest"
	case AlbumQueryFrequent:
		return "frequent"
	case AlbumQueryRecent:
		return "recent"
	case AlbumQueryStarred:
		return "starred"
	case AlbumQueryAlphabetical:
		return "alphabeticalByName"
	case AlbumQueryAlphabeticalByArtist:
		return "alphabeticalByArtist"
	case AlbumQueryByYear:
		return "byYear"
	case AlbumQueryByGenre:
		return "byGenre"
	default:
		return "unknown"
	}
}

// AlbumQuery addresses one album listing. Its Hash is used as the cache
// parameter so identical logical queries share a cache entry.
type AlbumQuery struct {
	Type     AlbumQueryType
	FromYear int    // ByYear only
	ToYear   int    // ByYear only
	Genre    string // ByGenre only
}

// Hash returns a stable cache parameter for the query
func (q AlbumQuery) Hash() string {
	return fmt.Sprintf("%s:%d:%d:%s", q.Type, q.FromYear, q.ToYear, q.Genre)
}

// SearchResult holds ranked results across all entity types.
// Results accumulate across adapters via Update.
type SearchResult struct {
	Query     string
	Artists   []Artist
	Albums    []Album
	Songs     []Song
	Playlists []Playlist
}

// Update merges another result set into this one, deduplicating by ID.
// Entries from other win on conflict (they are assumed fresher).
func (r *SearchResult) Update(other *SearchResult) {
	if other == nil {
		return
	}
	r.Artists = mergeByID(r.Artists, other.Artists, func(a Artist) string { return a.ID + "\x00" + a.Name })
	r.Albums = mergeByID(r.Albums, other.Albums, func(a Album) string { return a.ID })
	r.Songs = mergeByID(r.Songs, other.Songs, func(s Song) string { return s.ID })
	r.Playlists = mergeByID(r.Playlists, other.Playlists, func(p Playlist) string { return p.ID })
}

func mergeByID[T any](dst, src []T, id func(T) string) []T {
	seen := make(map[string]int, len(dst))
	for i, v := range dst {
		seen[id(v)] = i
	}
	for _, v := range src {
		if i, ok := seen[id(v)]; ok {
			dst[i] = v
			continue
		}
		seen[id(v)] = len(dst)
		dst = append(dst, v)
	}
	return dst
}
