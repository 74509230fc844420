package domain

// CacheKey addresses one class of cached result. Together with a parameter
// string it uniquely identifies a cache entry; identical logical requests
// always produce identical (key, param) pairs.
type CacheKey string

const (
	KeyPlaylists       CacheKey = "playlists"
	KeyPlaylistDetails CacheKey = "playlist_details"
	KeySong            CacheKey = "song"
	KeySongFile        CacheKey = "song_file"
	KeyCoverArt        CacheKey = "cover_art"
	KeyAlbums          CacheKey = "albums"
	KeyAlbum           CacheKey = "album"
	KeyArtists         CacheKey = "artists"
	KeyArtist          CacheKey = "artist"
	KeyGenres          CacheKey = "genres"
	KeyPlayQueue       CacheKey = "play_queue"
	KeySearch          CacheKey = "search"
	KeyIgnoredArticles CacheKey = "ignored_articles"

	// Pseudo-keys for bulk deletion
	KeyAllSongs   CacheKey = "all_songs"
	KeyEverything CacheKey = "everything"
)

func (k CacheKey) String() string { return string(k) }

// FileIngest is the Ingest payload for blob keys when a plain staging path is
// not enough. Permanent pins the file as an explicit user download; pinned
// songs report StatusPermanentlyCached and survive transient-cache clears.
type FileIngest struct {
	Path      string
	Permanent bool
}
