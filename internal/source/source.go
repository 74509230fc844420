// Package source defines the uniform adapter interface over the backing data
// sources: the remote ground-truth service and the local cache. The
// orchestrator only ever talks to these interfaces.
package source

import (
	"context"

	"github.com/mmcdole/sonata/internal/domain"
)

// Source is the uniform interface every backend implements. Operations that
// the adapter does not support (per Capabilities) return
// domain.ErrNotSupported; callers should branch on the capability set instead
// of relying on that.
type Source interface {
	// CanServiceRequests reports whether the adapter is currently
	// reachable/usable at all. If false, none of its operations should be
	// attempted.
	CanServiceRequests() bool

	// Capabilities returns the operations this adapter supports
	Capabilities() domain.Capabilities

	// IsNetworked reports whether operations hit the network. Offline mode
	// only degrades networked adapters.
	IsNetworked() bool

	// SupportedSchemes lists the URI schemes GetSongURI/GetCoverArtURI can
	// produce ("https", "http", "file")
	SupportedSchemes() []string

	// Shutdown releases held resources. Safe to call once, synchronous,
	// never panics.
	Shutdown()

	GetPlaylists(ctx context.Context) ([]domain.Playlist, error)
	GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.PlaylistDetails, error)
	CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.PlaylistDetails, error)
	UpdatePlaylist(ctx context.Context, playlistID string, update domain.PlaylistUpdate) (*domain.PlaylistDetails, error)
	DeletePlaylist(ctx context.Context, playlistID string) error

	GetSong(ctx context.Context, songID string) (*domain.Song, error)
	GetSongURI(ctx context.Context, songID, scheme string) (string, error)
	GetCoverArtURI(ctx context.Context, coverArtID, scheme string, size int) (string, error)

	GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]domain.Album, error)
	GetAlbum(ctx context.Context, albumID string) (*domain.AlbumWithSongs, error)
	GetArtists(ctx context.Context) ([]domain.Artist, error)
	GetArtist(ctx context.Context, artistID string) (*domain.Artist, error)
	GetGenres(ctx context.Context) ([]domain.Genre, error)
	GetIgnoredArticles(ctx context.Context) ([]string, error)

	Scrobble(ctx context.Context, songID string) error
	GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error)
	SavePlayQueue(ctx context.Context, queue domain.PlayQueue) error

	Search(ctx context.Context, query string) (*domain.SearchResult, error)
}

// Caching is a Source backed by local persistent storage. Its reads return
// *domain.CacheMissError (optionally carrying partial data) when an entry is
// absent, never ingested, or invalidated. Reading a collection that was
// ingested as empty is a hit, not a miss.
type Caching interface {
	Source

	// Ingest idempotently merges freshly fetched ground-truth data into
	// storage and records that (key, param) has been fetched, so an
	// ingested-empty collection is distinguishable from one never fetched.
	// For blob keys (song files, cover art) data is the staging-file path.
	Ingest(key domain.CacheKey, param string, data any) error

	// Invalidate marks an entry stale without deleting the payload.
	// Subsequent reads miss but surface the stale value as partial data.
	Invalidate(key domain.CacheKey, param string)

	// Delete permanently removes an entry and cascades to dependent entries
	// it owns (a playlist's cover-art blob, a song's media file).
	Delete(key domain.CacheKey, param string)

	// CachedStatuses reports the local media-file state for each song ID
	CachedStatuses(songIDs []string) map[string]domain.SongCacheStatus
}
