package manager

import (
	"context"

	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/result"
)

// FetchOption adjusts one read's behavior
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	force          bool
	noNetwork      bool
	beforeDownload func()
}

// WithForce bypasses the cache attempt, invalidates the entry, and fetches
// from ground truth
func WithForce() FetchOption {
	return func(o *fetchOptions) { o.force = true }
}

// WithoutNetwork restricts the read to cached data; a miss is not followed
// by a ground-truth fetch
func WithoutNetwork() FetchOption {
	return func(o *fetchOptions) { o.noNetwork = true }
}

// WithBeforeDownload registers a callback invoked strictly before a network
// fetch is dispatched, and never when the cache satisfies the read. UIs use
// it to show a loading state.
func WithBeforeDownload(fn func()) FetchOption {
	return func(o *fetchOptions) { o.beforeDownload = fn }
}

func applyFetchOptions(opts []FetchOption) fetchOptions {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// resolve implements the cache-first read flow shared by every metadata read:
// cache attempt, forced invalidation, ground-truth availability check, async
// dispatch with the beforeDownload callback first, write-through ingestion as
// a fire-and-forget, and degradation to partial data when the server fails.
func resolve[T any](
	ctx context.Context,
	m *Manager,
	key domain.CacheKey,
	param string,
	fromCache func(context.Context) (T, error),
	fromGround func(context.Context) (T, error),
	onFetched func(T),
	opts fetchOptions,
) *result.Result[T] {
	var partial any

	if !opts.force {
		v, err := fromCache(ctx)
		if err == nil {
			return result.NewValue(v)
		}
		if miss, ok := domain.AsCacheMiss(err); ok {
			partial = miss.Partial
			m.logger.Debug("cache miss", "key", key, "param", param, "partial", partial != nil)
		} else {
			// The cache layer must never break a read; treat any other
			// failure as a miss with nothing to show
			m.logger.Error("unexpected cache error", "error", err, "key", key, "param", param)
		}
	} else {
		m.caching.Invalidate(key, param)
	}

	if opts.noNetwork || !m.groundAvailable() || !m.ground.Capabilities().Has(capabilityFor(key)) {
		if v, ok := partial.(T); ok {
			return result.NewValue(v)
		}
		return result.NewError[T](domain.ErrAdapterUnavailable)
	}

	if opts.beforeDownload != nil {
		opts.beforeDownload()
	}

	r := result.New(m.pool, func(taskCtx context.Context) (T, error) {
		v, err := fromGround(mergeCtx(ctx, taskCtx))
		if err != nil {
			m.logger.Warn("ground-truth fetch failed", "error", err, "key", key, "param", param)
			var zero T
			if pv, ok := partial.(T); ok {
				return pv, &domain.CacheMissError{Partial: partial}
			}
			return zero, err
		}
		return v, nil
	})

	r.OnDone(func(v T, err error) {
		if err != nil {
			return
		}
		m.ingest(key, param, v)
		if onFetched != nil {
			onFetched(v)
		}
	})
	return r
}

// capabilityFor maps a cache key to the capability guarding its ground fetch
func capabilityFor(key domain.CacheKey) domain.Capability {
	switch key {
	case domain.KeyPlaylists:
		return domain.CapGetPlaylists
	case domain.KeyPlaylistDetails:
		return domain.CapGetPlaylistDetails
	case domain.KeySong:
		return domain.CapGetSong
	case domain.KeySongFile:
		return domain.CapGetSongURI
	case domain.KeyCoverArt:
		return domain.CapGetCoverArtURI
	case domain.KeyAlbums:
		return domain.CapGetAlbums
	case domain.KeyAlbum:
		return domain.CapGetAlbum
	case domain.KeyArtists:
		return domain.CapGetArtists
	case domain.KeyArtist:
		return domain.CapGetArtist
	case domain.KeyGenres:
		return domain.CapGetGenres
	case domain.KeyIgnoredArticles:
		return domain.CapGetIgnoredArticles
	case domain.KeyPlayQueue:
		return domain.CapGetPlayQueue
	case domain.KeySearch:
		return domain.CapSearch
	default:
		return domain.CapGetSong
	}
}

// === Read operations ===

func (m *Manager) GetPlaylists(ctx context.Context, opts ...FetchOption) *result.Result[[]domain.Playlist] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyPlaylists, "",
		m.caching.GetPlaylists,
		m.ground.GetPlaylists,
		nil, o)
}

func (m *Manager) GetPlaylistDetails(ctx context.Context, playlistID string, opts ...FetchOption) *result.Result[*domain.PlaylistDetails] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyPlaylistDetails, playlistID,
		func(ctx context.Context) (*domain.PlaylistDetails, error) {
			return m.caching.GetPlaylistDetails(ctx, playlistID)
		},
		func(ctx context.Context) (*domain.PlaylistDetails, error) {
			return m.ground.GetPlaylistDetails(ctx, playlistID)
		},
		nil, o)
}

func (m *Manager) GetSong(ctx context.Context, songID string, opts ...FetchOption) *result.Result[*domain.Song] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeySong, songID,
		func(ctx context.Context) (*domain.Song, error) { return m.caching.GetSong(ctx, songID) },
		func(ctx context.Context) (*domain.Song, error) { return m.ground.GetSong(ctx, songID) },
		nil, o)
}

func (m *Manager) GetAlbums(ctx context.Context, query domain.AlbumQuery, opts ...FetchOption) *result.Result[[]domain.Album] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyAlbums, query.Hash(),
		func(ctx context.Context) ([]domain.Album, error) { return m.caching.GetAlbums(ctx, query) },
		func(ctx context.Context) ([]domain.Album, error) { return m.ground.GetAlbums(ctx, query) },
		nil, o)
}

func (m *Manager) GetAlbum(ctx context.Context, albumID string, opts ...FetchOption) *result.Result[*domain.AlbumWithSongs] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyAlbum, albumID,
		func(ctx context.Context) (*domain.AlbumWithSongs, error) { return m.caching.GetAlbum(ctx, albumID) },
		func(ctx context.Context) (*domain.AlbumWithSongs, error) { return m.ground.GetAlbum(ctx, albumID) },
		nil, o)
}

// GetArtists returns all artists sorted by name with the server's ignored
// articles stripped for ordering
func (m *Manager) GetArtists(ctx context.Context, opts ...FetchOption) *result.Result[[]domain.Artist] {
	o := applyFetchOptions(opts)
	articles := m.ignoredArticles(ctx)

	// Sorting happens inside the fetch, before the result resolves; callers
	// must never observe the slice being reordered underneath them.
	sorted := func(fetch func(context.Context) ([]domain.Artist, error)) func(context.Context) ([]domain.Artist, error) {
		return func(ctx context.Context) ([]domain.Artist, error) {
			artists, err := fetch(ctx)
			if err != nil {
				if miss, ok := domain.AsCacheMiss(err); ok {
					if partial, ok := miss.Partial.([]domain.Artist); ok {
						sortArtists(partial, articles)
					}
				}
				return artists, err
			}
			sortArtists(artists, articles)
			return artists, nil
		}
	}

	return resolve(ctx, m, domain.KeyArtists, "",
		sorted(m.caching.GetArtists),
		sorted(m.ground.GetArtists),
		nil, o)
}

// GetArtist fetches one artist with albums. A forced refresh also invalidates
// the artist's album details so stale track lists are refetched.
func (m *Manager) GetArtist(ctx context.Context, artistID string, opts ...FetchOption) *result.Result[*domain.Artist] {
	o := applyFetchOptions(opts)
	var onFetched func(*domain.Artist)
	if o.force {
		onFetched = func(artist *domain.Artist) {
			if artist == nil {
				return
			}
			for _, album := range artist.Albums {
				m.caching.Invalidate(domain.KeyAlbum, album.ID)
			}
		}
	}
	return resolve(ctx, m, domain.KeyArtist, artistID,
		func(ctx context.Context) (*domain.Artist, error) { return m.caching.GetArtist(ctx, artistID) },
		func(ctx context.Context) (*domain.Artist, error) { return m.ground.GetArtist(ctx, artistID) },
		onFetched, o)
}

func (m *Manager) GetGenres(ctx context.Context, opts ...FetchOption) *result.Result[[]domain.Genre] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyGenres, "",
		m.caching.GetGenres,
		m.ground.GetGenres,
		nil, o)
}

func (m *Manager) GetIgnoredArticles(ctx context.Context, opts ...FetchOption) *result.Result[[]string] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyIgnoredArticles, "",
		m.caching.GetIgnoredArticles,
		m.ground.GetIgnoredArticles,
		nil, o)
}

func (m *Manager) GetPlayQueue(ctx context.Context, opts ...FetchOption) *result.Result[*domain.PlayQueue] {
	o := applyFetchOptions(opts)
	return resolve(ctx, m, domain.KeyPlayQueue, "",
		m.caching.GetPlayQueue,
		m.ground.GetPlayQueue,
		nil, o)
}

// ignoredArticles returns the cached article list, best effort. Sorting must
// not trigger a network fetch of its own.
func (m *Manager) ignoredArticles(ctx context.Context) []string {
	articles, err := m.caching.GetIgnoredArticles(ctx)
	if err != nil {
		if miss, ok := domain.AsCacheMiss(err); ok {
			if partial, ok := miss.Partial.([]string); ok {
				return partial
			}
		}
		return nil
	}
	return articles
}
