// Package manager orchestrates the ground-truth source adapter and the
// caching adapter behind one facade: reads are cache-first with write-through
// ingestion, media files go through the download coordinator, and callers get
// Result futures that resolve synchronously on cache hits.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/downloads"
	"github.com/mmcdole/sonata/internal/result"
	"github.com/mmcdole/sonata/internal/search"
	"github.com/mmcdole/sonata/internal/source"
)

// Manager coordinates all data access. Construct with New; the zero value is
// not usable.
type Manager struct {
	ground      source.Source
	caching     source.Caching
	coordinator *downloads.Coordinator
	pool        *result.Pool
	logger      *slog.Logger

	offline      atomic.Bool
	shutdownOnce sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithCoordinator sets the download coordinator. Required for media file
// operations (GetSongPath, GetCoverArtPath, batch downloads).
func WithCoordinator(c *downloads.Coordinator) Option {
	return func(m *Manager) { m.coordinator = c }
}

// WithWorkers sets the async worker pool size
func WithWorkers(n int) Option {
	return func(m *Manager) { m.pool = result.NewPool(n) }
}

// New creates a Manager over a ground-truth source and a caching adapter
func New(ground source.Source, caching source.Caching, opts ...Option) *Manager {
	m := &Manager{
		ground:  ground,
		caching: caching,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pool == nil {
		m.pool = result.NewPool(8)
	}
	return m
}

// Shutdown stops background work and shuts both adapters down. Blocks until
// batch jobs have wound down; in-flight async results resolve with whatever
// their producers return.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		if m.coordinator != nil {
			m.coordinator.Shutdown()
		}
		m.pool.Shutdown()
		m.ground.Shutdown()
		m.caching.Shutdown()
		m.logger.Info("manager shut down")
	})
}

// SetOfflineMode disables the ground-truth adapter when it is networked.
// Reads then serve cached (possibly partial) data only.
func (m *Manager) SetOfflineMode(offline bool) {
	m.offline.Store(offline)
	m.logger.Info("offline mode changed", "offline", offline)
}

// groundAvailable reports whether ground-truth operations may be attempted
func (m *Manager) groundAvailable() bool {
	if m.offline.Load() && m.ground.IsNetworked() {
		return false
	}
	return m.ground.CanServiceRequests()
}

// can reports whether an operation backed by cap can currently succeed.
// For reads the cache counts as a provider even when the server is gone.
func (m *Manager) can(cap domain.Capability, readable bool) bool {
	if m.groundAvailable() && m.ground.Capabilities().Has(cap) {
		return true
	}
	return readable && m.caching.Capabilities().Has(cap)
}

// Availability predicates, derived on demand rather than stored
func (m *Manager) CanGetPlaylists() bool       { return m.can(domain.CapGetPlaylists, true) }
func (m *Manager) CanGetPlaylistDetails() bool { return m.can(domain.CapGetPlaylistDetails, true) }
func (m *Manager) CanCreatePlaylist() bool     { return m.can(domain.CapCreatePlaylist, false) }
func (m *Manager) CanUpdatePlaylist() bool     { return m.can(domain.CapUpdatePlaylist, false) }
func (m *Manager) CanDeletePlaylist() bool     { return m.can(domain.CapDeletePlaylist, false) }
func (m *Manager) CanGetSong() bool            { return m.can(domain.CapGetSong, true) }
func (m *Manager) CanGetAlbums() bool          { return m.can(domain.CapGetAlbums, true) }
func (m *Manager) CanGetAlbum() bool           { return m.can(domain.CapGetAlbum, true) }
func (m *Manager) CanGetArtists() bool         { return m.can(domain.CapGetArtists, true) }
func (m *Manager) CanGetArtist() bool          { return m.can(domain.CapGetArtist, true) }
func (m *Manager) CanGetGenres() bool          { return m.can(domain.CapGetGenres, true) }
func (m *Manager) CanScrobble() bool           { return m.can(domain.CapScrobble, false) }
func (m *Manager) CanGetPlayQueue() bool       { return m.can(domain.CapGetPlayQueue, true) }
func (m *Manager) CanSavePlayQueue() bool      { return m.can(domain.CapSavePlayQueue, false) }
func (m *Manager) CanSearch() bool             { return m.can(domain.CapSearch, true) }

// === Mutations (straight to ground truth, cache kept coherent) ===

// CreatePlaylist creates a playlist on the server. The result is ingested
// when the server returns it; otherwise the playlist collection is
// invalidated so the next read refreshes.
func (m *Manager) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.PlaylistDetails, error) {
	if !m.groundAvailable() {
		return nil, domain.ErrAdapterUnavailable
	}
	details, err := m.ground.CreatePlaylist(ctx, name, songIDs)
	if err != nil {
		return nil, err
	}

	if details != nil {
		m.ingest(domain.KeyPlaylistDetails, details.ID, details)
	}
	m.caching.Invalidate(domain.KeyPlaylists, "")
	return details, nil
}

// UpdatePlaylist applies a partial update and writes the server's view of the
// playlist back through the cache
func (m *Manager) UpdatePlaylist(ctx context.Context, playlistID string, update domain.PlaylistUpdate) (*domain.PlaylistDetails, error) {
	if !m.groundAvailable() {
		return nil, domain.ErrAdapterUnavailable
	}
	details, err := m.ground.UpdatePlaylist(ctx, playlistID, update)
	if err != nil {
		return nil, err
	}

	if details != nil {
		m.ingest(domain.KeyPlaylistDetails, playlistID, details)
	} else {
		m.caching.Invalidate(domain.KeyPlaylistDetails, playlistID)
	}
	m.caching.Invalidate(domain.KeyPlaylists, "")
	return details, nil
}

// DeletePlaylist deletes on the server and cascades the local copy away
func (m *Manager) DeletePlaylist(ctx context.Context, playlistID string) error {
	if !m.groundAvailable() {
		return domain.ErrAdapterUnavailable
	}
	if err := m.ground.DeletePlaylist(ctx, playlistID); err != nil {
		return err
	}

	m.caching.Delete(domain.KeyPlaylistDetails, playlistID)
	m.caching.Invalidate(domain.KeyPlaylists, "")
	return nil
}

// Scrobble reports a play to the server
func (m *Manager) Scrobble(ctx context.Context, songID string) error {
	if !m.groundAvailable() {
		return domain.ErrAdapterUnavailable
	}
	return m.ground.Scrobble(ctx, songID)
}

// SavePlayQueue persists the play queue on the server and through the cache
func (m *Manager) SavePlayQueue(ctx context.Context, queue domain.PlayQueue) error {
	if !m.groundAvailable() {
		return domain.ErrAdapterUnavailable
	}
	if err := m.ground.SavePlayQueue(ctx, queue); err != nil {
		return err
	}
	m.ingest(domain.KeyPlayQueue, "", &queue)
	return nil
}

// ingest writes data through to the cache. Failures are logged and swallowed:
// the cache layer must never break an operation that already succeeded.
func (m *Manager) ingest(key domain.CacheKey, param string, data any) {
	if err := m.caching.Ingest(key, param, data); err != nil {
		m.logger.Warn("write-through ingest failed", "error", err, "key", key, "param", param)
	}
}

// === Search ===

// Search runs a merged search: local results are delivered through onUpdate
// immediately, server results are merged in and resolve the returned Result.
// Server hits are ingested so future local searches see them. onUpdate may be
// nil; it is called from the manager's goroutines.
func (m *Manager) Search(ctx context.Context, query string, onUpdate func(*domain.SearchResult)) *result.Result[*domain.SearchResult] {
	local := &domain.SearchResult{Query: query}
	if cached, err := m.caching.Search(ctx, query); err == nil && cached != nil {
		local = cached
	}
	if onUpdate != nil && !searchEmpty(local) {
		onUpdate(local)
	}

	if !m.groundAvailable() || !m.ground.Capabilities().Has(domain.CapSearch) {
		return result.NewValue(local)
	}

	// The merged result is built fresh on the worker so callers holding the
	// local result never observe it mutating underneath them
	r := result.New(m.pool, func(taskCtx context.Context) (*domain.SearchResult, error) {
		remote, err := m.ground.Search(mergeCtx(ctx, taskCtx), query)
		if err != nil {
			m.logger.Warn("server search failed", "error", err, "query", query)
			return local, nil // Degrade to local results
		}
		merged := &domain.SearchResult{Query: query}
		merged.Update(local)
		merged.Update(remote)
		rankSearchResult(query, merged)
		m.ingest(domain.KeySearch, query, remote)
		return merged, nil
	})
	if onUpdate != nil {
		r.OnDone(func(res *domain.SearchResult, err error) {
			if err == nil {
				onUpdate(res)
			}
		})
	}
	return r
}

// rankSearchResult reorders each entity list by match quality against the
// query. The server's relevance order and the merge order both get replaced
// with one consistent ranking; nothing is filtered out.
func rankSearchResult(query string, r *domain.SearchResult) {
	r.Songs = search.Rank(query, r.Songs, func(s domain.Song) string { return s.Title })
	r.Albums = search.Rank(query, r.Albums, func(a domain.Album) string { return a.Name })
	r.Artists = search.Rank(query, r.Artists, func(a domain.Artist) string { return a.Name })
	r.Playlists = search.Rank(query, r.Playlists, func(p domain.Playlist) string { return p.Name })
}

func searchEmpty(r *domain.SearchResult) bool {
	return len(r.Songs) == 0 && len(r.Albums) == 0 && len(r.Artists) == 0 && len(r.Playlists) == 0
}

// mergeCtx returns the caller's context unless it is nil. Pool tasks receive
// their own cancellable context; the caller's deadline wins when present.
func mergeCtx(caller, task context.Context) context.Context {
	if caller != nil {
		return caller
	}
	return task
}

// sortArtists orders artists by name with leading articles ("The", "El")
// ignored, the way the server sorts its own listings
func sortArtists(artists []domain.Artist, articles []string) {
	sort.SliceStable(artists, func(i, j int) bool {
		return sortName(artists[i].Name, articles) < sortName(artists[j].Name, articles)
	})
}

func sortName(name string, articles []string) string {
	lower := strings.ToLower(name)
	for _, article := range articles {
		prefix := strings.ToLower(article) + " "
		if strings.HasPrefix(lower, prefix) {
			return lower[len(prefix):]
		}
	}
	return lower
}
