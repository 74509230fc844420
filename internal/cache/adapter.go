// Package cache implements the caching adapter: a source.Caching backed by the
// bbolt store. Reads are served from local storage and report misses as typed
// *domain.CacheMissError values carrying any stale partial data.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/search"
	"github.com/mmcdole/sonata/internal/store"
)

// Adapter serves reads from the local store and ingests ground-truth data
type Adapter struct {
	store  *store.Store
	logger *slog.Logger

	// Serializes every ingest/invalidate/delete check-then-act sequence
	mu sync.Mutex

	shutdownOnce sync.Once
}

// New creates a caching adapter over the given store
func New(st *store.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{store: st, logger: logger}
}

func (a *Adapter) CanServiceRequests() bool { return true }
func (a *Adapter) IsNetworked() bool        { return false }

func (a *Adapter) SupportedSchemes() []string { return []string{"file"} }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.NewCapabilities(
		domain.CapGetPlaylists,
		domain.CapGetPlaylistDetails,
		domain.CapGetSong,
		domain.CapGetSongURI,
		domain.CapGetCoverArtURI,
		domain.CapGetAlbums,
		domain.CapGetAlbum,
		domain.CapGetArtists,
		domain.CapGetArtist,
		domain.CapGetGenres,
		domain.CapGetIgnoredArticles,
		domain.CapGetPlayQueue,
		domain.CapSearch,
	)
}

// Shutdown closes the underlying store. Safe to call more than once.
func (a *Adapter) Shutdown() {
	a.shutdownOnce.Do(func() {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close cache store", "error", err)
		}
	})
}

func miss(partial any) error {
	return &domain.CacheMissError{Partial: partial}
}

// === Reads ===

func (a *Adapter) GetPlaylists(ctx context.Context) ([]domain.Playlist, error) {
	playlists, have := a.store.GetPlaylists()
	if info, ok := a.store.Info(domain.KeyPlaylists, ""); !ok || !info.Valid {
		var partial any
		if have {
			partial = playlists
		}
		return nil, miss(partial)
	}
	if playlists == nil {
		// Ingested as empty; this is a hit
		playlists = []domain.Playlist{}
	}
	return playlists, nil
}

func (a *Adapter) GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.PlaylistDetails, error) {
	details, have := a.store.GetPlaylistDetails(playlistID)
	if info, ok := a.store.Info(domain.KeyPlaylistDetails, playlistID); !ok || !info.Valid {
		var partial any
		if have {
			partial = details
		}
		return nil, miss(partial)
	}
	return details, nil
}

func (a *Adapter) GetSong(ctx context.Context, songID string) (*domain.Song, error) {
	song, have := a.store.GetSong(songID)
	if info, ok := a.store.Info(domain.KeySong, songID); !ok || !info.Valid {
		var partial any
		if have {
			partial = song
		}
		return nil, miss(partial)
	}
	return song, nil
}

// GetSongURI serves the locally cached media file for a song. Only the "file"
// scheme is supported.
func (a *Adapter) GetSongURI(ctx context.Context, songID, scheme string) (string, error) {
	if scheme != "file" {
		return "", domain.ErrNotSupported
	}
	return a.fileURI(domain.KeySongFile, songID)
}

func (a *Adapter) GetCoverArtURI(ctx context.Context, coverArtID, scheme string, size int) (string, error) {
	if scheme != "file" {
		return "", domain.ErrNotSupported
	}
	return a.fileURI(domain.KeyCoverArt, coverArtID)
}

func (a *Adapter) fileURI(key domain.CacheKey, param string) (string, error) {
	info, ok := a.store.Info(key, param)
	exists := ok && info.FilePath != "" && fileExists(info.FilePath)
	if !ok || !info.Valid || !exists {
		var partial any
		if exists {
			partial = info.FilePath
		}
		return "", miss(partial)
	}
	return info.FilePath, nil
}

func (a *Adapter) GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]domain.Album, error) {
	hash := query.Hash()
	albums, have := a.store.GetAlbumList(hash)
	if info, ok := a.store.Info(domain.KeyAlbums, hash); !ok || !info.Valid {
		var partial any
		if have {
			partial = albums
		}
		return nil, miss(partial)
	}
	if albums == nil {
		albums = []domain.Album{}
	}
	return albums, nil
}

func (a *Adapter) GetAlbum(ctx context.Context, albumID string) (*domain.AlbumWithSongs, error) {
	album, have := a.store.GetAlbum(albumID)
	if info, ok := a.store.Info(domain.KeyAlbum, albumID); !ok || !info.Valid {
		var partial any
		if have {
			partial = album
		}
		return nil, miss(partial)
	}
	return album, nil
}

func (a *Adapter) GetArtists(ctx context.Context) ([]domain.Artist, error) {
	artists, have := a.store.GetArtists()
	if info, ok := a.store.Info(domain.KeyArtists, ""); !ok || !info.Valid {
		var partial any
		if have {
			partial = artists
		}
		return nil, miss(partial)
	}
	if artists == nil {
		artists = []domain.Artist{}
	}
	return artists, nil
}

func (a *Adapter) GetArtist(ctx context.Context, artistID string) (*domain.Artist, error) {
	artist, have := a.store.GetArtist(artistID)
	if info, ok := a.store.Info(domain.KeyArtist, artistID); !ok || !info.Valid {
		var partial any
		if have {
			partial = artist
		}
		return nil, miss(partial)
	}
	return artist, nil
}

func (a *Adapter) GetGenres(ctx context.Context) ([]domain.Genre, error) {
	genres, have := a.store.GetGenres()
	if info, ok := a.store.Info(domain.KeyGenres, ""); !ok || !info.Valid {
		var partial any
		if have {
			partial = genres
		}
		return nil, miss(partial)
	}
	if genres == nil {
		genres = []domain.Genre{}
	}
	return genres, nil
}

func (a *Adapter) GetIgnoredArticles(ctx context.Context) ([]string, error) {
	articles, have := a.store.GetIgnoredArticles()
	if info, ok := a.store.Info(domain.KeyIgnoredArticles, ""); !ok || !info.Valid {
		var partial any
		if have {
			partial = articles
		}
		return nil, miss(partial)
	}
	return articles, nil
}

func (a *Adapter) GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error) {
	queue, have := a.store.GetPlayQueue()
	if info, ok := a.store.Info(domain.KeyPlayQueue, ""); !ok || !info.Valid {
		var partial any
		if have {
			partial = queue
		}
		return nil, miss(partial)
	}
	return queue, nil
}

// Search matches the query against everything currently cached. Misses on
// individual collections are ignored; the result is whatever is local.
func (a *Adapter) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	ix := search.NewIndex()
	for _, s := range a.store.Songs() {
		ix.Add(search.Item{Kind: search.KindSong, ID: s.ID, Title: s.Title, Ref: s})
	}
	for _, al := range a.store.Albums() {
		ix.Add(search.Item{Kind: search.KindAlbum, ID: al.ID, Title: al.Name, Ref: al})
	}
	if artists, ok := a.store.GetArtists(); ok {
		for _, ar := range artists {
			ix.Add(search.Item{Kind: search.KindArtist, ID: ar.ID, Title: ar.Name, Ref: ar})
		}
	}
	if playlists, ok := a.store.GetPlaylists(); ok {
		for _, p := range playlists {
			ix.Add(search.Item{Kind: search.KindPlaylist, ID: p.ID, Title: p.Name, Ref: p})
		}
	}

	result := &domain.SearchResult{Query: query}
	for _, m := range ix.Query(query, 0) {
		switch m.Kind {
		case search.KindSong:
			result.Songs = append(result.Songs, m.Ref.(domain.Song))
		case search.KindAlbum:
			result.Albums = append(result.Albums, m.Ref.(domain.Album))
		case search.KindArtist:
			result.Artists = append(result.Artists, m.Ref.(domain.Artist))
		case search.KindPlaylist:
			result.Playlists = append(result.Playlists, m.Ref.(domain.Playlist))
		}
	}
	return result, nil
}

// === Unsupported mutations (ground truth only) ===

func (a *Adapter) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.PlaylistDetails, error) {
	return nil, domain.ErrNotSupported
}

func (a *Adapter) UpdatePlaylist(ctx context.Context, playlistID string, update domain.PlaylistUpdate) (*domain.PlaylistDetails, error) {
	return nil, domain.ErrNotSupported
}

func (a *Adapter) DeletePlaylist(ctx context.Context, playlistID string) error {
	return domain.ErrNotSupported
}

func (a *Adapter) Scrobble(ctx context.Context, songID string) error {
	return domain.ErrNotSupported
}

func (a *Adapter) SavePlayQueue(ctx context.Context, queue domain.PlayQueue) error {
	return domain.ErrNotSupported
}

// === Ingestion ===

// Ingest merges freshly fetched ground-truth data into the store and records
// that (key, param) has been fetched. Safe to call with empty data; safe to
// call repeatedly with the same data.
func (a *Adapter) Ingest(key domain.CacheKey, param string, data any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ingest(key, param, data, false)
}

// ingest performs one ingestion. Nested entities discovered along the way
// (songs in a playlist, albums on an artist) are ingested as partial: their
// payload is stored but the entry stays invalid, so reads surface it only as
// partial data until the entity is fetched in its own right.
func (a *Adapter) ingest(key domain.CacheKey, param string, data any, partial bool) error {
	switch key {
	case domain.KeyPlaylists:
		playlists, ok := data.([]domain.Playlist)
		if !ok && data != nil {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if playlists == nil {
			playlists = []domain.Playlist{}
		}
		if err := a.store.SavePlaylists(playlists); err != nil {
			return err
		}

	case domain.KeyPlaylistDetails:
		details, ok := data.(*domain.PlaylistDetails)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.store.SavePlaylistDetails(details); err != nil {
			return err
		}
		for i := range details.Songs {
			song := details.Songs[i]
			if err := a.ingest(domain.KeySong, song.ID, &song, true); err != nil {
				return err
			}
		}

	case domain.KeySong:
		song, ok := data.(*domain.Song)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.store.SaveSong(song); err != nil {
			return err
		}

	case domain.KeyAlbums:
		albums, ok := data.([]domain.Album)
		if !ok && data != nil {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if albums == nil {
			albums = []domain.Album{}
		}
		if err := a.store.SaveAlbumList(param, albums); err != nil {
			return err
		}

	case domain.KeyAlbum:
		album, ok := data.(*domain.AlbumWithSongs)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.saveAlbum(album, partial); err != nil {
			return err
		}
		for i := range album.Songs {
			song := album.Songs[i]
			if err := a.ingest(domain.KeySong, song.ID, &song, true); err != nil {
				return err
			}
		}

	case domain.KeyArtists:
		artists, ok := data.([]domain.Artist)
		if !ok && data != nil {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if artists == nil {
			artists = []domain.Artist{}
		}
		if err := a.store.SaveArtists(artists); err != nil {
			return err
		}

	case domain.KeyArtist:
		artist, ok := data.(*domain.Artist)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.store.SaveArtist(artist); err != nil {
			return err
		}
		for _, album := range artist.Albums {
			if err := a.ingest(domain.KeyAlbum, album.ID, &domain.AlbumWithSongs{Album: album}, true); err != nil {
				return err
			}
		}

	case domain.KeyGenres:
		genres, ok := data.([]domain.Genre)
		if !ok && data != nil {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if genres == nil {
			genres = []domain.Genre{}
		}
		if err := a.store.SaveGenres(genres); err != nil {
			return err
		}

	case domain.KeyIgnoredArticles:
		articles, ok := data.([]string)
		if !ok && data != nil {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.store.SaveIgnoredArticles(articles); err != nil {
			return err
		}

	case domain.KeyPlayQueue:
		queue, ok := data.(*domain.PlayQueue)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		if err := a.store.SavePlayQueue(queue); err != nil {
			return err
		}

	case domain.KeySearch:
		result, ok := data.(*domain.SearchResult)
		if !ok {
			return fmt.Errorf("unexpected data type %T for %s", data, key)
		}
		for i := range result.Songs {
			song := result.Songs[i]
			if err := a.ingest(domain.KeySong, song.ID, &song, true); err != nil {
				return err
			}
		}
		for i := range result.Albums {
			album := result.Albums[i]
			if err := a.ingest(domain.KeyAlbum, album.ID, &domain.AlbumWithSongs{Album: album}, true); err != nil {
				return err
			}
		}
		for _, artist := range result.Artists {
			if artist.ID == "" {
				// Name-only tag artist, nothing addressable to store
				continue
			}
			ar := artist
			if err := a.ingest(domain.KeyArtist, ar.ID, &ar, true); err != nil {
				return err
			}
		}
		return nil // No collection-level marker for searches

	case domain.KeySongFile, domain.KeyCoverArt:
		return a.ingestFile(key, param, data)

	default:
		return fmt.Errorf("cannot ingest cache key %s", key)
	}

	a.markIngested(key, param, partial, nil)
	return nil
}

// ingestFile promotes a fully downloaded staging file into the cache tree
func (a *Adapter) ingestFile(key domain.CacheKey, param string, data any) error {
	var stagingPath string
	var permanent bool
	switch d := data.(type) {
	case string:
		stagingPath = d
	case domain.FileIngest:
		stagingPath = d.Path
		permanent = d.Permanent
	default:
		return fmt.Errorf("unexpected data type %T for %s", data, key)
	}

	final, err := a.store.PromoteFile(stagingPath, key, param)
	if err != nil {
		return fmt.Errorf("failed to promote %s into cache: %w", key, err)
	}

	hash, err := store.HashFile(final)
	if err != nil {
		a.logger.Warn("failed to hash cached file", "error", err, "path", final)
	}

	a.markIngested(key, param, false, func(info *store.EntryInfo) {
		info.FilePath = final
		info.FileHash = hash
		// Pinning is sticky: a later transparent re-ingest never unpins
		info.Permanent = info.Permanent || permanent
	})
	return nil
}

// markIngested records an ingestion with get-or-create semantics: partial
// ingests never flip an already-valid entry back to invalid.
func (a *Adapter) markIngested(key domain.CacheKey, param string, partial bool, update func(*store.EntryInfo)) {
	info, ok := a.store.Info(key, param)
	if !ok {
		info = store.EntryInfo{Valid: !partial}
	} else {
		info.Valid = info.Valid || !partial
	}
	info.LastIngested = time.Now()
	if update != nil {
		update(&info)
	}
	if err := a.store.SetInfo(key, param, info); err != nil {
		a.logger.Error("failed to record ingestion", "error", err, "key", key, "param", param)
	}
}

// === Invalidation ===

// Invalidate marks (key, param) stale; the payload is retained and surfaces
// as partial data on subsequent reads. Dependent cover art is invalidated too.
func (a *Adapter) Invalidate(key domain.CacheKey, param string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidate(key, param)
}

func (a *Adapter) invalidate(key domain.CacheKey, param string) {
	a.store.InvalidateInfo(key, param)

	switch key {
	case domain.KeyPlaylistDetails:
		if details, ok := a.store.GetPlaylistDetails(param); ok && details.CoverArtID != "" {
			a.invalidate(domain.KeyCoverArt, details.CoverArtID)
		}
	case domain.KeyAlbum:
		if album, ok := a.store.GetAlbum(param); ok && album.CoverArtID != "" {
			a.invalidate(domain.KeyCoverArt, album.CoverArtID)
		}
	case domain.KeyArtist:
		if artist, ok := a.store.GetArtist(param); ok {
			if artist.CoverArtID != "" {
				a.invalidate(domain.KeyCoverArt, artist.CoverArtID)
			}
			for _, album := range artist.Albums {
				a.invalidate(domain.KeyAlbum, album.ID)
			}
		}
	case domain.KeySongFile:
		if song, ok := a.store.GetSong(param); ok && song.CoverArtID != "" {
			a.invalidate(domain.KeyCoverArt, song.CoverArtID)
		}
	}
}

// === Deletion ===

// Delete permanently removes (key, param) and cascades to dependent entries
// recorded during ingestion. KeyAllSongs clears every media blob;
// KeyEverything resets the whole cache (server switch).
func (a *Adapter) Delete(key domain.CacheKey, param string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleteEntry(key, param)
}

func (a *Adapter) deleteEntry(key domain.CacheKey, param string) {
	switch key {
	case domain.KeyCoverArt:
		a.store.RemoveFile(key, param)
		a.store.DeleteInfo(key, param)

	case domain.KeySongFile:
		a.store.RemoveFile(key, param)
		a.store.DeleteInfo(key, param)

	case domain.KeyPlaylistDetails:
		if details, ok := a.store.GetPlaylistDetails(param); ok && details.CoverArtID != "" {
			a.deleteEntry(domain.KeyCoverArt, details.CoverArtID)
		}
		a.store.DeletePlaylistDetails(param)
		a.store.DeleteInfo(key, param)

	case domain.KeyAlbum:
		if album, ok := a.store.GetAlbum(param); ok && album.CoverArtID != "" {
			a.deleteEntry(domain.KeyCoverArt, album.CoverArtID)
		}
		a.store.DeleteAlbum(param)
		a.store.DeleteInfo(key, param)

	case domain.KeyAllSongs:
		a.store.ClearFiles(domain.KeySongFile)
		a.store.ClearFiles(domain.KeyCoverArt)
		a.store.DeleteInfosForKey(domain.KeySongFile)
		a.store.DeleteInfosForKey(domain.KeyCoverArt)

	case domain.KeyEverything:
		a.store.Reset()

	default:
		a.store.DeleteInfo(key, param)
	}
}

// === Cache status ===

// CachedStatuses reports the local media-file state for each song ID. The
// orchestrator overlays StatusDownloading from its live download set.
func (a *Adapter) CachedStatuses(songIDs []string) map[string]domain.SongCacheStatus {
	statuses := make(map[string]domain.SongCacheStatus, len(songIDs))
	for _, id := range songIDs {
		statuses[id] = domain.StatusNotCached
		if info, ok := a.store.Info(domain.KeySongFile, id); ok && info.Valid && fileExists(info.FilePath) {
			if info.Permanent {
				statuses[id] = domain.StatusPermanentlyCached
			} else {
				statuses[id] = domain.StatusCached
			}
		}
	}
	return statuses
}

// saveAlbum writes an album detail row. Partial ingests (album rows embedded
// in an artist or search result) must not clobber a previously fetched song
// list, so the existing songs are carried over.
func (a *Adapter) saveAlbum(album *domain.AlbumWithSongs, partial bool) error {
	if partial && len(album.Songs) == 0 {
		if existing, ok := a.store.GetAlbum(album.ID); ok {
			merged := *album
			merged.Songs = existing.Songs
			return a.store.SaveAlbum(&merged)
		}
	}
	return a.store.SaveAlbum(album)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
