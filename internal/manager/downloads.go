package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/downloads"
	"github.com/mmcdole/sonata/internal/result"
)

// schemePreference orders URI schemes from most to least desirable
var schemePreference = []string{"https", "http", "file"}

// GetCoverArtPath returns the local path of a cover art image, downloading
// and ingesting it on a miss. The result carries an empty-string default so
// UIs can Get() without error handling and render a placeholder.
func (m *Manager) GetCoverArtPath(ctx context.Context, coverArtID string, size int, opts ...FetchOption) *result.Result[string] {
	o := applyFetchOptions(opts)

	if o.force {
		m.caching.Invalidate(domain.KeyCoverArt, coverArtID)
	} else {
		if path, err := m.caching.GetCoverArtURI(ctx, coverArtID, "file", size); err == nil {
			return result.NewValue(path, result.WithDefault(""))
		}
	}

	if o.noNetwork || m.coordinator == nil || !m.groundAvailable() || !m.ground.Capabilities().Has(domain.CapGetCoverArtURI) {
		return result.NewError(domain.ErrAdapterUnavailable, result.WithDefault(""))
	}

	if o.beforeDownload != nil {
		o.beforeDownload()
	}

	return result.New(m.pool, func(taskCtx context.Context) (string, error) {
		return m.fetchCoverArt(mergeCtx(ctx, taskCtx), coverArtID, size)
	}, result.WithDefault(""))
}

// fetchCoverArt downloads and ingests one cover art image, returning the
// final cache path. Runs synchronously on the caller's goroutine.
func (m *Manager) fetchCoverArt(ctx context.Context, coverArtID string, size int) (string, error) {
	uri, err := m.ground.GetCoverArtURI(ctx, coverArtID, m.networkScheme(), size)
	if err != nil {
		return "", err
	}
	staging, err := m.coordinator.Fetch(ctx, downloads.Request{
		URI: uri,
		ID:  "cover:" + coverArtID,
	})
	if err != nil {
		return "", err
	}
	if err := m.caching.Ingest(domain.KeyCoverArt, coverArtID, staging); err != nil {
		return "", fmt.Errorf("failed to ingest cover art: %w", err)
	}
	return m.caching.GetCoverArtURI(ctx, coverArtID, "file", size)
}

// GetSongPath returns the local path of a song's media file, downloading it
// on a miss. progress may be nil.
func (m *Manager) GetSongPath(ctx context.Context, songID string, progress downloads.ProgressFunc, opts ...FetchOption) *result.Result[string] {
	o := applyFetchOptions(opts)

	if o.force {
		m.caching.Invalidate(domain.KeySongFile, songID)
	} else {
		if path, err := m.caching.GetSongURI(ctx, songID, "file"); err == nil {
			return result.NewValue(path)
		}
	}

	if o.noNetwork || m.coordinator == nil || !m.groundAvailable() || !m.ground.Capabilities().Has(domain.CapGetSongURI) {
		return result.NewError[string](domain.ErrAdapterUnavailable)
	}

	if o.beforeDownload != nil {
		o.beforeDownload()
	}

	return result.New(m.pool, func(taskCtx context.Context) (string, error) {
		if err := m.fetchSongFile(mergeCtx(ctx, taskCtx), songID, progress, false); err != nil {
			return "", err
		}
		return m.caching.GetSongURI(ctx, songID, "file")
	})
}

// fetchSongFile downloads one song's media file (and best-effort its cover
// art) through the coordinator and ingests it. permanent pins the file as an
// explicit user download.
func (m *Manager) fetchSongFile(ctx context.Context, songID string, progress downloads.ProgressFunc, permanent bool) error {
	if !m.groundAvailable() {
		return domain.ErrAdapterUnavailable
	}

	// Song metadata supplies the expected size and the cover art to prefetch.
	// Looked up directly rather than through GetSong so workers never block
	// waiting on another pool task; a stale cache row is good enough here.
	var expectedSize int64
	var coverArtID string
	song, err := m.caching.GetSong(ctx, songID)
	if err != nil {
		if miss, ok := domain.AsCacheMiss(err); ok {
			song, _ = miss.Partial.(*domain.Song)
		}
		if song == nil {
			if song, err = m.ground.GetSong(ctx, songID); err == nil {
				m.ingest(domain.KeySong, songID, song)
			}
		}
	}
	if song != nil {
		expectedSize = song.Size
		coverArtID = song.CoverArtID
	}

	uri, err := m.ground.GetSongURI(ctx, songID, m.networkScheme())
	if err != nil {
		return err
	}

	staging, err := m.coordinator.Fetch(ctx, downloads.Request{
		URI:          uri,
		ID:           songID,
		ExpectedSize: expectedSize,
		Progress:     progress,
	})
	if err != nil {
		return err
	}
	if err := m.caching.Ingest(domain.KeySongFile, songID, domain.FileIngest{Path: staging, Permanent: permanent}); err != nil {
		return fmt.Errorf("failed to ingest song file: %w", err)
	}

	if coverArtID != "" {
		if _, err := m.caching.GetCoverArtURI(ctx, coverArtID, "file", 0); err != nil {
			if _, err := m.fetchCoverArt(ctx, coverArtID, 0); err != nil {
				m.logger.Debug("cover art prefetch failed", "songID", songID, "coverArtID", coverArtID, "error", err)
			}
		}
	}
	return nil
}

// GetSongURI returns the most preferred playable URI for a song: a server
// stream URL when reachable, falling back to the cached local file
func (m *Manager) GetSongURI(ctx context.Context, songID string) (string, error) {
	for _, scheme := range schemePreference {
		if m.groundAvailable() && supportsScheme(m.ground.SupportedSchemes(), scheme) {
			if uri, err := m.ground.GetSongURI(ctx, songID, scheme); err == nil {
				return uri, nil
			}
		}
		if supportsScheme(m.caching.SupportedSchemes(), scheme) {
			if uri, err := m.caching.GetSongURI(ctx, songID, scheme); err == nil {
				return uri, nil
			}
		}
	}
	return "", domain.ErrAdapterUnavailable
}

// networkScheme returns the ground adapter's preferred network scheme
func (m *Manager) networkScheme() string {
	schemes := m.ground.SupportedSchemes()
	for _, scheme := range schemePreference {
		if supportsScheme(schemes, scheme) {
			return scheme
		}
	}
	if len(schemes) > 0 {
		return schemes[0]
	}
	return "https"
}

func supportsScheme(schemes []string, scheme string) bool {
	for _, s := range schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// === Batch operations ===

// BatchDownloadOptions controls a batch song download
type BatchDownloadOptions struct {
	OneAtATime bool
	Delay      time.Duration
	Progress   downloads.ProgressFunc
}

// BatchDownloadSongs queues the given songs for download and returns a job
// identifier. Batched songs are pinned as permanently cached. Fire and
// forget: per-song failures are logged and reported via the progress
// callback, never returned.
func (m *Manager) BatchDownloadSongs(songIDs []string, opts BatchDownloadOptions) string {
	if m.coordinator == nil {
		m.logger.Error("batch download requested without a download coordinator")
		return ""
	}
	return m.coordinator.Batch(songIDs, func(ctx context.Context, songID string) error {
		switch m.CachedStatuses([]string{songID})[songID] {
		case domain.StatusPermanentlyCached:
			return nil
		case domain.StatusCached:
			// Already on disk from transparent caching; pin it in place
			if path, err := m.caching.GetSongURI(ctx, songID, "file"); err == nil {
				return m.caching.Ingest(domain.KeySongFile, songID, domain.FileIngest{Path: path, Permanent: true})
			}
		}
		return m.fetchSongFile(ctx, songID, opts.Progress, true)
	}, downloads.BatchOptions{OneAtATime: opts.OneAtATime, Delay: opts.Delay})
}

// CancelSongDownloads skips the given songs in pending batch work
func (m *Manager) CancelSongDownloads(songIDs []string) {
	if m.coordinator != nil {
		m.coordinator.CancelIDs(songIDs)
	}
}

// BatchDeleteCachedSongs removes the media files for the given songs,
// cascading to their cover art
func (m *Manager) BatchDeleteCachedSongs(songIDs []string) {
	for _, id := range songIDs {
		m.caching.Delete(domain.KeySongFile, id)
	}
}

// CachedStatuses reports each song's local availability, overlaying
// StatusDownloading for songs with in-flight transfers
func (m *Manager) CachedStatuses(songIDs []string) map[string]domain.SongCacheStatus {
	statuses := m.caching.CachedStatuses(songIDs)
	if m.coordinator == nil {
		return statuses
	}
	for _, id := range songIDs {
		if m.coordinator.Active(id) {
			statuses[id] = domain.StatusDownloading
		}
	}
	return statuses
}

// ClearSongCache deletes all downloaded media files and cover art
func (m *Manager) ClearSongCache() {
	m.caching.Delete(domain.KeyAllSongs, "")
}

// ClearCache wipes the entire cache, for switching servers
func (m *Manager) ClearCache() {
	m.caching.Delete(domain.KeyEverything, "")
}
