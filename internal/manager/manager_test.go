package manager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/sonata/internal/cache"
	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/downloads"
	"github.com/mmcdole/sonata/internal/log"
	"github.com/mmcdole/sonata/internal/store"
)

// fakeSource is a func-field test double for the ground-truth adapter
type fakeSource struct {
	canService bool
	networked  bool
	caps       domain.Capabilities
	schemes    []string

	getPlaylists       func(ctx context.Context) ([]domain.Playlist, error)
	getPlaylistDetails func(ctx context.Context, id string) (*domain.PlaylistDetails, error)
	getSong            func(ctx context.Context, id string) (*domain.Song, error)
	getSongURI         func(ctx context.Context, id, scheme string) (string, error)
	getArtists         func(ctx context.Context) ([]domain.Artist, error)
	getArtist          func(ctx context.Context, id string) (*domain.Artist, error)
	deletePlaylist     func(ctx context.Context, id string) error
	search             func(ctx context.Context, query string) (*domain.SearchResult, error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		canService: true,
		networked:  true,
		caps: domain.NewCapabilities(
			domain.CapGetPlaylists,
			domain.CapGetPlaylistDetails,
			domain.CapGetSong,
			domain.CapGetSongURI,
			domain.CapGetArtists,
			domain.CapGetArtist,
			domain.CapDeletePlaylist,
			domain.CapSearch,
		),
		schemes: []string{"https"},
	}
}

func (f *fakeSource) CanServiceRequests() bool          { return f.canService }
func (f *fakeSource) Capabilities() domain.Capabilities { return f.caps }
func (f *fakeSource) IsNetworked() bool                 { return f.networked }
func (f *fakeSource) SupportedSchemes() []string        { return f.schemes }
func (f *fakeSource) Shutdown()                         {}

func (f *fakeSource) GetPlaylists(ctx context.Context) ([]domain.Playlist, error) {
	if f.getPlaylists == nil {
		return nil, domain.ErrNotSupported
	}
	return f.getPlaylists(ctx)
}

func (f *fakeSource) GetPlaylistDetails(ctx context.Context, id string) (*domain.PlaylistDetails, error) {
	if f.getPlaylistDetails == nil {
		return nil, domain.ErrNotSupported
	}
	return f.getPlaylistDetails(ctx, id)
}

func (f *fakeSource) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.PlaylistDetails, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) UpdatePlaylist(ctx context.Context, id string, update domain.PlaylistUpdate) (*domain.PlaylistDetails, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) DeletePlaylist(ctx context.Context, id string) error {
	if f.deletePlaylist == nil {
		return domain.ErrNotSupported
	}
	return f.deletePlaylist(ctx, id)
}

func (f *fakeSource) GetSong(ctx context.Context, id string) (*domain.Song, error) {
	if f.getSong == nil {
		return nil, domain.ErrNotSupported
	}
	return f.getSong(ctx, id)
}

func (f *fakeSource) GetSongURI(ctx context.Context, id, scheme string) (string, error) {
	if f.getSongURI == nil {
		return "", domain.ErrNotSupported
	}
	return f.getSongURI(ctx, id, scheme)
}

func (f *fakeSource) GetCoverArtURI(ctx context.Context, id, scheme string, size int) (string, error) {
	return "", domain.ErrNotSupported
}

func (f *fakeSource) GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]domain.Album, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) GetAlbum(ctx context.Context, id string) (*domain.AlbumWithSongs, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) GetArtists(ctx context.Context) ([]domain.Artist, error) {
	if f.getArtists == nil {
		return nil, domain.ErrNotSupported
	}
	return f.getArtists(ctx)
}

func (f *fakeSource) GetArtist(ctx context.Context, id string) (*domain.Artist, error) {
	if f.getArtist == nil {
		return nil, domain.ErrNotSupported
	}
	return f.getArtist(ctx, id)
}

func (f *fakeSource) GetGenres(ctx context.Context) ([]domain.Genre, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) GetIgnoredArticles(ctx context.Context) ([]string, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) Scrobble(ctx context.Context, id string) error { return domain.ErrNotSupported }

func (f *fakeSource) GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error) {
	return nil, domain.ErrNotSupported
}

func (f *fakeSource) SavePlayQueue(ctx context.Context, queue domain.PlayQueue) error {
	return domain.ErrNotSupported
}

func (f *fakeSource) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	if f.search == nil {
		return nil, domain.ErrNotSupported
	}
	return f.search(ctx, query)
}

func newTestManager(t *testing.T, ground *fakeSource) (*Manager, *cache.Adapter) {
	t.Helper()
	st, err := store.NewStore("", "")
	require.NoError(t, err)
	caching := cache.New(st, log.NullLogger())
	m := New(ground, caching, WithLogger(log.NullLogger()))
	t.Cleanup(m.Shutdown)
	return m, caching
}

// newDownloadTestManager wires a real coordinator for tests that move media
// files through the full download path
func newDownloadTestManager(t *testing.T, ground *fakeSource) (*Manager, *cache.Adapter) {
	t.Helper()
	st, err := store.NewStore("", "")
	require.NoError(t, err)
	caching := cache.New(st, log.NullLogger())
	coord, err := downloads.New(t.TempDir(), log.NullLogger())
	require.NoError(t, err)
	m := New(ground, caching, WithLogger(log.NullLogger()), WithCoordinator(coord))
	t.Cleanup(m.Shutdown)
	return m, caching
}

// mediaServer serves fixed media bytes and counts requests
func mediaServer(t *testing.T, body []byte, hits *atomic.Int32, hold time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(hold)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadServedFromCacheWithoutGroundCall(t *testing.T) {
	ground := newFakeSource()
	var groundCalls atomic.Int32
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		groundCalls.Add(1)
		return nil, errors.New("should not be called")
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylists, "", []domain.Playlist{{ID: "1"}}))

	r := m.GetPlaylists(context.Background())
	assert.True(t, r.Available(), "cache hits resolve synchronously")

	playlists, err := r.Get()
	require.NoError(t, err)
	assert.Len(t, playlists, 1)
	assert.Equal(t, int32(0), groundCalls.Load())
}

func TestMissFetchesAndWritesThrough(t *testing.T) {
	ground := newFakeSource()
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		return []domain.Playlist{{ID: "1", Name: "Fresh"}}, nil
	}

	m, _ := newTestManager(t, ground)

	playlists, err := m.GetPlaylists(context.Background()).Get()
	require.NoError(t, err)
	require.Len(t, playlists, 1)

	// Write-through ingestion is fire-and-forget; the cache catches up
	require.Eventually(t, func() bool {
		r := m.GetPlaylists(context.Background(), WithoutNetwork())
		got, err := r.Get()
		return err == nil && len(got) == 1 && got[0].Name == "Fresh"
	}, time.Second, 5*time.Millisecond)
}

func TestForceBypassesCacheAndRefetches(t *testing.T) {
	ground := newFakeSource()
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		return []domain.Playlist{{ID: "2", Name: "New"}}, nil
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylists, "", []domain.Playlist{{ID: "1", Name: "Old"}}))

	playlists, err := m.GetPlaylists(context.Background(), WithForce()).Get()
	require.NoError(t, err)
	require.Len(t, playlists, 1)
	assert.Equal(t, "New", playlists[0].Name)
}

func TestDegradesToPartialWhenServerGone(t *testing.T) {
	ground := newFakeSource()
	ground.canService = false

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylists, "", []domain.Playlist{{ID: "1", Name: "Stale"}}))
	caching.Invalidate(domain.KeyPlaylists, "")

	playlists, err := m.GetPlaylists(context.Background()).Get()
	require.NoError(t, err, "stale data should degrade to success")
	require.Len(t, playlists, 1)
	assert.Equal(t, "Stale", playlists[0].Name)
}

func TestUnavailableWithoutPartial(t *testing.T) {
	ground := newFakeSource()
	ground.canService = false

	m, _ := newTestManager(t, ground)

	_, err := m.GetPlaylists(context.Background()).Get()
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
}

func TestOfflineModeDisablesNetworkedGround(t *testing.T) {
	ground := newFakeSource()
	var groundCalls atomic.Int32
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		groundCalls.Add(1)
		return []domain.Playlist{{ID: "1"}}, nil
	}

	m, _ := newTestManager(t, ground)
	m.SetOfflineMode(true)

	_, err := m.GetPlaylists(context.Background()).Get()
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	assert.Equal(t, int32(0), groundCalls.Load())
}

func TestBeforeDownloadOrdering(t *testing.T) {
	ground := newFakeSource()

	var mu sync.Mutex
	var sequence []string
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		mu.Lock()
		sequence = append(sequence, "fetch")
		mu.Unlock()
		return nil, nil
	}

	m, _ := newTestManager(t, ground)

	before := func() {
		mu.Lock()
		sequence = append(sequence, "before")
		mu.Unlock()
	}

	_, err := m.GetPlaylists(context.Background(), WithBeforeDownload(before)).Get()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "fetch"}, sequence)
}

func TestBeforeDownloadNotCalledOnCacheHit(t *testing.T) {
	ground := newFakeSource()
	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylists, "", []domain.Playlist{{ID: "1"}}))

	called := false
	_, err := m.GetPlaylists(context.Background(), WithBeforeDownload(func() { called = true })).Get()
	require.NoError(t, err)
	assert.False(t, called)
}

func TestGroundFailureCarriesPartial(t *testing.T) {
	ground := newFakeSource()
	ground.getPlaylists = func(ctx context.Context) ([]domain.Playlist, error) {
		return nil, domain.ErrServerOffline
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylists, "", []domain.Playlist{{ID: "1", Name: "Stale"}}))
	caching.Invalidate(domain.KeyPlaylists, "")

	_, err := m.GetPlaylists(context.Background()).Get()
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok, "server failure with stale data should surface as a miss with partial")
	partial, ok := miss.Partial.([]domain.Playlist)
	require.True(t, ok)
	assert.Equal(t, "Stale", partial[0].Name)
}

func TestDeletePlaylistCascades(t *testing.T) {
	ground := newFakeSource()
	ground.deletePlaylist = func(ctx context.Context, id string) error { return nil }

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyPlaylistDetails, "p1", &domain.PlaylistDetails{
		Playlist: domain.Playlist{ID: "p1"},
	}))

	require.NoError(t, m.DeletePlaylist(context.Background(), "p1"))

	_, err := caching.GetPlaylistDetails(context.Background(), "p1")
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok)
	assert.Nil(t, miss.Partial)
}

func TestForcedArtistRefreshInvalidatesAlbums(t *testing.T) {
	ground := newFakeSource()
	ground.getArtist = func(ctx context.Context, id string) (*domain.Artist, error) {
		return &domain.Artist{ID: "ar1", Albums: []domain.Album{{ID: "a1"}}}, nil
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyAlbum, "a1", &domain.AlbumWithSongs{
		Album: domain.Album{ID: "a1"},
	}))

	_, err := m.GetArtist(context.Background(), "ar1", WithForce()).Get()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := caching.GetAlbum(context.Background(), "a1")
		_, isMiss := domain.AsCacheMiss(err)
		return isMiss
	}, time.Second, 5*time.Millisecond, "album details should be invalidated after a forced artist refresh")
}

func TestSearchMergesCacheAndServer(t *testing.T) {
	ground := newFakeSource()
	ground.search = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		return &domain.SearchResult{
			Query: query,
			Songs: []domain.Song{{ID: "remote", Title: "Gold Dust"}},
		}, nil
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeySong, "local", &domain.Song{ID: "local", Title: "Heart of Gold"}))

	var updates atomic.Int32
	result, err := m.Search(context.Background(), "gold", func(r *domain.SearchResult) {
		updates.Add(1)
	}).Get()
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range result.Songs {
		ids[s.ID] = true
	}
	assert.True(t, ids["local"], "local hits must be present")
	assert.True(t, ids["remote"], "server hits must be merged in")
	assert.GreaterOrEqual(t, updates.Load(), int32(1))
}

func TestConcurrentSongPathRequestsShareOneDownload(t *testing.T) {
	body := []byte("media-bytes")
	var hits atomic.Int32
	srv := mediaServer(t, body, &hits, 100*time.Millisecond)

	ground := newFakeSource()
	ground.getSong = func(ctx context.Context, id string) (*domain.Song, error) {
		return &domain.Song{ID: id, Size: int64(len(body))}, nil
	}
	ground.getSongURI = func(ctx context.Context, id, scheme string) (string, error) {
		return srv.URL + "/" + id, nil
	}

	m, _ := newDownloadTestManager(t, ground)

	r1 := m.GetSongPath(context.Background(), "s1", nil)
	r2 := m.GetSongPath(context.Background(), "s1", nil)

	p1, err1 := r1.Get()
	p2, err2 := r2.Get()
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, p1, p2, "deduplicated callers get the same final path")
	assert.Equal(t, int32(1), hits.Load(), "one transfer serves both callers")
}

func TestArtistsSortedWhenResultResolves(t *testing.T) {
	ground := newFakeSource()
	ground.getArtists = func(ctx context.Context) ([]domain.Artist, error) {
		return []domain.Artist{
			{ID: "1", Name: "Zebra"},
			{ID: "2", Name: "The Animals"},
			{ID: "3", Name: "Beatles"},
		}, nil
	}

	m, caching := newTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeyIgnoredArticles, "", []string{"The"}))

	// The slice must already be in order when Get returns; sorting it any
	// later would race with the caller
	artists, err := m.GetArtists(context.Background()).Get()
	require.NoError(t, err)
	require.Len(t, artists, 3)
	assert.Equal(t, "The Animals", artists[0].Name)
	assert.Equal(t, "Beatles", artists[1].Name)
	assert.Equal(t, "Zebra", artists[2].Name)
}

func TestSearchRanksMergedResults(t *testing.T) {
	ground := newFakeSource()
	ground.search = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		return &domain.SearchResult{Query: query, Songs: []domain.Song{
			{ID: "s1", Title: "Goldfinger"},
			{ID: "s2", Title: "Gold"},
		}}, nil
	}

	m, _ := newTestManager(t, ground)

	res, err := m.Search(context.Background(), "gold", nil).Get()
	require.NoError(t, err)
	require.Len(t, res.Songs, 2)
	assert.Equal(t, "Gold", res.Songs[0].Title, "exact match outranks prefix match")
}

func TestBatchDownloadPinsSongsPermanently(t *testing.T) {
	body := []byte("media")
	srv := mediaServer(t, body, nil, 0)

	ground := newFakeSource()
	ground.getSong = func(ctx context.Context, id string) (*domain.Song, error) {
		return &domain.Song{ID: id, Size: int64(len(body))}, nil
	}
	ground.getSongURI = func(ctx context.Context, id, scheme string) (string, error) {
		return srv.URL + "/" + id, nil
	}

	m, _ := newDownloadTestManager(t, ground)

	jobID := m.BatchDownloadSongs([]string{"s1"}, BatchDownloadOptions{})
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		return m.CachedStatuses([]string{"s1"})["s1"] == domain.StatusPermanentlyCached
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBatchDownloadPinsAlreadyCachedSong(t *testing.T) {
	// No getSongURI: any attempt to refetch would fail the batch item
	ground := newFakeSource()
	m, caching := newDownloadTestManager(t, ground)

	staging := filepath.Join(t.TempDir(), "s1.mp3")
	require.NoError(t, os.WriteFile(staging, []byte("media"), 0644))
	require.NoError(t, caching.Ingest(domain.KeySongFile, "s1", staging))
	require.Equal(t, domain.StatusCached, m.CachedStatuses([]string{"s1"})["s1"])

	m.BatchDownloadSongs([]string{"s1"}, BatchDownloadOptions{})

	require.Eventually(t, func() bool {
		return m.CachedStatuses([]string{"s1"})["s1"] == domain.StatusPermanentlyCached
	}, 2*time.Second, 5*time.Millisecond, "a transiently cached file is pinned in place, not refetched")
}

func TestSongDownloadReusesStaleMetadata(t *testing.T) {
	body := []byte("media-bytes!")
	srv := mediaServer(t, body, nil, 0)

	ground := newFakeSource()
	var metaCalls atomic.Int32
	ground.getSong = func(ctx context.Context, id string) (*domain.Song, error) {
		metaCalls.Add(1)
		return nil, domain.ErrServerOffline
	}
	ground.getSongURI = func(ctx context.Context, id, scheme string) (string, error) {
		return srv.URL + "/" + id, nil
	}

	m, caching := newDownloadTestManager(t, ground)
	require.NoError(t, caching.Ingest(domain.KeySong, "s1", &domain.Song{ID: "s1", Size: int64(len(body))}))
	caching.Invalidate(domain.KeySong, "s1")

	path, err := m.GetSongPath(context.Background(), "s1", nil).Get()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, int32(0), metaCalls.Load(), "the invalidated song row still supplies size and cover art")
}

func TestCanPredicatesFollowAvailability(t *testing.T) {
	ground := newFakeSource()
	m, _ := newTestManager(t, ground)

	assert.True(t, m.CanGetPlaylists())
	assert.False(t, m.CanSavePlayQueue(), "mutation the ground adapter lacks")

	ground.canService = false
	// Reads still work through the cache
	assert.True(t, m.CanGetPlaylists())
	assert.False(t, m.CanDeletePlaylist(), "mutations need the server")
}
