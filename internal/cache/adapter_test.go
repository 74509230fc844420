package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/sonata/internal/domain"
	"github.com/mmcdole/sonata/internal/log"
	"github.com/mmcdole/sonata/internal/store"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	st, err := store.NewStore("", "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, log.NullLogger())
}

func TestGetPlaylistsNeverFetched(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.GetPlaylists(context.Background())
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok, "expected a cache miss")
	assert.Nil(t, miss.Partial)
}

func TestGetPlaylistsEmptyIsAHit(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.Ingest(domain.KeyPlaylists, "", []domain.Playlist{}))

	playlists, err := a.GetPlaylists(context.Background())
	require.NoError(t, err)
	assert.Empty(t, playlists)
}

func TestInvalidateServesPartialData(t *testing.T) {
	a := newTestAdapter(t)

	seeded := []domain.Playlist{{ID: "1", Name: "Morning"}}
	require.NoError(t, a.Ingest(domain.KeyPlaylists, "", seeded))

	a.Invalidate(domain.KeyPlaylists, "")

	_, err := a.GetPlaylists(context.Background())
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok)
	partial, ok := miss.Partial.([]domain.Playlist)
	require.True(t, ok, "partial should carry the stale playlists")
	assert.Equal(t, seeded, partial)
}

func TestCollectionIngestReplaces(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Ingest(domain.KeyPlaylists, "", []domain.Playlist{
		{ID: "1", Name: "One"},
		{ID: "2", Name: "Two"},
	}))
	require.NoError(t, a.Ingest(domain.KeyPlaylists, "", []domain.Playlist{
		{ID: "1", Name: "One"},
		{ID: "3", Name: "Three"},
	}))

	playlists, err := a.GetPlaylists(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestIngestIsIdempotent(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	song := &domain.Song{ID: "s1", Title: "Harvest Moon"}
	require.NoError(t, a.Ingest(domain.KeySong, "s1", song))
	require.NoError(t, a.Ingest(domain.KeySong, "s1", song))

	got, err := a.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, song, got)
}

func TestNestedIngestIsPartial(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	details := &domain.PlaylistDetails{
		Playlist: domain.Playlist{ID: "p1", Name: "Mix"},
		Songs:    []domain.Song{{ID: "s1", Title: "Nested"}},
	}
	require.NoError(t, a.Ingest(domain.KeyPlaylistDetails, "p1", details))

	// The playlist itself is a hit
	got, err := a.GetPlaylistDetails(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got.Songs, 1)

	// The nested song is only partial data until fetched directly
	_, err = a.GetSong(ctx, "s1")
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok, "nested song should still miss")
	partial, ok := miss.Partial.(*domain.Song)
	require.True(t, ok)
	assert.Equal(t, "Nested", partial.Title)

	// A direct ingest upgrades it to a hit
	require.NoError(t, a.Ingest(domain.KeySong, "s1", &details.Songs[0]))
	song, err := a.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", song.ID)
}

func TestPartialIngestDoesNotInvalidateFullEntry(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Ingest(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Full"}))

	// The same song arrives nested in a playlist afterwards
	details := &domain.PlaylistDetails{
		Playlist: domain.Playlist{ID: "p1"},
		Songs:    []domain.Song{{ID: "s1", Title: "Full"}},
	}
	require.NoError(t, a.Ingest(domain.KeyPlaylistDetails, "p1", details))

	_, err := a.GetSong(ctx, "s1")
	assert.NoError(t, err, "a valid entry must stay valid through partial ingests")
}

func TestArtistIngestKeepsAlbumSongs(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Ingest(domain.KeyAlbum, "a1", &domain.AlbumWithSongs{
		Album: domain.Album{ID: "a1", Name: "Gold"},
		Songs: []domain.Song{{ID: "s1"}},
	}))

	// Artist detail carries the album without songs; the stored song list
	// must survive
	require.NoError(t, a.Ingest(domain.KeyArtist, "ar1", &domain.Artist{
		ID:     "ar1",
		Name:   "Artist",
		Albums: []domain.Album{{ID: "a1", Name: "Gold (remaster)"}},
	}))

	album, err := a.GetAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Gold (remaster)", album.Name)
	assert.Len(t, album.Songs, 1)
}

func TestCoverArtIngestAndCascadeDelete(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	staging := filepath.Join(t.TempDir(), "art")
	require.NoError(t, os.WriteFile(staging, []byte("png bytes"), 0644))
	require.NoError(t, a.Ingest(domain.KeyCoverArt, "c1", staging))

	path, err := a.GetCoverArtURI(ctx, "c1", "file", 0)
	require.NoError(t, err)
	assert.FileExists(t, path)

	// Deleting the owning playlist cascades to the art
	require.NoError(t, a.Ingest(domain.KeyPlaylistDetails, "p1", &domain.PlaylistDetails{
		Playlist: domain.Playlist{ID: "p1", CoverArtID: "c1"},
	}))
	a.Delete(domain.KeyPlaylistDetails, "p1")

	_, err = a.GetCoverArtURI(ctx, "c1", "file", 0)
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok)
	assert.Nil(t, miss.Partial, "deleted entries carry no partial data")
}

func TestSongFileInvalidateCascadesToCoverArt(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	art := filepath.Join(t.TempDir(), "art")
	require.NoError(t, os.WriteFile(art, []byte("art"), 0644))
	require.NoError(t, a.Ingest(domain.KeyCoverArt, "c1", art))

	media := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.WriteFile(media, []byte("flac"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", media))
	require.NoError(t, a.Ingest(domain.KeySong, "s1", &domain.Song{ID: "s1", CoverArtID: "c1"}))

	a.Invalidate(domain.KeySongFile, "s1")

	_, err := a.GetSongURI(ctx, "s1", "file")
	_, ok := domain.AsCacheMiss(err)
	assert.True(t, ok)

	_, err = a.GetCoverArtURI(ctx, "c1", "file", 0)
	_, ok = domain.AsCacheMiss(err)
	assert.True(t, ok, "song file invalidation should cascade to its cover art")
}

func TestCachedStatuses(t *testing.T) {
	a := newTestAdapter(t)

	media := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.WriteFile(media, []byte("mp3"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "cached", media))

	statuses := a.CachedStatuses([]string{"cached", "missing"})
	assert.Equal(t, domain.StatusCached, statuses["cached"])
	assert.Equal(t, domain.StatusNotCached, statuses["missing"])
}

func TestIngestFileTwiceFromSharedStaging(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	// Deduplicated downloads hand every caller the same staging path; the
	// caller that ingests second must still succeed
	staging := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.WriteFile(staging, []byte("mp3"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", staging))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", staging))

	path, err := a.GetSongURI(ctx, "s1", "file")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestPermanentPinIsSticky(t *testing.T) {
	a := newTestAdapter(t)

	dir := t.TempDir()
	pinned := filepath.Join(dir, "pinned")
	require.NoError(t, os.WriteFile(pinned, []byte("mp3"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", domain.FileIngest{Path: pinned, Permanent: true}))

	statuses := a.CachedStatuses([]string{"s1"})
	require.Equal(t, domain.StatusPermanentlyCached, statuses["s1"])

	// A later transparent re-ingest must not unpin the file
	again := filepath.Join(dir, "again")
	require.NoError(t, os.WriteFile(again, []byte("mp3"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", again))

	statuses = a.CachedStatuses([]string{"s1"})
	assert.Equal(t, domain.StatusPermanentlyCached, statuses["s1"])
}

func TestDeleteAllSongs(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	media := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.WriteFile(media, []byte("mp3"), 0644))
	require.NoError(t, a.Ingest(domain.KeySongFile, "s1", media))

	a.Delete(domain.KeyAllSongs, "")

	_, err := a.GetSongURI(ctx, "s1", "file")
	miss, ok := domain.AsCacheMiss(err)
	require.True(t, ok)
	assert.Nil(t, miss.Partial)
}

func TestMutationsNotSupported(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreatePlaylist(ctx, "new", nil)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	assert.ErrorIs(t, a.DeletePlaylist(ctx, "p1"), domain.ErrNotSupported)
	assert.ErrorIs(t, a.Scrobble(ctx, "s1"), domain.ErrNotSupported)
}

func TestSearchOverCachedData(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Ingest(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Heart of Gold"}))
	require.NoError(t, a.Ingest(domain.KeySong, "s2", &domain.Song{ID: "s2", Title: "Something Else"}))

	result, err := a.Search(ctx, "heart")
	require.NoError(t, err)
	require.Len(t, result.Songs, 1)
	assert.Equal(t, "s1", result.Songs[0].ID)
}
