// Package store is the durable keyed storage under the caching adapter:
// structured records in BoltDB plus binary blobs (song files, cover art)
// addressed by a hash of their semantic key.
package store

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/sonata/internal/domain"
)

// Bucket names
var (
	bucketPlaylists = []byte("playlists")
	bucketSongs     = []byte("songs")
	bucketAlbums    = []byte("albums")
	bucketArtists   = []byte("artists")
	bucketMeta      = []byte("meta")
	bucketInfo      = []byte("cacheinfo")
)

var allBuckets = [][]byte{bucketPlaylists, bucketSongs, bucketAlbums, bucketArtists, bucketMeta, bucketInfo}

// EntryInfo records ingestion state for one (key, param) pair. Its presence
// distinguishes "fetched once and is empty" from "never fetched"; Valid=false
// marks an entry stale while keeping the payload around as partial data.
type EntryInfo struct {
	LastIngested time.Time `json:"lastIngested"`
	Valid        bool      `json:"valid"`
	FileHash     string    `json:"fileHash,omitempty"`
	FilePath     string    `json:"filePath,omitempty"`
	Permanent    bool      `json:"permanent,omitempty"`
}

// Store implements the cache storage layer using BoltDB.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte

	filesDir     string
	filesDirTemp bool // filesDir is a temp dir owned by this store
}

// NewStore opens (or creates) the cache for the given server. An empty
// baseCacheDir selects memory-only mode; blobs then live in a temp directory
// that Close removes.
func NewStore(baseCacheDir, serverURL string) (*Store, error) {
	if baseCacheDir == "" {
		filesDir, err := os.MkdirTemp("", "sonata-cache-*")
		if err != nil {
			return nil, err
		}
		return &Store{
			cache:        make(map[string][]byte),
			filesDir:     filesDir,
			filesDirTemp: true,
		}, nil
	}

	dir := baseCacheDir
	if serverURL != "" {
		dir = filepath.Join(baseCacheDir, hashServerURL(serverURL))
	}
	filesDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "sonata.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cache: make(map[string][]byte), filesDir: filesDir}, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *Store) Close() error {
	if s.filesDirTemp {
		os.RemoveAll(s.filesDir)
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *Store) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *Store) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
}

func (s *Store) delete(bucket []byte, key string) {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *Store) deletePrefix(bucket []byte, prefix string) {
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		// Deleting while iterating invalidates the cursor; collect first
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// scan collects all values under a key prefix. Memory-only mode scans the
// memory cache; otherwise BoltDB is authoritative.
func (s *Store) scan(bucket []byte, prefix string, visit func(key string, data []byte)) {
	if s.db == nil {
		s.mu.RLock()
		cachePrefix := string(bucket) + ":"
		for k, data := range s.cache {
			if strings.HasPrefix(k, cachePrefix+prefix) {
				visit(strings.TrimPrefix(k, cachePrefix), data)
			}
		}
		s.mu.RUnlock()
		return
	}

	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			visit(string(k), v)
		}
		return nil
	})
}

// === Entry info (ingestion tracking) ===

func infoKey(key domain.CacheKey, param string) string {
	return string(key) + "\x00" + param
}

// Info returns the ingestion record for (key, param)
func (s *Store) Info(key domain.CacheKey, param string) (EntryInfo, bool) {
	var info EntryInfo
	ok := s.get(bucketInfo, infoKey(key, param), &info)
	return info, ok
}

// SetInfo stores the ingestion record for (key, param)
func (s *Store) SetInfo(key domain.CacheKey, param string, info EntryInfo) error {
	return s.set(bucketInfo, infoKey(key, param), info)
}

// InvalidateInfo marks (key, param) stale without touching the payload.
// Creating a record for a never-ingested entry would turn a "never fetched"
// miss into a stale hit, so it only updates existing records.
func (s *Store) InvalidateInfo(key domain.CacheKey, param string) {
	if info, ok := s.Info(key, param); ok && info.Valid {
		info.Valid = false
		s.SetInfo(key, param, info)
	}
}

// DeleteInfo removes the ingestion record for (key, param)
func (s *Store) DeleteInfo(key domain.CacheKey, param string) {
	s.delete(bucketInfo, infoKey(key, param))
}

// DeleteInfosForKey removes every ingestion record under one cache key
func (s *Store) DeleteInfosForKey(key domain.CacheKey) {
	s.deletePrefix(bucketInfo, string(key)+"\x00")
}

// InfosForKey returns all ingestion records under one cache key, by parameter
func (s *Store) InfosForKey(key domain.CacheKey) map[string]EntryInfo {
	out := make(map[string]EntryInfo)
	prefix := string(key) + "\x00"
	s.scan(bucketInfo, prefix, func(k string, data []byte) {
		var info EntryInfo
		if json.Unmarshal(data, &info) == nil {
			out[strings.TrimPrefix(k, prefix)] = info
		}
	})
	return out
}

// === Playlists ===

func (s *Store) GetPlaylists() ([]domain.Playlist, bool) {
	var playlists []domain.Playlist
	ok := s.get(bucketPlaylists, "list", &playlists)
	return playlists, ok
}

// SavePlaylists replaces the playlist collection. A full collection ingestion
// replaces the prior set; rows absent from the new data are gone.
func (s *Store) SavePlaylists(playlists []domain.Playlist) error {
	return s.set(bucketPlaylists, "list", playlists)
}

func (s *Store) GetPlaylistDetails(playlistID string) (*domain.PlaylistDetails, bool) {
	var details domain.PlaylistDetails
	if !s.get(bucketPlaylists, "details:"+playlistID, &details) {
		return nil, false
	}
	return &details, true
}

func (s *Store) SavePlaylistDetails(details *domain.PlaylistDetails) error {
	return s.set(bucketPlaylists, "details:"+details.ID, details)
}

func (s *Store) DeletePlaylistDetails(playlistID string) {
	s.delete(bucketPlaylists, "details:"+playlistID)
}

// === Songs (per-item sub-cache, accumulates across ingestions) ===

func (s *Store) GetSong(songID string) (*domain.Song, bool) {
	var song domain.Song
	if !s.get(bucketSongs, songID, &song) {
		return nil, false
	}
	return &song, true
}

func (s *Store) SaveSong(song *domain.Song) error {
	return s.set(bucketSongs, song.ID, song)
}

// Songs returns every song in the sub-cache
func (s *Store) Songs() []domain.Song {
	var songs []domain.Song
	s.scan(bucketSongs, "", func(_ string, data []byte) {
		var song domain.Song
		if json.Unmarshal(data, &song) == nil {
			songs = append(songs, song)
		}
	})
	return songs
}

// === Albums ===

func (s *Store) GetAlbumList(queryHash string) ([]domain.Album, bool) {
	var albums []domain.Album
	ok := s.get(bucketAlbums, "list:"+queryHash, &albums)
	return albums, ok
}

func (s *Store) SaveAlbumList(queryHash string, albums []domain.Album) error {
	return s.set(bucketAlbums, "list:"+queryHash, albums)
}

func (s *Store) GetAlbum(albumID string) (*domain.AlbumWithSongs, bool) {
	var album domain.AlbumWithSongs
	if !s.get(bucketAlbums, "details:"+albumID, &album) {
		return nil, false
	}
	return &album, true
}

func (s *Store) SaveAlbum(album *domain.AlbumWithSongs) error {
	return s.set(bucketAlbums, "details:"+album.ID, album)
}

func (s *Store) DeleteAlbum(albumID string) {
	s.delete(bucketAlbums, "details:"+albumID)
}

// Albums returns every album detail row
func (s *Store) Albums() []domain.Album {
	var albums []domain.Album
	s.scan(bucketAlbums, "details:", func(_ string, data []byte) {
		var album domain.AlbumWithSongs
		if json.Unmarshal(data, &album) == nil {
			albums = append(albums, album.Album)
		}
	})
	return albums
}

// === Artists ===

func (s *Store) GetArtists() ([]domain.Artist, bool) {
	var artists []domain.Artist
	ok := s.get(bucketArtists, "list", &artists)
	return artists, ok
}

func (s *Store) SaveArtists(artists []domain.Artist) error {
	return s.set(bucketArtists, "list", artists)
}

func (s *Store) GetArtist(artistID string) (*domain.Artist, bool) {
	var artist domain.Artist
	if !s.get(bucketArtists, "details:"+artistID, &artist) {
		return nil, false
	}
	return &artist, true
}

func (s *Store) SaveArtist(artist *domain.Artist) error {
	return s.set(bucketArtists, "details:"+artist.ID, artist)
}

// === Genres / play queue / ignored articles ===

func (s *Store) GetGenres() ([]domain.Genre, bool) {
	var genres []domain.Genre
	ok := s.get(bucketMeta, "genres", &genres)
	return genres, ok
}

func (s *Store) SaveGenres(genres []domain.Genre) error {
	return s.set(bucketMeta, "genres", genres)
}

func (s *Store) GetPlayQueue() (*domain.PlayQueue, bool) {
	var queue domain.PlayQueue
	if !s.get(bucketMeta, "playqueue", &queue) {
		return nil, false
	}
	return &queue, true
}

func (s *Store) SavePlayQueue(queue *domain.PlayQueue) error {
	return s.set(bucketMeta, "playqueue", queue)
}

func (s *Store) GetIgnoredArticles() ([]string, bool) {
	var articles []string
	ok := s.get(bucketMeta, "ignored_articles", &articles)
	return articles, ok
}

func (s *Store) SaveIgnoredArticles(articles []string) error {
	return s.set(bucketMeta, "ignored_articles", articles)
}

// === Binary blobs ===

// FilePath returns the final cache path for a blob. The name is a hash of the
// semantic key, so identical logical resources map to the same file.
func (s *Store) FilePath(key domain.CacheKey, param string) string {
	sum := sha1.Sum([]byte(string(key) + ":" + param))
	return filepath.Join(s.filesDir, string(key), hex.EncodeToString(sum[:]))
}

// PromoteFile atomically moves a fully written staging file into the cache
// tree and returns the final path. Partially downloaded files are never
// visible under the final path.
func (s *Store) PromoteFile(stagingPath string, key domain.CacheKey, param string) (string, error) {
	final := s.FilePath(key, param)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(stagingPath, final); err != nil {
		// Deduplicated downloads hand every caller the same staging path and
		// the first promotion consumes it. If the blob is already in place
		// the remaining callers are done.
		if _, statErr := os.Stat(stagingPath); os.IsNotExist(statErr) {
			if _, finalErr := os.Stat(final); finalErr == nil {
				return final, nil
			}
			return "", err
		}
		// Cross-device staging dir; fall back to copy+remove
		if err := copyFile(stagingPath, final); err != nil {
			return "", err
		}
		os.Remove(stagingPath)
	}
	return final, nil
}

// RemoveFile deletes the blob for (key, param), if present
func (s *Store) RemoveFile(key domain.CacheKey, param string) {
	os.Remove(s.FilePath(key, param))
}

// ClearFiles deletes every blob stored under one cache key
func (s *Store) ClearFiles(key domain.CacheKey) {
	dir := filepath.Join(s.filesDir, string(key))
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
}

// HashFile returns the sha1 of a file's contents, for ingestion records
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// === Whole-cache reset (server switch) ===

// Reset wipes all structured data, ingestion records and blobs
func (s *Store) Reset() {
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	os.RemoveAll(s.filesDir)
	os.MkdirAll(s.filesDir, 0755)

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			b := tx.Bucket(bucket)
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
