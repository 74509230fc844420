// Package subsonic implements the ground-truth source adapter against the
// Subsonic HTTP API (v1.15.0, JSON flavor).
package subsonic

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mmcdole/sonata/internal/domain"
)

const (
	apiVersion = "1.15.0"
	clientName = "sonata"

	defaultTimeout      = 60 * time.Second
	defaultPingInterval = 15 * time.Second
	albumListPageSize   = 500
	maxRetries          = 3
	baseRetryDelay      = 500 * time.Millisecond
)

// Client implements the source.Source interface against a Subsonic server
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	online   atomic.Bool
	pingStop chan struct{}
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a Subsonic API client and starts its connectivity probe
func NewClient(baseURL, username, password string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		logger:     logger,
		pingStop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.pingLoop()
	return c
}

// pingLoop probes the server periodically so CanServiceRequests reflects
// actual reachability rather than the last operation's luck
func (c *Client) pingLoop() {
	c.probe()
	ticker := time.NewTicker(defaultPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.probe()
		case <-c.pingStop:
			return
		}
	}
}

func (c *Client) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.doRequest(ctx, "ping", nil)
	wasOnline := c.online.Swap(err == nil)
	if wasOnline != (err == nil) {
		c.logger.Info("server connectivity changed", "online", err == nil, "url", c.baseURL)
	}
}

// CanServiceRequests reflects the most recent connectivity probe
func (c *Client) CanServiceRequests() bool { return c.online.Load() }

func (c *Client) IsNetworked() bool { return true }

// SupportedSchemes follows the server URL's scheme
func (c *Client) SupportedSchemes() []string {
	if strings.HasPrefix(c.baseURL, "https://") {
		return []string{"https"}
	}
	return []string{"http"}
}

func (c *Client) Capabilities() domain.Capabilities {
	return domain.NewCapabilities(
		domain.CapGetPlaylists,
		domain.CapGetPlaylistDetails,
		domain.CapCreatePlaylist,
		domain.CapUpdatePlaylist,
		domain.CapDeletePlaylist,
		domain.CapGetSong,
		domain.CapGetSongURI,
		domain.CapGetCoverArtURI,
		domain.CapGetAlbums,
		domain.CapGetAlbum,
		domain.CapGetArtists,
		domain.CapGetArtist,
		domain.CapGetGenres,
		domain.CapGetIgnoredArticles,
		domain.CapScrobble,
		domain.CapGetPlayQueue,
		domain.CapSavePlayQueue,
		domain.CapSearch,
	)
}

// Shutdown stops the connectivity probe
func (c *Client) Shutdown() {
	select {
	case <-c.pingStop:
	default:
		close(c.pingStop)
	}
}

// authParams builds the salted-token auth parameters. A fresh salt is used for
// every request so the password-derived token never repeats on the wire.
func (c *Client) authParams() url.Values {
	salt := newSalt()
	token := md5.Sum([]byte(c.password + salt))

	params := url.Values{}
	params.Set("u", c.username)
	params.Set("t", hex.EncodeToString(token[:]))
	params.Set("s", salt)
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")
	return params
}

func newSalt() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// requestURL builds a fully authenticated endpoint URL
func (c *Client) requestURL(endpoint string, params url.Values) string {
	query := c.authParams()
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	return fmt.Sprintf("%s/rest/%s?%s", c.baseURL, endpoint, query.Encode())
}

// doRequest performs an authenticated API call and unwraps the response
// envelope. Includes retry with exponential backoff for 5xx server errors.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) (*response, error) {
	reqURL := c.requestURL(endpoint, params)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 500ms, 1s, 2s
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "endpoint", endpoint)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		c.logger.Debug("subsonic request", "endpoint", endpoint, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("subsonic request failed", "endpoint", endpoint, "error", err)
			return nil, domain.ErrServerOffline
		}

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			c.logger.Warn("subsonic server error, will retry",
				"status", resp.StatusCode,
				"attempt", attempt,
				"maxRetries", maxRetries,
				"endpoint", endpoint,
			)
			continue
		}

		var env envelope
		err = json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		if env.Response.Status != "ok" {
			return nil, mapAPIError(env.Response.Error)
		}
		return &env.Response, nil
	}

	c.logger.Error("subsonic request failed after retries", "endpoint", endpoint, "error", lastErr)
	return nil, lastErr
}

func mapAPIError(apiErr *apiError) error {
	if apiErr == nil {
		return fmt.Errorf("server reported failure without detail")
	}
	switch apiErr.Code {
	case codeWrongCredentials, codeTokenUnsupported, codeNotAuthorized:
		return domain.ErrAuthFailed
	case codeNotFound:
		return domain.ErrNotFound
	default:
		return fmt.Errorf("server error %d: %s", apiErr.Code, apiErr.Message)
	}
}

// === Playlists ===

func (c *Client) GetPlaylists(ctx context.Context) ([]domain.Playlist, error) {
	resp, err := c.doRequest(ctx, "getPlaylists", nil)
	if err != nil {
		return nil, err
	}
	if resp.Playlists == nil {
		return []domain.Playlist{}, nil
	}
	return mapPlaylists(resp.Playlists.Playlist), nil
}

func (c *Client) GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.PlaylistDetails, error) {
	params := url.Values{}
	params.Set("id", playlistID)

	resp, err := c.doRequest(ctx, "getPlaylist", params)
	if err != nil {
		return nil, err
	}
	if resp.Playlist == nil {
		return nil, domain.ErrNotFound
	}
	return mapPlaylistDetails(*resp.Playlist), nil
}

func (c *Client) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.PlaylistDetails, error) {
	params := url.Values{}
	params.Set("name", name)
	for _, id := range songIDs {
		params.Add("songId", id)
	}

	resp, err := c.doRequest(ctx, "createPlaylist", params)
	if err != nil {
		return nil, err
	}
	// Older servers return nothing from createPlaylist
	if resp.Playlist == nil {
		return nil, nil
	}
	return mapPlaylistDetails(*resp.Playlist), nil
}

// UpdatePlaylist applies a partial update. Replacing the song list uses
// createPlaylist with playlistId, which the API defines as an overwrite.
func (c *Client) UpdatePlaylist(ctx context.Context, playlistID string, update domain.PlaylistUpdate) (*domain.PlaylistDetails, error) {
	if update.SongIDs != nil {
		params := url.Values{}
		params.Set("playlistId", playlistID)
		for _, id := range update.SongIDs {
			params.Add("songId", id)
		}
		if _, err := c.doRequest(ctx, "createPlaylist", params); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("playlistId", playlistID)
	if update.Name != nil {
		params.Set("name", *update.Name)
	}
	if update.Comment != nil {
		params.Set("comment", *update.Comment)
	}
	if update.Public != nil {
		params.Set("public", strconv.FormatBool(*update.Public))
	}
	for _, id := range update.AppendSongIDs {
		params.Add("songIdToAdd", id)
	}
	if len(params) > 1 {
		if _, err := c.doRequest(ctx, "updatePlaylist", params); err != nil {
			return nil, err
		}
	}

	return c.GetPlaylistDetails(ctx, playlistID)
}

func (c *Client) DeletePlaylist(ctx context.Context, playlistID string) error {
	params := url.Values{}
	params.Set("id", playlistID)
	_, err := c.doRequest(ctx, "deletePlaylist", params)
	return err
}

// === Songs ===

func (c *Client) GetSong(ctx context.Context, songID string) (*domain.Song, error) {
	params := url.Values{}
	params.Set("id", songID)

	resp, err := c.doRequest(ctx, "getSong", params)
	if err != nil {
		return nil, err
	}
	if resp.Song == nil {
		return nil, domain.ErrNotFound
	}
	song := mapSong(*resp.Song)
	return &song, nil
}

// GetSongURI returns an authenticated download URL for the song's original
// file. The URL embeds a one-time salted token.
func (c *Client) GetSongURI(ctx context.Context, songID, scheme string) (string, error) {
	if !c.supportsScheme(scheme) {
		return "", domain.ErrNotSupported
	}
	params := url.Values{}
	params.Set("id", songID)
	return c.requestURL("download", params), nil
}

func (c *Client) GetCoverArtURI(ctx context.Context, coverArtID, scheme string, size int) (string, error) {
	if !c.supportsScheme(scheme) {
		return "", domain.ErrNotSupported
	}
	params := url.Values{}
	params.Set("id", coverArtID)
	if size > 0 {
		params.Set("size", strconv.Itoa(size))
	}
	return c.requestURL("getCoverArt", params), nil
}

func (c *Client) supportsScheme(scheme string) bool {
	for _, s := range c.SupportedSchemes() {
		if s == scheme {
			return true
		}
	}
	return false
}

// === Albums / artists / genres ===

func (c *Client) GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]domain.Album, error) {
	params := url.Values{}
	params.Set("type", query.Type.String())
	params.Set("size", strconv.Itoa(albumListPageSize))
	switch query.Type {
	case domain.AlbumQueryByYear:
		params.Set("fromYear", strconv.Itoa(query.FromYear))
		params.Set("toYear", strconv.Itoa(query.ToYear))
	case domain.AlbumQueryByGenre:
		params.Set("genre", query.Genre)
	}

	resp, err := c.doRequest(ctx, "getAlbumList2", params)
	if err != nil {
		return nil, err
	}
	if resp.AlbumList2 == nil {
		return []domain.Album{}, nil
	}
	return mapAlbums(resp.AlbumList2.Album), nil
}

func (c *Client) GetAlbum(ctx context.Context, albumID string) (*domain.AlbumWithSongs, error) {
	params := url.Values{}
	params.Set("id", albumID)

	resp, err := c.doRequest(ctx, "getAlbum", params)
	if err != nil {
		return nil, err
	}
	if resp.Album == nil {
		return nil, domain.ErrNotFound
	}
	return mapAlbumWithSongs(*resp.Album), nil
}

func (c *Client) GetArtists(ctx context.Context) ([]domain.Artist, error) {
	resp, err := c.doRequest(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}
	if resp.Artists == nil {
		return []domain.Artist{}, nil
	}
	return mapArtistIndexes(resp.Artists.Index), nil
}

func (c *Client) GetArtist(ctx context.Context, artistID string) (*domain.Artist, error) {
	params := url.Values{}
	params.Set("id", artistID)

	resp, err := c.doRequest(ctx, "getArtist", params)
	if err != nil {
		return nil, err
	}
	if resp.Artist == nil {
		return nil, domain.ErrNotFound
	}
	artist := mapArtist(*resp.Artist)
	return &artist, nil
}

func (c *Client) GetGenres(ctx context.Context) ([]domain.Genre, error) {
	resp, err := c.doRequest(ctx, "getGenres", nil)
	if err != nil {
		return nil, err
	}
	if resp.Genres == nil {
		return []domain.Genre{}, nil
	}
	return mapGenres(resp.Genres.Genre), nil
}

// GetIgnoredArticles returns the article words the server strips when sorting
// artist names. Subsonic reports them on the getArtists response.
func (c *Client) GetIgnoredArticles(ctx context.Context) ([]string, error) {
	resp, err := c.doRequest(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}
	if resp.Artists == nil {
		return nil, nil
	}
	return splitIgnoredArticles(resp.Artists.IgnoredArticles), nil
}

// === Playback state ===

func (c *Client) Scrobble(ctx context.Context, songID string) error {
	params := url.Values{}
	params.Set("id", songID)
	params.Set("submission", "true")
	_, err := c.doRequest(ctx, "scrobble", params)
	return err
}

func (c *Client) GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error) {
	resp, err := c.doRequest(ctx, "getPlayQueue", nil)
	if err != nil {
		return nil, err
	}
	if resp.PlayQueue == nil {
		return nil, domain.ErrNotFound
	}
	return mapPlayQueue(*resp.PlayQueue), nil
}

func (c *Client) SavePlayQueue(ctx context.Context, queue domain.PlayQueue) error {
	params := url.Values{}
	for _, id := range queue.SongIDs {
		params.Add("id", id)
	}
	if queue.CurrentIndex >= 0 && queue.CurrentIndex < len(queue.SongIDs) {
		params.Set("current", queue.SongIDs[queue.CurrentIndex])
		params.Set("position", strconv.FormatInt(queue.Position.Milliseconds(), 10))
	}
	_, err := c.doRequest(ctx, "savePlayQueue", params)
	return err
}

// === Search ===

func (c *Client) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	params := url.Values{}
	params.Set("query", query)

	resp, err := c.doRequest(ctx, "search3", params)
	if err != nil {
		return nil, err
	}
	return mapSearchResult(query, resp.SearchResult3), nil
}
