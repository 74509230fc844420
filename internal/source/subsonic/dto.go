package subsonic

import "encoding/json"

// envelope is the outer wrapper every Subsonic endpoint returns
type envelope struct {
	Response response `json:"subsonic-response"`
}

type response struct {
	Status        string        `json:"status"` // "ok" or "failed"
	Version       string        `json:"version"`
	Error         *apiError     `json:"error,omitempty"`
	Playlists     *playlistsDTO `json:"playlists,omitempty"`
	Playlist      *playlistDTO  `json:"playlist,omitempty"`
	Song          *songDTO      `json:"song,omitempty"`
	AlbumList2    *albumListDTO `json:"albumList2,omitempty"`
	Album         *albumDTO     `json:"album,omitempty"`
	Artists       *artistsDTO   `json:"artists,omitempty"`
	Artist        *artistDTO    `json:"artist,omitempty"`
	Genres        *genresDTO    `json:"genres,omitempty"`
	PlayQueue     *playQueueDTO `json:"playQueue,omitempty"`
	SearchResult3 *search3DTO   `json:"searchResult3,omitempty"`
}

// Subsonic API error codes
const (
	codeGeneric          = 0
	codeMissingParameter = 10
	codeWrongCredentials = 40
	codeTokenUnsupported = 41
	codeNotAuthorized    = 50
	codeNotFound         = 70
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type playlistsDTO struct {
	Playlist []playlistDTO `json:"playlist"`
}

type playlistDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Comment   string    `json:"comment"`
	Owner     string    `json:"owner"`
	Public    bool      `json:"public"`
	SongCount int       `json:"songCount"`
	Duration  int       `json:"duration"` // Seconds
	CoverArt  string    `json:"coverArt"`
	Created   string    `json:"created"` // ISO 8601
	Changed   string    `json:"changed"`
	Entry     []songDTO `json:"entry,omitempty"`
}

type songDTO struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Album       string      `json:"album"`
	AlbumID     string      `json:"albumId"`
	Artist      string      `json:"artist"`
	ArtistID    string      `json:"artistId"`
	Genre       string      `json:"genre"`
	Track       int         `json:"track"`
	DiscNumber  int         `json:"discNumber"`
	Year        int         `json:"year"`
	Duration    int         `json:"duration"` // Seconds
	Size        json.Number `json:"size"`
	Suffix      string      `json:"suffix"`
	BitRate     int         `json:"bitRate"`
	CoverArt    string      `json:"coverArt"`
	Path        string      `json:"path"`
	PlayCount   int         `json:"playCount"`
	Created     string      `json:"created"`
}

type albumListDTO struct {
	Album []albumDTO `json:"album"`
}

type albumDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Artist    string    `json:"artist"`
	ArtistID  string    `json:"artistId"`
	Genre     string    `json:"genre"`
	Year      int       `json:"year"`
	SongCount int       `json:"songCount"`
	Duration  int       `json:"duration"` // Seconds
	CoverArt  string    `json:"coverArt"`
	Created   string    `json:"created"`
	Song      []songDTO `json:"song,omitempty"`
}

type artistsDTO struct {
	IgnoredArticles string           `json:"ignoredArticles"`
	Index           []artistIndexDTO `json:"index"`
}

type artistIndexDTO struct {
	Name   string      `json:"name"`
	Artist []artistDTO `json:"artist"`
}

type artistDTO struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AlbumCount int        `json:"albumCount"`
	CoverArt   string     `json:"coverArt"`
	ArtistImg  string     `json:"artistImageUrl"`
	Album      []albumDTO `json:"album,omitempty"`
}

type genresDTO struct {
	Genre []genreDTO `json:"genre"`
}

type genreDTO struct {
	Value      string `json:"value"`
	SongCount  int    `json:"songCount"`
	AlbumCount int    `json:"albumCount"`
}

type playQueueDTO struct {
	Current   string    `json:"current"`
	Position  int64     `json:"position"` // Milliseconds
	ChangedBy string    `json:"changedBy"`
	Changed   string    `json:"changed"`
	Entry     []songDTO `json:"entry"`
}

type search3DTO struct {
	Artist []artistDTO `json:"artist"`
	Album  []albumDTO  `json:"album"`
	Song   []songDTO   `json:"song"`
}
