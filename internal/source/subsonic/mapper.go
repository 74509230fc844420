package subsonic

import (
	"strings"
	"time"

	"github.com/mmcdole/sonata/internal/domain"
)

func mapSong(dto songDTO) domain.Song {
	size, _ := dto.Size.Int64()
	return domain.Song{
		ID:         dto.ID,
		Title:      dto.Title,
		Album:      dto.Album,
		AlbumID:    dto.AlbumID,
		Artist:     dto.Artist,
		ArtistID:   dto.ArtistID,
		Genre:      dto.Genre,
		Track:      dto.Track,
		Disc:       dto.DiscNumber,
		Year:       dto.Year,
		Duration:   time.Duration(dto.Duration) * time.Second,
		Size:       size,
		Suffix:     dto.Suffix,
		BitRate:    dto.BitRate,
		CoverArtID: dto.CoverArt,
		Path:       dto.Path,
		PlayCount:  dto.PlayCount,
		CreatedAt:  parseTime(dto.Created),
	}
}

func mapSongs(dtos []songDTO) []domain.Song {
	songs := make([]domain.Song, 0, len(dtos))
	for _, dto := range dtos {
		songs = append(songs, mapSong(dto))
	}
	return songs
}

func mapPlaylist(dto playlistDTO) domain.Playlist {
	return domain.Playlist{
		ID:         dto.ID,
		Name:       dto.Name,
		Comment:    dto.Comment,
		Owner:      dto.Owner,
		Public:     dto.Public,
		SongCount:  dto.SongCount,
		Duration:   time.Duration(dto.Duration) * time.Second,
		CoverArtID: dto.CoverArt,
		CreatedAt:  parseTime(dto.Created),
		ChangedAt:  parseTime(dto.Changed),
	}
}

func mapPlaylists(dtos []playlistDTO) []domain.Playlist {
	playlists := make([]domain.Playlist, 0, len(dtos))
	for _, dto := range dtos {
		playlists = append(playlists, mapPlaylist(dto))
	}
	return playlists
}

func mapPlaylistDetails(dto playlistDTO) *domain.PlaylistDetails {
	return &domain.PlaylistDetails{
		Playlist: mapPlaylist(dto),
		Songs:    mapSongs(dto.Entry),
	}
}

func mapAlbum(dto albumDTO) domain.Album {
	return domain.Album{
		ID:         dto.ID,
		Name:       dto.Name,
		Artist:     dto.Artist,
		ArtistID:   dto.ArtistID,
		Genre:      dto.Genre,
		Year:       dto.Year,
		SongCount:  dto.SongCount,
		Duration:   time.Duration(dto.Duration) * time.Second,
		CoverArtID: dto.CoverArt,
		CreatedAt:  parseTime(dto.Created),
	}
}

func mapAlbums(dtos []albumDTO) []domain.Album {
	albums := make([]domain.Album, 0, len(dtos))
	for _, dto := range dtos {
		albums = append(albums, mapAlbum(dto))
	}
	return albums
}

func mapAlbumWithSongs(dto albumDTO) *domain.AlbumWithSongs {
	return &domain.AlbumWithSongs{
		Album: mapAlbum(dto),
		Songs: mapSongs(dto.Song),
	}
}

func mapArtist(dto artistDTO) domain.Artist {
	return domain.Artist{
		ID:         dto.ID,
		Name:       dto.Name,
		AlbumCount: dto.AlbumCount,
		CoverArtID: dto.CoverArt,
		Albums:     mapAlbums(dto.Album),
	}
}

// mapArtistIndexes flattens the Subsonic alphabetical index structure
func mapArtistIndexes(indexes []artistIndexDTO) []domain.Artist {
	var artists []domain.Artist
	for _, index := range indexes {
		for _, dto := range index.Artist {
			artists = append(artists, mapArtist(dto))
		}
	}
	return artists
}

func mapGenres(dtos []genreDTO) []domain.Genre {
	genres := make([]domain.Genre, 0, len(dtos))
	for _, dto := range dtos {
		genres = append(genres, domain.Genre{
			Name:       dto.Value,
			SongCount:  dto.SongCount,
			AlbumCount: dto.AlbumCount,
		})
	}
	return genres
}

func mapPlayQueue(dto playQueueDTO) *domain.PlayQueue {
	songIDs := make([]string, 0, len(dto.Entry))
	current := -1
	for i, entry := range dto.Entry {
		songIDs = append(songIDs, entry.ID)
		if entry.ID == dto.Current {
			current = i
		}
	}
	return &domain.PlayQueue{
		SongIDs:      songIDs,
		CurrentIndex: current,
		Position:     time.Duration(dto.Position) * time.Millisecond,
		ChangedBy:    dto.ChangedBy,
		ChangedAt:    parseTime(dto.Changed),
	}
}

func mapSearchResult(query string, dto *search3DTO) *domain.SearchResult {
	result := &domain.SearchResult{Query: query}
	if dto == nil {
		return result
	}
	for _, a := range dto.Artist {
		result.Artists = append(result.Artists, mapArtist(a))
	}
	result.Albums = mapAlbums(dto.Album)
	result.Songs = mapSongs(dto.Song)
	return result
}

// splitIgnoredArticles parses the space-separated ignoredArticles string
func splitIgnoredArticles(articles string) []string {
	return strings.Fields(articles)
}

// parseTime converts a Subsonic ISO 8601 timestamp to a Unix timestamp
func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}
