package domain

// SongCacheStatus describes whether a song's media file is available locally
type SongCacheStatus int

const (
	StatusNotCached SongCacheStatus = iota
	StatusCached
	StatusPermanentlyCached
	StatusDownloading
)

// String returns a human-readable representation of the status
func (s SongCacheStatus) String() string {
	switch s {
	case StatusNotCached:
		return "Not Cached"
	case StatusCached:
		return "Cached"
	case StatusPermanentlyCached:
		return "Permanently Cached"
	case StatusDownloading:
		return "Downloading"
	default:
		return "Unknown"
	}
}
