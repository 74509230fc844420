package domain

// Capability identifies one operation an adapter may support. Availability is
// checked against an explicit set rather than probed by reflection, so the
// orchestrator can branch without attempting-and-catching.
type Capability int

const (
	CapGetPlaylists Capability = iota
	CapGetPlaylistDetails
	CapCreatePlaylist
	CapUpdatePlaylist
	CapDeletePlaylist
	CapGetSong
	CapGetSongURI
	CapGetCoverArtURI
	CapGetAlbums
	CapGetAlbum
	CapGetArtists
	CapGetArtist
	CapGetGenres
	CapGetIgnoredArticles
	CapScrobble
	CapGetPlayQueue
	CapSavePlayQueue
	CapSearch
)

// Capabilities is an immutable capability set
type Capabilities map[Capability]struct{}

// NewCapabilities builds a set from the given capabilities
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the set contains c
func (s Capabilities) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// With returns a copy of the set extended with the given capabilities
func (s Capabilities) With(caps ...Capability) Capabilities {
	out := make(Capabilities, len(s)+len(caps))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range caps {
		out[c] = struct{}{}
	}
	return out
}
