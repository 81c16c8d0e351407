package domain

// VideoMeta is the minimal video descriptor exchanged with the metadata
// service.
type VideoMeta struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Channel    string `json:"channel"`
	Duration   int64  `json:"duration_seconds"`
	PlaylistID string `json:"playlist_id,omitempty"`
}

// Playlist is a resolved playlist: ordered video ids plus metadata.
type Playlist struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Videos []VideoMeta `json:"videos"`
}
