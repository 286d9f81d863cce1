// Package track defines the track descriptors declared by HLS playlists and
// the routines that derive them from playlist text.
package track

import "fmt"

// Resolution is the pixel size of a video variant.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String returns the resolution in playlist notation (e.g., "1920x1080").
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// VideoTrack describes one video variant stream of a multivariant playlist.
type VideoTrack struct {
	// ID is the caller-supplied label for the variant, usually the variant
	// URI exactly as written in the playlist
	ID string `json:"id"`

	// URL is the absolute variant playlist URL
	// Empty unless the track came from a manifest with a known location
	URL string `json:"url,omitempty"`

	// Resolution is nil if the playlist does not declare one
	Resolution *Resolution `json:"resolution,omitempty"`

	// Bitrate in bits per second, from BANDWIDTH or AVERAGE-BANDWIDTH
	Bitrate *int64 `json:"bitrate,omitempty"`

	// MIMEType is derived from the CODECS attribute
	// Empty string if the codec is absent or unknown
	MIMEType string `json:"mimeType,omitempty"`

	// FrameRate in frames per second
	FrameRate *float64 `json:"frameRate,omitempty"`
}

// AudioTrack is an alternative audio rendition (EXT-X-MEDIA TYPE=AUDIO).
type AudioTrack struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`
	Label    string `json:"label"`
	GroupID  string `json:"groupId"`
	Default  bool   `json:"default"`
	URL      string `json:"url,omitempty"`
}

// SubtitleTrack is a subtitle rendition (EXT-X-MEDIA TYPE=SUBTITLES).
type SubtitleTrack struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`
	Label    string `json:"label"`
	GroupID  string `json:"groupId"`
	Default  bool   `json:"default"`
	Forced   bool   `json:"forced"`
	URL      string `json:"url,omitempty"`
}

// RenditionID builds the identifier of an EXT-X-MEDIA rendition.
func RenditionID(groupID, name string) string {
	return groupID + "/" + name
}
