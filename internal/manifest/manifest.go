// Package manifest reads HLS multivariant playlists and extracts the tracks
// they declare.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/agleyzer/trackprobe/internal/track"
	"github.com/grafov/m3u8"
)

// maxPlaylistSize bounds how much of a playlist body is read.
const maxPlaylistSize = 8 << 20

// ErrPlaylistTooLarge is returned for playlist bodies over maxPlaylistSize.
var ErrPlaylistTooLarge = errors.New("playlist too large")

// Manifest contains the tracks declared by a playlist.
type Manifest struct {
	// URL is the location the playlist was loaded from
	URL string `json:"url"`

	// IsMaster indicates whether this is a multivariant playlist
	// Media playlists carry no track declarations
	IsMaster bool `json:"isMaster"`

	VideoTracks    []track.VideoTrack    `json:"videoTracks"`
	AudioTracks    []track.AudioTrack    `json:"audioTracks"`
	SubtitleTracks []track.SubtitleTrack `json:"subtitleTracks"`
}

// Decode parses the playlist read from r. playlistURL is used to resolve
// variant and rendition URIs; it may be empty, in which case URLs are left
// as written.
func Decode(r io.Reader, playlistURL string) (*Manifest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPlaylistSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	if len(body) > maxPlaylistSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPlaylistTooLarge, maxPlaylistSize)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	m := &Manifest{
		URL:            playlistURL,
		VideoTracks:    []track.VideoTrack{},
		AudioTracks:    []track.AudioTrack{},
		SubtitleTracks: []track.SubtitleTrack{},
	}

	if listType != m3u8.MASTER {
		return m, nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}
	m.IsMaster = true

	videoTracks, err := scanVideoTracks(body, playlistURL)
	if err != nil {
		return nil, err
	}
	m.VideoTracks = videoTracks

	if err := m.addRenditions(master, playlistURL); err != nil {
		return nil, err
	}

	return m, nil
}

// scanVideoTracks pairs every stream-info line with the URI line that
// follows it. Declarations that do not describe a usable video variant are
// skipped.
func scanVideoTracks(body []byte, playlistURL string) ([]track.VideoTrack, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxPlaylistSize)

	tracks := []track.VideoTrack{}
	var pending string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, track.StreamInfTag):
			pending = line
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case pending == "":
			continue
		}

		t, ok := track.ParseStreamInf(pending, line)
		pending = ""
		if !ok {
			continue
		}

		if playlistURL != "" {
			resolved, err := ResolveURL(playlistURL, line)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve variant URL: %w", err)
			}
			t.URL = resolved
		}

		tracks = append(tracks, t)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	return tracks, nil
}

// addRenditions collects the EXT-X-MEDIA audio and subtitle renditions.
// The m3u8 decoder attaches each rendition group to the variant that follows
// it, so the same rendition may be seen more than once.
func (m *Manifest) addRenditions(master *m3u8.MasterPlaylist, playlistURL string) error {
	seen := make(map[string]bool)

	for _, v := range master.Variants {
		if v == nil {
			continue
		}

		for _, alt := range v.Alternatives {
			if alt == nil {
				continue
			}

			key := alt.Type + "|" + track.RenditionID(alt.GroupId, alt.Name)
			if seen[key] {
				continue
			}
			seen[key] = true

			altURL := alt.URI
			if altURL != "" && playlistURL != "" {
				resolved, err := ResolveURL(playlistURL, alt.URI)
				if err != nil {
					return fmt.Errorf("failed to resolve rendition URL: %w", err)
				}
				altURL = resolved
			}

			switch alt.Type {
			case "AUDIO":
				m.AudioTracks = append(m.AudioTracks, track.AudioTrack{
					ID:       track.RenditionID(alt.GroupId, alt.Name),
					Language: alt.Language,
					Label:    alt.Name,
					GroupID:  alt.GroupId,
					Default:  alt.Default,
					URL:      altURL,
				})
			case "SUBTITLES":
				m.SubtitleTracks = append(m.SubtitleTracks, track.SubtitleTrack{
					ID:       track.RenditionID(alt.GroupId, alt.Name),
					Language: alt.Language,
					Label:    alt.Name,
					GroupID:  alt.GroupId,
					Default:  alt.Default,
					Forced:   strings.EqualFold(alt.Forced, "YES"),
					URL:      altURL,
				})
			}
		}
	}

	return nil
}

// ResolveURL resolves a possibly relative URL against a base URL.
func ResolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	return base.ResolveReference(rel).String(), nil
}
