package track

import (
	"net/url"
	"path"
	"strings"
)

// MatchAccessLogURI returns the track a player is streaming, given the URI it
// reported in its access log and the URL of the multivariant playlist it
// loaded. The log URI is expected to be the playlist's directory followed by
// a track ID.
func MatchAccessLogURI(tracks []VideoTrack, logURI, itemURL string) (VideoTrack, bool) {
	if logURI == "" {
		return VideoTrack{}, false
	}

	base, err := baseURL(itemURL)
	if err != nil {
		return VideoTrack{}, false
	}

	id := strings.ReplaceAll(logURI, base, "")
	for _, t := range tracks {
		if t.ID == id {
			return t, true
		}
	}
	return VideoTrack{}, false
}

// baseURL drops the query and the last path component of rawURL, keeping a
// trailing slash.
func baseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	dir := path.Dir(u.Path)
	if dir == "." {
		dir = "/"
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	u.Path = dir
	u.RawPath = ""

	return u.String(), nil
}
