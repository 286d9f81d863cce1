package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout is the HTTP timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

// Fetcher downloads and decodes playlists over HTTP.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch downloads the playlist at playlistURL and decodes its tracks.
func (f *Fetcher) Fetch(ctx context.Context, playlistURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch playlist: HTTP %d", resp.StatusCode)
	}

	m, err := Decode(resp.Body, playlistURL)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("decoded playlist",
		"url", playlistURL,
		"master", m.IsMaster,
		"videoTracks", len(m.VideoTracks),
		"audioTracks", len(m.AudioTracks),
		"subtitleTracks", len(m.SubtitleTracks),
	)

	return m, nil
}
