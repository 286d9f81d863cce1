// Package catalog keeps track of registered HLS sources, the tracks probed
// from them, and the video track each one is currently streaming.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/agleyzer/trackprobe/internal/manifest"
	"github.com/agleyzer/trackprobe/internal/track"
	"github.com/google/uuid"
)

var (
	// ErrSourceNotFound is returned for an unknown source ID.
	ErrSourceNotFound = errors.New("source not found")

	// ErrTrackNotFound is returned when an access-log URI matches no video
	// track of the source.
	ErrTrackNotFound = errors.New("track not found")

	// ErrInvalidURL is returned when a source URL is not an absolute HTTP(S) URL.
	ErrInvalidURL = errors.New("invalid source URL")
)

// Source is a playlist registered with the catalog.
type Source struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	// Manifest is the result of the most recent successful probe
	Manifest *manifest.Manifest `json:"manifest"`

	RegisteredAt time.Time `json:"registeredAt"`
	FetchedAt    time.Time `json:"fetchedAt"`

	// LastError is the error of the most recent probe, empty if it succeeded
	LastError string `json:"lastError,omitempty"`

	// SelectedVideoTrackID is the ID of the video track last reported in an
	// access log, empty until one is observed
	SelectedVideoTrackID string `json:"selectedVideoTrackId,omitempty"`
}

// SelectedVideoTrack returns the video track last observed for the source.
func (s Source) SelectedVideoTrack() (track.VideoTrack, bool) {
	if s.SelectedVideoTrackID == "" || s.Manifest == nil {
		return track.VideoTrack{}, false
	}
	for _, t := range s.Manifest.VideoTracks {
		if t.ID == s.SelectedVideoTrackID {
			return t, true
		}
	}
	return track.VideoTrack{}, false
}

// Fetcher loads the manifest of a playlist URL.
type Fetcher interface {
	Fetch(ctx context.Context, playlistURL string) (*manifest.Manifest, error)
}

// ProbeHook is called after every fetch made by the catalog.
type ProbeHook func(m *manifest.Manifest, err error)

// Option configures a Catalog.
type Option func(*Catalog)

// WithProbeHook registers a hook called after every fetch.
func WithProbeHook(hook ProbeHook) Option {
	return func(c *Catalog) {
		c.probeHook = hook
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// Catalog registers sources and keeps their manifests current.
type Catalog struct {
	store     Store
	fetcher   Fetcher
	logger    *slog.Logger
	probeHook ProbeHook
	now       func() time.Time

	mu            sync.Mutex
	refreshCount  uint64
	lastRefreshAt time.Time
}

// New creates a catalog that persists sources in store.
func New(store Store, fetcher Fetcher, logger *slog.Logger, opts ...Option) *Catalog {
	c := &Catalog{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register probes playlistURL and adds it to the catalog.
func (c *Catalog) Register(ctx context.Context, playlistURL string) (Source, error) {
	if err := ValidateURL(playlistURL); err != nil {
		return Source{}, err
	}

	m, err := c.fetch(ctx, playlistURL)
	if err != nil {
		return Source{}, err
	}

	now := c.now()
	src := Source{
		ID:           uuid.NewString(),
		URL:          playlistURL,
		Manifest:     m,
		RegisteredAt: now,
		FetchedAt:    now,
	}

	if err := c.store.Put(src); err != nil {
		return Source{}, fmt.Errorf("store source: %w", err)
	}

	c.logger.Info("registered source",
		"id", src.ID,
		"url", src.URL,
		"videoTracks", len(m.VideoTracks),
	)

	return src, nil
}

// Get returns a source by ID.
func (c *Catalog) Get(id string) (Source, error) {
	src, ok := c.store.Get(id)
	if !ok {
		return Source{}, ErrSourceNotFound
	}
	return src, nil
}

// List returns all registered sources.
func (c *Catalog) List() []Source {
	return c.store.List()
}

// Remove deletes a source.
func (c *Catalog) Remove(id string) error {
	if _, ok := c.store.Get(id); !ok {
		return ErrSourceNotFound
	}
	if err := c.store.Delete(id); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	c.logger.Info("removed source", "id", id)
	return nil
}

// Refresh re-probes a source. A failed probe keeps the previous manifest and
// records the error on the source. The result is merged into the record as
// it stands after the fetch, so a selection observed meanwhile survives and
// a source removed meanwhile stays removed.
func (c *Catalog) Refresh(ctx context.Context, id string) (Source, error) {
	src, ok := c.store.Get(id)
	if !ok {
		return Source{}, ErrSourceNotFound
	}

	m, fetchErr := c.fetch(ctx, src.URL)

	c.mu.Lock()
	c.refreshCount++
	c.lastRefreshAt = c.now()
	c.mu.Unlock()

	update := ManifestUpdate{FetchedAt: c.now()}
	if fetchErr != nil {
		update.Error = fetchErr.Error()
	} else {
		update.Manifest = m
	}

	updated, err := c.store.UpdateManifest(id, update)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			return Source{}, err
		}
		return Source{}, fmt.Errorf("store source: %w", err)
	}

	if fetchErr != nil {
		return updated, fetchErr
	}
	return updated, nil
}

// RefreshAll re-probes every source and returns the joined probe errors.
func (c *Catalog) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, src := range c.store.List() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := c.Refresh(ctx, src.ID); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ObserveAccessLog records the video track a player reported streaming for
// a source and returns it.
func (c *Catalog) ObserveAccessLog(id, logURI string) (track.VideoTrack, error) {
	src, ok := c.store.Get(id)
	if !ok {
		return track.VideoTrack{}, ErrSourceNotFound
	}
	if src.Manifest == nil {
		return track.VideoTrack{}, ErrTrackNotFound
	}

	t, ok := track.MatchAccessLogURI(src.Manifest.VideoTracks, logURI, src.URL)
	if !ok {
		return track.VideoTrack{}, ErrTrackNotFound
	}

	if t.ID != src.SelectedVideoTrackID {
		if err := c.store.SelectTrack(id, t.ID); err != nil {
			return track.VideoTrack{}, fmt.Errorf("select track: %w", err)
		}
		c.logger.Info("video track changed",
			"source", id,
			"old", src.SelectedVideoTrackID,
			"new", t.ID,
		)
	}

	return t, nil
}

// StartAutoRefresh re-probes all sources every interval until ctx is done.
func (c *Catalog) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	c.logger.Info("starting auto-refresh", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping auto-refresh")
			return
		case <-ticker.C:
			if err := c.RefreshAll(ctx); err != nil {
				c.logger.Warn("refresh failed", "error", err)
			}
		}
	}
}

// GetStats returns current statistics about the catalog.
func (c *Catalog) GetStats() map[string]interface{} {
	sources := c.store.List()

	videoTracks := 0
	failing := 0
	for _, src := range sources {
		if src.Manifest != nil {
			videoTracks += len(src.Manifest.VideoTracks)
		}
		if src.LastError != "" {
			failing++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := map[string]interface{}{
		"sources":         len(sources),
		"failing_sources": failing,
		"video_tracks":    videoTracks,
		"refresh_count":   c.refreshCount,
	}
	if !c.lastRefreshAt.IsZero() {
		stats["last_refresh"] = c.lastRefreshAt
	}
	return stats
}

func (c *Catalog) fetch(ctx context.Context, playlistURL string) (*manifest.Manifest, error) {
	m, err := c.fetcher.Fetch(ctx, playlistURL)
	if c.probeHook != nil {
		c.probeHook(m, err)
	}
	if err != nil {
		c.logger.Debug("probe failed", "url", playlistURL, "error", err)
		return nil, err
	}
	return m, nil
}

// ValidateURL reports an ErrInvalidURL error unless playlistURL is an
// absolute HTTP(S) URL with a host.
func ValidateURL(playlistURL string) error {
	u, err := url.Parse(playlistURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, playlistURL)
	}
	return nil
}
