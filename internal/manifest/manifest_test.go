package manifest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

const testMasterPlaylist = `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="Deutsch",LANGUAGE="de",DEFAULT=NO,AUTOSELECT=YES,URI="audio/de.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=NO,AUTOSELECT=NO,FORCED=NO,URI="subs/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,AVERAGE-BANDWIDTH=1000000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2",FRAME-RATE=29.970,AUDIO="aac",SUBTITLES="subs"
low/index.m3u8

#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="aac",SUBTITLES="subs"
mid/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS="mp4a.40.2",AUDIO="aac"
audio-only/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=900000,RESOLUTION=1920,CODECS="avc1.640028"
broken/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=7680000,RESOLUTION=3840x2160,CODECS="hvc1.2.4.L153.B0,mp4a.40.2",FRAME-RATE=59.940,AUDIO="aac"
https://cdn.example.com/4k/index.m3u8
`

const testMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:9.9,
segment001.ts
#EXTINF:10.0,
segment002.ts
#EXT-X-ENDLIST
`

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestDecode_MasterPlaylist(t *testing.T) {
	m, err := Decode(strings.NewReader(testMasterPlaylist), "https://example.com/videos/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !m.IsMaster {
		t.Fatal("Expected master playlist")
	}

	// audio-only has no RESOLUTION and broken has a malformed one
	if len(m.VideoTracks) != 3 {
		t.Fatalf("Expected 3 video tracks, got %d", len(m.VideoTracks))
	}

	wantIDs := []string{"low/index.m3u8", "mid/index.m3u8", "https://cdn.example.com/4k/index.m3u8"}
	for i, id := range wantIDs {
		if m.VideoTracks[i].ID != id {
			t.Errorf("track %d: expected ID %s, got %s", i, id, m.VideoTracks[i].ID)
		}
	}

	low := m.VideoTracks[0]
	if low.URL != "https://example.com/videos/low/index.m3u8" {
		t.Errorf("Expected resolved URL, got %s", low.URL)
	}
	if low.Bitrate == nil || *low.Bitrate != 1280000 {
		t.Errorf("Expected bitrate 1280000, got %v", low.Bitrate)
	}
	if low.Resolution == nil || low.Resolution.Width != 640 || low.Resolution.Height != 360 {
		t.Errorf("Expected resolution 640x360, got %v", low.Resolution)
	}
	if low.MIMEType != "video/avc" {
		t.Errorf("Expected video/avc, got %s", low.MIMEType)
	}
	if low.FrameRate == nil || *low.FrameRate != 29.97 {
		t.Errorf("Expected frame rate 29.97, got %v", low.FrameRate)
	}

	mid := m.VideoTracks[1]
	if mid.FrameRate != nil {
		t.Errorf("Expected no frame rate, got %v", *mid.FrameRate)
	}

	uhd := m.VideoTracks[2]
	if uhd.URL != "https://cdn.example.com/4k/index.m3u8" {
		t.Errorf("Expected absolute URL unchanged, got %s", uhd.URL)
	}
	if uhd.MIMEType != "video/hevc" {
		t.Errorf("Expected video/hevc, got %s", uhd.MIMEType)
	}
}

func TestDecode_Renditions(t *testing.T) {
	m, err := Decode(strings.NewReader(testMasterPlaylist), "https://example.com/videos/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(m.AudioTracks) != 2 {
		t.Fatalf("Expected 2 audio tracks, got %d", len(m.AudioTracks))
	}

	byID := make(map[string]bool)
	for _, a := range m.AudioTracks {
		byID[a.ID] = a.Default
		if a.GroupID != "aac" {
			t.Errorf("Expected group aac, got %s", a.GroupID)
		}
	}
	if def, ok := byID["aac/English"]; !ok || !def {
		t.Errorf("Expected default English audio track, got %v", m.AudioTracks)
	}
	if def, ok := byID["aac/Deutsch"]; !ok || def {
		t.Errorf("Expected non-default Deutsch audio track, got %v", m.AudioTracks)
	}

	if len(m.SubtitleTracks) != 1 {
		t.Fatalf("Expected 1 subtitle track, got %d", len(m.SubtitleTracks))
	}
	sub := m.SubtitleTracks[0]
	if sub.Language != "en" || sub.Label != "English" || sub.Forced {
		t.Errorf("Unexpected subtitle track %+v", sub)
	}
	if sub.URL != "https://example.com/videos/subs/en.m3u8" {
		t.Errorf("Expected resolved subtitle URL, got %s", sub.URL)
	}
}

func TestDecode_WithoutPlaylistURL(t *testing.T) {
	m, err := Decode(strings.NewReader(testMasterPlaylist), "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, vt := range m.VideoTracks {
		if vt.URL != "" {
			t.Errorf("Expected empty URL without playlist location, got %s", vt.URL)
		}
	}
}

func TestDecode_MediaPlaylist(t *testing.T) {
	m, err := Decode(strings.NewReader(testMediaPlaylist), "https://example.com/media.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if m.IsMaster {
		t.Error("Expected media playlist")
	}
	if len(m.VideoTracks) != 0 || len(m.AudioTracks) != 0 || len(m.SubtitleTracks) != 0 {
		t.Errorf("Expected no tracks for media playlist, got %+v", m)
	}
}

func TestDecode_InvalidM3U8(t *testing.T) {
	_, err := Decode(strings.NewReader("not a valid m3u8 file"), "")
	if err == nil {
		t.Fatal("Expected error for invalid m3u8, got nil")
	}
}

func TestDecode_TooLarge(t *testing.T) {
	body := testMasterPlaylist + strings.Repeat("#\n", maxPlaylistSize/2)

	_, err := Decode(strings.NewReader(body), "")
	if !errors.Is(err, ErrPlaylistTooLarge) {
		t.Fatalf("Decode() error = %v, want ErrPlaylistTooLarge", err)
	}

	// A body of exactly the limit is accepted
	m, err := Decode(strings.NewReader(body[:maxPlaylistSize]), "")
	if err != nil {
		t.Fatalf("Decode() at the size limit error = %v", err)
	}
	if !m.IsMaster {
		t.Error("Expected a master playlist")
	}
}

func TestFetch_MasterPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testMasterPlaylist))
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, createTestLogger())
	m, err := f.Fetch(context.Background(), server.URL+"/videos/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if m.URL != server.URL+"/videos/master.m3u8" {
		t.Errorf("Expected manifest URL to be recorded, got %s", m.URL)
	}

	expectedURL := server.URL + "/videos/low/index.m3u8"
	if m.VideoTracks[0].URL != expectedURL {
		t.Errorf("Expected URL %s, got %s", expectedURL, m.VideoTracks[0].URL)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, createTestLogger())
	_, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected error for HTTP 404, got nil")
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Expected HTTP status in error, got %v", err)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	f := NewFetcher(0, createTestLogger())
	_, err := f.Fetch(context.Background(), "not-a-valid-url")
	if err == nil {
		t.Fatal("Expected error for invalid URL, got nil")
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMasterPlaylist))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(5*time.Second, createTestLogger())
	if _, err := f.Fetch(ctx, server.URL); err == nil {
		t.Fatal("Expected error for canceled context, got nil")
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		relativeURL string
		expected    string
	}{
		{
			name:        "relative path",
			baseURL:     "http://example.com/path/master.m3u8",
			relativeURL: "low/index.m3u8",
			expected:    "http://example.com/path/low/index.m3u8",
		},
		{
			name:        "absolute URL",
			baseURL:     "http://example.com/master.m3u8",
			relativeURL: "https://cdn.example.com/index.m3u8",
			expected:    "https://cdn.example.com/index.m3u8",
		},
		{
			name:        "root relative path",
			baseURL:     "http://example.com/path/master.m3u8",
			relativeURL: "/variants/index.m3u8",
			expected:    "http://example.com/variants/index.m3u8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolveURL(tt.baseURL, tt.relativeURL)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}
