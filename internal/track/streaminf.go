package track

import (
	"math"
	"strconv"
	"strings"
)

// StreamInfTag is the tag that opens a variant stream declaration.
const StreamInfTag = "#EXT-X-STREAM-INF:"

// ParseStreamInf parses an #EXT-X-STREAM-INF line into a VideoTrack labelled
// with id. The second return value is false when the line is not a stream-info
// line, carries no RESOLUTION attribute, or declares a resolution that cannot
// be parsed; a partially parsed track is never returned.
//
// Attribute values that fail to parse, such as a non-numeric BANDWIDTH,
// leave the corresponding field unset.
func ParseStreamInf(line, id string) (VideoTrack, bool) {
	if !strings.HasPrefix(line, StreamInfTag) || !strings.Contains(line, "RESOLUTION") {
		return VideoTrack{}, false
	}

	var (
		bandwidth        *int64
		averageBandwidth *int64
		resolution       string
		hasResolution    bool
	)

	t := VideoTrack{ID: id}

	for _, attr := range splitAttributes(line[len(StreamInfTag):]) {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		switch key {
		case "BANDWIDTH":
			bandwidth = parseBitrate(value)
		case "AVERAGE-BANDWIDTH":
			averageBandwidth = parseBitrate(value)
		case "CODECS":
			t.MIMEType = MIMETypeForCodec(value)
		case "RESOLUTION":
			resolution = value
			hasResolution = true
		case "FRAME-RATE":
			t.FrameRate = parseFrameRate(value)
		}
	}

	if hasResolution {
		r, ok := parseResolution(resolution)
		if !ok {
			return VideoTrack{}, false
		}
		t.Resolution = &r
	}

	if bandwidth != nil {
		t.Bitrate = bandwidth
	} else {
		t.Bitrate = averageBandwidth
	}

	return t, true
}

// splitAttributes splits an attribute list on commas that are not inside a
// quoted-string, so CODECS="avc1.64001f,mp4a.40.2" stays one attribute.
func splitAttributes(list string) []string {
	var (
		attrs    []string
		inQuotes bool
		start    int
	)
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				attrs = append(attrs, list[start:i])
				start = i + 1
			}
		}
	}
	return append(attrs, list[start:])
}

// unquote removes one layer of double quotes. Values with an unbalanced
// quote are returned unchanged.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func parseBitrate(s string) *int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func parseFrameRate(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	return &f
}

// parseResolution accepts exactly "<width>x<height>" with positive integers.
func parseResolution(s string) (Resolution, bool) {
	dims := strings.Split(s, "x")
	if len(dims) != 2 {
		return Resolution{}, false
	}

	width, err := strconv.Atoi(dims[0])
	if err != nil || width <= 0 {
		return Resolution{}, false
	}

	height, err := strconv.Atoi(dims[1])
	if err != nil || height <= 0 {
		return Resolution{}, false
	}

	return Resolution{Width: width, Height: height}, true
}
