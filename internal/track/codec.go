package track

import "strings"

// codecMIMETypes is checked in order; the first matching prefix wins.
var codecMIMETypes = []struct {
	prefix   string
	mimeType string
}{
	{"avc1", "video/avc"},
	{"hvc1", "video/hevc"},
	{"dvh1", "video/dolby-vision"},
	{"av11", "video/av1"},
}

// MIMETypeForCodec maps a codec tag such as "avc1.640028" to a coarse video
// MIME type. It returns an empty string when codec is empty or its prefix is
// not recognized.
func MIMETypeForCodec(codec string) string {
	if codec == "" {
		return ""
	}
	for _, c := range codecMIMETypes {
		if strings.HasPrefix(codec, c.prefix) {
			return c.mimeType
		}
	}
	return ""
}
