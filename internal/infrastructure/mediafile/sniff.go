// Package mediafile names and inspects downloaded media files.
package mediafile

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrNotMedia is returned when a downloaded body is not a media container,
// typically an HTML error page served in place of the video.
var ErrNotMedia = errors.New("file is not media")

// sniffBufferSize is the number of bytes read for content type detection.
const sniffBufferSize = 512

// Sniff detects the content type of the file at path from its leading bytes.
func Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffBufferSize)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	buf = buf[:n]

	if mime := detectCustomMagicBytes(buf); mime != "" {
		return mime, nil
	}
	return http.DetectContentType(buf), nil
}

// IsMedia reports whether a sniffed content type can be a media file. Text
// bodies are rejected; unknown binary content is accepted since aria2 may
// fetch containers the detector does not know.
func IsMedia(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return true
	case mime == "application/ogg", mime == "application/octet-stream":
		return true
	default:
		return false
	}
}

// VerifyMedia checks that path exists, is non-empty and holds media content.
// It returns the file size on success.
func VerifyMedia(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: empty file", ErrNotMedia)
	}
	mime, err := Sniff(path)
	if err != nil {
		return 0, err
	}
	if !IsMedia(mime) {
		return 0, fmt.Errorf("%w: detected %s", ErrNotMedia, mime)
	}
	return info.Size(), nil
}

// detectCustomMagicBytes handles containers http.DetectContentType may not
// recognize correctly.
func detectCustomMagicBytes(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// WebM/Matroska: EBML header
	if buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3 {
		return "video/webm"
	}

	if buf[0] == 'f' && buf[1] == 'L' && buf[2] == 'a' && buf[3] == 'C' {
		return "audio/flac"
	}

	if buf[0] == 'I' && buf[1] == 'D' && buf[2] == '3' {
		return "audio/mpeg"
	}

	// MP4/M4A: [4 bytes size]["ftyp"][brand]
	if len(buf) >= 12 && buf[4] == 'f' && buf[5] == 't' && buf[6] == 'y' && buf[7] == 'p' {
		switch string(buf[8:12]) {
		case "M4A ", "M4B ":
			return "audio/mp4"
		case "qt  ":
			return "video/quicktime"
		default:
			return "video/mp4"
		}
	}

	return ""
}
