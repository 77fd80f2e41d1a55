package compressor

import (
	"encoding/base64"
	"fmt"
	"strings"

	"student-photo-go/internal/hasher"
)

const jpegDataURIPrefix = "data:image/jpeg;base64,"

// EncodeDataURI returns data as a base64 JPEG data URI.
func EncodeDataURI(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(jpegDataURIPrefix) + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString(jpegDataURIPrefix)
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}

// DecodeDataURI extracts the bytes from a base64 data URI of any image media type.
// A bare base64 string without the data: header is accepted as well.
func DecodeDataURI(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("data uri: missing ',' separator")
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("data uri: only base64 payloads are supported")
		}
		if mediaType := strings.TrimSuffix(header, ";base64"); mediaType != "" && !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("data uri: unsupported media type %q", mediaType)
		}
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data uri: %w", err)
	}
	return data, nil
}

// ContentHash returns the hash stored in Result.Hash for data.
func ContentHash(data []byte) string {
	return hasher.ContentHash(data, hasher.DefaultHexLen)
}

func sizeKB(n int) float64 {
	return float64(n) / 1024
}
