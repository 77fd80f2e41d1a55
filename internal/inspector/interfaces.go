package inspector

import (
	"strings"
	"time"
)

// Inspector reads metadata from source images without running the compressor.
type Inspector interface {
	Inspect(data []byte) (*SourceInfo, error)
	InspectFile(path string) (*SourceInfo, error)
}

// CachedInspector extends Inspector with caching capabilities.
type CachedInspector interface {
	Inspector
	ClearCache()
	GetCacheStats() CacheStats
}

// FileType represents the container format of a source image.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeJPEG
	FileTypePNG
	FileTypeGIF
	FileTypeBMP
	FileTypeTIFF
	FileTypeWebP
)

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Size         int     `json:"size"`
	HitRate      float64 `json:"hit_rate"`
	TotalQueries int64   `json:"total_queries"`
}

// SourceInfo describes a source image as uploaded.
type SourceInfo struct {
	Format      FileType   `json:"-"`
	FormatName  string     `json:"format"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Size        int64      `json:"size"`
	Hash        string     `json:"hash"`
	Orientation int        `json:"orientation,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	HasEXIF     bool       `json:"has_exif"`
}

// Rotated reports whether the EXIF orientation swaps width and height.
func (s *SourceInfo) Rotated() bool {
	return s.Orientation >= 5 && s.Orientation <= 8
}

// DisplayDimensions returns the dimensions after applying the EXIF orientation.
func (s *SourceInfo) DisplayDimensions() (int, int) {
	if s.Rotated() {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

// String returns the string representation of the FileType.
func (ft FileType) String() string {
	switch ft {
	case FileTypeJPEG:
		return "jpeg"
	case FileTypePNG:
		return "png"
	case FileTypeGIF:
		return "gif"
	case FileTypeBMP:
		return "bmp"
	case FileTypeTIFF:
		return "tiff"
	case FileTypeWebP:
		return "webp"
	default:
		return "unknown"
	}
}

// FileTypeFromFormat maps an image.DecodeConfig format name to a FileType.
func FileTypeFromFormat(format string) FileType {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return FileTypeJPEG
	case "png":
		return FileTypePNG
	case "gif":
		return FileTypeGIF
	case "bmp":
		return FileTypeBMP
	case "tiff", "tif":
		return FileTypeTIFF
	case "webp":
		return FileTypeWebP
	default:
		return FileTypeUnknown
	}
}

// CanCarryEXIF reports whether the format may contain EXIF metadata goexif can read.
func (ft FileType) CanCarryEXIF() bool {
	return ft == FileTypeJPEG || ft == FileTypeTIFF
}
