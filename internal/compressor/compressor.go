package compressor

import (
	"context"
	"image"
	"time"
)

// Default search and bounding box settings used for student photos.
const (
	DefaultMaxWidth     = 1024
	DefaultMaxHeight    = 1024
	DefaultStartQuality = 0.90
	DefaultQualityStep  = 0.10
	DefaultMaxAttempts  = 10
	DefaultMinSizeKB    = 20
	DefaultMaxSizeKB    = 50
)

// BoundingBox is the largest canvas an image is downsampled to before encoding.
type BoundingBox struct {
	MaxWidth  int
	MaxHeight int
}

// DefaultBoundingBox returns the 1024x1024 box.
func DefaultBoundingBox() BoundingBox {
	return BoundingBox{MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight}
}

// SearchPolicy controls the quality search loop.
type SearchPolicy struct {
	StartQuality float64
	QualityStep  float64
	MaxAttempts  int
	// Timeout bounds a single Compress call. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// DefaultSearchPolicy starts at 0.90 and steps down by 0.10 for at most 10 attempts.
func DefaultSearchPolicy() SearchPolicy {
	return SearchPolicy{
		StartQuality: DefaultStartQuality,
		QualityStep:  DefaultQualityStep,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Codec is the narrow capability the search loop needs from an image backend.
type Codec interface {
	// Decode parses raw bytes into an image.
	Decode(data []byte) (image.Image, error)
	// Resize scales img to exactly w x h.
	Resize(img image.Image, w, h int) image.Image
	// EncodeLossy encodes img at quality in [0,1].
	EncodeLossy(img image.Image, quality float64) ([]byte, error)
}

// Result is the encoded photo handed back to the caller.
type Result struct {
	Data         []byte
	SizeKB       float64
	Quality      float64
	Attempts     int
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	// Undersized is set when the accepted output is below the requested minimum.
	Undersized bool
	Hash       string
	DataURI    string
}

// Compressor produces an encoded image whose size lies in or near [minSizeKB, maxSizeKB].
type Compressor interface {
	Compress(ctx context.Context, source []byte, minSizeKB, maxSizeKB float64) (*Result, error)
}

// BatchParams defines parameters for compressing files on disk.
type BatchParams struct {
	InputPaths []string
	TargetDir  string
	MinSizeKB  float64
	MaxSizeKB  float64
	Formats    []string
	// Output is either OutputJPEG or OutputDataURI.
	Output  string
	Workers int
}

// Output kinds for batch mode.
const (
	OutputJPEG    = "jpeg"
	OutputDataURI = "datauri"
)

// File result actions.
const (
	ActionCompressed = "compressed"
	ActionUndersized = "undersized"
	ActionError      = "error"
)

// FileResult describes the result of compressing a single file.
type FileResult struct {
	InputPath      string
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
	Quality        float64
	Attempts       int
	Action         string
	Message        string
	Success        bool
	StartedAt      time.Time
	FinishedAt     time.Time
	Error          error
}

// BatchRunner compresses many files.
type BatchRunner interface {
	// Compress processes a list of files or directories according to the parameters.
	// Returns a slice of results in input order.
	Compress(ctx context.Context, params BatchParams) ([]FileResult, error)
}
