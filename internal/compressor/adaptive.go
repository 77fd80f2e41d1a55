package compressor

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"student-photo-go/internal/statistics"
)

// AdaptiveCompressor searches the encoder's quality range for an output inside a size window.
type AdaptiveCompressor struct {
	codec  Codec
	box    BoundingBox
	policy SearchPolicy
	log    *logrus.Logger
	stats  *statistics.Statistics
}

// Option customizes an AdaptiveCompressor.
type Option func(*AdaptiveCompressor)

// WithCodec replaces the default imaging codec.
func WithCodec(c Codec) Option {
	return func(a *AdaptiveCompressor) { a.codec = c }
}

// WithBoundingBox sets the downsampling box.
func WithBoundingBox(b BoundingBox) Option {
	return func(a *AdaptiveCompressor) { a.box = b }
}

// WithPolicy sets the quality search policy.
func WithPolicy(p SearchPolicy) Option {
	return func(a *AdaptiveCompressor) { a.policy = p }
}

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *logrus.Logger) Option {
	return func(a *AdaptiveCompressor) { a.log = l }
}

// WithStatistics records outcomes into s.
func WithStatistics(s *statistics.Statistics) Option {
	return func(a *AdaptiveCompressor) { a.stats = s }
}

// NewAdaptiveCompressor returns a compressor with the default codec, box and policy.
func NewAdaptiveCompressor(opts ...Option) *AdaptiveCompressor {
	a := &AdaptiveCompressor{
		codec:  NewImagingCodec(),
		box:    DefaultBoundingBox(),
		policy: DefaultSearchPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logrus.New()
		a.log.SetLevel(logrus.WarnLevel)
	}
	if a.box.MaxWidth <= 0 {
		a.box.MaxWidth = DefaultMaxWidth
	}
	if a.box.MaxHeight <= 0 {
		a.box.MaxHeight = DefaultMaxHeight
	}
	if a.policy.MaxAttempts <= 0 {
		a.policy.MaxAttempts = DefaultMaxAttempts
	}
	if a.policy.QualityStep <= 0 {
		a.policy.QualityStep = DefaultQualityStep
	}
	if a.policy.StartQuality <= 0 {
		a.policy.StartQuality = DefaultStartQuality
	}
	return a
}

// Compress decodes source, fits it into the bounding box and re-encodes it at
// decreasing quality until the output is at most maxSizeKB. Outputs smaller than
// minSizeKB are accepted as they are.
func (a *AdaptiveCompressor) Compress(ctx context.Context, source []byte, minSizeKB, maxSizeKB float64) (*Result, error) {
	res, err := a.compress(ctx, source, minSizeKB, maxSizeKB)
	a.record(len(source), res, err)
	return res, err
}

func (a *AdaptiveCompressor) compress(ctx context.Context, source []byte, minSizeKB, maxSizeKB float64) (*Result, error) {
	if !(minSizeKB > 0) || !(maxSizeKB >= minSizeKB) {
		return nil, invalidWindow(minSizeKB, maxSizeKB)
	}
	if a.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.policy.Timeout)
		defer cancel()
	}

	img, err := a.codec.Decode(source)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if img == nil {
		return nil, &DecodeError{Err: fmt.Errorf("decoder returned no image")}
	}
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("image has no pixels (%dx%d)", srcW, srcH)}
	}

	w, h := FitBoundingBox(srcW, srcH, a.box)
	canvas := img
	if w != srcW || h != srcH {
		canvas = a.codec.Resize(img, w, h)
	}

	entry := a.log.WithFields(logrus.Fields{
		"operation": "compress",
		"source":    fmt.Sprintf("%dx%d", srcW, srcH),
		"canvas":    fmt.Sprintf("%dx%d", w, h),
		"min_kb":    minSizeKB,
		"max_kb":    maxSizeKB,
	})

	var lastKB float64
	remaining := a.policy.MaxAttempts
	for attempt := 0; remaining > 0; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quality := a.qualityAt(attempt)
		data, err := a.codec.EncodeLossy(canvas, quality)
		if err != nil {
			return nil, &EncodeError{Quality: quality, Err: err}
		}
		if len(data) == 0 {
			return nil, &EncodeError{Quality: quality, Err: errEmptyOutput}
		}

		lastKB = sizeKB(len(data))
		entry.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"quality": quality,
			"size_kb": lastKB,
		}).Debug("encode attempt")

		if lastKB > maxSizeKB {
			remaining--
			continue
		}

		return &Result{
			Data:         data,
			SizeKB:       lastKB,
			Quality:      quality,
			Attempts:     attempt + 1,
			Width:        w,
			Height:       h,
			SourceWidth:  srcW,
			SourceHeight: srcH,
			Undersized:   lastKB < minSizeKB,
			Hash:         ContentHash(data),
			DataURI:      EncodeDataURI(data),
		}, nil
	}

	return nil, &SizeConstraintError{
		MinSizeKB:  minSizeKB,
		MaxSizeKB:  maxSizeKB,
		Attempts:   a.policy.MaxAttempts,
		LastSizeKB: lastKB,
	}
}

// qualityAt returns the clamped quality for the zero-based attempt index.
// It is computed from the start value to avoid accumulating float error.
func (a *AdaptiveCompressor) qualityAt(attempt int) float64 {
	q := a.policy.StartQuality - float64(attempt)*a.policy.QualityStep
	return clampQuality(math.Round(q*1000) / 1000)
}

func (a *AdaptiveCompressor) record(inBytes int, res *Result, err error) {
	if a.stats == nil {
		return
	}
	a.stats.IncrementRequests()
	a.stats.AddBytesIn(int64(inBytes))
	switch {
	case err == nil:
		a.stats.RecordAccepted(res.Quality, res.Attempts, int64(len(res.Data)), res.Undersized)
	case IsDecodeError(err):
		a.stats.IncrementDecodeErrors()
	case IsEncodeError(err):
		a.stats.IncrementEncodeErrors()
	case IsSizeConstraint(err):
		a.stats.RecordSizeConstraintFailure(a.policy.MaxAttempts)
	case isContextErr(err):
		a.stats.IncrementTimeouts()
	}
}

func isContextErr(err error) bool {
	return err == context.DeadlineExceeded || err == context.Canceled
}

// FitBoundingBox returns the dimensions of a w x h image scaled down to fit box
// along its larger side. It never enlarges.
func FitBoundingBox(w, h int, box BoundingBox) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	if w > h {
		if box.MaxWidth > 0 && w > box.MaxWidth {
			nh := int(math.Round(float64(h) * float64(box.MaxWidth) / float64(w)))
			return box.MaxWidth, max(nh, 1)
		}
		return w, h
	}
	if box.MaxHeight > 0 && h > box.MaxHeight {
		nw := int(math.Round(float64(w) * float64(box.MaxHeight) / float64(h)))
		return max(nw, 1), box.MaxHeight
	}
	return w, h
}
