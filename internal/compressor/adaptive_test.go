package compressor

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"student-photo-go/internal/statistics"
)

// scriptedCodec reports fixed source dimensions and returns outputs sized by sizeFor.
type scriptedCodec struct {
	width, height int
	decodeErr     error
	encodeErr     error
	emptyOutput   bool
	sizeFor       func(quality float64) int

	qualities []float64
	resized   [][2]int
}

func (c *scriptedCodec) Decode(data []byte) (image.Image, error) {
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	return image.NewGray(image.Rect(0, 0, c.width, c.height)), nil
}

func (c *scriptedCodec) Resize(img image.Image, w, h int) image.Image {
	c.resized = append(c.resized, [2]int{w, h})
	return image.NewGray(image.Rect(0, 0, w, h))
}

func (c *scriptedCodec) EncodeLossy(img image.Image, quality float64) ([]byte, error) {
	c.qualities = append(c.qualities, quality)
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	if c.emptyOutput {
		return nil, nil
	}
	return make([]byte, c.sizeFor(quality)), nil
}

func kb(n float64) int { return int(math.Round(n * 1024)) }

func newScripted(sizeFor func(float64) int) *scriptedCodec {
	return &scriptedCodec{width: 800, height: 600, sizeFor: sizeFor}
}

func TestCompressAcceptsFirstAttemptInWindow(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(35) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	res, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.InDelta(t, 0.9, res.Quality, 1e-9)
	assert.InDelta(t, 35.0, res.SizeKB, 1e-9)
	assert.False(t, res.Undersized)
	assert.Equal(t, EncodeDataURI(res.Data), res.DataURI)
	assert.Equal(t, ContentHash(res.Data), res.Hash)
}

func TestCompressAcceptsUndersizedFirstAttempt(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(5) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	res, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.Undersized)
	assert.Len(t, codec.qualities, 1)
}

func TestCompressStepsQualityDownUntilUnderMax(t *testing.T) {
	// size in KB equals quality*100: 90, 80, 70, 60, 50
	codec := newScripted(func(q float64) int { return kb(q * 100) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	res, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Attempts)
	assert.InDelta(t, 0.5, res.Quality, 1e-9)
	assert.LessOrEqual(t, res.SizeKB, 50.0)

	expected := []float64{0.9, 0.8, 0.7, 0.6, 0.5}
	require.Len(t, codec.qualities, len(expected))
	for i, q := range expected {
		assert.InDelta(t, q, codec.qualities[i], 1e-9, "attempt %d", i+1)
	}
}

func TestCompressFailsAfterTenAttemptsOverMax(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(120) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	res, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsSizeConstraint(err))

	var sizeErr *SizeConstraintError
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, 20.0, sizeErr.MinSizeKB)
	assert.Equal(t, 50.0, sizeErr.MaxSizeKB)
	assert.Equal(t, 10, sizeErr.Attempts)
	assert.Contains(t, err.Error(), "20")
	assert.Contains(t, err.Error(), "50")

	require.Len(t, codec.qualities, 10)
	for i := 1; i < len(codec.qualities); i++ {
		assert.InDelta(t, 0.1, codec.qualities[i-1]-codec.qualities[i], 1e-9)
	}
	assert.InDelta(t, 0.0, codec.qualities[9], 1e-9)
}

func TestCompressClampsQualityBelowZero(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(120) })
	c := NewAdaptiveCompressor(WithCodec(codec), WithPolicy(SearchPolicy{
		StartQuality: 0.3,
		QualityStep:  0.1,
		MaxAttempts:  6,
	}))

	_, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.True(t, IsSizeConstraint(err))
	require.Len(t, codec.qualities, 6)
	for _, q := range codec.qualities {
		assert.GreaterOrEqual(t, q, 0.0)
		assert.LessOrEqual(t, q, 1.0)
	}
	assert.InDelta(t, 0.0, codec.qualities[5], 1e-9)
}

func TestCompressDecodeErrorConsumesNoAttempts(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(10) })
	codec.decodeErr = errors.New("not an image")
	stats := statistics.NewStatistics()
	c := NewAdaptiveCompressor(WithCodec(codec), WithStatistics(stats))

	_, err := c.Compress(context.Background(), []byte("garbage"), 20, 50)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Empty(t, codec.qualities)
	assert.Equal(t, int64(1), stats.Snapshot().DecodeErrors)
	assert.Equal(t, int64(0), stats.Snapshot().EncodeAttempts)
}

func TestCompressEncodeErrorIsFatal(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(10) })
	codec.encodeErr = errors.New("encoder unavailable")
	c := NewAdaptiveCompressor(WithCodec(codec))

	_, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.Error(t, err)
	assert.True(t, IsEncodeError(err))
	assert.Len(t, codec.qualities, 1)
}

func TestCompressEmptyEncoderOutputIsEncodeError(t *testing.T) {
	codec := newScripted(func(float64) int { return 0 })
	codec.emptyOutput = true
	c := NewAdaptiveCompressor(WithCodec(codec))

	_, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	assert.True(t, IsEncodeError(err))
	assert.Len(t, codec.qualities, 1)
}

func TestCompressRejectsInvalidWindow(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(10) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	tests := []struct {
		name     string
		min, max float64
	}{
		{"zero min", 0, 50},
		{"negative min", -1, 50},
		{"max below min", 60, 50},
		{"nan", math.NaN(), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compress(context.Background(), []byte("src"), tt.min, tt.max)
			assert.ErrorIs(t, err, ErrInvalidWindow)
		})
	}
	assert.Empty(t, codec.qualities)
}

func TestCompressResizesOnlyWhenOutsideBox(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(30) })
	codec.width, codec.height = 2000, 1000
	c := NewAdaptiveCompressor(WithCodec(codec))

	res, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1024, 512}}, codec.resized)
	assert.Equal(t, 1024, res.Width)
	assert.Equal(t, 512, res.Height)
	assert.Equal(t, 2000, res.SourceWidth)
	assert.Equal(t, 1000, res.SourceHeight)

	small := newScripted(func(float64) int { return kb(30) })
	small.width, small.height = 500, 800
	res, err = NewAdaptiveCompressor(WithCodec(small)).Compress(context.Background(), []byte("src"), 20, 50)
	require.NoError(t, err)
	assert.Empty(t, small.resized)
	assert.Equal(t, 500, res.Width)
	assert.Equal(t, 800, res.Height)
}

func TestCompressHonorsCancelledContext(t *testing.T) {
	codec := newScripted(func(float64) int { return kb(30) })
	c := NewAdaptiveCompressor(WithCodec(codec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compress(ctx, []byte("src"), 20, 50)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, codec.qualities)
}

func TestCompressPolicyTimeout(t *testing.T) {
	codec := newScripted(func(float64) int {
		time.Sleep(20 * time.Millisecond)
		return kb(120)
	})
	stats := statistics.NewStatistics()
	c := NewAdaptiveCompressor(WithCodec(codec), WithStatistics(stats), WithPolicy(SearchPolicy{
		StartQuality: 0.9,
		QualityStep:  0.1,
		MaxAttempts:  10,
		Timeout:      30 * time.Millisecond,
	}))

	_, err := c.Compress(context.Background(), []byte("src"), 20, 50)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, len(codec.qualities), 10)
	assert.Equal(t, int64(1), stats.Snapshot().Timeouts)
}

func TestCompressRecordsStatistics(t *testing.T) {
	codec := newScripted(func(q float64) int { return kb(q * 100) })
	stats := statistics.NewStatistics()
	c := NewAdaptiveCompressor(WithCodec(codec), WithStatistics(stats))

	_, err := c.Compress(context.Background(), make([]byte, 4096), 20, 50)
	require.NoError(t, err)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.Requests)
	assert.Equal(t, int64(1), snap.Accepted)
	assert.Equal(t, int64(5), snap.EncodeAttempts)
	assert.Equal(t, int64(4096), snap.BytesIn)
	assert.Equal(t, int64(1), snap.QualityHistogram["0.50"])
}

func TestFitBoundingBox(t *testing.T) {
	box := DefaultBoundingBox()
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape over bound", 2000, 1000, 1024, 512},
		{"portrait over bound", 1000, 2000, 512, 1024},
		{"portrait inside box", 500, 800, 500, 800},
		{"landscape inside box", 800, 600, 800, 600},
		{"square over bound", 3000, 3000, 1024, 1024},
		{"exact bound", 1024, 1024, 1024, 1024},
		{"very wide keeps one pixel", 40000, 10, 1024, 1},
		{"rounding", 4000, 3000, 1024, 768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitBoundingBox(tt.w, tt.h, box)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.LessOrEqual(t, w, tt.w)
			assert.LessOrEqual(t, h, tt.h)
		})
	}
}
