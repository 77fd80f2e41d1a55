package inspector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"student-photo-go/internal/hasher"
	"student-photo-go/internal/statistics"
)

// EXIFInspector reads image headers with image.DecodeConfig and metadata with goexif.
type EXIFInspector struct {
	logger  *logrus.Logger
	stats   *statistics.Statistics
	cache   *sync.Map
	cacheSz int
	cstats  CacheStats
	mutex   sync.RWMutex
}

// NewEXIFInspector returns a new EXIFInspector. stats may be nil.
func NewEXIFInspector(logger *logrus.Logger, stats *statistics.Statistics) *EXIFInspector {
	if logger == nil {
		logger = logrus.New()
	}
	return &EXIFInspector{
		logger: logger,
		stats:  stats,
		cache:  &sync.Map{},
	}
}

// Inspect returns format, dimensions and EXIF details of data.
// Missing or broken EXIF is not an error.
func (e *EXIFInspector) Inspect(data []byte) (*SourceInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	e.mutex.RLock()
	cache := e.cache
	e.mutex.RUnlock()

	key := hasher.ContentHash(data, hasher.DefaultHexLen)
	if value, ok := cache.Load(key); ok {
		e.incrementCacheHits()
		info := value.(SourceInfo)
		return &info, nil
	}
	e.incrementCacheMisses()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	info := SourceInfo{
		Format:     FileTypeFromFormat(format),
		FormatName: format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Size:       int64(len(data)),
		Hash:       key,
	}
	if info.Format.CanCarryEXIF() {
		e.readEXIF(data, &info)
	}

	if _, loaded := cache.LoadOrStore(key, info); !loaded {
		e.mutex.Lock()
		e.cacheSz++
		e.mutex.Unlock()
	}

	return &info, nil
}

// InspectFile reads path and inspects its contents.
func (e *EXIFInspector) InspectFile(path string) (*SourceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return e.Inspect(data)
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFInspector) ClearCache() {
	e.mutex.Lock()
	e.cache = &sync.Map{}
	e.cacheSz = 0
	e.cstats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this inspector.
func (e *EXIFInspector) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.cstats
	stats.Size = e.cacheSz
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (e *EXIFInspector) readEXIF(data []byte, info *SourceInfo) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Debugf("No EXIF data (%v) for image %s", err, info.Hash)
		return
	}
	info.HasEXIF = true

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = v
		}
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			info.CameraMake = strings.TrimSpace(v)
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			info.CameraModel = strings.TrimSpace(v)
		}
	}
	if tm, err := x.DateTime(); err == nil {
		info.TakenAt = &tm
	} else if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if v, err := tag.StringVal(); err == nil {
			info.TakenAt = parseEXIFDateTime(v)
		}
	}
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return nil
	}
	for _, format := range []string{"2006:01:02 15:04:05", "2006-01-02 15:04:05", time.RFC3339} {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

func (e *EXIFInspector) incrementCacheHits() {
	e.mutex.Lock()
	e.cstats.Hits++
	e.cstats.TotalQueries++
	e.mutex.Unlock()
	if e.stats != nil {
		e.stats.IncrementCacheHits()
	}
}

func (e *EXIFInspector) incrementCacheMisses() {
	e.mutex.Lock()
	e.cstats.Misses++
	e.cstats.TotalQueries++
	e.mutex.Unlock()
	if e.stats != nil {
		e.stats.IncrementCacheMisses()
	}
}
