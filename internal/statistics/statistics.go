package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxErrors bounds the number of errors kept for the summary.
const maxErrors = 100

// Statistics contains counters for photo compression requests.
type Statistics struct {
	Requests            int64
	Accepted            int64
	AcceptedUndersized  int64
	DecodeErrors        int64
	EncodeErrors        int64
	SizeConstraintFails int64
	Timeouts            int64
	EncodeAttempts      int64

	BytesIn  int64
	BytesOut int64

	FilesFound   int64
	FilesWritten int64

	CacheHits   int64
	CacheMisses int64

	StartTime time.Time

	mutex sync.RWMutex

	// QualityHistogram counts accepted results by quality, keyed as "0.90".
	QualityHistogram map[string]int64
	Errors           []StatError
}

// StatError represents an error that occurred during processing.
type StatError struct {
	Subject   string
	Operation string
	Error     string
	Timestamp time.Time
}

// Snapshot is a point-in-time copy of the counters, safe to serialize.
type Snapshot struct {
	Requests            int64            `json:"requests"`
	Accepted            int64            `json:"accepted"`
	AcceptedUndersized  int64            `json:"accepted_undersized"`
	DecodeErrors        int64            `json:"decode_errors"`
	EncodeErrors        int64            `json:"encode_errors"`
	SizeConstraintFails int64            `json:"size_constraint_failures"`
	Timeouts            int64            `json:"timeouts"`
	EncodeAttempts      int64            `json:"encode_attempts"`
	AverageAttempts     float64          `json:"average_attempts"`
	BytesIn             int64            `json:"bytes_in"`
	BytesOut            int64            `json:"bytes_out"`
	FilesFound          int64            `json:"files_found"`
	FilesWritten        int64            `json:"files_written"`
	CacheHits           int64            `json:"cache_hits"`
	CacheMisses         int64            `json:"cache_misses"`
	QualityHistogram    map[string]int64 `json:"quality_histogram"`
	ErrorCount          int              `json:"error_count"`
	Uptime              string           `json:"uptime"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:        time.Now(),
		QualityHistogram: make(map[string]int64),
		Errors:           make([]StatError, 0),
	}
}

// IncrementRequests increases the count of compression requests by 1.
func (s *Statistics) IncrementRequests() {
	atomic.AddInt64(&s.Requests, 1)
}

// AddBytesIn adds n source bytes.
func (s *Statistics) AddBytesIn(n int64) {
	atomic.AddInt64(&s.BytesIn, n)
}

// RecordAccepted records a successful compression.
func (s *Statistics) RecordAccepted(quality float64, attempts int, bytesOut int64, undersized bool) {
	atomic.AddInt64(&s.Accepted, 1)
	atomic.AddInt64(&s.EncodeAttempts, int64(attempts))
	atomic.AddInt64(&s.BytesOut, bytesOut)
	if undersized {
		atomic.AddInt64(&s.AcceptedUndersized, 1)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.QualityHistogram[fmt.Sprintf("%.2f", quality)]++
}

// IncrementDecodeErrors increases the count of unreadable sources by 1.
func (s *Statistics) IncrementDecodeErrors() {
	atomic.AddInt64(&s.DecodeErrors, 1)
}

// IncrementEncodeErrors increases the count of encoder failures by 1.
func (s *Statistics) IncrementEncodeErrors() {
	atomic.AddInt64(&s.EncodeErrors, 1)
}

// RecordSizeConstraintFailure records an exhausted attempt budget.
func (s *Statistics) RecordSizeConstraintFailure(attempts int) {
	atomic.AddInt64(&s.SizeConstraintFails, 1)
	atomic.AddInt64(&s.EncodeAttempts, int64(attempts))
}

// IncrementTimeouts increases the count of cancelled or timed out requests by 1.
func (s *Statistics) IncrementTimeouts() {
	atomic.AddInt64(&s.Timeouts, 1)
}

// AddFilesFound adds n files discovered by a batch run.
func (s *Statistics) AddFilesFound(n int64) {
	atomic.AddInt64(&s.FilesFound, n)
}

// IncrementFilesWritten increases the count of batch outputs written by 1.
func (s *Statistics) IncrementFilesWritten() {
	atomic.AddInt64(&s.FilesWritten, 1)
}

// IncrementCacheHits increases the cache hit count by 1.
func (s *Statistics) IncrementCacheHits() {
	atomic.AddInt64(&s.CacheHits, 1)
}

// IncrementCacheMisses increases the cache miss count by 1.
func (s *Statistics) IncrementCacheMisses() {
	atomic.AddInt64(&s.CacheMisses, 1)
}

// AddError records an error. Only the first maxErrors are kept.
func (s *Statistics) AddError(subject, operation string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.Errors) >= maxErrors {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.Errors = append(s.Errors, StatError{
		Subject:   subject,
		Operation: operation,
		Error:     msg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	snap := Snapshot{
		Requests:            atomic.LoadInt64(&s.Requests),
		Accepted:            atomic.LoadInt64(&s.Accepted),
		AcceptedUndersized:  atomic.LoadInt64(&s.AcceptedUndersized),
		DecodeErrors:        atomic.LoadInt64(&s.DecodeErrors),
		EncodeErrors:        atomic.LoadInt64(&s.EncodeErrors),
		SizeConstraintFails: atomic.LoadInt64(&s.SizeConstraintFails),
		Timeouts:            atomic.LoadInt64(&s.Timeouts),
		EncodeAttempts:      atomic.LoadInt64(&s.EncodeAttempts),
		BytesIn:             atomic.LoadInt64(&s.BytesIn),
		BytesOut:            atomic.LoadInt64(&s.BytesOut),
		FilesFound:          atomic.LoadInt64(&s.FilesFound),
		FilesWritten:        atomic.LoadInt64(&s.FilesWritten),
		CacheHits:           atomic.LoadInt64(&s.CacheHits),
		CacheMisses:         atomic.LoadInt64(&s.CacheMisses),
		Uptime:              time.Since(s.StartTime).Round(time.Second).String(),
	}
	finished := snap.Accepted + snap.SizeConstraintFails
	if finished > 0 {
		snap.AverageAttempts = float64(snap.EncodeAttempts) / float64(finished)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	snap.QualityHistogram = make(map[string]int64, len(s.QualityHistogram))
	for k, v := range s.QualityHistogram {
		snap.QualityHistogram[k] = v
	}
	snap.ErrorCount = len(s.Errors)
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Student Photo Statistics Summary:

Requests:
		Total: %d
		Accepted: %d
		Accepted Undersized: %d
		Decode Errors: %d
		Encode Errors: %d
		Size Constraint Failures: %d
		Timeouts: %d

Search:
		Encode Attempts: %d
		Average Attempts: %.2f
		Qualities: %s

Bytes:
		In: %s
		Out: %s

Files:
		Found: %d
		Written: %d

Cache:
		Hits: %d
		Misses: %d

Uptime: %s`,
		snap.Requests,
		snap.Accepted,
		snap.AcceptedUndersized,
		snap.DecodeErrors,
		snap.EncodeErrors,
		snap.SizeConstraintFails,
		snap.Timeouts,
		snap.EncodeAttempts,
		snap.AverageAttempts,
		formatHistogram(snap.QualityHistogram),
		formatBytes(snap.BytesIn),
		formatBytes(snap.BytesOut),
		snap.FilesFound,
		snap.FilesWritten,
		snap.CacheHits,
		snap.CacheMisses,
		snap.Uptime)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Subject,
			err.Error)
	}
	return result
}

func formatHistogram(h map[string]int64) string {
	if len(h) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	// highest quality first
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, h[k]))
	}
	return strings.Join(parts, " ")
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
