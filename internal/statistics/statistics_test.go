package statistics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAcceptedUpdatesHistogram(t *testing.T) {
	s := NewStatistics()
	s.RecordAccepted(0.9, 1, 30*1024, false)
	s.RecordAccepted(0.7, 3, 45*1024, false)
	s.RecordAccepted(0.9, 1, 5*1024, true)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Accepted)
	assert.Equal(t, int64(1), snap.AcceptedUndersized)
	assert.Equal(t, int64(5), snap.EncodeAttempts)
	assert.Equal(t, int64(80*1024), snap.BytesOut)
	assert.Equal(t, map[string]int64{"0.90": 2, "0.70": 1}, snap.QualityHistogram)
	assert.InDelta(t, 5.0/3.0, snap.AverageAttempts, 1e-9)
}

func TestSizeConstraintFailureCountsAttempts(t *testing.T) {
	s := NewStatistics()
	s.RecordSizeConstraintFailure(10)

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.SizeConstraintFails)
	assert.Equal(t, int64(10), snap.EncodeAttempts)
	assert.InDelta(t, 10.0, snap.AverageAttempts, 1e-9)
}

func TestConcurrentIncrements(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementRequests()
			s.RecordAccepted(0.8, 2, 100, false)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap.Requests)
	assert.Equal(t, int64(50), snap.QualityHistogram["0.80"])
}

func TestAddErrorIsBounded(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < maxErrors+20; i++ {
		s.AddError("photo.jpg", "compress", errors.New("boom"))
	}
	assert.Equal(t, maxErrors, s.Snapshot().ErrorCount)
	assert.Contains(t, s.GetErrorSummary(), "more errors")
}

func TestGetSummary(t *testing.T) {
	s := NewStatistics()
	s.IncrementRequests()
	s.AddBytesIn(2048)
	s.RecordAccepted(0.9, 1, 1024, false)

	summary := s.GetSummary()
	require.NotEmpty(t, summary)
	assert.Contains(t, summary, "Accepted: 1")
	assert.Contains(t, summary, "0.90=1")
	assert.Contains(t, summary, "In: 2.0 KB")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
