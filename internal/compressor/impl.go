package compressor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"student-photo-go/internal/statistics"
)

// DefaultBatchCompressor runs the adaptive compressor over files on disk.
type DefaultBatchCompressor struct {
	compressor Compressor
	log        *logrus.Logger
	stats      *statistics.Statistics
}

// NewDefaultBatchCompressor creates a batch runner around c.
func NewDefaultBatchCompressor(c Compressor, log *logrus.Logger, stats *statistics.Statistics) *DefaultBatchCompressor {
	if log == nil {
		log = logrus.New()
	}
	return &DefaultBatchCompressor{compressor: c, log: log, stats: stats}
}

// Compress performs image compression according to the provided parameters.
func (c *DefaultBatchCompressor) Compress(ctx context.Context, params BatchParams) ([]FileResult, error) {
	if params.Output == "" {
		params.Output = OutputJPEG
	}
	if params.Output != OutputJPEG && params.Output != OutputDataURI {
		return nil, fmt.Errorf("unknown output kind: %s", params.Output)
	}
	if !(params.MinSizeKB > 0) || !(params.MaxSizeKB >= params.MinSizeKB) {
		return nil, invalidWindow(params.MinSizeKB, params.MaxSizeKB)
	}

	files, err := collectImageFiles(params.InputPaths, params.Formats)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	if c.stats != nil {
		c.stats.AddFilesFound(int64(len(files)))
	}

	if params.TargetDir != "" {
		if err := os.MkdirAll(params.TargetDir, 0755); err != nil {
			return nil, fmt.Errorf("create target dir: %w", err)
		}
	}

	resArr := make([]FileResult, len(files))
	owners := make(map[string]string, len(files))
	var pending []int
	for i, path := range files {
		outPath := outputPath(path, params)
		if owner, taken := owners[outPath]; taken {
			resArr[i] = c.conflictResult(path, outPath, owner)
			continue
		}
		owners[outPath] = path
		pending = append(pending, i)
	}

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = max(runtime.NumCPU(), 2)
	}
	type job struct {
		index int
		path  string
	}
	type result struct {
		index int
		res   FileResult
	}

	jobs := make(chan job, len(pending))
	results := make(chan result, len(pending))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					results <- result{index: j.index, res: cancelledResult(j.path, ctx.Err())}
					continue
				}
				results <- result{index: j.index, res: c.compressOne(ctx, j.path, params)}
			}
		}()
	}

	for _, i := range pending {
		jobs <- job{index: i, path: files[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	for r := range results {
		resArr[r.index] = r.res
	}
	return resArr, nil
}

// collectImageFiles recursively collects all files with supported extensions.
// Outputs of earlier runs and paths listed twice are left out.
func collectImageFiles(inputPaths []string, formats []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if isCompressedOutput(path) {
			return
		}
		key := filepath.Clean(path)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		files = append(files, path)
	}
	extSet := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		extSet[f] = struct{}{}
	}
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := extSet[ext]; ok {
			add(path)
		}
		return nil
	}
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", in, err)
		}
		if info.IsDir() {
			if err := filepath.WalkDir(in, visit); err != nil {
				return nil, err
			}
		} else {
			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := extSet[ext]; ok {
				add(in)
			}
		}
	}
	return files, nil
}

// compressOne compresses a single file and writes the accepted output.
func (c *DefaultBatchCompressor) compressOne(ctx context.Context, inputPath string, params BatchParams) FileResult {
	res := FileResult{
		InputPath: inputPath,
		StartedAt: time.Now(),
	}
	entry := c.log.WithFields(logrus.Fields{
		"file":      inputPath,
		"operation": "batch_compress",
	})
	fail := func(msg string, err error) FileResult {
		res.Action = ActionError
		res.Message = fmt.Sprintf("%s: %v", msg, err)
		res.Error = err
		res.FinishedAt = time.Now()
		entry.WithError(err).Error(msg)
		if c.stats != nil {
			c.stats.AddError(inputPath, "batch_compress", err)
		}
		return res
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fail("read error", err)
	}
	res.OriginalSize = int64(len(source))

	out, err := c.compressor.Compress(ctx, source, params.MinSizeKB, params.MaxSizeKB)
	if err != nil {
		return fail("compress error", err)
	}
	res.Quality = out.Quality
	res.Attempts = out.Attempts

	outPath := outputPath(inputPath, params)
	payload := out.Data
	if params.Output == OutputDataURI {
		payload = []byte(out.DataURI)
	}
	res.OutputPath = outPath

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0644); err != nil {
		return fail("write tmp file error", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fail("rename error", err)
	}

	res.CompressedSize = int64(len(payload))
	if out.Undersized {
		res.Action = ActionUndersized
		res.Message = fmt.Sprintf("accepted below minimum (%.1f KB < %g KB)", out.SizeKB, params.MinSizeKB)
	} else {
		res.Action = ActionCompressed
		res.Message = fmt.Sprintf("compressed to %.1f KB at quality %.2f", out.SizeKB, out.Quality)
	}
	res.Success = true
	res.FinishedAt = time.Now()
	if c.stats != nil {
		c.stats.IncrementFilesWritten()
	}
	entry.WithFields(logrus.Fields{
		"output":   outPath,
		"size_kb":  out.SizeKB,
		"quality":  out.Quality,
		"attempts": out.Attempts,
	}).Info(res.Message)
	return res
}

// Output name suffixes appended to the full source file name.
const (
	compressedSuffix = ".compressed.jpg"
	dataURISuffix    = ".datauri.txt"
)

// outputPath returns where the output for inputPath is written. The source
// extension is kept so a.png and a.gif in one directory do not collide.
func outputPath(inputPath string, params BatchParams) string {
	dir := params.TargetDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	suffix := compressedSuffix
	if params.Output == OutputDataURI {
		suffix = dataURISuffix
	}
	return filepath.Join(dir, filepath.Base(inputPath)+suffix)
}

// isCompressedOutput reports whether path looks like an output of this runner.
func isCompressedOutput(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, compressedSuffix) || strings.HasSuffix(name, dataURISuffix)
}

func (c *DefaultBatchCompressor) conflictResult(inputPath, outPath, owner string) FileResult {
	err := errors.Wrapf(ErrOutputConflict, "%s is written for %s", outPath, owner)
	c.log.WithFields(logrus.Fields{
		"file":      inputPath,
		"operation": "batch_compress",
		"output":    outPath,
	}).WithError(err).Error("output conflict")
	if c.stats != nil {
		c.stats.AddError(inputPath, "batch_compress", err)
	}
	now := time.Now()
	return FileResult{
		InputPath:  inputPath,
		OutputPath: outPath,
		Action:     ActionError,
		Message:    fmt.Sprintf("skipped: %v", err),
		Error:      err,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func cancelledResult(path string, err error) FileResult {
	now := time.Now()
	return FileResult{
		InputPath:  path,
		Action:     ActionError,
		Message:    fmt.Sprintf("cancelled: %v", err),
		Error:      err,
		StartedAt:  now,
		FinishedAt: now,
	}
}
