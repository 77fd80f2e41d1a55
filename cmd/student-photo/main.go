package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"student-photo-go/internal/compressor"
	"student-photo-go/internal/config"
	"student-photo-go/internal/inspector"
	"student-photo-go/internal/logger"
	"student-photo-go/internal/statistics"
	"student-photo-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	minSizeKB float64
	maxSizeKB float64
	targetDir string
	outFormat string
	workers   int
	port      int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "student-photo",
	Short: "Compress student photos into a target size window",
	Long: `student-photo prepares student photos for the school portal.

Each photo is downsampled to fit a 1024x1024 box and re-encoded as JPEG at
decreasing quality (0.90, 0.80, ...) until it fits the size window, by
default 20-50 KB. The result is stored as a base64 data URI.`,
	SilenceUsage: true,
}

// compressCmd compresses files or directories of photos.
var compressCmd = &cobra.Command{
	Use:   "compress [paths...]",
	Short: "Compress photo files or directories",
	Long: `Compress every supported image found in the given files or directories.
Outputs are written next to the source, or into --target, as
<file>.compressed.jpg or <file>.datauri.txt depending on --format, where
<file> is the full source name (photo.png -> photo.png.compressed.jpg).
Outputs of earlier runs are skipped, and a source whose output name is
already taken in this run is reported as an error instead of overwriting.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// inspectCmd prints metadata of a single image.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show format, dimensions and EXIF details of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the HTTP API used by the portal UI.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the photo compression HTTP API",
	Long: `Starts an HTTP server exposing:
- POST /api/photos/compress  compress an uploaded photo into a data URI
- POST /api/photos/inspect   read image metadata
- GET  /api/status, /api/statistics
- GET  /ws                   live compression events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().Float64Var(&minSizeKB, "min-kb", compressor.DefaultMinSizeKB, "lower bound of the size window in KB")
	compressCmd.Flags().Float64Var(&maxSizeKB, "max-kb", compressor.DefaultMaxSizeKB, "upper bound of the size window in KB")
	compressCmd.Flags().StringVar(&targetDir, "target", "", "directory for outputs (default: next to each source)")
	compressCmd.Flags().StringVar(&outFormat, "format", compressor.OutputJPEG, "output kind: jpeg or datauri")
	compressCmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers (default: one per CPU)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress executes batch compression over the given paths.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("min-kb") {
		cfg.Photo.MinSizeKB = minSizeKB
	}
	if flags.Changed("max-kb") {
		cfg.Photo.MaxSizeKB = maxSizeKB
	}
	if flags.Changed("target") {
		cfg.Batch.TargetDirectory = targetDir
	}
	if flags.Changed("format") {
		cfg.Batch.Output = outFormat
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	runner := compressor.NewDefaultBatchCompressor(newCompressor(cfg, log, stats), log, stats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := runner.Compress(ctx, compressor.BatchParams{
		InputPaths: args,
		TargetDir:  cfg.Batch.TargetDirectory,
		MinSizeKB:  cfg.Photo.MinSizeKB,
		MaxSizeKB:  cfg.Photo.MaxSizeKB,
		Formats:    cfg.Batch.SupportedExtensions,
		Output:     cfg.Batch.Output,
		Workers:    cfg.Batch.Workers,
	})
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
		if quiet && r.Success {
			continue
		}
		fmt.Printf("%-11s %s -> %s (%s)\n", r.Action, r.InputPath, r.OutputPath, r.Message)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "No supported images found")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, len(results))
	}
	return nil
}

// runInspect prints metadata for a single image.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	info, err := inspector.NewEXIFInspector(logger.Discard(), nil).InspectFile(filePath)
	if err != nil {
		return err
	}
	writeInspectReport(os.Stdout, filePath, info, cfg.BoundingBox())
	return nil
}

// writeInspectReport prints info and the canvas size box would produce.
func writeInspectReport(w io.Writer, filePath string, info *inspector.SourceInfo, box compressor.BoundingBox) {
	dw, dh := info.DisplayDimensions()
	fmt.Fprintf(w, "File:        %s\n", filePath)
	fmt.Fprintf(w, "Format:      %s\n", info.Format)
	fmt.Fprintf(w, "Size:        %.1f KB\n", float64(info.Size)/1024)
	fmt.Fprintf(w, "Dimensions:  %dx%d (displayed %dx%d)\n", info.Width, info.Height, dw, dh)
	bw, bh := compressor.FitBoundingBox(dw, dh, box)
	fmt.Fprintf(w, "Canvas:      %dx%d (box %dx%d)\n", bw, bh, box.MaxWidth, box.MaxHeight)
	fmt.Fprintf(w, "Hash:        %s\n", info.Hash)
	if !info.HasEXIF {
		fmt.Fprintln(w, "No EXIF data")
		return
	}
	fmt.Fprintf(w, "Orientation: %d\n", info.Orientation)
	if info.CameraMake != "" || info.CameraModel != "" {
		fmt.Fprintf(w, "Camera:      %s %s\n", info.CameraMake, info.CameraModel)
	}
	if info.TakenAt != nil {
		fmt.Fprintf(w, "Taken:       %s\n", info.TakenAt.Format("2006-01-02 15:04:05"))
	}
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	server := web.NewServer(cfg, log, newCompressor(cfg, log, stats), inspector.NewEXIFInspector(log, stats), stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Student photo API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println(stats.GetSummary())
	return nil
}

func newCompressor(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics) *compressor.AdaptiveCompressor {
	return compressor.NewAdaptiveCompressor(
		compressor.WithBoundingBox(cfg.BoundingBox()),
		compressor.WithPolicy(cfg.SearchPolicy()),
		compressor.WithLogger(log),
		compressor.WithStatistics(stats),
	)
}

// loadConfig loads configuration from --config or the default search paths.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfgFile == "" {
		if _, statErr := os.Stat("config.yaml"); statErr == nil && !quiet {
			fmt.Fprintln(os.Stderr, "Using config file: config.yaml")
		}
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	log, err := logger.NewLogger(logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    verbose,
		Verbose:    verbose,
		Quiet:      quiet,
	})
	if err != nil {
		log = logger.Fallback()
		log.WithError(err).Warn("logger config rejected, logging to stderr")
	}
	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
