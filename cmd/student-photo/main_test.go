package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"student-photo-go/internal/inspector"
	"student-photo-go/internal/logger"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestInspectReportUsesConfiguredBoundingBox(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("photo:\n  max_width: 200\n  max_height: 200\n"), 0644))
	photo := filepath.Join(dir, "student.png")
	writePNG(t, photo, 800, 400)

	prev := cfgFile
	cfgFile = cfgPath
	defer func() { cfgFile = prev }()

	cfg, err := loadConfig()
	require.NoError(t, err)

	info, err := inspector.NewEXIFInspector(logger.Discard(), nil).InspectFile(photo)
	require.NoError(t, err)

	var out bytes.Buffer
	writeInspectReport(&out, photo, info, cfg.BoundingBox())
	assert.Contains(t, out.String(), "Dimensions:  800x400 (displayed 800x400)")
	assert.Contains(t, out.String(), "Canvas:      200x100 (box 200x200)")
	assert.Contains(t, out.String(), "No EXIF data")
}

func TestRunInspectRejectsMissingFile(t *testing.T) {
	err := runInspect(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
