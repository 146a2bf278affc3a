package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Rasterizer renders PDF pages to images.
type Rasterizer interface {
	Render(ctx context.Context, pdfPath string, dpi, maxPages int) ([]image.Image, error)
}

// PopplerRasterizer shells out to pdftoppm from poppler-utils.
type PopplerRasterizer struct {
	tempDir string
}

// NewPopplerRasterizer creates a rasterizer writing page images to the
// system temp directory.
func NewPopplerRasterizer() *PopplerRasterizer {
	return &PopplerRasterizer{tempDir: os.TempDir()}
}

// Render converts up to maxPages pages of a PDF into images at the given
// DPI. Intermediate files are removed before returning.
func (r *PopplerRasterizer) Render(ctx context.Context, pdfPath string, dpi, maxPages int) ([]image.Image, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, fmt.Errorf("pdftoppm not found (install poppler-utils)")
	}

	// Per-call prefix: multiple jobs rasterize concurrently in one process
	outputPrefix := filepath.Join(r.tempDir, fmt.Sprintf("docuextract_page_%s", uuid.NewString()[:8]))

	args := []string{
		"-jpeg",
		"-r", strconv.Itoa(dpi),
		"-f", "1",
		"-l", strconv.Itoa(maxPages),
		pdfPath,
		outputPrefix,
	}

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	paths, err := filepath.Glob(outputPrefix + "*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	if len(paths) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", filepath.Base(pdfPath))
	}

	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := decodeJPEGFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to decode page image %s: %w", filepath.Base(p), err)
		}
		images = append(images, img)
	}

	return images, nil
}

func decodeJPEGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return jpeg.Decode(f)
}

// DecodeImage reads any supported raster format (PNG, JPEG, GIF, TIFF,
// BMP), detecting the format from content rather than extension.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}

	return img, nil
}

// EncodeJPEG renders an image as JPEG bytes at the given quality,
// suitable for embedding in a vision model request.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
