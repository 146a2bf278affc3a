package extract

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
)

// Signatures concentrate in the bottom 40% of a page, so detection only
// looks there. Blobs of ink are filtered on area, aspect ratio, and ink
// density before being scored.
const (
	signatureRegionStart = 0.6

	minBlobArea   = 500
	maxBlobArea   = 50000
	minBlobAspect = 1.5
	maxBlobAspect = 10.0
	minBlobWidth  = 50
	minInkDensity = 0.05
	maxInkDensity = 0.5

	maxSignaturesPerPage = 3

	adaptiveBlockSize = 11
	adaptiveOffset    = 2
)

// DetectSignatures finds signature-like ink regions in the bottom part of
// a page image. Results are the top candidates by confidence, numbered
// sig_1 onward, with locations normalized to full page dimensions.
func DetectSignatures(img image.Image, threshold float64) []SignatureResult {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return []SignatureResult{}
	}

	cropY := int(float64(height) * signatureRegionStart)
	region := grayRegion(img, bounds.Min.X, bounds.Min.Y+cropY, width, height-cropY)
	mask := adaptiveThreshold(region, adaptiveBlockSize, adaptiveOffset)

	return signaturesFromMask(mask, cropY, width, height, threshold)
}

func signaturesFromMask(mask *inkMask, cropY, width, height int, threshold float64) []SignatureResult {
	candidates := []SignatureResult{}

	for _, b := range findBlobs(mask) {
		if b.area <= minBlobArea || b.area >= maxBlobArea {
			continue
		}

		w := b.maxX - b.minX + 1
		h := b.maxY - b.minY + 1
		aspect := float64(w) / float64(h)
		if aspect <= minBlobAspect || aspect >= maxBlobAspect || w <= minBlobWidth {
			continue
		}

		density := mask.density(b)
		if density <= minInkDensity || density >= maxInkDensity {
			continue
		}

		confidence := round3(math.Min(0.9, density*2+0.3))
		candidates = append(candidates, SignatureResult{
			Confidence: confidence,
			Location: SignatureLocation{
				Left:   round4(float64(b.minX) / float64(width)),
				Top:    round4(float64(b.minY+cropY) / float64(height)),
				Width:  round4(float64(w) / float64(width)),
				Height: round4(float64(h) / float64(height)),
			},
			Status: signatureStatus(confidence, threshold),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxSignaturesPerPage {
		candidates = candidates[:maxSignaturesPerPage]
	}

	for i := range candidates {
		candidates[i].ID = fmt.Sprintf("sig_%d", i+1)
	}

	return candidates
}

func signatureStatus(confidence, threshold float64) SignatureStatus {
	switch {
	case confidence >= threshold:
		return SignatureValid
	case confidence >= 0.4:
		return SignatureNeedsReview
	default:
		return SignatureInvalid
	}
}

// SignatureReviewReason describes why a needs_review signature was flagged.
func SignatureReviewReason(confidence, threshold float64) string {
	return fmt.Sprintf("Confidence %.0f%% below %.0f%% threshold", confidence*100, threshold*100)
}

type grayImage struct {
	w, h int
	pix  []uint8
}

func grayRegion(img image.Image, x0, y0, w, h int) *grayImage {
	g := &grayImage{w: w, h: h, pix: make([]uint8, w*h)}

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			srcOff := src.PixOffset(x0, y0+y)
			copy(g.pix[y*w:(y+1)*w], src.Pix[srcOff:srcOff+w])
		}
		return g
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.GrayModel.Convert(img.At(x0+x, y0+y)).(color.Gray)
			g.pix[y*w+x] = c.Y
		}
	}
	return g
}

type inkMask struct {
	w, h int
	pix  []bool
}

// density is the fraction of ink pixels inside the blob's bounding box.
func (m *inkMask) density(b blob) float64 {
	w := b.maxX - b.minX + 1
	h := b.maxY - b.minY + 1

	ink := 0
	for y := b.minY; y <= b.maxY; y++ {
		row := y * m.w
		for x := b.minX; x <= b.maxX; x++ {
			if m.pix[row+x] {
				ink++
			}
		}
	}

	return float64(ink) / float64(w*h)
}

// adaptiveThreshold marks a pixel as ink when it is darker than the mean
// of its surrounding block by more than offset. The windowed mean comes
// from an integral image so the whole pass is linear in pixel count.
func adaptiveThreshold(g *grayImage, block, offset int) *inkMask {
	iw := g.w + 1
	integral := make([]int64, iw*(g.h+1))
	for y := 0; y < g.h; y++ {
		var rowSum int64
		for x := 0; x < g.w; x++ {
			rowSum += int64(g.pix[y*g.w+x])
			integral[(y+1)*iw+x+1] = integral[y*iw+x+1] + rowSum
		}
	}

	half := block / 2
	m := &inkMask{w: g.w, h: g.h, pix: make([]bool, g.w*g.h)}

	for y := 0; y < g.h; y++ {
		y0 := max(0, y-half)
		y1 := min(g.h-1, y+half)
		for x := 0; x < g.w; x++ {
			x0 := max(0, x-half)
			x1 := min(g.w-1, x+half)

			count := int64((y1 - y0 + 1) * (x1 - x0 + 1))
			sum := integral[(y1+1)*iw+x1+1] - integral[y0*iw+x1+1] -
				integral[(y1+1)*iw+x0] + integral[y0*iw+x0]
			mean := sum / count

			if int64(g.pix[y*g.w+x]) < mean-int64(offset) {
				m.pix[y*g.w+x] = true
			}
		}
	}

	return m
}

type blob struct {
	area                   int
	minX, minY, maxX, maxY int
}

// findBlobs labels 8-connected ink regions.
func findBlobs(m *inkMask) []blob {
	visited := make([]bool, len(m.pix))
	var blobs []blob
	var stack []int

	for start, on := range m.pix {
		if !on || visited[start] {
			continue
		}

		b := blob{minX: m.w, minY: m.h, maxX: -1, maxY: -1}
		stack = append(stack[:0], start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%m.w, idx/m.w
			b.area++
			if x < b.minX {
				b.minX = x
			}
			if x > b.maxX {
				b.maxX = x
			}
			if y < b.minY {
				b.minY = y
			}
			if y > b.maxY {
				b.maxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					nidx := ny*m.w + nx
					if m.pix[nidx] && !visited[nidx] {
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}
			}
		}

		blobs = append(blobs, b)
	}

	return blobs
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
