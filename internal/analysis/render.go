package analysis

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"carina/internal/model"
)

// MapRenderer rasterizes the planning map's recommendation icons (step 7),
// an external collaborator behind a narrow interface so a cartography-grade
// renderer can stand in without touching the pipeline.
type MapRenderer interface {
	RenderPlanningMap(path string, junctions map[string]model.JunctionPosition, recommendations map[string]string) error
}

// PNGRenderer is a minimal standard-library MapRenderer: every junction is
// drawn as a filled dot with a recommendation-colored ring around it
// (green=add, red=remove, gray=keep), scaled to fit the image bounds.
type PNGRenderer struct {
	Width, Height int
	MarginPixels  int
}

// NewPNGRenderer constructs a PNGRenderer with a sensible default canvas.
func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{Width: 1024, Height: 1024, MarginPixels: 48}
}

var (
	colorAdd    = color.RGBA{R: 0x2e, G: 0xa0, B: 0x4a, A: 0xff}
	colorRemove = color.RGBA{R: 0xc0, G: 0x30, B: 0x30, A: 0xff}
	colorKeep   = color.RGBA{R: 0x90, G: 0x90, B: 0x90, A: 0xff}
	colorDot    = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
	colorBG     = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

func ringColor(recommendation string) color.RGBA {
	switch recommendation {
	case RecommendAdd:
		return colorAdd
	case RecommendRemove:
		return colorRemove
	default:
		return colorKeep
	}
}

// RenderPlanningMap writes a PNG with one dot per junction, projected from
// its (x,y) simulator coordinates into the image's pixel bounds.
func (r *PNGRenderer) RenderPlanningMap(path string, junctions map[string]model.JunctionPosition, recommendations map[string]string) error {
	if len(junctions) == 0 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	fillBackground(img, colorBG)

	minX, minY, maxX, maxY := bounds(junctions)
	for jID, pos := range junctions {
		px, py := r.project(pos, minX, minY, maxX, maxY)
		drawDisc(img, px, py, 8, ringColor(recommendations[jID]))
		drawDisc(img, px, py, 3, colorDot)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func bounds(junctions map[string]model.JunctionPosition) (minX, minY, maxX, maxY float64) {
	first := true
	for _, pos := range junctions {
		if first {
			minX, maxX, minY, maxY = pos.X, pos.X, pos.Y, pos.Y
			first = false
			continue
		}
		if pos.X < minX {
			minX = pos.X
		}
		if pos.X > maxX {
			maxX = pos.X
		}
		if pos.Y < minY {
			minY = pos.Y
		}
		if pos.Y > maxY {
			maxY = pos.Y
		}
	}
	return minX, minY, maxX, maxY
}

func (r *PNGRenderer) project(pos model.JunctionPosition, minX, minY, maxX, maxY float64) (int, int) {
	spanX, spanY := maxX-minX, maxY-minY
	usableW := float64(r.Width - 2*r.MarginPixels)
	usableH := float64(r.Height - 2*r.MarginPixels)

	var nx, ny float64
	if spanX > 0 {
		nx = (pos.X - minX) / spanX
	}
	if spanY > 0 {
		ny = (pos.Y - minY) / spanY
	}

	px := r.MarginPixels + int(nx*usableW)
	// Flip vertically: simulator Y grows upward, image Y grows downward.
	py := r.MarginPixels + int((1-ny)*usableH)
	return px, py
}

func fillBackground(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawDisc(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	b := img.Bounds()
	for y := cy - radius; y <= cy+radius; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		for x := cx - radius; x <= cx+radius; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
