// Package overlay draws candidate moves as arrows over the captured image.
package overlay

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/engine"
	"github.com/thyrook/boardsight/internal/geometry"
	"github.com/thyrook/boardsight/internal/position"
	"github.com/thyrook/boardsight/internal/vision"
)

// palette colours candidate arrows by rank.
var palette = []string{"#f0a020", "#3080e0", "#a040c0"}

// Annotator renders arrows and writes annotated PNGs to a directory.
type Annotator struct {
	dir string
	// Lines is the number of candidate lines drawn, best first.
	Lines  int
	logger *zap.Logger
}

func NewAnnotator(dir string, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{dir: dir, Lines: 1, logger: logger}
}

// Arrow is one move in image coordinates.
type Arrow struct {
	From, To image.Point
	Color    string
	Width    float64
}

// Arrows maps the candidate moves of res onto the image. Squares are
// converted back to image cells through the orientation and the board's
// perspective transform.
func Arrows(region geometry.Region, o board.Orientation, res engine.Result, lines int) ([]Arrow, error) {
	cell := math.Sqrt(region.Area()) / board.Size
	var arrows []Arrow
	for i, cand := range res.Candidates {
		if i >= lines {
			break
		}
		from, to, err := moveCenters(region, o, cand.Move)
		if err != nil {
			return nil, err
		}
		arrows = append(arrows, Arrow{
			From:  from,
			To:    to,
			Color: palette[i%len(palette)],
			Width: max(2, cell*0.14/float64(i+1)),
		})
	}
	return arrows, nil
}

func moveCenters(region geometry.Region, o board.Orientation, move string) (image.Point, image.Point, error) {
	if len(move) < 4 {
		return image.Point{}, image.Point{}, fmt.Errorf("invalid move %q", move)
	}
	var pts [2]image.Point
	for i, sq := range []string{move[0:2], move[2:4]} {
		r, c, err := position.ParseSquare(sq)
		if err != nil {
			return image.Point{}, image.Point{}, err
		}
		ir, ic := position.ImageCell(r, c, o)
		if pts[i], err = region.CellCenter(ir, ic); err != nil {
			return image.Point{}, image.Point{}, err
		}
	}
	return pts[0], pts[1], nil
}

// Render returns a copy of img with the arrows drawn over it.
func Render(img image.Image, arrows []Arrow) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if len(arrows) == 0 {
		return dst, nil
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(arrowSVG(w, h, b.Min, arrows)))
	if err != nil {
		return nil, fmt.Errorf("parse arrow svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)
	return dst, nil
}

func arrowSVG(w, h int, origin image.Point, arrows []Arrow) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)

	// Draw the weakest line first so the best one ends up on top.
	for i := len(arrows) - 1; i >= 0; i-- {
		a := arrows[i]
		fx, fy := float64(a.From.X-origin.X), float64(a.From.Y-origin.Y)
		tx, ty := float64(a.To.X-origin.X), float64(a.To.Y-origin.Y)

		dx, dy := tx-fx, ty-fy
		length := math.Hypot(dx, dy)
		if length < 1 {
			continue
		}
		ux, uy := dx/length, dy/length
		head := min(a.Width*3.5, length/2)
		bx, by := tx-ux*head, ty-uy*head
		half := a.Width * 1.6

		fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.1f" fill="none" stroke="%s" stroke-width="%.1f"/>`,
			fx, fy, a.Width*2, a.Color, a.Width/2)
		fmt.Fprintf(&sb, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="%s" stroke-width="%.1f" stroke-linecap="round"/>`,
			fx, fy, bx, by, a.Color, a.Width)
		fmt.Fprintf(&sb, `<polygon points="%.1f,%.1f %.1f,%.1f %.1f,%.1f" fill="%s"/>`,
			tx, ty, bx-uy*half, by+ux*half, bx+uy*half, by-ux*half, a.Color)
		fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s"/>`,
			tx, ty, a.Width*0.8, a.Color)
	}
	sb.WriteString(`</svg>`)
	return sb.String()
}

// Annotate draws res over img and saves it as <dir>/<name>.png.
func (a *Annotator) Annotate(img image.Image, region geometry.Region, o board.Orientation, res engine.Result, name string) (string, error) {
	arrows, err := Arrows(region, o, res, a.Lines)
	if err != nil {
		return "", err
	}
	out, err := Render(img, arrows)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create annotate dir: %w", err)
	}
	path := filepath.Join(a.dir, name+".png")
	if err := vision.SavePNG(path, out); err != nil {
		return "", err
	}
	a.logger.Debug("Annotated capture saved", zap.String("path", path), zap.Int("arrows", len(arrows)))
	return path, nil
}
