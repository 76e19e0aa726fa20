// Package plot draws detection results onto their source frame for the
// debug image stream.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

// ErrNoImage is returned when a result carries no source frame.
var ErrNoImage = errors.New("plot: result has no image")

// palette is the 20-color box palette, indexed by class id modulo its length.
var palette = []color.RGBA{
	hex(0xFF3838), hex(0xFF9D97), hex(0xFF701F), hex(0xFFB21D), hex(0xCFD231),
	hex(0x48F90A), hex(0x92CC17), hex(0x3DDB86), hex(0x1A9334), hex(0x00D4BB),
	hex(0x2C99A8), hex(0x00C2FF), hex(0x344593), hex(0x6473FF), hex(0x0018EC),
	hex(0x8438FF), hex(0x520085), hex(0xCB38FF), hex(0xFF95C8), hex(0xFF37C7),
}

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// ClassColor returns the box color for a class id.
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// LineWidth returns the automatic box line width for a w x h frame.
func LineWidth(w, h int) int {
	return max(int(math.Round(float64(w+h)/2*0.003)), 2)
}

// FontSize returns the automatic label font size for a w x h frame.
func FontSize(w, h int) float64 {
	return math.Max(math.Round(float64(w+h)/2*0.035), 12)
}

// Label formats the text drawn next to a box.
func Label(name string, score float64, withConf bool) string {
	if withConf {
		return fmt.Sprintf("%s %.2f", name, score)
	}
	return name
}

type faceKey struct {
	path string
	size float64
}

// Renderer draws results. Font faces are loaded once per (file, size) and
// cached. A Renderer is safe for concurrent use; cached faces are not, so
// renders that draw labels hold drawMu while drawing.
type Renderer struct {
	// FontDirs are searched, in order, for font names that are not found
	// as given.
	FontDirs []string

	logger *slog.Logger

	drawMu sync.Mutex

	mu     sync.Mutex
	faces  map[faceKey]font.Face
	warned map[string]bool
}

// NewRenderer creates a renderer that looks up fonts in fontDirs.
func NewRenderer(logger *slog.Logger, fontDirs ...string) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		FontDirs: fontDirs,
		logger:   logger,
		faces:    make(map[faceKey]font.Face),
		warned:   make(map[string]bool),
	}
}

// Render draws res onto a copy of res.Image according to opts.
func (r *Renderer) Render(res *detect.Result, opts detect.PlotOptions) (image.Image, error) {
	if res == nil || res.Image == nil {
		return nil, ErrNoImage
	}

	dc := gg.NewContextForImage(res.Image)
	if !opts.Boxes || len(res.Detections) == 0 {
		return dc.Image(), nil
	}

	w, h := dc.Width(), dc.Height()
	lw := LineWidth(w, h)
	if opts.LineWidth != nil {
		lw = *opts.LineWidth
	}

	var face font.Face
	if opts.Labels {
		size := FontSize(w, h)
		if opts.FontSize != nil {
			size = *opts.FontSize
		}
		face = r.face(opts.Font, size)
		r.drawMu.Lock()
		defer r.drawMu.Unlock()
		dc.SetFontFace(face)
	}

	for _, d := range res.Detections {
		c := ClassColor(d.ClassID)
		x1, y1, x2, y2 := d.Box.Corners()

		dc.SetColor(c)
		dc.SetLineWidth(float64(lw))
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		if face == nil {
			continue
		}
		drawLabel(dc, Label(res.Name(d.ClassID), d.Score, opts.Conf), c, x1, y1, float64(lw))
	}

	return dc.Image(), nil
}

// drawLabel draws text on a filled tag above the box corner, or just inside
// the box when there is no room above.
func drawLabel(dc *gg.Context, text string, bg color.RGBA, x, y, lw float64) {
	tw, th := dc.MeasureString(text)
	pad := math.Max(lw/2, 2)
	tagH := th + 2*pad

	top := y - tagH
	if top < 0 {
		top = y
	}

	dc.SetColor(bg)
	dc.DrawRectangle(x, top, tw+2*pad, tagH)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawString(text, x+pad, top+pad+th)
}

// face returns the font face for name at size, falling back to a built-in
// bitmap face when the font cannot be loaded.
func (r *Renderer) face(name string, size float64) font.Face {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.resolve(name)
	key := faceKey{path: path, size: size}
	if f, ok := r.faces[key]; ok {
		return f
	}

	var f font.Face = basicfont.Face7x13
	if path != "" {
		loaded, err := gg.LoadFontFace(path, size)
		if err == nil {
			f = loaded
		} else if !r.warned[path] {
			r.warned[path] = true
			r.logger.Warn("font load failed, using built-in face", "font", path, "error", err)
		}
	} else if !r.warned[name] {
		r.warned[name] = true
		r.logger.Warn("font not found, using built-in face", "font", name)
	}

	r.faces[key] = f
	return f
}

// resolve finds the font file for name, or returns "".
func (r *Renderer) resolve(name string) string {
	if name == "" {
		return ""
	}
	if fileExists(name) {
		return name
	}
	if filepath.IsAbs(name) {
		return ""
	}
	for _, dir := range r.FontDirs {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
