package plot

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

func grey(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{50, 50, 50, 255}}, image.Point{}, draw.Src)
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func TestAutoSizes(t *testing.T) {
	assert.Equal(t, 2, LineWidth(640, 480))
	assert.Equal(t, 5, LineWidth(1920, 1080))
	assert.Equal(t, 20.0, FontSize(640, 480))
	assert.Equal(t, 12.0, FontSize(200, 200))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "person 0.87", Label("person", 0.8712, true))
	assert.Equal(t, "person", Label("person", 0.8712, false))
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, ClassColor(0), ClassColor(20))
	assert.NotEqual(t, ClassColor(0), ClassColor(1))
	assert.Equal(t, ClassColor(3), ClassColor(-3))
}

func TestRender(t *testing.T) {
	src := grey(200, 100)
	res := &detect.Result{
		Detections: []detect.Detection{{Box: detect.Box{CX: 100, CY: 50, W: 60, H: 40}, ClassID: 0, Score: 0.9}},
		Names:      detect.COCOClasses,
		Image:      src,
	}
	r := NewRenderer(nil)

	t.Run("boxes", func(t *testing.T) {
		out, err := r.Render(res, detect.PlotOptions{Boxes: true, Labels: false})
		require.NoError(t, err)
		assert.Equal(t, src.Bounds(), out.Bounds())

		// Left edge of the box is drawn in the class color.
		assert.Equal(t, ClassColor(0), rgbaAt(out, 70, 50))
		// Center is untouched.
		assert.Equal(t, color.RGBA{50, 50, 50, 255}, rgbaAt(out, 100, 50))
		// Source frame is not modified.
		assert.Equal(t, color.RGBA{50, 50, 50, 255}, src.RGBAAt(70, 50))
	})

	t.Run("no_boxes", func(t *testing.T) {
		out, err := r.Render(res, detect.PlotOptions{Boxes: false, Labels: true})
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{50, 50, 50, 255}, rgbaAt(out, 70, 50))
	})

	t.Run("labels_with_missing_font", func(t *testing.T) {
		lw := 4
		size := 14.0
		out, err := r.Render(res, detect.PlotOptions{
			Boxes:     true,
			Labels:    true,
			Conf:      true,
			Font:      "does-not-exist.ttf",
			LineWidth: &lw,
			FontSize:  &size,
		})
		require.NoError(t, err)
		// The label tag sits on the box's top edge and extends past its right
		// side; below the text baseline it is plain tag color.
		assert.Equal(t, ClassColor(0), rgbaAt(out, 140, 29))
		assert.Equal(t, color.RGBA{50, 50, 50, 255}, rgbaAt(out, 140, 50))
	})
}

func TestRender_Concurrent(t *testing.T) {
	r := NewRenderer(nil)
	opts := detect.PlotOptions{Boxes: true, Labels: true, Conf: true}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := &detect.Result{
				Detections: []detect.Detection{
					{Box: detect.Box{CX: 100, CY: 50, W: 60, H: 40}, ClassID: i, Score: 0.5},
					{Box: detect.Box{CX: 40, CY: 60, W: 30, H: 30}, ClassID: i + 1, Score: 0.7},
				},
				Names: detect.COCOClasses,
				Image: grey(200, 100),
			}
			for j := 0; j < 20; j++ {
				if _, err := r.Render(res, opts); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, r.faces, 1)
}

func TestRender_NoImage(t *testing.T) {
	_, err := NewRenderer(nil).Render(&detect.Result{}, detect.PlotOptions{Boxes: true})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestResolveFont(t *testing.T) {
	r := NewRenderer(nil, t.TempDir())
	assert.Equal(t, "", r.resolve(""))
	assert.Equal(t, "", r.resolve("Arial.ttf"))
}
