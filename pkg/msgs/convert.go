package msgs

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// BytesPerPixel returns the pixel size for a supported encoding.
func BytesPerPixel(encoding string) (int, error) {
	switch encoding {
	case EncodingRGB8, EncodingBGR8:
		return 3, nil
	case EncodingRGBA8, EncodingBGRA8:
		return 4, nil
	case EncodingMono8:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
}

// ToImage converts the pixel buffer to an image.Image. The result does not
// alias m.Data.
func (m *Image) ToImage() (image.Image, error) {
	bpp, err := BytesPerPixel(m.Encoding)
	if err != nil {
		return nil, err
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("msgs: empty image %dx%d", m.Width, m.Height)
	}
	if m.Step < m.Width*bpp {
		return nil, fmt.Errorf("msgs: step %d too small for width %d (%s)", m.Step, m.Width, m.Encoding)
	}
	if len(m.Data) < m.Step*m.Height {
		return nil, fmt.Errorf("msgs: data length %d short of step*height %d", len(m.Data), m.Step*m.Height)
	}

	rect := image.Rect(0, 0, m.Width, m.Height)

	if m.Encoding == EncodingMono8 {
		gray := image.NewGray(rect)
		for y := 0; y < m.Height; y++ {
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+m.Width], m.Data[y*m.Step:])
		}
		return gray, nil
	}

	out := image.NewRGBA(rect)
	for y := 0; y < m.Height; y++ {
		src := m.Data[y*m.Step:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < m.Width; x++ {
			s := src[x*bpp:]
			d := dst[x*4 : x*4+4]
			switch m.Encoding {
			case EncodingRGB8:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
			case EncodingBGR8:
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
			case EncodingRGBA8:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			case EncodingBGRA8:
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
			}
		}
	}
	return out, nil
}

// FromImage builds an Image message from img using the given encoding.
// Alpha is dropped for 3-channel encodings; mono8 uses the standard luma
// conversion.
func FromImage(img image.Image, encoding string, header Header) (*Image, error) {
	bpp, err := BytesPerPixel(encoding)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	msg := &Image{
		Header:   header,
		Height:   h,
		Width:    w,
		Encoding: encoding,
		Step:     w * bpp,
		Data:     make([]byte, w*bpp*h),
	}

	if encoding == EncodingMono8 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				msg.Data[y*msg.Step+x] = g.Y
			}
		}
		return msg, nil
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := msg.Data[y*msg.Step:]
		for x := 0; x < w; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*bpp:]
			switch encoding {
			case EncodingRGB8:
				d[0], d[1], d[2] = s[0], s[1], s[2]
			case EncodingBGR8:
				d[0], d[1], d[2] = s[2], s[1], s[0]
			case EncodingRGBA8:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			case EncodingBGRA8:
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
			}
		}
	}
	return msg, nil
}
