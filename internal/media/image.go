package media

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// LoadImage decodes a PNG or JPEG file into an RGBA image.
func LoadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeImage(f)
}

// DecodeImage decodes any registered image format into RGBA.
func DecodeImage(r io.Reader) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst, nil
}

// SavePNG writes img to path, creating parent directories.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ImageToFrame converts an image to a 3-channel frame scaled to [-1, 1].
func ImageToFrame(img *image.RGBA) Clip {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	clip := NewClip(w, h, 3, 1)
	plane := w * h
	frame := clip.Frames[0]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			frame[i] = float32(c.R)/127.5 - 1
			frame[plane+i] = float32(c.G)/127.5 - 1
			frame[2*plane+i] = float32(c.B)/127.5 - 1
		}
	}
	return clip
}

// ToByte maps a [-1, 1] sample to 0..255 with clipping.
func ToByte(v float32) uint8 {
	s := (v + 1) * 127.5
	switch {
	case s <= 0:
		return 0
	case s >= 255:
		return 255
	default:
		return uint8(s + 0.5)
	}
}

// RGB24 packs frame i of a 3-channel pixel clip as interleaved RGB bytes.
func (c Clip) RGB24(i int) ([]byte, error) {
	if c.Channels != 3 {
		return nil, fmt.Errorf("%w: rgb24 needs 3 channels, got %d", ErrShapeMismatch, c.Channels)
	}
	plane := c.Width * c.Height
	frame := c.Frames[i]
	out := make([]byte, plane*3)
	for p := 0; p < plane; p++ {
		out[3*p] = ToByte(frame[p])
		out[3*p+1] = ToByte(frame[plane+p])
		out[3*p+2] = ToByte(frame[2*plane+p])
	}
	return out, nil
}

// FrameImage renders frame i of a 3-channel pixel clip as an image.
func (c Clip) FrameImage(i int) (*image.RGBA, error) {
	raw, err := c.RGB24(i)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	for p := 0; p < c.Width*c.Height; p++ {
		img.SetRGBA(p%c.Width, p/c.Width, color.RGBA{R: raw[3*p], G: raw[3*p+1], B: raw[3*p+2], A: 255})
	}
	return img, nil
}
