package loaders

import (
	"encoding/binary"
	"image"
	"image/color"
	"io"

	"github.com/cockroachdb/errors"
)

const (
	tgaColorMapped    = 1
	tgaTrueColor      = 2
	tgaGrayscale      = 3
	tgaRLEColorMapped = 9
	tgaRLETrueColor   = 10
	tgaRLEGrayscale   = 11

	tgaHeaderSize = 18
)

type tgaHeader struct {
	IDLength        uint8
	ColorMapType    uint8
	ImageType       uint8
	ColorMapOrigin  uint16
	ColorMapLength  uint16
	ColorMapDepth   uint8
	XOrigin         uint16
	YOrigin         uint16
	Width           uint16
	Height          uint16
	PixelDepth      uint8
	ImageDescriptor uint8
}

// DecodeTGA reads uncompressed and RLE true color, grayscale and color
// mapped Truevision images.
func DecodeTGA(r io.Reader) (image.Image, error) {
	var h tgaHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrap(err, "tga header")
	}
	if _, err := io.CopyN(io.Discard, r, int64(h.IDLength)); err != nil {
		return nil, errors.Wrap(err, "tga id")
	}

	var palette []color.NRGBA
	if h.ColorMapType == 1 {
		entry := int(h.ColorMapDepth+7) / 8
		raw := make([]byte, int(h.ColorMapLength)*entry)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, errors.Wrap(err, "tga color map")
		}
		palette = make([]color.NRGBA, h.ColorMapLength)
		for i := range palette {
			palette[i] = tgaPixel(raw[i*entry:(i+1)*entry], nil)
		}
	}

	rle := false
	switch h.ImageType {
	case tgaRLETrueColor, tgaRLEGrayscale, tgaRLEColorMapped:
		rle = true
	case tgaTrueColor, tgaGrayscale, tgaColorMapped:
	default:
		return nil, errors.Newf("unsupported tga image type %d", h.ImageType)
	}
	mapped := h.ImageType == tgaColorMapped || h.ImageType == tgaRLEColorMapped
	if mapped && palette == nil {
		return nil, errors.New("color mapped tga without a color map")
	}

	bpp := int(h.PixelDepth+7) / 8
	switch bpp {
	case 1, 2, 3, 4:
	default:
		return nil, errors.Newf("unsupported tga pixel depth %d", h.PixelDepth)
	}

	w, ht := int(h.Width), int(h.Height)
	raw := make([]byte, w*ht*bpp)
	if rle {
		if err := tgaUnpackRLE(r, raw, bpp); err != nil {
			return nil, err
		}
	} else if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "tga pixels")
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, ht))
	topDown := h.ImageDescriptor&0x20 != 0
	rightToLeft := h.ImageDescriptor&0x10 != 0
	for y := 0; y < ht; y++ {
		dy := y
		if !topDown {
			dy = ht - 1 - y
		}
		for x := 0; x < w; x++ {
			dx := x
			if rightToLeft {
				dx = w - 1 - x
			}
			i := (y*w + x) * bpp
			var c color.NRGBA
			if mapped {
				idx := int(raw[i])
				if bpp == 2 {
					idx = int(binary.LittleEndian.Uint16(raw[i:]))
				}
				idx -= int(h.ColorMapOrigin)
				if idx < 0 || idx >= len(palette) {
					return nil, errors.Newf("tga color index %d out of range", idx)
				}
				c = palette[idx]
			} else {
				c = tgaPixel(raw[i:i+bpp], &h)
			}
			img.SetNRGBA(dx, dy, c)
		}
	}
	return img, nil
}

func tgaUnpackRLE(r io.Reader, dst []byte, bpp int) error {
	var packet [1]byte
	pixel := make([]byte, bpp)
	for n := 0; n < len(dst); {
		if _, err := io.ReadFull(r, packet[:]); err != nil {
			return errors.Wrap(err, "tga rle packet")
		}
		count := int(packet[0]&0x7f) + 1
		if n+count*bpp > len(dst) {
			return errors.New("tga rle packet overruns the image")
		}
		if packet[0]&0x80 != 0 {
			if _, err := io.ReadFull(r, pixel); err != nil {
				return errors.Wrap(err, "tga rle pixel")
			}
			for i := 0; i < count; i++ {
				n += copy(dst[n:], pixel)
			}
			continue
		}
		if _, err := io.ReadFull(r, dst[n:n+count*bpp]); err != nil {
			return errors.Wrap(err, "tga raw packet")
		}
		n += count * bpp
	}
	return nil
}

// tgaPixel converts one stored BGR(A), 16 bit or gray pixel.
func tgaPixel(p []byte, h *tgaHeader) color.NRGBA {
	switch len(p) {
	case 1:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: 255}
	case 2:
		if h != nil && h.ImageType%8 == tgaGrayscale {
			return color.NRGBA{R: p[0], G: p[0], B: p[0], A: p[1]}
		}
		v := binary.LittleEndian.Uint16(p)
		expand := func(c uint16) uint8 { return uint8(c<<3 | c>>2) }
		return color.NRGBA{
			R: expand(v >> 10 & 0x1f),
			G: expand(v >> 5 & 0x1f),
			B: expand(v & 0x1f),
			A: 255,
		}
	case 3:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 255}
	default:
		a := p[3]
		if h != nil && h.ImageDescriptor&0x0f == 0 {
			a = 255
		}
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: a}
	}
}
