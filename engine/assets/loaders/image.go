package loaders

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

type ImageLoader struct{}

func (il *ImageLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	flip := false
	if p, ok := params.(*metadata.ImageResourceParams); ok && p != nil {
		flip = p.FlipY
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	data, err := DecodeImage(f, filepath.Ext(path), flip)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %s", path)
	}

	return &metadata.Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (il *ImageLoader) Unload(*metadata.Resource) error {
	return nil
}

// DecodeImage decodes any registered format, or TGA when ext says so, into
// tightly packed RGBA8 rows.
func DecodeImage(r io.Reader, ext string, flipY bool) (*metadata.ImageResourceData, error) {
	var (
		src image.Image
		err error
	)
	if strings.EqualFold(ext, ".tga") {
		src, err = DecodeTGA(r)
	} else {
		src, _, err = image.Decode(r)
	}
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	pixels := rgba.Pix
	if flipY {
		pixels = make([]byte, len(rgba.Pix))
		row := w * 4
		for y := 0; y < h; y++ {
			copy(pixels[y*row:(y+1)*row], rgba.Pix[(h-1-y)*row:(h-y)*row])
		}
	}

	data := &metadata.ImageResourceData{
		Width:  uint32(w),
		Height: uint32(h),
		Pixels: pixels,
	}
	for i := 3; i < len(pixels); i += 4 {
		if pixels[i] < 255 {
			data.HasTransparency = true
			break
		}
	}
	return data, nil
}
