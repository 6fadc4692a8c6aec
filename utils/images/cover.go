package images

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	// cover resources come in whatever format the publisher left them in
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"epr/config"
)

const coverJPEGQuality = 85

// DecodeCover turns a cover resource into a pixel image. SVG covers are
// rasterized, raster formats go through the usual decoders. The media type
// is a hint only - publications mislabel cover resources the same way
// servers mislabel archives.
func DecodeCover(data []byte, mediaType string) (image.Image, error) {
	if strings.Contains(strings.ToLower(mediaType), "svg") || looksLikeSVG(data) {
		img, err := RasterizeSVGToImage(data, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("unable to rasterize SVG cover: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode cover image: %w", err)
	}
	return img, nil
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<svg"))
}

// MakeThumbnail resizes a cover according to the configured mode. Grayscale
// sources stay grayscale so thumbnails do not pick up color noise from
// resampling.
func MakeThumbnail(img image.Image, mode config.ImageResizeMode, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		mode = config.ImageResizeModeNone
	}
	switch mode {
	case config.ImageResizeModeKeepAR:
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	case config.ImageResizeModeStretch:
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	if IsGrayscale(img) {
		img = imaging.Grayscale(img)
	}
	return img
}

// EncodeCover serializes a processed cover as JPEG with a JFIF header.
func EncodeCover(img image.Image) ([]byte, error) {
	return EncodeJPEGWithDPI(img, coverJPEGQuality, DpiPxPerInch, 300, 300)
}
