package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"epr/config"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeCover(t *testing.T) {
	t.Run("raster", func(t *testing.T) {
		img, err := DecodeCover(pngBytes(t, 20, 30, color.RGBA{200, 10, 10, 255}), "image/png")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 30 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
	})

	t.Run("svg by media type", func(t *testing.T) {
		svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 40 60"><rect width="40" height="60"/></svg>`)
		img, err := DecodeCover(svg, "image/svg+xml")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 60 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
	})

	t.Run("svg mislabeled as png", func(t *testing.T) {
		svg := []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect width="10" height="10"/></svg>`)
		if _, err := DecodeCover(svg, "image/png"); err != nil {
			t.Fatalf("sniffing failed: %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := DecodeCover([]byte("not an image"), "image/png"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestMakeThumbnail(t *testing.T) {
	src, err := DecodeCover(pngBytes(t, 200, 100, color.RGBA{200, 10, 10, 255}), "image/png")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("none", func(t *testing.T) {
		out := MakeThumbnail(src, config.ImageResizeModeNone, 50, 50)
		if out.Bounds().Dx() != 200 || out.Bounds().Dy() != 100 {
			t.Fatalf("unexpected bounds: %v", out.Bounds())
		}
	})

	t.Run("keep aspect ratio", func(t *testing.T) {
		out := MakeThumbnail(src, config.ImageResizeModeKeepAR, 50, 50)
		if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 25 {
			t.Fatalf("unexpected bounds: %v", out.Bounds())
		}
	})

	t.Run("stretch", func(t *testing.T) {
		out := MakeThumbnail(src, config.ImageResizeModeStretch, 50, 50)
		if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 50 {
			t.Fatalf("unexpected bounds: %v", out.Bounds())
		}
	})

	t.Run("zero target disables resize", func(t *testing.T) {
		out := MakeThumbnail(src, config.ImageResizeModeKeepAR, 0, 50)
		if out.Bounds().Dx() != 200 {
			t.Fatalf("unexpected bounds: %v", out.Bounds())
		}
	})
}

func TestEncodeCover(t *testing.T) {
	src, err := DecodeCover(pngBytes(t, 10, 10, color.Gray{128}), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeCover(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("expected SOI marker")
	}
	if !bytes.Equal(data[2:4], []byte{0xFF, 0xE0}) {
		t.Fatal("expected JFIF APP0 segment")
	}
}
