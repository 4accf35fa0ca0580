package images

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"
)

func testBMP(t *testing.T, gray bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			v := uint8(x * 8)
			if gray {
				img.Set(x, y, color.NRGBA{v, v, v, 255})
			} else {
				img.Set(x, y, color.NRGBA{v, uint8(y * 10), 0, 255})
			}
		}
	}
	buf := new(bytes.Buffer)
	if err := bmp.Encode(buf, img); err != nil {
		t.Fatalf("bmp encode: %v", err)
	}
	return buf.Bytes()
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		gray    bool
		opts    Options
		ext     string
		mime    string
		changed bool
		w, h    int
		isGray  bool
	}{
		{name: "as is", opts: Options{Format: "bmp"}, ext: "bmp", mime: "image/bmp", w: 32, h: 24},
		{name: "png", opts: Options{Format: "png"}, ext: "png", mime: "image/png", changed: true, w: 32, h: 24},
		{name: "jpeg", opts: Options{Format: "jpeg", JPEGQuality: 80}, ext: "jpg", mime: "image/jpeg", changed: true, w: 32, h: 24},
		{name: "scaled bmp", opts: Options{Format: "bmp", ScaleFactor: 0.5}, ext: "bmp", mime: "image/bmp", changed: true, w: 16, h: 12},
		{name: "unit scale", opts: Options{Format: "bmp", ScaleFactor: 1}, ext: "bmp", mime: "image/bmp", w: 32, h: 24},
		{name: "gray png", gray: true, opts: Options{Format: "png", Grayscale: true}, ext: "png", mime: "image/png", changed: true, w: 32, h: 24, isGray: true},
		{name: "color stays color", opts: Options{Format: "png", Grayscale: true}, ext: "png", mime: "image/png", changed: true, w: 32, h: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testBMP(t, tt.gray)
			got, err := Convert(src, tt.opts, zap.NewNop())
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if got.Ext != tt.ext || got.MIMEType != tt.mime {
				t.Errorf("type = %s %s, want %s %s", got.Ext, got.MIMEType, tt.ext, tt.mime)
			}
			if got.Changed != tt.changed {
				t.Errorf("Changed = %t, want %t", got.Changed, tt.changed)
			}
			if !tt.changed && !bytes.Equal(got.Data, src) {
				t.Error("unchanged image should be returned as is")
			}
			if got.Width != tt.w || got.Height != tt.h {
				t.Errorf("size = %dx%d, want %dx%d", got.Width, got.Height, tt.w, tt.h)
			}

			img, _, err := image.Decode(bytes.NewReader(got.Data))
			if err != nil {
				t.Fatalf("result cannot be decoded: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Errorf("decoded size = %dx%d", b.Dx(), b.Dy())
			}
			if _, ok := img.(*image.Gray); ok != tt.isGray {
				t.Errorf("decoded %T, gray expected %t", img, tt.isGray)
			}
		})
	}
}

func TestConvertErrors(t *testing.T) {
	if _, err := Convert(testBMP(t, false), Options{Format: "gif"}, zap.NewNop()); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := Convert([]byte("definitely not an image"), Options{Format: "png"}, zap.NewNop()); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := Convert([]byte("definitely not an image"), Options{Format: "bmp"}, zap.NewNop()); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestIsGrayscale(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White, color.Gray{0x80}})
	if !IsGrayscale(pal) {
		t.Error("gray palette should be grayscale")
	}
	pal.Palette = append(pal.Palette, color.RGBA{255, 0, 0, 255})
	if IsGrayscale(pal) {
		t.Error("palette with red is not grayscale")
	}
	if !IsGrayscale(image.NewGray(image.Rect(0, 0, 1, 1))) {
		t.Error("*image.Gray is grayscale")
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{10, 10, 10, 255})
	if !IsGrayscale(rgba) {
		t.Error("equal channels are grayscale")
	}
	rgba.Set(1, 0, color.RGBA{10, 20, 10, 255})
	if IsGrayscale(rgba) {
		t.Error("unequal channels are not grayscale")
	}
}
