// Package images converts image assets of story packs.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
)

// Options describes requested output. Zero ScaleFactor or 1.0 keeps size.
type Options struct {
	Format      string // bmp, png or jpeg
	ScaleFactor float64
	JPEGQuality int
	Grayscale   bool
}

// Converted is image ready to be stored.
type Converted struct {
	Data     []byte
	Ext      string // without leading dot
	MIMEType string
	Changed  bool
	Width    int
	Height   int
}

var errUnknownFormat = errors.New("unknown image format")

// sniff detects stored image type by content.
func sniff(data []byte) (ext, mime string) {
	kind, err := filetype.Image(data)
	if err != nil || kind == filetype.Unknown {
		return "", ""
	}
	return kind.Extension, kind.MIME.Value
}

func formatExt(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "png", "bmp":
		return format
	}
	return ""
}

// Convert re-encodes image asset when options require it, otherwise data is
// returned as is with type detected from content.
func Convert(data []byte, opts Options, log *zap.Logger) (*Converted, error) {
	target := formatExt(opts.Format)
	if len(target) == 0 {
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, opts.Format)
	}

	srcExt, srcMIME := sniff(data)
	resize := opts.ScaleFactor > 0 && opts.ScaleFactor != 1
	if srcExt == target && !resize && !opts.Grayscale {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("unable to decode image: %w", err)
		}
		return &Converted{Data: data, Ext: srcExt, MIMEType: srcMIME, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, srcType, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode image: %w", err)
	}
	log.Debug("Converting image", zap.String("from", srcType), zap.String("to", opts.Format),
		zap.Float64("scale", opts.ScaleFactor), zap.Bool("grayscale", opts.Grayscale))

	if resize {
		h := max(1, int(float64(img.Bounds().Dy())*opts.ScaleFactor))
		img = imaging.Resize(img, 0, h, imaging.Lanczos)
	}
	if opts.Grayscale && IsGrayscale(img) {
		img = toGray(img)
	}

	buf := new(bytes.Buffer)
	switch opts.Format {
	case "png":
		err = imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case "jpeg":
		var out []byte
		if out, err = EncodeJPEGWithDPI(img, opts.JPEGQuality, DpiPxPerInch, 300, 300); err == nil {
			buf.Write(out)
		}
	case "bmp":
		err = bmp.Encode(buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s image: %w", opts.Format, err)
	}

	ext, mime := sniff(buf.Bytes())
	return &Converted{
		Data:     buf.Bytes(),
		Ext:      ext,
		MIMEType: mime,
		Changed:  true,
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
	}, nil
}
