package images

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
)

type DpiType uint8

const (
	DpiNoUnits DpiType = iota
	DpiPxPerInch
	DpiPxPerSm
)

var (
	app0Marker = []byte{0xFF, 0xE0}
	jfifID     = []byte{'J', 'F', 'I', 'F', 0x00, 0x01, 0x02} // identifier + version
)

// EnsureJFIFAPP0 inserts JFIF APP0 segment with requested density right after
// SOI unless image already starts with APP0. Standard encoder never writes
// it and some players refuse such files.
func EnsureJFIFAPP0(data []byte, dpit DpiType, xdensity, ydensity int16) ([]byte, bool, error) {
	if len(data) < 4 {
		return nil, false, errors.New("jpeg too small")
	}
	if data[0] != 0xFF || data[1] != 0xD8 {
		return nil, false, errors.New("not a jpeg")
	}
	if bytes.Equal(data[2:4], app0Marker) {
		return data, false, nil
	}

	out := make([]byte, 0, len(data)+18)
	out = append(out, data[:2]...)
	out = append(out, app0Marker...)
	out = binary.BigEndian.AppendUint16(out, 0x10)
	out = append(out, jfifID...)
	out = append(out, byte(dpit))
	out = binary.BigEndian.AppendUint16(out, uint16(xdensity))
	out = binary.BigEndian.AppendUint16(out, uint16(ydensity))
	out = append(out, 0, 0) // no thumbnail
	out = append(out, data[2:]...)
	return out, true, nil
}

func EncodeJPEGWithDPI(img image.Image, quality int, dpit DpiType, xdensity, ydensity int16) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	out, _, err := EnsureJFIFAPP0(buf.Bytes(), dpit, xdensity, ydensity)
	return out, err
}
