// Package packtest writes synthetic story packs for tests of packages built
// on top of pack.
package packtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"sdst/codec"
	"sdst/pack"
	"sdst/xxtea"
)

// Ref is a raw transition.
type Ref struct {
	Offset, Count, Selected int32
}

// None marks absent transition, asset indices use -1 the same way.
var None = Ref{-1, -1, -1}

// To points to option selected out of count options at list offset.
func To(offset, count, selected int32) Ref {
	return Ref{offset, count, selected}
}

// Stage is a raw stage node record.
type Stage struct {
	Image, Sound int32
	Ok, Home     Ref
	Controls     pack.ControlSettings
}

// Pack describes pack to be written.
type Pack struct {
	Version   int16
	Cleartext bool
	NightMode bool
	Images    []string
	Sounds    []string
	List      []int32
	Stages    []Stage
}

// AssetName returns index table entry like the ones appliance tools produce.
func AssetName(prefix string, i int) string {
	return fmt.Sprintf(`000\%s%07X`, prefix, i)
}

// ImageData returns small BMP unique for the given asset path.
func ImageData(path string) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	seed := uint8(len(path))
	for _, c := range []byte(path) {
		seed += c
	}
	for y := range 12 {
		for x := range 16 {
			img.Set(x, y, color.NRGBA{seed, uint8(x * 16), uint8(y * 16), 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := bmp.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SoundData returns audio asset content recognizable as MP3 (ID3 tagged),
// longer than protected header.
func SoundData(path string) []byte {
	return []byte("ID3" + strings.Repeat(path+";", 100))
}

// Simple is a two stage pack: menu offering single option.
func Simple() *Pack {
	return &Pack{
		Version: 1,
		Images:  []string{AssetName("I", 0)},
		Sounds:  []string{AssetName("S", 0), AssetName("S", 1)},
		List:    []int32{1, 0},
		Stages: []Stage{
			{Image: -1, Sound: 0, Ok: To(0, 1, 0), Home: None, Controls: pack.ControlSettings{Wheel: true, Ok: true}},
			{Image: 0, Sound: 1, Ok: None, Home: To(1, 1, 0), Controls: pack.ControlSettings{Home: true}},
		},
	}
}

func (p *Pack) encode(data []byte) []byte {
	if p.Cleartext {
		return data
	}
	return codec.New(xxtea.CommonKey).Encode(data)
}

func (p *Pack) nodeIndex() []byte {
	h := pack.Header{
		FormatVersion:   1,
		Version:         p.Version,
		NodeListOffset:  pack.HeaderSize,
		NodeSize:        pack.RecordSize,
		StageNodeCount:  int32(len(p.Stages)),
		ImageAssetCount: int32(len(p.Images)),
		SoundAssetCount: int32(len(p.Sounds)),
	}
	out := make([]byte, pack.HeaderSize, pack.HeaderSize+pack.RecordSize*len(p.Stages))
	h.EncodeTo(out)

	le := binary.LittleEndian
	flag := func(b []byte, v bool) []byte {
		if v {
			return le.AppendUint16(b, 1)
		}
		return le.AppendUint16(b, 0)
	}
	for _, s := range p.Stages {
		for _, v := range []int32{s.Image, s.Sound, s.Ok.Offset, s.Ok.Count, s.Ok.Selected, s.Home.Offset, s.Home.Count, s.Home.Selected} {
			out = le.AppendUint32(out, uint32(v))
		}
		c := s.Controls
		for _, v := range []bool{c.Wheel, c.Ok, c.Home, c.Pause, c.Autoplay} {
			out = flag(out, v)
		}
		out = append(out, 0, 0)
	}
	return out
}

func assetPath(sub, name string) string {
	return filepath.Join(append([]string{sub}, strings.Split(name, `\`)...)...)
}

// Write creates pack folder name under dir and returns its path.
func (p *Pack) Write(t testing.TB, dir, name string) string {
	t.Helper()
	folder := filepath.Join(dir, name)

	files := map[string][]byte{pack.NodeIndexName: p.nodeIndex()}
	var ri, si, li []byte
	for _, n := range p.Images {
		ri = append(ri, n...)
		files[assetPath(pack.ImageFolder, n)] = p.encode(ImageData(n))
	}
	for _, n := range p.Sounds {
		si = append(si, n...)
		files[assetPath(pack.SoundFolder, n)] = p.encode(SoundData(n))
	}
	for _, v := range p.List {
		li = binary.LittleEndian.AppendUint32(li, uint32(v))
	}
	files[pack.ImageIndexName] = p.encode(ri)
	files[pack.SoundIndexName] = p.encode(si)
	files[pack.ListIndexName] = p.encode(li)
	if p.Cleartext {
		files[pack.CleartextName] = nil
	}
	if p.NightMode {
		files[pack.NightModeName] = nil
	}

	for n, data := range files {
		path := filepath.Join(folder, n)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return folder
}
