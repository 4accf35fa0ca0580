package pack

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sdst/codec"
	"sdst/xxtea"
)

var noTransition = transitionRef{Offset: absent, Count: absent, Selected: absent}

func to(offset, count, selected int32) transitionRef {
	return transitionRef{Offset: offset, Count: count, Selected: selected}
}

type testStage struct {
	image, sound int32
	ok, home     transitionRef
	controls     ControlSettings
}

// testPack describes synthetic pack to be written to disk.
type testPack struct {
	version         int16
	factoryDisabled bool
	cleartext       bool
	noMarker        bool
	nightMode       bool
	images          []string
	sounds          []string
	list            []int32
	stages          []testStage
	// overrides for broken packs
	imageCount, soundCount int32
	skip                   map[string]bool
}

func assetName(prefix string, i int) string {
	return fmt.Sprintf(`000\%s%07X`, prefix, i)
}

func assetContent(path string) []byte {
	// long enough to have both protected header and verbatim tail
	return []byte(strings.Repeat("content of "+path+"; ", 60))
}

func (tp *testPack) encode(data []byte) []byte {
	if tp.cleartext {
		return data
	}
	return codec.New(xxtea.CommonKey).Encode(data)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (tp *testPack) nodeIndex() []byte {
	h := Header{
		FormatVersion:   1,
		Version:         tp.version,
		NodeListOffset:  HeaderSize,
		NodeSize:        RecordSize,
		StageNodeCount:  int32(len(tp.stages)),
		ImageAssetCount: int32(len(tp.images)),
		SoundAssetCount: int32(len(tp.sounds)),
		FactoryDisabled: tp.factoryDisabled,
	}
	if tp.imageCount != 0 {
		h.ImageAssetCount = tp.imageCount
	}
	if tp.soundCount != 0 {
		h.SoundAssetCount = tp.soundCount
	}

	data := make([]byte, HeaderSize+RecordSize*len(tp.stages))
	h.EncodeTo(data)
	for i, s := range tp.stages {
		rec := nodeRecord{
			ImageIndex: s.image,
			SoundIndex: s.sound,
			Ok:         s.ok,
			Home:       s.home,
			Controls:   s.controls,
		}
		rec.EncodeTo(data[HeaderSize+i*RecordSize:])
	}
	return data
}

// write creates pack folder named name under dir and returns its path.
func (tp *testPack) write(t *testing.T, dir, name string) string {
	t.Helper()
	folder := filepath.Join(dir, name)

	files := map[string][]byte{NodeIndexName: tp.nodeIndex()}

	ri := []byte{}
	for _, p := range tp.images {
		ri = append(ri, []byte(p)...)
		files[filepath.Join(ImageFolder, filepath.FromSlash(strings.ReplaceAll(p, `\`, "/")))] = tp.encode(assetContent(p))
	}
	files[ImageIndexName] = tp.encode(ri)

	si := []byte{}
	for _, p := range tp.sounds {
		si = append(si, []byte(p)...)
		files[filepath.Join(SoundFolder, filepath.FromSlash(strings.ReplaceAll(p, `\`, "/")))] = tp.encode(assetContent(p))
	}
	files[SoundIndexName] = tp.encode(si)

	li := make([]byte, 0, len(tp.list)*4)
	for _, idx := range tp.list {
		li = binary.LittleEndian.AppendUint32(li, uint32(idx))
	}
	files[ListIndexName] = tp.encode(li)

	if tp.cleartext && !tp.noMarker {
		files[CleartextName] = nil
	}
	if tp.nightMode {
		files[NightModeName] = nil
	}

	for name, data := range files {
		if tp.skip[name] {
			continue
		}
		writeFile(t, filepath.Join(folder, name), data)
	}
	return folder
}

// simplePack has single stage with image and audio and no transitions.
func simplePack() *testPack {
	return &testPack{
		version: 1,
		images:  []string{assetName("I", 0)},
		sounds:  []string{assetName("S", 0)},
		stages: []testStage{
			{image: 0, sound: 0, ok: noTransition, home: noTransition},
		},
	}
}
