package pack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"sdst/stream"
)

const testUUID = "c4139d59-872a-4d15-8cf1-76d34cdf38c6"

func TestReadSimplePack(t *testing.T) {
	folder := simplePack().write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if p.UUID != testUUID {
		t.Errorf("UUID = %q, want %q", p.UUID, testUUID)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d, want 1", p.Version)
	}
	if p.FactoryDisabled {
		t.Error("FactoryDisabled should be false")
	}
	if p.Cleartext {
		t.Error("Cleartext should be false")
	}
	if len(p.StageNodes) != 1 {
		t.Fatalf("got %d stage nodes, want 1", len(p.StageNodes))
	}

	s := p.StageNodes[0]
	if s.UUID != testUUID {
		t.Errorf("stage UUID = %q, want pack UUID", s.UUID)
	}
	if s.OkTransition != nil || s.HomeTransition != nil {
		t.Error("expected no transitions")
	}
	if s.Image == nil {
		t.Fatal("image asset is missing")
	}
	if s.Image.MIMEType != DefaultImageMIME {
		t.Errorf("image MIME = %q", s.Image.MIMEType)
	}
	if want := assetContent(assetName("I", 0)); !bytes.Equal(s.Image.Data, want) {
		t.Error("image data was not decrypted")
	}
	if s.Audio == nil {
		t.Fatal("audio asset is missing")
	}
	if s.Audio.MIMEType != DefaultAudioMIME {
		t.Errorf("audio MIME = %q", s.Audio.MIMEType)
	}
	if want := filepath.Join(folder, SoundFolder, "000", "S0000000"); s.Audio.Path != want {
		t.Errorf("audio path = %q, want %q", s.Audio.Path, want)
	}
}

func TestAudioAssetOpen(t *testing.T) {
	folder := simplePack().write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	rs := stream.NewReadSeeker(p.StageNodes[0].Audio.Open())
	defer rs.Close()

	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if want := assetContent(assetName("S", 0)); !bytes.Equal(got, want) {
		t.Error("audio stream was not decrypted")
	}
}

func TestReadControlsAndFlags(t *testing.T) {
	tp := simplePack()
	tp.version = 7
	tp.factoryDisabled = true
	tp.nightMode = true
	tp.stages[0].controls = ControlSettings{Wheel: true, Pause: true, Autoplay: true}
	folder := tp.write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if p.Version != 7 || !p.FactoryDisabled || !p.NightModeAvailable {
		t.Errorf("unexpected pack flags: %+v", p)
	}
	want := ControlSettings{Wheel: true, Pause: true, Autoplay: true}
	if p.StageNodes[0].Controls != want {
		t.Errorf("Controls = %s, want %s", p.StageNodes[0].Controls, want)
	}
}

// menuPack: stage 0 is a menu with two options (1, 2), both options lead to
// the same story (3) via shared list offset, story returns home to menu.
func menuPack() *testPack {
	return &testPack{
		version: 1,
		images:  []string{assetName("I", 0), assetName("I", 1)},
		sounds:  []string{assetName("S", 0), assetName("S", 1), assetName("S", 2)},
		list: []int32{
			1, 2, // offset 0: menu options
			3, // offset 2: story
			0, // offset 3: back to menu
		},
		stages: []testStage{
			{image: absent, sound: 0, ok: to(0, 2, 0), home: noTransition},
			{image: 0, sound: 1, ok: to(2, 1, 0), home: to(3, 1, 0)},
			{image: 1, sound: 1, ok: to(2, 1, 0), home: to(3, 1, 0)},
			{image: absent, sound: 2, ok: to(3, 1, 0), home: to(3, 1, 0), controls: ControlSettings{Pause: true}},
		},
	}
}

func TestSharedActionNodes(t *testing.T) {
	folder := menuPack().write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	s := p.StageNodes

	if s[1].OkTransition.ActionNode() != s[2].OkTransition.ActionNode() {
		t.Error("transitions to the same offset must share action node")
	}
	if s[1].HomeTransition.ActionNode() != s[3].OkTransition.ActionNode() ||
		s[3].OkTransition.ActionNode() != s[3].HomeTransition.ActionNode() {
		t.Error("home transitions must share action node")
	}
	if s[0].OkTransition.ActionNode() == s[1].OkTransition.ActionNode() {
		t.Error("different offsets must produce different action nodes")
	}

	menu := s[0].OkTransition.ActionNode()
	if len(menu.Options) != 2 || menu.Options[0] != s[1] || menu.Options[1] != s[2] {
		t.Errorf("menu options = %s", menu)
	}
	if got := s[1].OkTransition.Target(); got != s[3] {
		t.Errorf("option 1 target = %v, want story", got)
	}
	if got := s[3].HomeTransition.Target(); got != s[0] {
		t.Errorf("story home target = %v, want menu", got)
	}
	if len(p.ActionNodes()) != 3 {
		t.Errorf("got %d distinct action nodes, want 3", len(p.ActionNodes()))
	}
}

func TestFirstRegistrationDefinesCount(t *testing.T) {
	tp := &testPack{
		version: 1,
		list:    []int32{1, 0},
		stages: []testStage{
			{image: absent, sound: absent, ok: to(0, 1, 0), home: noTransition},
			{image: absent, sound: absent, ok: to(0, 2, 1), home: noTransition},
		},
	}
	p, err := Read(tp.write(t, t.TempDir(), testUUID))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	a := p.StageNodes[1].OkTransition.ActionNode()
	if a != p.StageNodes[0].OkTransition.ActionNode() {
		t.Fatal("expected shared action node")
	}
	if len(a.Options) != 1 {
		t.Errorf("got %d options, want 1 from first registration", len(a.Options))
	}
	if p.StageNodes[1].OkTransition.Target() != nil {
		t.Error("selected option out of range must have no target")
	}
}

func TestCyclicGraph(t *testing.T) {
	tp := &testPack{version: 1}
	// chain 0 -> 1 -> ... -> 5 -> 0, every home leads to stage 0 via offset 5
	for i := range 6 {
		tp.list = append(tp.list, int32((i+1)%6))
		tp.stages = append(tp.stages, testStage{image: absent, sound: absent, ok: to(int32(i), 1, 0), home: to(5, 1, 0)})
	}
	folder := tp.write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	s := p.StageNodes
	if s[5].OkTransition.Target() != s[0] {
		t.Error("expected back reference from stage 5 to stage 0")
	}
	if s[4].OkTransition.Target() != s[5] {
		t.Error("expected forward reference from stage 4 to stage 5")
	}
	if s[0].HomeTransition.ActionNode() != s[5].OkTransition.ActionNode() {
		t.Error("expected shared action node for offset 5")
	}

	visited := 0
	if err := p.Walk(func(Node) error { visited++; return nil }); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if visited != 12 {
		t.Errorf("Walk() visited %d nodes, want 12", visited)
	}
	if u := p.Unreachable(); len(u) != 0 {
		t.Errorf("unexpected unreachable nodes %v", u)
	}
	// printing must not recurse through the cycle
	_ = s[0].String()
}

func TestStageIdentities(t *testing.T) {
	tp := menuPack()

	t.Run("default", func(t *testing.T) {
		p, err := Read(tp.write(t, t.TempDir(), testUUID))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		seen := map[string]bool{}
		for i, s := range p.StageNodes {
			if seen[s.UUID] {
				t.Errorf("stage %d: duplicate identity %s", i, s.UUID)
			}
			seen[s.UUID] = true
		}
		if p.StageNodes[0].UUID != testUUID {
			t.Error("first stage must reuse pack UUID")
		}
	})

	t.Run("generator", func(t *testing.T) {
		n := 0
		r := NewReader(WithIdentity(func() string { n++; return fmt.Sprintf("id-%d", n) }))
		p, err := r.Read(tp.write(t, t.TempDir(), testUUID))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if p.StageNodes[1].UUID != "id-1" || p.StageNodes[3].UUID != "id-3" {
			t.Errorf("unexpected identities %s, %s", p.StageNodes[1].UUID, p.StageNodes[3].UUID)
		}
	})
}

func TestSharedImages(t *testing.T) {
	tp := menuPack()
	tp.stages[2].image = 0
	p, err := Read(tp.write(t, t.TempDir(), testUUID))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if p.StageNodes[1].Image != p.StageNodes[2].Image {
		t.Error("image referenced twice should be loaded once")
	}
	if p.StageNodes[0].Image != nil {
		t.Error("menu stage should have no image")
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func() *testPack
		after func(t *testing.T, folder string)
		want  error
	}{
		{
			name:  "missing node index",
			setup: func() *testPack { tp := simplePack(); tp.skip = map[string]bool{NodeIndexName: true}; return tp },
			want:  ErrMissingResource,
		},
		{
			name:  "missing list index",
			setup: func() *testPack { tp := simplePack(); tp.skip = map[string]bool{ListIndexName: true}; return tp },
			want:  ErrMissingResource,
		},
		{
			name: "missing image file",
			setup: func() *testPack {
				tp := simplePack()
				tp.skip = map[string]bool{filepath.Join(ImageFolder, "000", "I0000000"): true}
				return tp
			},
			want: ErrMissingResource,
		},
		{
			name:  "short header",
			setup: simplePack,
			after: func(t *testing.T, folder string) { writeFile(t, filepath.Join(folder, NodeIndexName), make([]byte, 100)) },
			want:  ErrTruncatedData,
		},
		{
			name:  "short records",
			setup: simplePack,
			after: func(t *testing.T, folder string) {
				data, err := os.ReadFile(filepath.Join(folder, NodeIndexName))
				if err != nil {
					t.Fatal(err)
				}
				writeFile(t, filepath.Join(folder, NodeIndexName), data[:HeaderSize+20])
			},
			want: ErrTruncatedData,
		},
		{
			name: "short list index",
			setup: func() *testPack {
				tp := simplePack()
				tp.list = []int32{0}
				tp.stages[0].ok = to(0, 3, 0)
				return tp
			},
			want: ErrTruncatedData,
		},
		{
			name: "short image index",
			setup: func() *testPack {
				tp := simplePack()
				tp.imageCount = 2
				tp.stages[0].image = 1
				return tp
			},
			want: ErrTruncatedData,
		},
		{
			name: "stage index out of range",
			setup: func() *testPack {
				tp := simplePack()
				tp.list = []int32{1}
				tp.stages[0].ok = to(0, 1, 0)
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "negative stage index",
			setup: func() *testPack {
				tp := simplePack()
				tp.list = []int32{-5}
				tp.stages[0].ok = to(0, 1, 0)
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "image index out of range",
			setup: func() *testPack {
				tp := simplePack()
				tp.stages[0].image = 1
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "sound index out of range",
			setup: func() *testPack {
				tp := simplePack()
				tp.stages[0].sound = 3
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "image path outside of pack",
			setup: func() *testPack {
				tp := simplePack()
				tp.images = []string{`..\..\secret`}
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "sound path outside of pack",
			setup: func() *testPack {
				tp := simplePack()
				tp.sounds = []string{`sf\..\..\xyz`}
				return tp
			},
			want: ErrInvalidReference,
		},
		{
			name: "negative option count",
			setup: func() *testPack {
				tp := simplePack()
				tp.list = []int32{0}
				tp.stages[0].home = to(0, -2, 0)
				return tp
			},
			want: ErrInvalidReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folder := tt.setup().write(t, t.TempDir(), testUUID)
			if tt.after != nil {
				tt.after(t, folder)
			}
			p, err := Read(folder)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Read() error = %v, want %v", err, tt.want)
			}
			if p != nil {
				t.Error("no pack expected on error")
			}
		})
	}
}

func TestReadMetadata(t *testing.T) {
	tp := simplePack()
	tp.version = 3
	tp.nightMode = true
	folder := tp.write(t, t.TempDir(), testUUID+".1700000000")

	m, err := ReadMetadata(folder)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	want := Metadata{Format: FormatFS, Version: 3, UUID: testUUID, NightModeAvailable: true}
	if *m != want {
		t.Errorf("ReadMetadata() = %+v, want %+v", *m, want)
	}

	// full pack keeps the whole folder name
	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if name := testUUID + ".1700000000"; p.UUID != name || p.StageNodes[0].UUID != name {
		t.Errorf("Read() UUID = %q, stage UUID = %q, want %q", p.UUID, p.StageNodes[0].UUID, name)
	}

	if _, err := ReadMetadata(filepath.Join(t.TempDir(), "nothing")); !errors.Is(err, ErrMissingResource) {
		t.Errorf("expected ErrMissingResource, got %v", err)
	}
}

func TestReadCleartextPack(t *testing.T) {
	tp := simplePack()
	tp.cleartext = true
	folder := tp.write(t, t.TempDir(), testUUID)

	p, err := Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !p.Cleartext {
		t.Error("pack should be reported as cleartext")
	}
	if want := assetContent(assetName("I", 0)); !bytes.Equal(p.StageNodes[0].Image.Data, want) {
		t.Error("cleartext image must be used as is")
	}

	rs := stream.NewReadSeeker(p.StageNodes[0].Audio.Open())
	defer rs.Close()
	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if want := assetContent(assetName("S", 0)); !bytes.Equal(got, want) {
		t.Error("cleartext audio must be streamed as is")
	}
}

func TestPathEncoding(t *testing.T) {
	tp := simplePack()
	// 0xE9 is e-acute in windows-1252
	tp.images = []string{"000\\CAF\xe90000"}
	folder := tp.write(t, t.TempDir(), testUUID)
	// file on disk has UTF-8 name
	if err := os.Rename(
		filepath.Join(folder, ImageFolder, "000", "CAF\xe90000"),
		filepath.Join(folder, ImageFolder, "000", "CAFé0000"),
	); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, err := Read(folder); !errors.Is(err, ErrMissingResource) {
		t.Errorf("expected ErrMissingResource without encoding, got %v", err)
	}
	p, err := NewReader(WithPathEncoding(charmap.Windows1252)).Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if p.StageNodes[0].Image == nil {
		t.Error("image should be found with proper path encoding")
	}
}

func TestMIMETypes(t *testing.T) {
	folder := simplePack().write(t, t.TempDir(), testUUID)
	p, err := NewReader(WithMIMETypes("image/x-ms-bmp", "")).Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if p.StageNodes[0].Image.MIMEType != "image/x-ms-bmp" || p.StageNodes[0].Audio.MIMEType != DefaultAudioMIME {
		t.Error("MIME types were not applied")
	}
}
