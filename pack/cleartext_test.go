package pack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsCleartext(t *testing.T) {
	tests := []struct {
		name       string
		cleartext  bool
		noMarker   bool
		repair     bool
		want       bool
		wantMarker bool
	}{
		{name: "encrypted", want: false},
		{name: "encrypted repair", repair: true, want: false},
		{name: "marker", cleartext: true, want: true, wantMarker: true},
		{name: "no marker", cleartext: true, noMarker: true, want: false},
		{name: "no marker repair", cleartext: true, noMarker: true, repair: true, want: true, wantMarker: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := simplePack()
			tp.cleartext, tp.noMarker = tt.cleartext, tt.noMarker
			folder := tp.write(t, t.TempDir(), testUUID)

			got, err := IsCleartext(folder, tt.repair)
			if err != nil {
				t.Fatalf("IsCleartext() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsCleartext() = %t, want %t", got, tt.want)
			}
			if exists(filepath.Join(folder, CleartextName)) != tt.wantMarker {
				t.Errorf("marker presence = %t, want %t", !tt.wantMarker, tt.wantMarker)
			}
		})
	}
}

func TestIsCleartextMissingImageIndex(t *testing.T) {
	tp := simplePack()
	tp.skip = map[string]bool{ImageIndexName: true}
	folder := tp.write(t, t.TempDir(), testUUID)

	if _, err := IsCleartext(folder, false); err != nil {
		t.Errorf("without repair image index is not needed, got %v", err)
	}
	if _, err := IsCleartext(folder, true); !errors.Is(err, ErrMissingResource) {
		t.Errorf("expected ErrMissingResource, got %v", err)
	}
}

func TestRepairIsBestEffort(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	tp := simplePack()
	tp.cleartext, tp.noMarker = true, true
	folder := tp.write(t, t.TempDir(), testUUID)
	if err := os.Chmod(folder, 0555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(folder, 0755) })

	core, logs := observer.New(zap.WarnLevel)
	r := NewReader(WithRepair(true), WithLogger(zap.New(core)))

	p, err := r.Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !p.Cleartext {
		t.Error("pack should be detected as cleartext")
	}
	if logs.FilterMessage("Unable to create cleartext marker").Len() != 1 {
		t.Error("failure to create marker should be logged")
	}
}

func TestReadWithRepair(t *testing.T) {
	tp := simplePack()
	tp.cleartext, tp.noMarker = true, true
	folder := tp.write(t, t.TempDir(), testUUID)

	p, err := NewReader(WithRepair(true)).Read(folder)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !p.Cleartext {
		t.Error("pack should be detected as cleartext")
	}
	if !exists(filepath.Join(folder, CleartextName)) {
		t.Error("marker should be created")
	}
}
