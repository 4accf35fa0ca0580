package pack

import (
	"encoding/binary"
)

// Fixed names of pack resources.
const (
	NodeIndexName  = "ni"
	ListIndexName  = "li"
	ImageIndexName = "ri"
	ImageFolder    = "rf"
	SoundIndexName = "si"
	SoundFolder    = "sf"
	NightModeName  = "nm"
	CleartextName  = ".cleartext"
)

const (
	// FormatFS is the format tag of packs stored as folders of index files.
	FormatFS = "fs"

	// HeaderSize is the size of node index header.
	HeaderSize = 512
	// RecordSize is the size of a stage node record known to us. Records may
	// be larger, extra bytes are ignored.
	RecordSize = 44
	// PathEntrySize is the stride of image and sound index tables.
	PathEntrySize = 12
	// ListEntrySize is the stride of list index table.
	ListEntrySize = 4

	// absent marks unused index or transition field.
	absent = -1
)

// cleartextPrefix is how image index starts when pack was stored unencrypted.
var cleartextPrefix = []byte(`000\`)

// Header is the node index header.
type Header struct {
	FormatVersion   int16
	Version         int16
	NodeListOffset  int32
	NodeSize        int32
	StageNodeCount  int32
	ImageAssetCount int32
	SoundAssetCount int32
	FactoryDisabled bool
}

// UnmarshalBinary decodes header from the node index block.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return truncated("node index header: need %d bytes, got %d", HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads header from the given buffer which must be at least
// HeaderSize bytes. Does not validate.
func (h *Header) DecodeFrom(data []byte) {
	h.FormatVersion = int16(binary.LittleEndian.Uint16(data[0:2]))
	h.Version = int16(binary.LittleEndian.Uint16(data[2:4]))
	h.NodeListOffset = int32(binary.LittleEndian.Uint32(data[4:8]))
	h.NodeSize = int32(binary.LittleEndian.Uint32(data[8:12]))
	h.StageNodeCount = int32(binary.LittleEndian.Uint32(data[12:16]))
	h.ImageAssetCount = int32(binary.LittleEndian.Uint32(data[16:20]))
	h.SoundAssetCount = int32(binary.LittleEndian.Uint32(data[20:24]))
	h.FactoryDisabled = data[24] != 0
}

// EncodeTo writes header into buffer of at least HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.FormatVersion))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Version))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.NodeListOffset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.NodeSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.StageNodeCount))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.ImageAssetCount))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.SoundAssetCount))
	if h.FactoryDisabled {
		buf[24] = 1
	} else {
		buf[24] = 0
	}
}

// Validate checks header values which are used to address the rest of the
// node index.
func (h *Header) Validate() error {
	switch {
	case h.NodeSize < RecordSize:
		return truncated("node record size %d is smaller than %d", h.NodeSize, RecordSize)
	case h.NodeListOffset < HeaderSize:
		return invalidRef("node list offset %d overlaps header", h.NodeListOffset)
	case h.StageNodeCount < 0:
		return invalidRef("negative stage node count %d", h.StageNodeCount)
	case h.ImageAssetCount < 0:
		return invalidRef("negative image asset count %d", h.ImageAssetCount)
	case h.SoundAssetCount < 0:
		return invalidRef("negative sound asset count %d", h.SoundAssetCount)
	}
	return nil
}

// transitionRef is a raw transition as stored in node record.
type transitionRef struct {
	Offset   int32
	Count    int32
	Selected int32
}

func (t transitionRef) present() bool {
	return t.Offset != absent && t.Count != absent && t.Selected != absent
}

// nodeRecord is a raw stage node record.
type nodeRecord struct {
	ImageIndex int32
	SoundIndex int32
	Ok         transitionRef
	Home       transitionRef
	Controls   ControlSettings
}

func (r *nodeRecord) DecodeFrom(data []byte) {
	i32 := func(off int) int32 {
		return int32(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	b16 := func(off int) bool {
		return binary.LittleEndian.Uint16(data[off:off+2]) != 0
	}

	r.ImageIndex = i32(0)
	r.SoundIndex = i32(4)
	r.Ok = transitionRef{Offset: i32(8), Count: i32(12), Selected: i32(16)}
	r.Home = transitionRef{Offset: i32(20), Count: i32(24), Selected: i32(28)}
	r.Controls = ControlSettings{
		Wheel:    b16(32),
		Ok:       b16(34),
		Home:     b16(36),
		Pause:    b16(38),
		Autoplay: b16(40),
	}
}

func (r *nodeRecord) EncodeTo(buf []byte) {
	p32 := func(off int, v int32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
	}
	p16 := func(off int, v bool) {
		var x uint16
		if v {
			x = 1
		}
		binary.LittleEndian.PutUint16(buf[off:off+2], x)
	}

	p32(0, r.ImageIndex)
	p32(4, r.SoundIndex)
	p32(8, r.Ok.Offset)
	p32(12, r.Ok.Count)
	p32(16, r.Ok.Selected)
	p32(20, r.Home.Offset)
	p32(24, r.Home.Count)
	p32(28, r.Home.Selected)
	p16(32, r.Controls.Wheel)
	p16(34, r.Controls.Ok)
	p16(36, r.Controls.Home)
	p16(38, r.Controls.Pause)
	p16(40, r.Controls.Autoplay)
}
