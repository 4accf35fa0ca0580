// Package pack reads story packs stored as folders of binary index files and
// builds interactive narrative graph out of them.
package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"sdst/codec"
	"sdst/xxtea"
)

const (
	DefaultImageMIME = "image/bmp"
	DefaultAudioMIME = "audio/mpeg"
)

// Reader parses packs. It keeps no state between calls.
type Reader struct {
	key       xxtea.Key
	repair    bool
	imageMIME string
	audioMIME string
	pathEnc   encoding.Encoding
	newID     func() string
	log       *zap.Logger
}

// Option configures Reader.
type Option func(*Reader)

// WithKey sets cipher key used for protected resources.
func WithKey(key xxtea.Key) Option {
	return func(r *Reader) { r.key = key }
}

// WithRepair enables cleartext detection heuristic (see IsCleartext).
func WithRepair(repair bool) Option {
	return func(r *Reader) { r.repair = repair }
}

// WithMIMETypes overwrites MIME types reported for assets.
func WithMIMETypes(image, audio string) Option {
	return func(r *Reader) {
		if len(image) > 0 {
			r.imageMIME = image
		}
		if len(audio) > 0 {
			r.audioMIME = audio
		}
	}
}

// WithPathEncoding sets character set of asset paths in index tables. Paths
// are UTF-8 by default.
func WithPathEncoding(enc encoding.Encoding) Option {
	return func(r *Reader) { r.pathEnc = enc }
}

// WithIdentity replaces generator of stage node identities.
func WithIdentity(gen func() string) Option {
	return func(r *Reader) { r.newID = gen }
}

// WithLogger sets logger, by default nothing is logged.
func WithLogger(log *zap.Logger) Option {
	return func(r *Reader) { r.log = log }
}

// NewReader returns Reader using appliance common key unless configured
// otherwise.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		key:       xxtea.CommonKey,
		imageMIME: DefaultImageMIME,
		audioMIME: DefaultAudioMIME,
		newID:     uuid.NewString,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// packUUID is the pack identity as Read reports it: the whole folder name.
func packUUID(folder string) string {
	return filepath.Base(folder)
}

// metadataUUID is the pack identity for summaries: anything starting with
// first dot (timestamp added by some tools) is dropped.
func metadataUUID(folder string) string {
	name, _, _ := strings.Cut(packUUID(folder), ".")
	return name
}

func readHeader(folder string) (*Header, []byte, error) {
	data, err := os.ReadFile(filepath.Join(folder, NodeIndexName))
	if err != nil {
		return nil, nil, resourceError(NodeIndexName, err)
	}
	h := &Header{}
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", NodeIndexName, err)
	}
	return h, data, nil
}

// ReadMetadata returns pack summary from node index header only.
func (r *Reader) ReadMetadata(folder string) (*Metadata, error) {
	h, _, err := readHeader(folder)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Format:             FormatFS,
		Version:            h.Version,
		UUID:               metadataUUID(folder),
		NightModeAvailable: exists(filepath.Join(folder, NightModeName)),
	}, nil
}

// pendingAction collects transitions waiting for action node at single list
// index offset.
type pendingAction struct {
	count       int32
	transitions []*Transition
}

// builder holds parsing state of a single pack.
type builder struct {
	r      *Reader
	folder string
	codec  codec.Codec
	header *Header

	ri, si, li []byte
	images     map[int32]*ImageAsset
	pending    map[int32]*pendingAction
	stages     []*StageNode
}

// Read parses pack in folder. Either complete StoryPack or error is returned.
func (r *Reader) Read(folder string) (*StoryPack, error) {
	cleartext, err := r.IsCleartext(folder, r.repair)
	if err != nil {
		return nil, err
	}

	h, ni, err := readHeader(folder)
	if err != nil {
		return nil, err
	}

	b := &builder{
		r:       r,
		folder:  folder,
		codec:   codec.Codec{Key: r.key, Cleartext: cleartext},
		header:  h,
		images:  make(map[int32]*ImageAsset),
		pending: make(map[int32]*pendingAction),
	}

	if b.ri, err = b.loadIndex(ImageIndexName); err != nil {
		return nil, err
	}
	if b.si, err = b.loadIndex(SoundIndexName); err != nil {
		return nil, err
	}
	if b.li, err = b.loadIndex(ListIndexName); err != nil {
		return nil, err
	}

	log := r.log.With(zap.String("pack", folder))
	log.Debug("Reading pack",
		zap.Int16("version", h.Version),
		zap.Int32("stages", h.StageNodeCount),
		zap.Int32("images", h.ImageAssetCount),
		zap.Int32("sounds", h.SoundAssetCount),
		zap.Bool("factory-disabled", h.FactoryDisabled),
		zap.Bool("cleartext", cleartext))

	if err := b.readStages(ni, packUUID(folder)); err != nil {
		return nil, err
	}
	actions, err := b.resolveActions()
	if err != nil {
		return nil, err
	}
	if err := b.checkResolved(); err != nil {
		return nil, err
	}
	log.Debug("Pack graph built", zap.Int("stages", len(b.stages)), zap.Int("actions", actions), zap.Int("images", len(b.images)))

	return &StoryPack{
		UUID:               packUUID(folder),
		Version:            h.Version,
		FactoryDisabled:    h.FactoryDisabled,
		NightModeAvailable: exists(filepath.Join(folder, NightModeName)),
		Cleartext:          cleartext,
		StageNodes:         b.stages,
	}, nil
}

func (b *builder) loadIndex(name string) ([]byte, error) {
	data, err := b.codec.ReadFile(filepath.Join(b.folder, name))
	if err != nil {
		return nil, resourceError(name, err)
	}
	return data, nil
}

// readStages is the first pass: builds all stage nodes, registering
// transitions for later resolution.
func (b *builder) readStages(ni []byte, packID string) error {
	h := b.header
	size, start := int64(h.NodeSize), int64(h.NodeListOffset)
	if need := start + size*int64(h.StageNodeCount); int64(len(ni)) < need {
		return truncated("%s: %d stage records need %d bytes, got %d", NodeIndexName, h.StageNodeCount, need, len(ni))
	}

	b.stages = make([]*StageNode, 0, h.StageNodeCount)
	for i := range int64(h.StageNodeCount) {
		var rec nodeRecord
		rec.DecodeFrom(ni[start+i*size : start+(i+1)*size])

		stage := &StageNode{Controls: rec.Controls}
		if i == 0 {
			stage.UUID = packID
		} else {
			stage.UUID = b.r.newID()
		}

		var err error
		if stage.OkTransition, err = b.register(rec.Ok); err != nil {
			return fmt.Errorf("stage %d ok transition: %w", i, err)
		}
		if stage.HomeTransition, err = b.register(rec.Home); err != nil {
			return fmt.Errorf("stage %d home transition: %w", i, err)
		}
		if rec.ImageIndex != absent {
			if stage.Image, err = b.image(rec.ImageIndex); err != nil {
				return fmt.Errorf("stage %d: %w", i, err)
			}
		}
		if rec.SoundIndex != absent {
			if stage.Audio, err = b.audio(rec.SoundIndex); err != nil {
				return fmt.Errorf("stage %d: %w", i, err)
			}
		}
		b.stages = append(b.stages, stage)
	}
	return nil
}

// register creates pending transition. First registration of the offset
// defines number of options.
func (b *builder) register(ref transitionRef) (*Transition, error) {
	if !ref.present() {
		return nil, nil
	}
	switch {
	case ref.Offset < 0:
		return nil, invalidRef("list index offset %d", ref.Offset)
	case ref.Count < 0:
		return nil, invalidRef("option count %d", ref.Count)
	case ref.Selected < 0 || ref.Selected > 0xffff:
		return nil, invalidRef("selected option %d", ref.Selected)
	}

	t := newTransition(uint16(ref.Selected))
	p, ok := b.pending[ref.Offset]
	if !ok {
		p = &pendingAction{count: ref.Count}
		b.pending[ref.Offset] = p
	}
	p.transitions = append(p.transitions, t)
	return t, nil
}

func (b *builder) assetPath(table []byte, tableName, folder string, index, count int32) (string, error) {
	if index < 0 || index >= count {
		return "", invalidRef("%s index %d out of [0, %d)", tableName, index, count)
	}
	off := int64(index) * PathEntrySize
	if int64(len(table)) < off+PathEntrySize {
		return "", truncated("%s: entry %d needs %d bytes, got %d", tableName, index, off+PathEntrySize, len(table))
	}
	raw := bytes.TrimRight(table[off:off+PathEntrySize], "\x00")
	if b.r.pathEnc != nil {
		decoded, err := b.r.pathEnc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%s: entry %d: unable to decode path: %w", tableName, index, err)
		}
		raw = decoded
	}
	base := filepath.Join(b.folder, folder)
	path := filepath.Join(append([]string{base}, strings.Split(string(raw), `\`)...)...)
	if rel, err := filepath.Rel(base, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalidRef("%s: entry %d escapes %s", tableName, index, folder)
	}
	return path, nil
}

func (b *builder) image(index int32) (*ImageAsset, error) {
	if img, ok := b.images[index]; ok {
		return img, nil
	}
	path, err := b.assetPath(b.ri, ImageIndexName, ImageFolder, index, b.header.ImageAssetCount)
	if err != nil {
		return nil, err
	}
	data, err := b.codec.ReadFile(path)
	if err != nil {
		return nil, resourceError(path, err)
	}
	img := &ImageAsset{MIMEType: b.r.imageMIME, Data: data}
	b.images[index] = img
	return img, nil
}

func (b *builder) audio(index int32) (*AudioAsset, error) {
	path, err := b.assetPath(b.si, SoundIndexName, SoundFolder, index, b.header.SoundAssetCount)
	if err != nil {
		return nil, err
	}
	return &AudioAsset{MIMEType: b.r.audioMIME, Path: path, codec: b.codec}, nil
}

// resolveActions is the second pass: builds one action node per distinct
// list index offset and hands it to every transition registered for it.
// Stage indices may point anywhere (including back), all stage nodes exist
// by now so cycles need no special care.
func (b *builder) resolveActions() (int, error) {
	stageCount := int32(len(b.stages))
	for _, offset := range slices.Sorted(maps.Keys(b.pending)) {
		p := b.pending[offset]
		if len(p.transitions) == 0 {
			return 0, invalidRef("%s offset %d has no transitions", ListIndexName, offset)
		}

		start := int64(offset) * ListEntrySize
		end := start + int64(p.count)*ListEntrySize
		if int64(len(b.li)) < end {
			return 0, truncated("%s: %d options at offset %d need %d bytes, got %d", ListIndexName, p.count, offset, end, len(b.li))
		}

		action := &ActionNode{Options: make([]*StageNode, 0, p.count)}
		for pos := start; pos < end; pos += ListEntrySize {
			idx := int32(binary.LittleEndian.Uint32(b.li[pos:]))
			if idx < 0 || idx >= stageCount {
				return 0, invalidRef("%s offset %d: stage index %d out of [0, %d)", ListIndexName, offset, idx, stageCount)
			}
			action.Options = append(action.Options, b.stages[idx])
		}
		for _, t := range p.transitions {
			t.resolve(action)
		}
	}
	return len(b.pending), nil
}

func (b *builder) checkResolved() error {
	for i, s := range b.stages {
		for _, t := range []*Transition{s.OkTransition, s.HomeTransition} {
			if t != nil && !t.Resolved() {
				return invalidRef("stage %d has unresolved transition", i)
			}
		}
	}
	return nil
}

// Read parses pack with default reader.
func Read(folder string) (*StoryPack, error) {
	return NewReader().Read(folder)
}

// ReadMetadata reads pack summary with default reader.
func ReadMetadata(folder string) (*Metadata, error) {
	return NewReader().ReadMetadata(folder)
}
