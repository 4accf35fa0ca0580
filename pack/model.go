package pack

import (
	"fmt"

	"sdst/codec"
	"sdst/stream"
)

// Node is either *StageNode or *ActionNode.
type Node interface {
	isNode()
}

// StoryPack is fully parsed pack. It owns all nodes reachable from it.
type StoryPack struct {
	UUID               string
	Version            int16
	FactoryDisabled    bool
	NightModeAvailable bool
	Cleartext          bool
	// StageNodes are in node index order, first one is the entry point.
	StageNodes []*StageNode
}

// Metadata is pack summary available without building the node graph.
type Metadata struct {
	Format             string
	Version            int16
	UUID               string
	NightModeAvailable bool
}

// StageNode presents one image and audio pair and leads to option sets.
type StageNode struct {
	UUID           string
	Image          *ImageAsset
	Audio          *AudioAsset
	OkTransition   *Transition
	HomeTransition *Transition
	Controls       ControlSettings
}

func (*StageNode) isNode() {}

func (n *StageNode) String() string {
	return fmt.Sprintf("StageNode{%s img:%t audio:%t ok:%s home:%s ctrl:%s}",
		n.UUID, n.Image != nil, n.Audio != nil, n.OkTransition, n.HomeTransition, n.Controls)
}

// StageKind is the role stage node plays for the player.
type StageKind int

const (
	KindUnknown StageKind = iota
	// KindOption has both image and audio, it is shown as a choice.
	KindOption
	// KindMenu has only audio and lists options of its ok transition.
	KindMenu
	// KindStory has only audio and can be paused.
	KindStory
)

func (k StageKind) String() string {
	switch k {
	case KindOption:
		return "option"
	case KindMenu:
		return "menu"
	case KindStory:
		return "story"
	}
	return "unknown"
}

// Kind classifies stage node by its assets and controls.
func (n *StageNode) Kind() StageKind {
	switch {
	case n.Audio == nil:
		return KindUnknown
	case n.Image != nil:
		return KindOption
	case n.Controls.Pause:
		return KindStory
	}
	return KindMenu
}

// ActionNode is an ordered set of options. Transitions pointing to the same
// list index offset share single ActionNode.
type ActionNode struct {
	Options []*StageNode
}

func (*ActionNode) isNode() {}

// String does not descend into options - graph may have cycles.
func (a *ActionNode) String() string {
	s := "ActionNode{"
	for i, opt := range a.Options {
		if i > 0 {
			s += " "
		}
		s += opt.UUID
	}
	return s + "}"
}

// Transition selects option from action node. Action node is not known when
// transition is created and is set exactly once after all stage nodes are
// read.
type Transition struct {
	OptionIndex uint16
	action      *ActionNode
}

func newTransition(selected uint16) *Transition {
	return &Transition{OptionIndex: selected}
}

// ActionNode returns target action node or nil if transition is unresolved.
func (t *Transition) ActionNode() *ActionNode {
	return t.action
}

// Resolved reports whether action node has been assigned.
func (t *Transition) Resolved() bool {
	return t.action != nil
}

func (t *Transition) resolve(a *ActionNode) {
	if t.action != nil {
		panic("transition resolved twice")
	}
	t.action = a
}

// Target returns selected stage node, nil when transition is unresolved or
// option index is out of range.
func (t *Transition) Target() *StageNode {
	if t.action == nil || int(t.OptionIndex) >= len(t.action.Options) {
		return nil
	}
	return t.action.Options[t.OptionIndex]
}

func (t *Transition) String() string {
	if t == nil {
		return "none"
	}
	if t.action == nil {
		return fmt.Sprintf("#%d->unresolved", t.OptionIndex)
	}
	return fmt.Sprintf("#%d->%s", t.OptionIndex, t.action)
}

// ControlSettings tell which physical controls are active on a stage.
type ControlSettings struct {
	Wheel    bool
	Ok       bool
	Home     bool
	Pause    bool
	Autoplay bool
}

func (c ControlSettings) String() string {
	return fmt.Sprintf("wheel:%t ok:%t home:%t pause:%t autoplay:%t", c.Wheel, c.Ok, c.Home, c.Pause, c.Autoplay)
}

// ImageAsset is fully loaded decrypted image.
type ImageAsset struct {
	MIMEType string
	Data     []byte
}

// AudioAsset refers to audio file, nothing is loaded until it is opened.
type AudioAsset struct {
	MIMEType string
	Path     string
	codec    codec.Codec
}

// Open returns decrypting reader over audio file using pack key and
// protection mode.
func (a *AudioAsset) Open() *stream.Reader {
	return stream.Open(a.Path, a.codec)
}
