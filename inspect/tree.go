package inspect

import (
	"fmt"
	"io"
	"path/filepath"

	"sdst/pack"
	"sdst/stream"
	"sdst/utils/debug"
)

// TreeOptions controls details of the dump.
type TreeOptions struct {
	// HeaderBytes is number of leading decrypted asset bytes to show, 0
	// disables asset peeking (audio files are not opened).
	HeaderBytes int
}

// actionIndex numbers action nodes in order of first reference and counts
// transitions sharing each of them.
type actionIndex struct {
	ids  map[*pack.ActionNode]int
	refs map[*pack.ActionNode]int
}

func indexActions(p *pack.StoryPack) *actionIndex {
	ai := &actionIndex{ids: make(map[*pack.ActionNode]int), refs: make(map[*pack.ActionNode]int)}
	for i, a := range p.ActionNodes() {
		ai.ids[a] = i
	}
	for _, s := range p.StageNodes {
		for _, t := range []*pack.Transition{s.OkTransition, s.HomeTransition} {
			if t != nil && t.ActionNode() != nil {
				ai.refs[t.ActionNode()]++
			}
		}
	}
	return ai
}

func (ai *actionIndex) transition(p *pack.StoryPack, t *pack.Transition) string {
	if t == nil {
		return "none"
	}
	target := t.Target()
	if target == nil {
		return fmt.Sprintf("action %d option #%d -> out of range", ai.ids[t.ActionNode()], t.OptionIndex)
	}
	return fmt.Sprintf("action %d option #%d -> stage %d", ai.ids[t.ActionNode()], t.OptionIndex, p.Index(target))
}

// Tree renders complete pack graph as indented text.
func Tree(p *pack.StoryPack, opts TreeOptions) *debug.TreeWriter {
	tw := debug.NewTreeWriter()
	ai := indexActions(p)

	tw.Line(0, "pack %s", p.UUID)
	tw.Line(1, "version: %d", p.Version)
	tw.Line(1, "factory disabled: %t", p.FactoryDisabled)
	tw.Line(1, "night mode: %t", p.NightModeAvailable)
	tw.Line(1, "cleartext: %t", p.Cleartext)
	tw.Line(1, "stages: %d", len(p.StageNodes))
	tw.Line(1, "actions: %d", len(ai.ids))

	for i, s := range p.StageNodes {
		tw.Line(0, "stage %d %s", i, s.Kind())
		tw.TextBlock(1, "uuid", s.UUID)
		if s.Image != nil {
			tw.Line(1, "image: %s", s.Image.MIMEType)
			if opts.HeaderBytes > 0 {
				tw.Bytes(2, "data", s.Image.Data, opts.HeaderBytes)
			} else {
				tw.Line(2, "size: %d", len(s.Image.Data))
			}
		}
		if s.Audio != nil {
			tw.Line(1, "audio: %s", s.Audio.MIMEType)
			tw.TextBlock(2, "path", filepath.ToSlash(s.Audio.Path))
			if opts.HeaderBytes > 0 {
				peekAudio(tw, 2, s.Audio, opts.HeaderBytes)
			}
		}
		tw.Line(1, "controls: %s", s.Controls)
		tw.Line(1, "ok: %s", ai.transition(p, s.OkTransition))
		tw.Line(1, "home: %s", ai.transition(p, s.HomeTransition))
	}

	for _, a := range p.ActionNodes() {
		tw.Line(0, "action %d", ai.ids[a])
		tw.Line(1, "shared by: %d", ai.refs[a])
		for j, opt := range a.Options {
			tw.Line(1, "option #%d -> stage %d", j, p.Index(opt))
		}
	}

	if unreachable := p.Unreachable(); len(unreachable) > 0 {
		tw.Line(0, "unreachable stages: %v", unreachable)
	}
	return tw
}

// peekAudio shows decrypted beginning of audio asset, problems are reported
// inline since dump is diagnostic output.
func peekAudio(tw *debug.TreeWriter, depth int, a *pack.AudioAsset, limit int) {
	r := a.Open()
	defer r.Close()

	size, err := r.Size()
	if err != nil {
		tw.Line(depth, "error: %v", err)
		return
	}
	buf := make([]byte, min(int64(limit), size))
	if _, err := io.ReadFull(stream.NewReadSeeker(r), buf); err != nil {
		tw.Line(depth, "error: %v", err)
		return
	}
	tw.Line(depth, "size: %d", size)
	tw.Bytes(depth, "data", buf, limit)
}
