package engine

import "pipelined.dev/engine/beat"

// NoteType is the kind of a note event.
type NoteType uint8

// Note event kinds.
const (
	NoteOn NoteType = iota
	NoteOff
	PolyPressure
)

// NoteEvent is a note message placed inside a block.
type NoteEvent struct {
	Type     NoteType
	Key      uint8
	Velocity uint8
	Tuning   int8
	// SampleOffset is the position of the event from the block start.
	SampleOffset int
}

// Note is a note of a partition in clip time.
type Note struct {
	Range    beat.Range
	Key      uint8
	Velocity uint8
	Tuning   int8
}

// Partition is a clip of notes played at every instance.
type Partition struct {
	Notes     []Note
	Instances []Instance
	Muted     bool
}

// Collect appends the note on and off events that fall in r. Sample offsets
// are spread linearly over frames.
func (p *Partition) Collect(r beat.Range, frames int, dst []NoteEvent) []NoteEvent {
	if p.Muted || r.Empty() {
		return dst
	}
	for _, inst := range p.Instances {
		if inst.Range.Empty() || inst.Range.To < r.From || inst.Range.From >= r.To {
			continue
		}
		for _, n := range p.Notes {
			if n.Range.To <= inst.Offset {
				continue
			}
			on := inst.timeline(max(n.Range.From, inst.Offset))
			if on >= inst.Range.To {
				continue
			}
			off := min(inst.timeline(n.Range.To), inst.Range.To)
			if r.Contains(on) {
				dst = append(dst, NoteEvent{
					Type:         NoteOn,
					Key:          n.Key,
					Velocity:     n.Velocity,
					Tuning:       n.Tuning,
					SampleOffset: sampleOffset(r, on, frames),
				})
			}
			if r.Contains(off) {
				dst = append(dst, NoteEvent{
					Type:         NoteOff,
					Key:          n.Key,
					Tuning:       n.Tuning,
					SampleOffset: sampleOffset(r, off, frames),
				})
			}
		}
	}
	return dst
}

func sampleOffset(r beat.Range, b beat.Beat, frames int) int {
	return int(uint64(b-r.From) * uint64(frames) / uint64(r.Size()))
}
