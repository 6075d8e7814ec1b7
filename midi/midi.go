// Package midi routes messages of MIDI inputs to nodes as on-the-fly note
// and control events.
package midi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"pipelined.dev/engine"
	"pipelined.dev/engine/log"
)

// maxValue is the largest value of a 7-bit MIDI data byte.
const maxValue = 127

// Binding maps a MIDI source to a node.
type Binding struct {
	Channel uint8
	// Controller is only set for control bindings.
	Controller uint8
	Node       *engine.Node
	// Param and the value range are only set for control bindings.
	Param    engine.ParamID
	Min, Max float64
}

func (b Binding) String() string {
	return fmt.Sprintf("ch%d/cc%d->%s", b.Channel, b.Controller, b.Node.ID())
}

type controlKey struct {
	channel    uint8
	controller uint8
}

// Router pushes incoming messages to bound nodes. It is safe for
// concurrent use.
type Router struct {
	mu       sync.RWMutex
	notes    map[uint8]*engine.Node
	controls map[controlKey]Binding
	stops    []func()
	logger   log.Logger
}

// Option configures the router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter returns a router without bindings.
func NewRouter(options ...Option) *Router {
	r := Router{
		notes:    make(map[uint8]*engine.Node),
		controls: make(map[controlKey]Binding),
	}
	for _, option := range options {
		option(&r)
	}
	if r.logger == nil {
		r.logger = log.GetLogger()
	}
	return &r
}

// BindNotes sends notes of the channel to the node.
func (r *Router) BindNotes(channel uint8, n *engine.Node) {
	r.mu.Lock()
	r.notes[channel] = n
	r.mu.Unlock()
}

// BindControl sends the controller of the channel to the parameter of the
// node. Controller values are scaled linearly to [lo, hi].
func (r *Router) BindControl(channel, controller uint8, n *engine.Node, param engine.ParamID, lo, hi float64) {
	r.mu.Lock()
	r.controls[controlKey{channel: channel, controller: controller}] = Binding{
		Channel:    channel,
		Controller: controller,
		Node:       n,
		Param:      param,
		Min:        lo,
		Max:        hi,
	}
	r.mu.Unlock()
}

// Unbind removes every binding of the node.
func (r *Router) Unbind(n *engine.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, bound := range r.notes {
		if bound == n {
			delete(r.notes, ch)
		}
	}
	for key, b := range r.controls {
		if b.Node == n {
			delete(r.controls, key)
		}
	}
}

// Bindings returns note bindings followed by control bindings, ordered by
// channel and controller.
func (r *Router) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notes := make([]Binding, 0, len(r.notes))
	for ch, n := range r.notes {
		notes = append(notes, Binding{Channel: ch, Node: n})
	}
	controls := make([]Binding, 0, len(r.controls))
	for _, b := range r.controls {
		controls = append(controls, b)
	}
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].Channel < notes[j].Channel
	})
	sort.Slice(controls, func(i, j int) bool {
		if controls[i].Channel != controls[j].Channel {
			return controls[i].Channel < controls[j].Channel
		}
		return controls[i].Controller < controls[j].Controller
	})
	return append(notes, controls...)
}

// Handle routes a single message. It reports whether the message reached
// a node. The timestamp is ignored: events land at the start of the next
// generated block.
func (r *Router) Handle(msg gomidi.Message, _ int32) bool {
	var ch, key, value uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &value):
		return r.pushNote(ch, engine.NoteEvent{Type: engine.NoteOn, Key: key, Velocity: value})
	case msg.GetNoteEnd(&ch, &key):
		return r.pushNote(ch, engine.NoteEvent{Type: engine.NoteOff, Key: key})
	case msg.GetPolyAfterTouch(&ch, &key, &value):
		return r.pushNote(ch, engine.NoteEvent{Type: engine.PolyPressure, Key: key, Velocity: value})
	case msg.GetControlChange(&ch, &key, &value):
		r.mu.RLock()
		b, ok := r.controls[controlKey{channel: ch, controller: key}]
		r.mu.RUnlock()
		if !ok {
			return false
		}
		b.Node.PushControl(engine.ControlEvent{
			Param: b.Param,
			Value: b.Min + (b.Max-b.Min)*float64(value)/maxValue,
		})
		return true
	}
	return false
}

func (r *Router) pushNote(ch uint8, ev engine.NoteEvent) bool {
	r.mu.RLock()
	n, ok := r.notes[ch]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	n.PushNote(ev)
	return true
}

// Listen opens the input if needed and routes its messages until Close is
// called.
func (r *Router) Listen(in drivers.In) error {
	if !in.IsOpen() {
		if err := in.Open(); err != nil {
			return fmt.Errorf("error opening midi input %v: %w", in, err)
		}
	}
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, ts int32) {
		r.Handle(msg, ts)
	}, gomidi.HandleError(func(err error) {
		r.logger.WithFields(logrus.Fields{
			"input": in.String(),
			"error": err,
		}).Warn("midi input error")
	}))
	if err != nil {
		return fmt.Errorf("error listening to midi input %v: %w", in, err)
	}
	r.mu.Lock()
	r.stops = append(r.stops, stop)
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"input": in.String()}).Info("midi input connected")
	return nil
}

// Close stops listening to every input.
func (r *Router) Close() {
	r.mu.Lock()
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
