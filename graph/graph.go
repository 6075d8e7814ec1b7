// Package graph compiles a node tree into an ordered set of tasks and runs
// them once per generated block.
//
// Every node gets at most one note task and one audio task. Notes flow from
// a note producing node down to its descendants, audio flows from the
// nearest audio producing descendants up to the node consuming them. The
// note task of a node always runs before its audio task.
package graph

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/log"
)

var (
	// ErrNilPlugin is returned when a node hosts no plugin.
	ErrNilPlugin = errors.New("node has no plugin")
	// ErrNoAudioOutput is returned when the master node produces no audio.
	ErrNoAudioOutput = errors.New("master node has no audio output")
	// ErrTooManyInputs is returned when a node accepting a single input has
	// more than one audio producing descendant.
	ErrTooManyInputs = errors.New("too many audio inputs")
	// ErrSharedNode is returned when a node is reachable more than once.
	ErrSharedNode = errors.New("node is reachable more than once")
)

// Kind is the kind of signal a task handles.
type Kind uint8

// Task kinds.
const (
	NoteTask Kind = iota
	AudioTask
)

func (k Kind) String() string {
	if k == NoteTask {
		return "note"
	}
	return "audio"
}

// Task is a unit of work of a single node.
type Task struct {
	kind  Kind
	node  *engine.Node
	deps  []*Task
	level int

	// note task state.
	source   *Task
	notes    []engine.NoteEvent
	sent     []engine.NoteEvent
	controls []engine.ControlEvent

	// audio task state.
	producers []*Task
	inputs    []block.View
}

// Kind returns the task kind.
func (t *Task) Kind() Kind {
	return t.kind
}

// Node returns the node the task runs for.
func (t *Task) Node() *engine.Node {
	return t.node
}

// Deps returns the tasks that complete before this one starts.
func (t *Task) Deps() []*Task {
	return t.deps
}

// Level returns the depth of the task in the dependency order. Tasks of the
// same level are independent.
func (t *Task) Level() int {
	return t.level
}

// Notes returns the notes the task received in the last block.
func (t *Task) Notes() []engine.NoteEvent {
	return t.notes
}

// Controls returns the controls the task received in the last block.
func (t *Task) Controls() []engine.ControlEvent {
	return t.controls
}

func (t *Task) String() string {
	return fmt.Sprintf("%v(%v)", t.kind, t.node)
}

// Tracer observes task execution. It must be safe for concurrent use when
// the graph runs with parallelism.
type Tracer interface {
	Started(*Task)
	Done(*Task)
}

// Option configures compilation.
type Option func(*Graph)

// WithTracer sets the tracer called around every task.
func WithTracer(tracer Tracer) Option {
	return func(g *Graph) {
		g.tracer = tracer
	}
}

// WithParallelism runs independent tasks on up to n goroutines.
func WithParallelism(n int) Option {
	return func(g *Graph) {
		g.parallelism = n
	}
}

// WithLogger sets the logger used during compilation.
func WithLogger(logger log.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// Graph is a compiled node tree.
type Graph struct {
	master      *engine.Node
	specs       block.Specs
	tasks       []*Task
	levels      [][]*Task
	tracer      Tracer
	parallelism int
	logger      log.Logger
	running     atomic.Int32
}

// compileErrors wraps every structural error found in a tree.
type compileErrors []error

func (e compileErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

func (e compileErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error is list is empty.
func (e compileErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}

// Compile validates the tree rooted at master, prepares node caches from
// pool for specs and returns the task graph. Compilation allocates and must
// run off the real-time path.
func Compile(master *engine.Node, pool *block.Pool, specs block.Specs, options ...Option) (*Graph, error) {
	g := Graph{
		master:      master,
		specs:       specs,
		parallelism: 1,
	}
	for _, option := range options {
		option(&g)
	}
	if g.logger == nil {
		g.logger = log.GetLogger()
	}
	if master == nil {
		return nil, engine.ErrNoMaster
	}
	if err := specs.Validate(); err != nil {
		return nil, err
	}

	var errs compileErrors
	if !master.Flags().Has(engine.AudioOutput) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrNoAudioOutput, master))
	}
	g.build(master, nil, make(map[*engine.Node]struct{}), &errs)
	if err := errs.ret(); err != nil {
		return nil, err
	}
	if err := master.PrepareCache(pool, specs); err != nil {
		return nil, fmt.Errorf("error preparing caches: %w", err)
	}
	g.sortLevels()
	g.logger.WithFields(logrus.Fields{
		"master": master.String(),
		"tasks":  len(g.tasks),
		"levels": len(g.levels),
		"specs":  specs.String(),
	}).Debug("task graph compiled")
	return &g, nil
}

// build appends the tasks of n and its descendants and returns the audio
// tasks whose output the nearest audio consuming ancestor receives.
func (g *Graph) build(n *engine.Node, source *Task, seen map[*engine.Node]struct{}, errs *compileErrors) []*Task {
	if _, ok := seen[n]; ok {
		*errs = append(*errs, fmt.Errorf("%w: %v", ErrSharedNode, n))
		return nil
	}
	seen[n] = struct{}{}
	if n.Plugin() == nil {
		*errs = append(*errs, fmt.Errorf("%w: %v", ErrNilPlugin, n))
		return nil
	}

	flags := n.Flags()
	var note *Task
	if flags&(engine.NoteInput|engine.NoteOutput|engine.ControlInput) != 0 {
		note = &Task{kind: NoteTask, node: n}
		if flags.Has(engine.NoteInput) && source != nil {
			note.source = source
			note.deps = append(note.deps, source)
		}
		g.tasks = append(g.tasks, note)
	}
	if flags.Has(engine.NoteOutput) {
		source = note
	}

	var producers []*Task
	if !flags.Has(engine.NoChildren) {
		for _, child := range n.Children() {
			producers = append(producers, g.build(child, source, seen, errs)...)
		}
	}
	if flags&(engine.AudioInput|engine.AudioOutput) == 0 {
		return producers
	}

	audio := &Task{kind: AudioTask, node: n}
	if note != nil {
		audio.deps = append(audio.deps, note)
	}
	if flags.Has(engine.AudioInput) {
		if flags.Has(engine.SingleExternalInput) && len(producers) > 1 {
			*errs = append(*errs, fmt.Errorf("%w: %v has %d", ErrTooManyInputs, n, len(producers)))
		}
		audio.producers = producers
		audio.inputs = make([]block.View, len(producers))
		audio.deps = append(audio.deps, producers...)
	}
	g.tasks = append(g.tasks, audio)
	if flags.Has(engine.AudioOutput) {
		return []*Task{audio}
	}
	return nil
}

// sortLevels groups tasks by dependency depth. Tasks are appended in a
// valid execution order, so deps always have their level set.
func (g *Graph) sortLevels() {
	for _, t := range g.tasks {
		t.level = 0
		for _, dep := range t.deps {
			t.level = max(t.level, dep.level+1)
		}
		for len(g.levels) <= t.level {
			g.levels = append(g.levels, nil)
		}
		g.levels[t.level] = append(g.levels[t.level], t)
	}
}

// Tasks returns tasks in execution order.
func (g *Graph) Tasks() []*Task {
	return g.tasks
}

// Levels returns tasks grouped by dependency depth.
func (g *Graph) Levels() [][]*Task {
	return g.levels
}

// Master returns the root node.
func (g *Graph) Master() *engine.Node {
	return g.master
}

// Specs returns the specs the graph was compiled for.
func (g *Graph) Specs() block.Specs {
	return g.specs
}

// Output returns the audio of the master node.
func (g *Graph) Output() block.View {
	return g.master.Cache().View()
}

// Running reports whether a block is being executed.
func (g *Graph) Running() bool {
	return g.running.Load() > 0
}

// Discard waits until no block is executed and drops the tasks.
func (g *Graph) Discard() {
	for g.Running() {
		runtime.Gosched()
	}
	g.tasks, g.levels = nil, nil
}

// Start notifies every plugin of the graph that generation starts at r.
func (g *Graph) Start(r beat.Range) {
	g.master.Walk(func(n *engine.Node) bool {
		if n.Plugin() != nil {
			n.Plugin().OnGenerationStarted(r)
		}
		return !n.Flags().Has(engine.NoChildren)
	})
}

// Execute runs every task for the block r that spans frames samples.
// Frames out of (0, BlockSize] mean a whole block.
func (g *Graph) Execute(r beat.Range, frames int) {
	g.running.Add(1)
	defer g.running.Add(-1)
	if frames <= 0 || frames > g.specs.BlockSize {
		frames = g.specs.BlockSize
	}
	if g.parallelism <= 1 {
		for _, t := range g.tasks {
			g.run(t, r, frames)
		}
		return
	}
	for _, level := range g.levels {
		if len(level) == 1 {
			g.run(level[0], r, frames)
			continue
		}
		var eg errgroup.Group
		eg.SetLimit(g.parallelism)
		for _, t := range level {
			// tasks report no errors.
			eg.Go(func() error {
				g.run(t, r, frames)
				return nil
			})
		}
		eg.Wait()
	}
}

func (g *Graph) run(t *Task, r beat.Range, frames int) {
	if g.tracer != nil {
		g.tracer.Started(t)
		defer g.tracer.Done(t)
	}
	n := t.node
	plugin := n.Plugin()
	flags := n.Flags()
	switch t.kind {
	case NoteTask:
		if flags.Has(engine.ControlInput) {
			t.controls = n.Controls(r, t.controls[:0])
			plugin.ReceiveControls(t.controls)
		}
		t.notes = t.notes[:0]
		if t.source != nil {
			t.notes = append(t.notes, t.source.sent...)
		}
		t.notes = n.Notes(r, frames, t.notes)
		if flags.Has(engine.NoteInput) {
			plugin.ReceiveNotes(t.notes)
		}
		if flags.Has(engine.NoteOutput) {
			t.sent = plugin.SendNotes(r, frames, t.sent[:0])
			if !flags.Has(engine.NoteInput) {
				t.sent = append(t.sent, t.notes...)
			}
		}
	case AudioTask:
		out := n.Cache().View().Crop(frames)
		if n.Muted() {
			out.Clear()
			return
		}
		for i, p := range t.producers {
			t.inputs[i] = p.node.Cache().View().Crop(frames)
		}
		plugin.Process(r, t.inputs, out)
	}
}
