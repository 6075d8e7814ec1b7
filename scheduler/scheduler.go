// Package scheduler drives the generation of a project. While playing, a
// single goroutine advances the beat clock, executes the compiled task
// graph once per block and pushes interleaved audio into a lock-free queue
// drained by the audio callback.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"pipelined.dev/signal"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/internal/queue"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/metric"
)

// minBackoff is the shortest sleep of the backpressure loop.
const minBackoff = 50 * time.Microsecond

var (
	// ErrInvalidState is returned if the scheduler cannot perform the
	// operation in its current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoProject is returned when the scheduler is created without a project.
	ErrNoProject = errors.New("no project")
	// ErrInvalidRange is returned when an export range is empty.
	ErrInvalidRange = errors.New("invalid beat range")
)

// State of the scheduler.
type State uint32

// Scheduler states.
const (
	Paused State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "paused"
}

// outlet is the queue together with the layout of the bytes it carries.
// It is replaced as a whole when specs change.
type outlet struct {
	queue      *queue.Queue
	frameBytes int
}

// Scheduler generates the audio of a project.
type Scheduler struct {
	project       *engine.Project
	hooks         Hooks
	pool          *block.Pool
	logger        log.Logger
	meter         *metric.Meter
	tracer        graph.Tracer
	cachedFrames  int
	queueCapacity int
	parallelism   int
	missOffset    float64

	// state packs the epoch of the latest run above the State bit. A run
	// only moves its own epoch to Paused.
	state atomic.Uint64
	// mu serializes runs and guards stop and done.
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// generation side.
	epoch      uint64
	graph      *graph.Graph
	generation uint64
	specs      block.Specs
	clock      *beat.Clock
	current    beat.Range
	out        []byte
	output     []byte
	overflow   []byte
	backoff    time.Duration
	timer      *time.Timer

	// shared with other goroutines.
	outlet    atomic.Pointer[outlet]
	tracker   *beat.Tracker
	underruns atomic.Uint64
	position  atomic.Uint64
	seek      atomic.Uint64
	seeking   atomic.Bool
	loop      atomic.Uint64
	looping   atomic.Bool

	eventsMu    sync.Mutex
	events      []event
	dispatching []event
}

// New returns a paused scheduler for the project. The project must have
// valid specs.
func New(project *engine.Project, hooks Hooks, options ...Option) (*Scheduler, error) {
	if project == nil {
		return nil, ErrNoProject
	}
	specs := project.Specs()
	if err := specs.Validate(); err != nil {
		return nil, fmt.Errorf("error creating scheduler for %q: %w", project.Name(), err)
	}
	if hooks == nil {
		hooks = HookFuncs{}
	}
	s := Scheduler{
		project:      project,
		hooks:        hooks,
		cachedFrames: DefaultCachedFrames,
		parallelism:  1,
		missOffset:   beat.DefaultMissOffset,
		done:         make(chan struct{}),
	}
	close(s.done)
	for _, option := range options {
		option(&s)
	}
	if s.pool == nil {
		s.pool = block.NewPool()
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	if s.meter == nil {
		s.meter = metric.NewMeter(&s, specs.SampleRate)
	}
	s.clock = beat.NewClock(s.missOffset)
	s.tracker = beat.NewTracker(project.Tempo(), specs.SampleRate, s.missOffset)
	s.timer = time.NewTimer(time.Hour)
	s.timer.Stop()
	if err := s.configure(specs); err != nil {
		return nil, err
	}
	return &s, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load() & 1)
}

// Project returns the generated project.
func (s *Scheduler) Project() *engine.Project {
	return s.project
}

// Play starts the generation. It returns false if the scheduler was
// already playing. The graph is compiled before Play returns, so
// structural errors of the project are reported here.
func (s *Scheduler) Play() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settle() {
		return false, nil
	}
	epoch, ok := s.begin()
	if !ok {
		return false, nil
	}
	if err := s.start(epoch); err != nil {
		return false, err
	}
	go s.run(s.stop, s.done)
	return true, nil
}

// Pause requests the generation to stop. It returns false if the
// scheduler was already paused. Use Wait to block until the current block
// is done.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pause() {
		return false
	}
	close(s.stop)
	s.logger.Debug("scheduler paused")
	return true
}

// Wait blocks until the generation goroutine returns.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
}

// settle waits until the previous run has returned, releasing mu while it
// waits. It must be called with mu held and returns false if the scheduler
// is playing.
func (s *Scheduler) settle() bool {
	for {
		if s.State() == Playing {
			return false
		}
		done := s.done
		select {
		case <-done:
			return true
		default:
		}
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
}

// begin moves a paused scheduler to Playing under a new epoch.
func (s *Scheduler) begin() (uint64, bool) {
	for {
		v := s.state.Load()
		if State(v&1) != Paused {
			return 0, false
		}
		epoch := v>>1 + 1
		if s.state.CompareAndSwap(v, epoch<<1|uint64(Playing)) {
			return epoch, true
		}
	}
}

// end moves the scheduler to Paused if the run of epoch is still the
// playing one.
func (s *Scheduler) end(epoch uint64) bool {
	return s.state.CompareAndSwap(epoch<<1|uint64(Playing), epoch<<1|uint64(Paused))
}

// pause moves the playing run of any epoch to Paused.
func (s *Scheduler) pause() bool {
	for {
		v := s.state.Load()
		if State(v&1) != Playing {
			return false
		}
		if s.end(v >> 1) {
			return true
		}
	}
}

// start prepares the run of epoch. It must be called with mu held right
// after settle and begin.
func (s *Scheduler) start(epoch uint64) error {
	s.epoch = epoch
	if err := s.sync(); err != nil {
		s.end(epoch)
		return err
	}
	s.clock.Reset()
	s.tracker.Reset(s.anchor(s.current.To))
	s.graph.Start(s.current)
	s.stop, s.done = make(chan struct{}), make(chan struct{})
	s.logger.WithFields(logrus.Fields{
		"project": s.project.Name(),
		"from":    s.current.To,
	}).Debug("scheduler started")
	return nil
}

// run is the generation loop.
func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if !s.flush(stop) {
		return
	}
	for {
		select {
		case <-stop:
			return
		default:
		}
		r, frames, err := s.advance()
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"project": s.project.Name(),
				"error":   err,
			}).Error("generation stopped")
			s.shutdown()
			return
		}
		r, frames = s.wrap(r, frames)
		if !s.produce(s.render(r, frames), stop) {
			return
		}
		if s.hooks.OnAudioBlockGenerated() {
			s.shutdown()
			return
		}
		s.DispatchApplyEvents()
		s.DispatchNotifyEvents()
	}
}

// Export generates the range r synchronously, calling the export hook
// after every block instead of feeding the queue. It returns when the
// range is generated, the hook requests a stop, Pause is called or ctx is
// done.
func (s *Scheduler) Export(ctx context.Context, r beat.Range) error {
	if r.Empty() {
		return fmt.Errorf("%w: %v", ErrInvalidRange, r)
	}
	s.mu.Lock()
	if !s.settle() {
		s.mu.Unlock()
		return ErrInvalidState
	}
	epoch, ok := s.begin()
	if !ok {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.SetBeatRange(beat.Range{From: r.From, To: r.From})
	err := s.start(epoch)
	stop, done := s.stop, s.done
	s.mu.Unlock()
	if err != nil {
		return err
	}
	defer func() {
		s.end(epoch)
		close(done)
	}()

	s.logger.WithFields(logrus.Fields{
		"project": s.project.Name(),
		"range":   r.String(),
	}).Info("export started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		next, frames, err := s.advance()
		if err != nil {
			return err
		}
		if next.From >= r.To {
			return nil
		}
		if next.To > r.To {
			frames = max(s.clock.Frames(r.To-next.From), 1)
			next.To = r.To
		}
		s.render(next, frames)
		if s.hooks.OnExportBlockGenerated() {
			return nil
		}
		s.DispatchApplyEvents()
		s.DispatchNotifyEvents()
	}
}

// advance picks up project changes and returns the range of the next block
// and its number of frames.
func (s *Scheduler) advance() (beat.Range, int, error) {
	if err := s.sync(); err != nil {
		return beat.Range{}, 0, err
	}
	return s.clock.Advance(s.current), s.specs.BlockSize, nil
}

// sync applies seeks and recompiles the graph or reconfigures the clock
// when the project has changed.
func (s *Scheduler) sync() error {
	if s.seeking.CompareAndSwap(true, false) {
		from := beat.Unpack(s.seek.Load()).From
		s.current = beat.Range{From: from, To: from}
		s.clock.Reset()
		// audio of the old position is dropped so the tracker counts from
		// the new one.
		s.outlet.Load().queue.Clear()
		s.overflow = s.overflow[:0]
		s.tracker.Reset(s.anchor(from))
	}
	if gen := s.project.Generation(); s.graph == nil || gen != s.generation {
		specs := s.project.Specs()
		if specs != s.specs {
			if err := s.configure(specs); err != nil {
				return err
			}
		}
		if err := s.compile(specs); err != nil {
			return err
		}
		s.generation = gen
	}
	if tempo := s.project.Tempo(); tempo != s.clock.Tempo() {
		if err := s.clock.Configure(s.specs.BlockSize, tempo, s.specs.SampleRate); err != nil {
			return err
		}
		s.tracker.SetTempo(tempo)
	}
	return nil
}

// configure resizes generation buffers and the queue for specs.
func (s *Scheduler) configure(specs block.Specs) error {
	if err := specs.Validate(); err != nil {
		return err
	}
	if err := s.clock.Configure(specs.BlockSize, s.project.Tempo(), specs.SampleRate); err != nil {
		return err
	}
	blockBytes := specs.BlockBytes()
	s.out = make([]byte, blockBytes)
	s.output = s.out[:0]
	s.overflow = make([]byte, 0, blockBytes)

	capacity := s.queueCapacity
	if capacity <= 0 {
		capacity = blockBytes * (s.cachedFrames + 1)
	}
	s.outlet.Store(&outlet{
		queue:      queue.New(capacity),
		frameBytes: specs.FrameBytes(),
	})

	blockDuration := signal.Frequency(specs.SampleRate).Duration(specs.BlockSize)
	s.backoff = max(blockDuration/time.Duration(s.cachedFrames+2), minBackoff)
	s.tracker.SetSampleRate(specs.SampleRate)
	s.tracker.SetTempo(s.project.Tempo())
	s.meter.SetSampleRate(specs.SampleRate)
	s.specs = specs
	s.logger.WithFields(logrus.Fields{
		"specs":    specs.String(),
		"queue":    capacity,
		"backoff":  s.backoff,
		"beatSize": s.clock.Size(),
	}).Debug("scheduler configured")
	return nil
}

// compile replaces the graph. The previous graph is never executing at
// this point because both run on the generation goroutine.
func (s *Scheduler) compile(specs block.Specs) error {
	if s.graph != nil {
		s.graph.Discard()
		s.graph = nil
	}
	options := []graph.Option{
		graph.WithParallelism(s.parallelism),
		graph.WithLogger(s.logger),
	}
	if s.tracer != nil {
		options = append(options, graph.WithTracer(s.tracer))
	}
	g, err := graph.Compile(s.project.Master(), s.pool, specs, options...)
	if err != nil {
		return fmt.Errorf("error compiling project %q: %w", s.project.Name(), err)
	}
	s.meter.Compile()
	s.graph = g
	return nil
}

// activeLoop returns the loop region, empty if looping is disabled.
func (s *Scheduler) activeLoop() beat.Range {
	if !s.looping.Load() {
		return beat.Range{}
	}
	return beat.Unpack(s.loop.Load())
}

// anchor returns the position the first block generated from b starts at.
func (s *Scheduler) anchor(b beat.Beat) beat.Beat {
	if loop := s.activeLoop(); !loop.Empty() && !loop.Contains(b) {
		return loop.From
	}
	return b
}

// wrap applies the loop region to the range of the next block. The tracker
// follows the same region so the consumed position jumps back with the
// audio.
func (s *Scheduler) wrap(r beat.Range, frames int) (beat.Range, int) {
	loop := s.activeLoop()
	s.tracker.SetLoop(loop)
	if loop.Empty() {
		return r, frames
	}
	if r.From >= loop.To || r.From < loop.From {
		s.clock.Reset()
		r = s.clock.Advance(beat.Range{From: loop.From, To: loop.From})
	}
	if r.To > loop.To {
		frames = max(s.clock.Frames(loop.To-r.From), 1)
		r.To = loop.To
	}
	return r, frames
}

// render executes the graph for r and interleaves the first frames of the
// master output.
func (s *Scheduler) render(r beat.Range, frames int) []byte {
	s.graph.Execute(r, frames)
	n := s.graph.Output().Interleave(s.out, s.specs.Format, frames)
	s.output = s.out[:n]
	s.current = r
	s.position.Store(r.Pack())
	s.meter.Block(frames)
	return s.output
}

// produce pushes p into the queue. The part that does not fit is kept in
// the overflow cache and flushed under backpressure.
func (s *Scheduler) produce(p []byte, stop <-chan struct{}) bool {
	n := s.outlet.Load().queue.Push(p)
	s.overflow = append(s.overflow[:0], p[n:]...)
	return s.flush(stop)
}

// flush retries to push the overflow cache until it is empty. It returns
// false if generation must stop.
func (s *Scheduler) flush(stop <-chan struct{}) bool {
	for len(s.overflow) > 0 {
		n := s.outlet.Load().queue.Push(s.overflow)
		s.overflow = s.overflow[:copy(s.overflow, s.overflow[n:])]
		if len(s.overflow) == 0 {
			break
		}
		s.meter.Busy()
		if s.hooks.OnAudioQueueBusy() {
			s.shutdown()
			return false
		}
		if !s.sleep(stop) {
			return false
		}
	}
	return true
}

// sleep waits for the backoff duration. It returns false if stop is closed
// in the meantime.
func (s *Scheduler) sleep(stop <-chan struct{}) bool {
	s.timer.Reset(s.backoff)
	select {
	case <-stop:
		s.timer.Stop()
		return false
	case <-s.timer.C:
		return true
	}
}

// shutdown drops pending audio and moves the scheduler to Paused unless a
// newer run has already started.
func (s *Scheduler) shutdown() {
	s.outlet.Load().queue.Clear()
	s.overflow = s.overflow[:0]
	if s.end(s.epoch) {
		s.logger.WithFields(logrus.Fields{
			"project":  s.project.Name(),
			"position": s.current.String(),
		}).Debug("scheduler stopped by hook")
	}
}

// Output returns the interleaved bytes of the last generated block. It
// must only be called from hooks or while paused.
func (s *Scheduler) Output() []byte {
	return s.output
}

// ConsumeAudio fills dst with queued audio. Missing bytes are zeroed and
// false is returned. It is meant to be called from the audio callback and
// never blocks or allocates.
func (s *Scheduler) ConsumeAudio(dst []byte) bool {
	o := s.outlet.Load()
	n := o.queue.Pop(dst)
	full := n == len(dst)
	if !full {
		clear(dst[n:])
		if s.State() == Playing {
			s.underruns.Add(1)
			s.meter.Underrun()
		}
	}
	s.tracker.Tick(n / o.frameBytes)
	return full
}

// Elapsed returns the beat position of the audio consumed so far.
func (s *Scheduler) Elapsed() beat.Beat {
	return s.tracker.Elapsed()
}

// Underruns returns how many times the audio callback found the queue
// short while playing.
func (s *Scheduler) Underruns() uint64 {
	return s.underruns.Load()
}

// SetBeatRange moves the transport. The next block starts at r.From.
func (s *Scheduler) SetBeatRange(r beat.Range) {
	s.seek.Store(r.Pack())
	s.position.Store(beat.Range{From: r.From, To: r.From}.Pack())
	s.seeking.Store(true)
}

// CurrentBeatRange returns the range of the last generated block.
func (s *Scheduler) CurrentBeatRange() beat.Range {
	return beat.Unpack(s.position.Load())
}

// SetLoop sets the loop region.
func (s *Scheduler) SetLoop(r beat.Range) {
	s.loop.Store(r.Pack())
}

// Loop returns the loop region.
func (s *Scheduler) Loop() beat.Range {
	return beat.Unpack(s.loop.Load())
}

// SetLooping enables or disables looping.
func (s *Scheduler) SetLooping(looping bool) {
	s.looping.Store(looping)
}

// Looping reports whether looping is enabled.
func (s *Scheduler) Looping() bool {
	return s.looping.Load()
}

// SetProcessParamByBlockSize changes the generation block size and sample
// rate. It takes effect at the next block.
func (s *Scheduler) SetProcessParamByBlockSize(blockSize int, sampleRate uint) error {
	if _, _, err := beat.BlockBeats(blockSize, s.project.Tempo(), sampleRate); err != nil {
		return err
	}
	specs := s.project.Specs()
	specs.BlockSize, specs.SampleRate = blockSize, sampleRate
	return s.project.SetSpecs(specs)
}

// SetProcessParamByBeatSize sets the block size that spans the given
// number of beat units at the current tempo.
func (s *Scheduler) SetProcessParamByBeatSize(beats beat.Beat, sampleRate uint) error {
	blockSize, err := beat.BlockSize(beats, s.project.Tempo(), sampleRate)
	if err != nil {
		return err
	}
	return s.SetProcessParamByBlockSize(blockSize, sampleRate)
}

// ProcessBeatSize returns the whole number of beat units per block at the
// current project settings.
func (s *Scheduler) ProcessBeatSize() beat.Beat {
	specs := s.project.Specs()
	size, _, err := beat.BlockBeats(specs.BlockSize, s.project.Tempo(), specs.SampleRate)
	if err != nil {
		return 0
	}
	return size
}

// ProcessBlockSize returns the number of frames per block at the current
// project settings.
func (s *Scheduler) ProcessBlockSize() int {
	return s.project.Specs().BlockSize
}
