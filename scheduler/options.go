package scheduler

import (
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/graph"
	"pipelined.dev/engine/log"
	"pipelined.dev/engine/metric"
)

// DefaultCachedFrames is the number of blocks the outbound queue holds on
// top of the block being played.
const DefaultCachedFrames = 2

// Option provides a way to set optional functionality of the scheduler.
type Option func(*Scheduler)

// WithPool sets the pool node caches are acquired from. By default every
// scheduler has its own pool.
func WithPool(pool *block.Pool) Option {
	return func(s *Scheduler) {
		s.pool = pool
	}
}

// WithLogger sets the logger used off the real-time path.
func WithLogger(logger log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithCachedFrames sets how many blocks are buffered ahead of the audio
// callback. Deeper buffering results in shorter backpressure sleeps.
func WithCachedFrames(n int) Option {
	return func(s *Scheduler) {
		s.cachedFrames = max(n, 0)
	}
}

// WithQueueCapacity sets the capacity of the outbound queue in bytes. By
// default it fits the cached frames plus one block.
func WithQueueCapacity(bytes int) Option {
	return func(s *Scheduler) {
		s.queueCapacity = bytes
	}
}

// WithLoop enables looping over the range.
func WithLoop(r beat.Range) Option {
	return func(s *Scheduler) {
		s.SetLoop(r)
		s.SetLooping(true)
	}
}

// WithParallelism executes independent tasks of the graph on up to n
// goroutines.
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		s.parallelism = n
	}
}

// WithBeatMissOffset sets the initial value of the beat miss accumulators.
func WithBeatMissOffset(offset float64) Option {
	return func(s *Scheduler) {
		s.missOffset = offset
	}
}

// WithTracer sets the tracer of compiled graphs.
func WithTracer(tracer graph.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithMeter sets the meter that captures generation counters.
func WithMeter(meter *metric.Meter) Option {
	return func(s *Scheduler) {
		s.meter = meter
	}
}
