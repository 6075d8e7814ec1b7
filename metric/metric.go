package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"pipelined.dev/signal"
)

const componentsLabel = "engine.components"

const (
	// BlockCounter counts generated blocks.
	BlockCounter = "Blocks"
	// SampleCounter counts generated samples per channel.
	SampleCounter = "Samples"
	// DurationCounter counts the duration of generated audio.
	DurationCounter = "Duration"
	// LatencyCounter measures time between generated blocks.
	LatencyCounter = "Latency"
	// BusyCounter counts backpressure retries.
	BusyCounter = "Busy"
	// UnderrunCounter counts partial pops of the consumer.
	UnderrunCounter = "Underruns"
	// CompileCounter counts task graph compilations.
	CompileCounter = "Compilations"
	// ComponentCounter counts meters created.
	ComponentCounter = "Components"
)

var (
	components = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		BlockCounter,
		SampleCounter,
		DurationCounter,
		LatencyCounter,
		BusyCounter,
		UnderrunCounter,
		CompileCounter,
		ComponentCounter,
	}
)

// Get metrics values for provided component type.
func Get(component interface{}) map[string]string {
	return getCounters(getType(component))
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	components.Lock()
	defer components.Unlock()
	for component := range components.m {
		m[component] = getCounters(component)
	}
	return m
}

func getCounters(componentType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(componentType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// Meter captures counters of a single component instance. Block must be
// called from one goroutine, the rest of the methods are safe to call from
// any goroutine and never allocate.
type Meter struct {
	metric
	sampleRate signal.Frequency

	calledAt      time.Time
	blockSize     int
	blockDuration time.Duration
}

// NewMeter creates a meter for the component. Meters of components with the
// same type share counters.
func NewMeter(component interface{}, sampleRate uint) *Meter {
	m := components.get(getType(component))
	m.components.Add(1)
	return &Meter{
		metric:     m,
		sampleRate: signal.Frequency(sampleRate),
	}
}

// SetSampleRate changes the sample rate used to compute durations.
func (m *Meter) SetSampleRate(sampleRate uint) {
	m.sampleRate = signal.Frequency(sampleRate)
	m.blockSize = 0
}

// Block captures a generated block of samples.
func (m *Meter) Block(samples int) {
	now := time.Now()
	if !m.calledAt.IsZero() {
		m.latency.set(now.Sub(m.calledAt))
	}
	m.calledAt = now
	m.blocks.Add(1)
	m.samples.Add(int64(samples))
	// recalculate block duration only when block size has changed
	if m.blockSize != samples {
		m.blockSize = samples
		m.blockDuration = m.sampleRate.Duration(samples)
	}
	m.duration.add(m.blockDuration)
}

// Busy captures a backpressure retry.
func (m *Meter) Busy() {
	m.busy.Add(1)
}

// Underrun captures a consumer underrun.
func (m *Meter) Underrun() {
	m.underruns.Add(1)
}

// Compile captures a graph compilation.
func (m *Meter) Compile() {
	m.compilations.Add(1)
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(componentType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[componentType]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(componentType)
	m.m[componentType] = metric
	return metric
}

type metric struct {
	components   *expvar.Int
	blocks       *expvar.Int
	samples      *expvar.Int
	busy         *expvar.Int
	underruns    *expvar.Int
	compilations *expvar.Int
	latency      *duration
	duration     *duration
}

func newMetric(componentType string) metric {
	m := metric{
		components:   expvar.NewInt(key(componentType, ComponentCounter)),
		blocks:       expvar.NewInt(key(componentType, BlockCounter)),
		samples:      expvar.NewInt(key(componentType, SampleCounter)),
		busy:         expvar.NewInt(key(componentType, BusyCounter)),
		underruns:    expvar.NewInt(key(componentType, UnderrunCounter)),
		compilations: expvar.NewInt(key(componentType, CompileCounter)),
		latency:      &duration{},
		duration:     &duration{},
	}
	expvar.Publish(key(componentType, LatencyCounter), m.latency)
	expvar.Publish(key(componentType, DurationCounter), m.duration)
	return m
}

func key(componentType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", componentsLabel, componentType, counter)
}

func getType(component interface{}) string {
	rv := reflect.ValueOf(component)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d atomic.Int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(v.d.Load()))
}

func (v *duration) add(delta time.Duration) {
	v.d.Add(int64(delta))
}

func (v *duration) set(value time.Duration) {
	v.d.Store(int64(value))
}
