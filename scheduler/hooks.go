package scheduler

// Hooks are implemented by the host embedding the scheduler. They are
// called on the generation goroutine and may call Pause but must not call
// Play or Wait. Returning true requests the generation to stop.
type Hooks interface {
	// OnAudioBlockGenerated is called after a block is pushed to the queue.
	OnAudioBlockGenerated() bool
	// OnAudioQueueBusy is called every time the queue has no room left.
	OnAudioQueueBusy() bool
	// OnExportBlockGenerated is called after a block is exported. The block
	// is available through Output.
	OnExportBlockGenerated() bool
}

// HookFuncs implements Hooks with optional functions.
type HookFuncs struct {
	AudioBlockGenerated  func() bool
	AudioQueueBusy       func() bool
	ExportBlockGenerated func() bool
}

// OnAudioBlockGenerated implements Hooks.
func (h HookFuncs) OnAudioBlockGenerated() bool {
	return h.AudioBlockGenerated != nil && h.AudioBlockGenerated()
}

// OnAudioQueueBusy implements Hooks.
func (h HookFuncs) OnAudioQueueBusy() bool {
	return h.AudioQueueBusy != nil && h.AudioQueueBusy()
}

// OnExportBlockGenerated implements Hooks.
func (h HookFuncs) OnExportBlockGenerated() bool {
	return h.ExportBlockGenerated != nil && h.ExportBlockGenerated()
}

// event is a pair of closures executed between blocks.
type event struct {
	apply  func()
	notify func()
}

// AddEvent schedules apply and notify to be executed between two blocks.
// Apply runs every time events are dispatched until notify runs, after
// which the event is dropped. Either function may be nil.
func (s *Scheduler) AddEvent(apply, notify func()) {
	s.eventsMu.Lock()
	s.events = append(s.events, event{apply: apply, notify: notify})
	s.eventsMu.Unlock()
}

// DispatchApplyEvents runs apply functions of pending events without
// removing them. Dispatch functions are called by the generation goroutine
// after every block and may be called by the host while paused.
func (s *Scheduler) DispatchApplyEvents() {
	s.eventsMu.Lock()
	s.dispatching = append(s.dispatching[:0], s.events...)
	s.eventsMu.Unlock()
	for _, e := range s.dispatching {
		if e.apply != nil {
			e.apply()
		}
	}
	clear(s.dispatching)
}

// DispatchNotifyEvents runs notify functions of pending events and removes
// them.
func (s *Scheduler) DispatchNotifyEvents() {
	s.eventsMu.Lock()
	s.events, s.dispatching = s.dispatching[:0], s.events
	s.eventsMu.Unlock()
	for _, e := range s.dispatching {
		if e.notify != nil {
			e.notify()
		}
	}
	clear(s.dispatching)
}
