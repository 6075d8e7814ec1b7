package engine

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
)

// Node is a vertex of the processing tree. It hosts one plugin, owns its
// children and the cache buffer its plugin renders into.
//
// Structural edits, automations and partitions must only be changed while
// playback is paused or from a scheduler event, so they land between
// blocks. Injected notes and controls may be pushed from any goroutine.
type Node struct {
	id       string
	name     string
	color    uint32
	plugin   Plugin
	flags    Flags
	parent   *Node
	project  *Project
	children []*Node

	cache block.Buffer
	specs block.Specs

	automations []Automation
	partitions  []Partition
	muted       atomic.Bool

	mu       sync.Mutex
	notes    []NoteEvent
	controls []ControlEvent
	// drained injections, owned by the generation goroutine.
	spareNotes    []NoteEvent
	spareControls []ControlEvent
}

// NodeOption configures a node.
type NodeOption func(*Node)

// WithName sets the node name.
func WithName(name string) NodeOption {
	return func(n *Node) {
		n.name = name
	}
}

// WithColor sets the node color.
func WithColor(color uint32) NodeOption {
	return func(n *Node) {
		n.color = color
	}
}

// WithAutomations sets the node automations.
func WithAutomations(automations ...Automation) NodeOption {
	return func(n *Node) {
		n.automations = automations
	}
}

// WithPartitions sets the node partitions.
func WithPartitions(partitions ...Partition) NodeOption {
	return func(n *Node) {
		n.partitions = partitions
	}
}

// NewNode creates a detached node hosting the plugin.
func NewNode(plugin Plugin, options ...NodeOption) *Node {
	n := &Node{
		id:     xid.New().String(),
		plugin: plugin,
	}
	if plugin != nil {
		n.flags = plugin.Flags()
	}
	for _, option := range options {
		option(n)
	}
	return n
}

// ID returns the unique node id.
func (n *Node) ID() string {
	return n.id
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// SetName changes the node name.
func (n *Node) SetName(name string) {
	n.name = name
}

// Color returns the node color.
func (n *Node) Color() uint32 {
	return n.color
}

// SetColor changes the node color.
func (n *Node) SetColor(color uint32) {
	n.color = color
}

func (n *Node) String() string {
	if n.name != "" {
		return n.name
	}
	return n.id
}

// Plugin returns the hosted plugin.
func (n *Node) Plugin() Plugin {
	return n.plugin
}

// SetPlugin replaces the hosted plugin and invalidates the project graph.
func (n *Node) SetPlugin(plugin Plugin) {
	n.plugin = plugin
	n.flags = 0
	if plugin != nil {
		n.flags = plugin.Flags()
	}
	n.Invalidate()
}

// Flags returns the capabilities copied from the plugin.
func (n *Node) Flags() Flags {
	return n.flags
}

// Parent returns the parent node or nil.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the child nodes. The slice must not be modified.
func (n *Node) Children() []*Node {
	return n.children
}

// Add appends a child.
func (n *Node) Add(child *Node) error {
	return n.Insert(len(n.children), child)
}

// Insert places a child at index. Out of bounds indexes are clamped.
func (n *Node) Insert(index int, child *Node) error {
	if err := n.canAdopt(child); err != nil {
		return err
	}
	index = min(max(index, 0), len(n.children))
	n.children = slices.Insert(n.children, index, child)
	child.parent = n
	n.Invalidate()
	return nil
}

// Remove detaches a child. The caller owns the detached subtree and must
// release it.
func (n *Node) Remove(child *Node) error {
	i := slices.Index(n.children, child)
	if i < 0 {
		return fmt.Errorf("%w: %v of %v", ErrNotChild, child, n)
	}
	n.children = slices.Delete(n.children, i, i+1)
	child.parent = nil
	n.Invalidate()
	return nil
}

// Move detaches the node from its parent and inserts it into parent at
// index.
func (n *Node) Move(parent *Node, index int) error {
	if n.parent == nil {
		return fmt.Errorf("%w: %v is detached", ErrNotChild, n)
	}
	if parent == n || parent.hasAncestor(n) {
		return fmt.Errorf("%w: %v", ErrCycle, n)
	}
	if err := n.parent.Remove(n); err != nil {
		return err
	}
	return parent.Insert(index, n)
}

func (n *Node) canAdopt(child *Node) error {
	switch {
	case child.parent != nil || child.project != nil:
		return fmt.Errorf("%w: %v", ErrHasParent, child)
	case child == n || n.hasAncestor(child):
		return fmt.Errorf("%w: %v", ErrCycle, child)
	}
	return nil
}

func (n *Node) hasAncestor(a *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// Invalidate marks the graph of the owning project as outdated.
func (n *Node) Invalidate() {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	if root.project != nil {
		root.project.Invalidate()
	}
}

// Walk calls fn for the node and its descendants in depth-first order. It
// stops descending into a node when fn returns false.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.children {
		child.Walk(fn)
	}
}

// Muted reports whether the node renders silence.
func (n *Node) Muted() bool {
	return n.muted.Load()
}

// SetMuted mutes or unmutes the node audio.
func (n *Node) SetMuted(muted bool) {
	n.muted.Store(muted)
}

// Automations returns the node automations.
func (n *Node) Automations() []Automation {
	return n.automations
}

// SetAutomations replaces the node automations.
func (n *Node) SetAutomations(automations ...Automation) {
	n.automations = automations
}

// Partitions returns the node partitions.
func (n *Node) Partitions() []Partition {
	return n.partitions
}

// SetPartitions replaces the node partitions.
func (n *Node) SetPartitions(partitions ...Partition) {
	n.partitions = partitions
}

// PushNote injects a note into the next generated block.
func (n *Node) PushNote(ev NoteEvent) {
	n.mu.Lock()
	n.notes = append(n.notes, ev)
	n.mu.Unlock()
}

// PushControl injects a parameter change into the next generated block.
// It overrides automation of the same parameter for that block.
func (n *Node) PushControl(ev ControlEvent) {
	n.mu.Lock()
	n.controls = append(n.controls, ev)
	n.mu.Unlock()
}

// Notes appends the partition notes in r and the injected notes to dst.
// Injected notes are consumed.
func (n *Node) Notes(r beat.Range, frames int, dst []NoteEvent) []NoteEvent {
	for i := range n.partitions {
		dst = n.partitions[i].Collect(r, frames, dst)
	}
	n.mu.Lock()
	n.notes, n.spareNotes = n.spareNotes[:0], n.notes
	n.mu.Unlock()
	for _, ev := range n.spareNotes {
		ev.SampleOffset = min(max(ev.SampleOffset, 0), max(frames-1, 0))
		dst = append(dst, ev)
	}
	return dst
}

// Controls appends the automation values at r to dst, overridden by the
// injected controls. Injected controls are consumed.
func (n *Node) Controls(r beat.Range, dst []ControlEvent) []ControlEvent {
	for i := range n.automations {
		dst = n.automations[i].Collect(r, dst)
	}
	n.mu.Lock()
	n.controls, n.spareControls = n.spareControls[:0], n.controls
	n.mu.Unlock()
	return MergeControls(dst, n.spareControls)
}

// Cache returns the buffer the plugin renders into.
func (n *Node) Cache() *block.Buffer {
	return &n.cache
}

// Specs returns the specs the cache was prepared for.
func (n *Node) Specs() block.Specs {
	return n.specs
}

// PrepareCache sizes the caches of the node and its descendants for specs
// and passes specs to their plugins.
func (n *Node) PrepareCache(pool *block.Pool, specs block.Specs) error {
	if err := specs.Validate(); err != nil {
		return err
	}
	return n.prepareCache(pool, specs)
}

func (n *Node) prepareCache(pool *block.Pool, specs block.Specs) error {
	n.cache.Resize(pool, specs.ChannelByteSize(), specs.SampleRate, specs.Channels)
	n.cache.Clear()
	n.specs = specs
	if n.plugin != nil {
		if err := n.plugin.SetSpecs(specs); err != nil {
			return fmt.Errorf("node %v: %w", n, err)
		}
	}
	for _, child := range n.children {
		if err := child.prepareCache(pool, specs); err != nil {
			return err
		}
	}
	return nil
}

// Release hands the caches of the subtree back to the pool, children
// first.
func (n *Node) Release() {
	for _, child := range n.children {
		child.Release()
	}
	n.cache.Release()
	n.specs = block.Specs{}
}
