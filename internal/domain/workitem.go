package domain

import "context"

// WorkItem is a unit of work handed to the dispatcher.
// It must not change after submission: the priority and affinity key are read
// once on the submitting goroutine and Execute runs later on a worker goroutine.
type WorkItem interface {
	Priority() Priority
	// AffinityKey selects the worker; items sharing a key execute in order.
	// Must be non-negative.
	AffinityKey() int
	Execute(ctx context.Context) error
}

// InlineItem is implemented by items that opt out of queued dispatch.
// When Inline reports true the item runs on the submitting goroutine.
type InlineItem interface {
	Inline() bool
}

// OutcomeItem is implemented by items whose producer needs a definite answer.
// A rejected item reporting true is passed to the dispatcher's reject handler.
type OutcomeItem interface {
	OutcomeRequired() bool
}

type funcItem struct {
	priority Priority
	key      int
	fn       func(ctx context.Context) error
}

// NewWorkItem wraps fn as a WorkItem.
func NewWorkItem(p Priority, affinityKey int, fn func(ctx context.Context) error) WorkItem {
	return &funcItem{priority: p, key: affinityKey, fn: fn}
}

func (f *funcItem) Priority() Priority { return f.priority }
func (f *funcItem) AffinityKey() int   { return f.key }

func (f *funcItem) Execute(ctx context.Context) error {
	return f.fn(ctx)
}
