// Package scheduler provides the three size-tiered task queues the
// download workers drain, with work stealing between tiers.
//
// Large files dominate aggregate throughput, so most workers affine
// to the Large tier; dedicated Small-tier workers keep short tasks
// from queueing behind head-of-line multi-gigabyte transfers. When a
// worker's own tier drains it steals from the others in a fixed
// order, so no worker idles while any queue holds work.
package scheduler

import "sort"

// Tier size thresholds.
const (
	LargeThreshold  = 50 * 1024 * 1024
	MediumThreshold = 5 * 1024 * 1024
)

// Worker allocation per tier. The sum is the download pool size.
const (
	LargeWorkers  = 16
	MediumWorkers = 6
	SmallWorkers  = 6
	TotalWorkers  = LargeWorkers + MediumWorkers + SmallWorkers
)

// Tier partitions tasks by expected size.
type Tier int

const (
	Large Tier = iota
	Medium
	Small
)

func (t Tier) String() string {
	switch t {
	case Large:
		return "large"
	case Medium:
		return "medium"
	default:
		return "small"
	}
}

// TierFor returns the tier for an expected file size.
func TierFor(size int64) Tier {
	switch {
	case size > LargeThreshold:
		return Large
	case size >= MediumThreshold:
		return Medium
	default:
		return Small
	}
}

// pollOrder is the tier-specific steal order: a worker polls its own
// tier first, then falls back.
func pollOrder(affinity Tier) [3]Tier {
	switch affinity {
	case Large:
		return [3]Tier{Large, Medium, Small}
	case Medium:
		return [3]Tier{Medium, Small, Large}
	default:
		return [3]Tier{Small, Medium, Large}
	}
}

// Queue holds the download set partitioned into three tiers. Large
// and Medium are dispensed biggest-first; Small in insertion order.
// All methods are safe for concurrent use.
type Queue[T any] struct {
	size   func(T) int64
	queues [3]chan T
}

// New builds a queue from the download set. size extracts the
// expected byte size used for tier routing.
func New[T any](items []T, size func(T) int64) *Queue[T] {
	q := &Queue[T]{size: size}

	var tiers [3][]T
	for _, item := range items {
		tier := TierFor(size(item))
		tiers[tier] = append(tiers[tier], item)
	}

	// Biggest-first within Large and Medium; stable so equal sizes
	// keep manifest order.
	for _, tier := range []Tier{Large, Medium} {
		items := tiers[tier]
		sort.SliceStable(items, func(i, j int) bool {
			return size(items[i]) > size(items[j])
		})
	}

	// Capacity len(items) per tier: a requeued task always fits
	// because it was dequeued from the same set.
	for tier := range q.queues {
		q.queues[tier] = make(chan T, max(len(items), 1))
		for _, item := range tiers[tier] {
			q.queues[tier] <- item
		}
	}

	return q
}

// TryDequeue polls a single tier without blocking.
func (q *Queue[T]) TryDequeue(tier Tier) (T, bool) {
	select {
	case item := <-q.queues[tier]:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// TryDequeueLarge polls the Large tier without blocking.
func (q *Queue[T]) TryDequeueLarge() (T, bool) { return q.TryDequeue(Large) }

// TryDequeueMedium polls the Medium tier without blocking.
func (q *Queue[T]) TryDequeueMedium() (T, bool) { return q.TryDequeue(Medium) }

// TryDequeueSmall polls the Small tier without blocking.
func (q *Queue[T]) TryDequeueSmall() (T, bool) { return q.TryDequeue(Small) }

// Poll dequeues the next task for a worker with the given affinity,
// stealing from other tiers when its own is empty.
func (q *Queue[T]) Poll(affinity Tier) (T, bool) {
	for _, tier := range pollOrder(affinity) {
		if item, ok := q.TryDequeue(tier); ok {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Requeue returns a failed task to the tier matching its size, not
// the affinity of the worker that held it.
func (q *Queue[T]) Requeue(item T) {
	q.queues[TierFor(q.size(item))] <- item
}

// IsEmpty reports whether all three queues are drained.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.queues[Large])+len(q.queues[Medium])+len(q.queues[Small]) == 0
}

// Pending returns the number of queued tasks across all tiers.
func (q *Queue[T]) Pending() int {
	return len(q.queues[Large]) + len(q.queues[Medium]) + len(q.queues[Small])
}
