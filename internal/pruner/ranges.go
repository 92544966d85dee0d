package pruner

// Range is a contiguous half-open chunk of checkpoints [From, To).
type Range struct {
	From uint64
	To   uint64
}

// PendingRanges tracks checkpoint ranges that are queued for deletion but
// not yet confirmed deleted. It is owned exclusively by the single pruner
// task, so it needs no synchronization.
//
// Invariants: entries never overlap; an entry, once removed after a
// successful prune, is never reinserted; the high bound of the last
// scheduled range is monotonically non-decreasing.
type PendingRanges struct {
	// ranges stays sorted by From: Schedule only ever appends past the
	// scheduled frontier.
	ranges []Range

	lastScheduled    Range
	hasLastScheduled bool
}

// NewPendingRanges creates an empty PendingRanges.
func NewPendingRanges() *PendingRanges {
	return &PendingRanges{}
}

// Schedule queues [from, to) for deletion. Requests that fall entirely at or
// below the already-scheduled frontier are no-ops, which makes repeated
// rediscovery of known progress idempotent. Requests that straddle the
// frontier are clamped upward so the inserted range never overlaps one that
// was scheduled before, even if the caller's from predates it.
func (p *PendingRanges) Schedule(from, to uint64) {
	frontier := uint64(0)
	if p.hasLastScheduled {
		frontier = p.lastScheduled.To
	}
	if to <= frontier {
		return
	}
	if from < frontier {
		from = frontier
	}

	r := Range{From: from, To: to}
	p.ranges = append(p.ranges, r)
	p.lastScheduled = r
	p.hasLastScheduled = true
}

// Remove drops the pending range starting at from, marking it successfully
// pruned. Ranges that are not pending are ignored.
func (p *PendingRanges) Remove(from uint64) {
	for i, r := range p.ranges {
		if r.From == from {
			p.ranges = append(p.ranges[:i], p.ranges[i+1:]...)
			return
		}
	}
}

// PrunerHi returns the current safe-to-resume frontier: the smallest still
// pending From if any range remains (the true, possibly stalled frontier),
// otherwise the high bound of the last scheduled range (everything scheduled
// has completed).
func (p *PendingRanges) PrunerHi() uint64 {
	if len(p.ranges) > 0 {
		return p.ranges[0].From
	}
	if p.hasLastScheduled {
		return p.lastScheduled.To
	}
	return 0
}

// Ranges returns a snapshot of the pending ranges in ascending order.
func (p *PendingRanges) Ranges() []Range {
	out := make([]Range, len(p.ranges))
	copy(out, p.ranges)
	return out
}

// Len returns the number of pending ranges.
func (p *PendingRanges) Len() int {
	return len(p.ranges)
}
