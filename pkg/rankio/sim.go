package rankio

import (
	"context"
	"sync"
)

// NewSimCohortGroup creates size SimCohort instances, one per simulated
// rank, that coordinate over an in-process coordinator rather than a real
// network transport. This is the reading of the original's note that a
// SharedCounter "may be implemented over MPI RMA, MPI send/recv with a
// coordinator rank, or any equivalent": every rank blocks on a per-call
// rendezvous point until its peers arrive, and whichever rank arrives last
// computes that call's combined result for all of them.
//
// Every returned Cohort must be driven from its own goroutine, and all
// ranks must call collective operations the same number of times in the
// same order — exactly the same requirement MPI itself places on an SPMD
// program.
func NewSimCohortGroup(size int) []Cohort {
	if size <= 0 {
		size = 1
	}

	coord := &coordinator{size: size, points: make(map[uint64]*syncPoint)}

	cohorts := make([]Cohort, size)
	for r := range size {
		cohorts[r] = &SimCohort{rank: r, coord: coord}
	}

	return cohorts
}

// SimCohort is one simulated rank's view of an in-process Cohort.
type SimCohort struct {
	rank  int
	coord *coordinator
	opSeq uint64
}

func (c *SimCohort) Rank() int { return c.rank }
func (c *SimCohort) Size() int { return c.coord.size }

func (c *SimCohort) nextOp() uint64 {
	id := c.opSeq
	c.opSeq++

	return id
}

func (c *SimCohort) Barrier(_ context.Context) {
	sp := c.coord.getPoint(c.nextOp())
	sp.rendezvous(c.rank, nil, func([]any) any { return nil })
}

func (c *SimCohort) AllreduceSum(_ context.Context, local uint64) uint64 {
	sp := c.coord.getPoint(c.nextOp())
	result := sp.rendezvous(c.rank, local, func(payloads []any) any {
		var sum uint64
		for _, p := range payloads {
			sum += p.(uint64) //nolint:forcetypeassert
		}

		return sum
	})

	return result.(uint64) //nolint:forcetypeassert
}

func (c *SimCohort) AllreduceSumVec(_ context.Context, local []uint64) []uint64 {
	sp := c.coord.getPoint(c.nextOp())
	result := sp.rendezvous(c.rank, local, func(payloads []any) any {
		var sum []uint64
		for _, p := range payloads {
			vec := p.([]uint64) //nolint:forcetypeassert
			if sum == nil {
				sum = make([]uint64, len(vec))
			}

			for i, v := range vec {
				sum[i] += v
			}
		}

		return sum
	})

	return result.([]uint64) //nolint:forcetypeassert
}

func (c *SimCohort) Exscan(_ context.Context, local uint64) uint64 {
	sp := c.coord.getPoint(c.nextOp())
	result := sp.rendezvous(c.rank, local, func(payloads []any) any {
		prefix := make([]uint64, len(payloads))

		var running uint64
		for i, p := range payloads {
			prefix[i] = running
			running += p.(uint64) //nolint:forcetypeassert
		}

		return prefix
	})

	return result.([]uint64)[c.rank] //nolint:forcetypeassert
}

func (c *SimCohort) Broadcast(_ context.Context, root int, value uint64) uint64 {
	sp := c.coord.getPoint(c.nextOp())
	result := sp.rendezvous(c.rank, rootValue{root: root, value: value}, func(payloads []any) any {
		for _, p := range payloads {
			rv := p.(rootValue) //nolint:forcetypeassert
			if rv.root == root {
				return rv.value
			}
		}

		return uint64(0)
	})

	return result.(uint64) //nolint:forcetypeassert
}

func (c *SimCohort) BroadcastVec(_ context.Context, root int, values []uint64) []uint64 {
	sp := c.coord.getPoint(c.nextOp())
	result := sp.rendezvous(c.rank, rootVecValue{root: root, values: values}, func(payloads []any) any {
		for _, p := range payloads {
			rv := p.(rootVecValue) //nolint:forcetypeassert
			if rv.root == root {
				return rv.values
			}
		}

		return []uint64(nil)
	})

	return result.([]uint64) //nolint:forcetypeassert
}

type rootVecValue struct {
	root   int
	values []uint64
}

func (c *SimCohort) NewSharedCounter(_ context.Context, tag string, base uint64) SharedCounter {
	return c.coord.sharedCounter(tag, base)
}

type rootValue struct {
	root  int
	value uint64
}

// coordinator holds the state shared by every SimCohort in a group.
type coordinator struct {
	size int

	mu     sync.Mutex
	points map[uint64]*syncPoint

	countersMu sync.Mutex
	counters   map[string]*simCounter
}

func (co *coordinator) getPoint(id uint64) *syncPoint {
	co.mu.Lock()
	defer co.mu.Unlock()

	sp, ok := co.points[id]
	if !ok {
		sp = newSyncPoint(co.size)
		co.points[id] = sp
	}

	return sp
}

func (co *coordinator) sharedCounter(tag string, base uint64) *simCounter {
	co.countersMu.Lock()
	defer co.countersMu.Unlock()

	if co.counters == nil {
		co.counters = make(map[string]*simCounter)
	}

	sc, ok := co.counters[tag]
	if !ok {
		sc = &simCounter{value: base}
		co.counters[tag] = sc
	}

	return sc
}

// simCounter is a mutex-guarded fetch-and-add counter shared by every rank
// in a SimCohort group — the in-process stand-in for an MPI RMA accumulator.
type simCounter struct {
	mu    sync.Mutex
	value uint64
}

func (sc *simCounter) FetchAdd(_ context.Context, n uint64) uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	prev := sc.value
	sc.value += n

	return prev
}

// syncPoint is a single generation-counted rendezvous used for one
// collective call across every rank: each rank submits its payload and
// blocks until every rank has arrived, at which point combine runs once
// and its result is handed back to every rank.
type syncPoint struct {
	mu         sync.Mutex
	cond       *sync.Cond
	size       int
	generation uint64
	arrived    int
	payloads   []any
	result     any
}

func newSyncPoint(size int) *syncPoint {
	sp := &syncPoint{size: size, payloads: make([]any, size)}
	sp.cond = sync.NewCond(&sp.mu)

	return sp
}

func (sp *syncPoint) rendezvous(rank int, payload any, combine func([]any) any) any {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	myGen := sp.generation
	sp.payloads[rank] = payload
	sp.arrived++

	if sp.arrived == sp.size {
		sp.result = combine(sp.payloads)
		sp.arrived = 0
		sp.payloads = make([]any, sp.size)
		sp.generation++
		sp.cond.Broadcast()

		return sp.result
	}

	for sp.generation == myGen {
		sp.cond.Wait()
	}

	return sp.result
}
