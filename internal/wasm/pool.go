package wasm

import (
	"context"
	"fmt"
	"sync"
)

// pooledInstances is the pool's backing free list: an ordered LIFO
// stack of ready instances plus an optional positive capacity limit.
// Grounded on the teacher's wasmWorkerPool (pool.go), restructured from
// a channel to a locked slice because the spec's resize semantics
// (truncate the tail immediately on shrink) need random access into the
// free list, which a channel cannot give (spec §5.D / §8).
type pooledInstances struct {
	mu    sync.RWMutex
	items []*Instance
	limit int // 0 means unbounded
}

func newPooledInstances(limit int) *pooledInstances {
	return &pooledInstances{limit: limit}
}

func (p *pooledInstances) getLimit() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limit
}

// setLimit replaces the capacity, truncating the tail immediately if
// the new limit is smaller than the current length, and returns the
// prior limit.
func (p *pooledInstances) setLimit(limit int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.limit
	p.limit = limit
	if limit > 0 && len(p.items) > limit {
		p.items = p.items[:limit]
	}
	return old
}

func (p *pooledInstances) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// push returns the instance back if len >= limit (i.e. the instance
// was not stored, and the caller must dispose of it), or nil if it was
// accepted.
func (p *pooledInstances) push(inst *Instance) *Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && len(p.items) >= p.limit {
		return inst
	}
	p.items = append(p.items, inst)
	return nil
}

func (p *pooledInstances) pop() *Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.items)
	if n == 0 {
		return nil
	}
	inst := p.items[n-1]
	p.items[n-1] = nil
	p.items = p.items[:n-1]
	return inst
}

// InstancePool lazily instantiates Actor instances on demand and
// recycles them through a bounded, ordered free list (spec §4.D).
type InstancePool struct {
	actor     *Actor
	instances *pooledInstances
}

// NewInstancePool constructs a pool over actor. limit <= 0 means
// unbounded, matching the original's Option<NonZeroUsize> in the
// unbounded (None) case.
func NewInstancePool(actor *Actor, limit int) *InstancePool {
	return &InstancePool{actor: actor, instances: newPooledInstances(limit)}
}

// Actor returns the actor this pool instantiates, the Go realization of
// the original's Deref<Target = Actor> on InstancePool (spec §10
// supplement — Go has no operator overload for that, so it is an
// explicit accessor).
func (p *InstancePool) Actor() *Actor { return p.actor }

func (p *InstancePool) GetLimit() int { return p.instances.getLimit() }

// SetLimit resizes the pool, returning the prior limit.
func (p *InstancePool) SetLimit(limit int) int { return p.instances.setLimit(limit) }

// IncreaseLimit raises the pool's capacity to limit if it is currently
// lower, or if it is currently unbounded, returning the prior limit.
func (p *InstancePool) IncreaseLimit(limit int) int {
	current := p.instances.getLimit()
	if current == 0 || current < limit {
		return p.instances.setLimit(limit)
	}
	return current
}

// DecreaseLimit lowers the pool's capacity to limit if it is currently
// higher or unbounded, returning the prior limit.
func (p *InstancePool) DecreaseLimit(limit int) int {
	current := p.instances.getLimit()
	if current == 0 || current > limit {
		return p.instances.setLimit(limit)
	}
	return current
}

// Instantiate pops a free instance if one is available, otherwise
// instantiates a fresh one from the Actor. The pop itself is race-free
// under the free list's lock; the Actor.Instantiate fallback runs
// outside any pool lock so a cold start never blocks other callers'
// pops (spec §4.D / §9 concurrency note).
func (p *InstancePool) Instantiate(ctx context.Context) (*PooledInstance, error) {
	if inst := p.instances.pop(); inst != nil {
		return &PooledInstance{instance: inst, pool: p}, nil
	}
	inst, err := p.actor.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasm: pool instantiate: %w", err)
	}
	return &PooledInstance{instance: inst, pool: p}, nil
}

// PooledInstance is an Instance borrowed from an InstancePool. Release
// returns it to the caller without giving it back to the pool; absent
// that, the embedding host is expected to call Return explicitly (Go
// has no destructor to run this implicitly the way the original's Drop
// impl does — see SPEC_FULL.md §10).
type PooledInstance struct {
	instance *Instance
	pool     *InstancePool
}

// Instance exposes the borrowed Instance for calls.
func (p *PooledInstance) Instance() *Instance { return p.instance }

// Release takes ownership of the inner Instance without returning it to
// the pool, the Go realization of the original's
// `From<PooledInstance> for Instance` conversion. After Release, Return
// is a no-op.
func (p *PooledInstance) Release() *Instance {
	inst := p.instance
	p.instance = nil
	return inst
}

// Return resets the instance and pushes it back into the pool,
// matching the original's Drop impl on PooledInstance. If the instance
// was already taken via Release, Return does nothing. If the pool is
// at capacity, the instance is closed rather than silently leaked.
func (p *PooledInstance) Return(ctx context.Context) error {
	if p.instance == nil {
		return nil
	}
	inst := p.instance
	p.instance = nil

	if err := inst.Reset(ctx); err != nil {
		_ = inst.Close(ctx)
		return fmt.Errorf("wasm: reset instance on return: %w", err)
	}
	if dropped := p.pool.instances.push(inst); dropped != nil {
		return dropped.Close(ctx)
	}
	return nil
}
