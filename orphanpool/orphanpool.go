// Package orphanpool buffers blocks whose parent has not yet been
// accepted and releases them, in topological order, once the parent
// arrives. It is grounded on the orphans/prevOrphans/
// newestOrphan machinery in blockdag/dag.go (addOrphanBlock,
// removeOrphanBlock), generalized from a single-parent-per-block DAG
// orphan cache (one prevOrphans entry per parent) into the
// leader-counted, capacity-bounded pool spec'd for a linear chain.
package orphanpool

import (
	"sync"

	"github.com/cellnetio/cellchaind/externalapi"
	"github.com/cellnetio/cellchaind/internal/hashing"
)

// DefaultCapacity is the default maximum number of orphan blocks held
// at once.
const DefaultCapacity = 1024

// Pool buffers parent-less blocks.
type Pool struct {
	mu sync.Mutex

	capacity int
	blocks   map[externalapi.Byte32]*externalapi.OrphanEntry
	parents  map[externalapi.Byte32]map[externalapi.Byte32]struct{}

	leadersLen int
	order      []externalapi.Byte32 // insertion order, oldest first, for leader eviction
}

// New returns an empty Pool with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity: capacity,
		blocks:   make(map[externalapi.Byte32]*externalapi.OrphanEntry),
		parents:  make(map[externalapi.Byte32]map[externalapi.Byte32]struct{}),
	}
}

// Insert adds entry, keyed by its block's hash. If an entry with the
// same hash already exists, the existing one is kept. Enforces
// capacity by evicting the oldest leader (and its descendants) on
// overflow.
func (p *Pool) Insert(entry *externalapi.OrphanEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := hashing.HeaderHash(&entry.Block.Header)
	if _, exists := p.blocks[hash]; exists {
		return
	}

	parentHash := entry.Block.Header.ParentHash
	_, parentIsOrphan := p.blocks[parentHash]
	if parentIsOrphan {
		p.leadersLen--
	} else {
		p.leadersLen++
	}

	if len(p.blocks)+1 > p.capacity {
		p.evictOldestLeaderLocked()
	}

	p.blocks[hash] = entry
	p.order = append(p.order, hash)
	if p.parents[parentHash] == nil {
		p.parents[parentHash] = make(map[externalapi.Byte32]struct{})
	}
	p.parents[parentHash][hash] = struct{}{}
}

// evictOldestLeaderLocked removes the oldest entry whose parent is not
// itself an orphan, along with every descendant it roots. Must be
// called with p.mu held.
func (p *Pool) evictOldestLeaderLocked() {
	for _, hash := range p.order {
		entry, ok := p.blocks[hash]
		if !ok {
			continue
		}
		if _, parentIsOrphan := p.blocks[entry.Block.Header.ParentHash]; parentIsOrphan {
			continue
		}
		p.removeSubtreeLocked(hash)
		return
	}
}

// removeSubtreeLocked removes root and every orphan reachable from it
// through parents, via BFS. Must be called with p.mu held.
func (p *Pool) removeSubtreeLocked(root externalapi.Byte32) {
	queue := []externalapi.Byte32{root}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		entry, ok := p.blocks[hash]
		if !ok {
			continue
		}
		children := p.parents[hash]
		for child := range children {
			queue = append(queue, child)
		}
		p.removeOneLocked(hash, entry)
	}
}

// removeOneLocked removes a single entry from both indexes, adjusting
// leadersLen. Must be called with p.mu held.
func (p *Pool) removeOneLocked(hash externalapi.Byte32, entry *externalapi.OrphanEntry) {
	delete(p.blocks, hash)
	parentHash := entry.Block.Header.ParentHash
	if siblings := p.parents[parentHash]; siblings != nil {
		delete(siblings, hash)
		if len(siblings) == 0 {
			delete(p.parents, parentHash)
		}
	}
	if _, parentIsOrphan := p.blocks[parentHash]; !parentIsOrphan {
		p.leadersLen--
	}
	for i, h := range p.order {
		if h == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// RemoveBlocksByParent walks the pool's parent index breadth-first from
// parentHash, collecting every descendant in breadth order (a
// topological ordering, since each block has exactly one parent),
// removes them all from both indexes, and returns them for
// re-submission.
func (p *Pool) RemoveBlocksByParent(parentHash externalapi.Byte32) []*externalapi.OrphanEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var released []*externalapi.OrphanEntry
	queue := []externalapi.Byte32{parentHash}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children := p.parents[current]
		if len(children) == 0 {
			continue
		}
		childHashes := make([]externalapi.Byte32, 0, len(children))
		for child := range children {
			childHashes = append(childHashes, child)
		}
		for _, child := range childHashes {
			entry := p.blocks[child]
			released = append(released, entry)
			queue = append(queue, child)
			p.removeOneLocked(child, entry)
		}
	}
	return released
}

// CleanExpiredBlocks drops every entry whose block's epoch number is
// strictly less than tipEpochNumber -- such blocks can no longer be
// extended -- and returns the dropped entries.
func (p *Pool) CleanExpiredBlocks(tipEpochNumber uint64) []*externalapi.OrphanEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*externalapi.OrphanEntry
	for _, hash := range append([]externalapi.Byte32(nil), p.order...) {
		entry, ok := p.blocks[hash]
		if !ok {
			continue
		}
		if entry.Block.Header.Epoch().Number < tipEpochNumber {
			expired = append(expired, entry)
			p.removeOneLocked(hash, entry)
		}
	}
	return expired
}

// Get returns the orphan entry for hash, if present.
func (p *Pool) Get(hash externalapi.Byte32) (*externalapi.OrphanEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.blocks[hash]
	return entry, ok
}

// Len returns the number of orphans currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}
