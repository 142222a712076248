package chain

import "github.com/cellnetio/cellchaind/externalapi"

// EventKind discriminates a ChainEvent.
type EventKind uint8

const (
	// EventNewTip is emitted when the tip advances by a pure extension,
	// with no block detached from the previous tip.
	EventNewTip EventKind = iota
	// EventChainReorg is emitted instead of EventNewTip whenever a tip
	// change (a reorg or a Truncate) detached one or more blocks from
	// the previous tip.
	EventChainReorg
)

// ChainEvent is the broadcast payload delivered to subscribers (the
// transaction pool, indexer, RPC tip queries) on every tip change.
type ChainEvent struct {
	Kind                EventKind
	Detached            []*externalapi.Block
	Attached            []*externalapi.Block
	DetachedProposalIDs map[externalapi.ProposalShortID]struct{}
	Snapshot            *externalapi.Snapshot
}

// subscriberChanCapacity bounds each subscriber's channel; a full
// channel means the writer coalesces by replacing the pending event
// rather than blocking.
const subscriberChanCapacity = 1

// Subscribe registers a new subscriber channel and returns it. Callers
// must keep draining it; the writer never blocks on a slow subscriber.
func (s *Service) Subscribe() <-chan ChainEvent {
	ch := make(chan ChainEvent, subscriberChanCapacity)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

// publish delivers ev to every subscriber without blocking: if a
// subscriber's channel is full, its stale pending event is dropped and
// replaced with ev so a slow consumer only ever sees the latest state,
// never an artificially backed-up queue.
func (s *Service) publish(ev ChainEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
