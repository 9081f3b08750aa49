// Package broker provides the in-memory channel registry at the heart of the
// real-time layer. It maps channel names to sets of subscriber sinks and fans
// published messages out to them. Channels exist implicitly: they appear when
// the first sink joins and are pruned when the last one leaves.
package broker

import (
	"hash/fnv"
	"log/slog"
	"sync"
)

// Sink abstracts one live connection capable of receiving messages.
// Deliver must not block; implementations enqueue into a bounded buffer and
// return an error when the connection is gone or the buffer is full.
type Sink interface {
	ID() string
	Deliver(msg *Message) error
}

// shardCount spreads channels across independently locked buckets so traffic
// on unrelated channels never contends.
const shardCount = 32

type shard struct {
	mu   sync.RWMutex
	subs map[string]map[Sink]struct{}
}

// Broker is a sharded channel→sink registry. All methods are safe for
// concurrent use; operations on the same channel are linearizable with
// respect to each other.
type Broker struct {
	shards [shardCount]shard
}

// New creates a ready-to-use Broker.
func New() *Broker {
	b := &Broker{}
	for i := range b.shards {
		b.shards[i].subs = make(map[string]map[Sink]struct{})
	}
	return b
}

func (b *Broker) shardFor(channel string) *shard {
	h := fnv.New32a()
	h.Write([]byte(channel))
	return &b.shards[h.Sum32()%shardCount]
}

// Join registers sink under channel. Joining the same (channel, sink) pair
// twice is a no-op, so a message is never delivered to a sink more than once.
func (b *Broker) Join(channel string, sink Sink) {
	s := b.shardFor(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[Sink]struct{})
	}
	s.subs[channel][sink] = struct{}{}
}

// Leave removes sink from channel. A no-op if the sink was never joined.
// The channel entry is pruned when its last sink leaves.
func (b *Broker) Leave(channel string, sink Sink) {
	s := b.shardFor(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(channel, sink)
}

func (s *shard) removeLocked(channel string, sink Sink) {
	if subs, ok := s.subs[channel]; ok {
		delete(subs, sink)
		if len(subs) == 0 {
			delete(s.subs, channel)
		}
	}
}

// LeaveAll removes sink from every channel it joined. Used on disconnect.
// Safe to call concurrently with in-flight publishes: a publish that
// snapshotted the subscriber set before removal may still attempt delivery,
// which then fails against the closed sink and is logged, not retried.
func (b *Broker) LeaveAll(sink Sink) {
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		for channel, subs := range s.subs {
			if _, ok := subs[sink]; ok {
				delete(subs, sink)
				if len(subs) == 0 {
					delete(s.subs, channel)
				}
			}
		}
		s.mu.Unlock()
	}
}

// Publish delivers msg to every sink currently joined to channel and returns
// the number of sinks delivery was attempted against. Publishing to a channel
// with no subscribers returns 0; it is not an error.
//
// The subscriber set is snapshotted under the shard lock and delivery happens
// outside it, so a slow sink cannot stall joins, leaves or other publishes.
// A failed delivery removes that sink from the channel and never surfaces to
// the publisher.
func (b *Broker) Publish(channel string, msg *Message) int {
	s := b.shardFor(channel)

	s.mu.RLock()
	targets := make([]Sink, 0, len(s.subs[channel]))
	for sink := range s.subs[channel] {
		targets = append(targets, sink)
	}
	s.mu.RUnlock()

	var failed []Sink
	for _, sink := range targets {
		if err := sink.Deliver(msg); err != nil {
			slog.Warn("dropping subscriber after failed delivery",
				slog.String("channel", channel),
				slog.String("sink_id", sink.ID()),
				slog.String("error", err.Error()))
			failed = append(failed, sink)
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		for _, sink := range failed {
			s.removeLocked(channel, sink)
		}
		s.mu.Unlock()
	}

	return len(targets)
}

// Subscribers reports how many sinks are currently joined to channel.
func (b *Broker) Subscribers(channel string) int {
	s := b.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[channel])
}
