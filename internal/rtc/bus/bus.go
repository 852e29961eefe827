// Package bus defines the in-process media bus that decouples a
// PublishStream's ingest side from zero or more PlayStream egress
// sides for the same source. It is the external collaborator named
// "RtcStream" in the connection/publish/play design: publish writes
// packets in, play consumers wait for and drain them out.
package bus

import (
	"context"
	"sync"

	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
)

// Packet is one RTP packet plus the track it belongs to, as handed
// from a PublishStream to every subscribed Consumer.
type Packet struct {
	TrackID string
	Data    []byte
}

// KeyframeRequester is the publish side's PLI-on-demand surface: a
// PlayStream that receives a PLI from its player has no reference of
// its own to the publisher whose keyframe it actually needs, so it
// reaches it through the Source both sides share instead.
type KeyframeRequester interface {
	RequestKeyframe(ssrc uint32)
}

// Source is a single published stream: one or more tracks, fed by a
// PublishStream and fanned out to any number of Consumers.
type Source interface {
	ID() string
	TrackDescriptions() []track.TrackDescription
	SetTrackDescriptions(tds []track.TrackDescription)
	SetPublishStream(active bool)
	IsPublishing() bool
	CreateConsumer() Consumer
	Publish(pkt Packet)

	// SetKeyframeRequester points this Source at the publish side that
	// should receive PLI requests originating from a play-side viewer,
	// as set by the Publish handler once PublishStream exists.
	SetKeyframeRequester(r KeyframeRequester)
	// RequestKeyframe forwards a PLI for ssrc (the publish-side SSRC,
	// not any play-side SSRC assigned to a viewer) to the attached
	// KeyframeRequester, if any.
	RequestKeyframe(ssrc uint32)
}

// Consumer is one PlayStream's view of a Source: it waits for new
// packets and drains whatever has accumulated since the last wait.
type Consumer interface {
	Wait(ctx context.Context, minMsgs int) error
	DumpPackets() []Packet
	Close()
}

// Registry is the FetchOrCreate surface used by Connection when a
// publish or play request arrives for a given stream id.
type Registry interface {
	FetchOrCreate(streamID string) Source
	Fetch(streamID string) (Source, bool)
	Remove(streamID string)
}

// memorySource is the default in-process Source implementation,
// adapted from the track-forwarding goroutine pattern in the
// teacher's SFUService.forwardTrackToSubscribers: here the fan-out is
// a channel per consumer instead of a direct WriteRTP call, since a
// Source here has no direct reference to any one transport.
type memorySource struct {
	id string

	mu          sync.RWMutex
	tracks      []track.TrackDescription
	publishing  bool
	consumers   map[*memoryConsumer]struct{}
	keyframeReq KeyframeRequester
}

func newMemorySource(id string) *memorySource {
	return &memorySource{id: id, consumers: make(map[*memoryConsumer]struct{})}
}

func (s *memorySource) ID() string { return s.id }

func (s *memorySource) TrackDescriptions() []track.TrackDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]track.TrackDescription, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *memorySource) SetTrackDescriptions(tds []track.TrackDescription) {
	s.mu.Lock()
	s.tracks = tds
	s.mu.Unlock()
}

func (s *memorySource) SetPublishStream(active bool) {
	s.mu.Lock()
	s.publishing = active
	s.mu.Unlock()
}

func (s *memorySource) IsPublishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishing
}

func (s *memorySource) CreateConsumer() Consumer {
	c := &memoryConsumer{
		signal: make(chan struct{}, 1),
		source: s,
	}
	s.mu.Lock()
	s.consumers[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *memorySource) Publish(pkt Packet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.consumers {
		c.push(pkt)
	}
}

func (s *memorySource) SetKeyframeRequester(r KeyframeRequester) {
	s.mu.Lock()
	s.keyframeReq = r
	s.mu.Unlock()
}

func (s *memorySource) RequestKeyframe(ssrc uint32) {
	s.mu.RLock()
	r := s.keyframeReq
	s.mu.RUnlock()
	if r != nil {
		r.RequestKeyframe(ssrc)
	}
}

func (s *memorySource) removeConsumer(c *memoryConsumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

type memoryConsumer struct {
	mu     sync.Mutex
	queue  []Packet
	signal chan struct{}
	source *memorySource
}

func (c *memoryConsumer) push(pkt Packet) {
	c.mu.Lock()
	c.queue = append(c.queue, pkt)
	n := len(c.queue)
	c.mu.Unlock()
	if n > 0 {
		select {
		case c.signal <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until at least minMsgs packets are queued (the "mw_msgs"
// merge-write batching the config layer exposes) or ctx ends.
func (c *memoryConsumer) Wait(ctx context.Context, minMsgs int) error {
	for {
		c.mu.Lock()
		n := len(c.queue)
		c.mu.Unlock()
		if n >= minMsgs {
			return nil
		}
		select {
		case <-c.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *memoryConsumer) DumpPackets() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *memoryConsumer) Close() {
	c.source.removeConsumer(c)
}

// memoryRegistry is the default Registry, backing local/test runs; a
// Redis-backed Registry can satisfy the same interface for multi-
// instance deployments.
type memoryRegistry struct {
	mu      sync.Mutex
	sources map[string]*memorySource
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{sources: make(map[string]*memorySource)}
}

func (r *memoryRegistry) FetchOrCreate(streamID string) Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[streamID]; ok {
		return s
	}
	s := newMemorySource(streamID)
	r.sources[streamID] = s
	return s
}

func (r *memoryRegistry) Fetch(streamID string) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[streamID]
	return s, ok
}

func (r *memoryRegistry) Remove(streamID string) {
	r.mu.Lock()
	delete(r.sources, streamID)
	r.mu.Unlock()
}
