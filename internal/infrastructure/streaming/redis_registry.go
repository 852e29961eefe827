package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/core/domain"
	"github.com/rillnet-labs/rtcedge/internal/infrastructure/distributed"
	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
	"github.com/rillnet-labs/rtcedge/pkg/circuitbreaker"
)

const (
	streamKeyPrefix = "rtcedge:stream:"
	streamRecordTTL = 30 * time.Second
)

// RedisRegistry backs bus.Registry for a multi-instance deployment. An
// RTP packet only ever needs to reach play connections held by the
// same process that terminated the publisher's DTLS session, so the
// actual fan-out for a Source stays local (delegated to an in-process
// bus.Registry); what Redis adds is presence -- which stream ids are
// currently publishing, and with which tracks -- so any instance's
// play handler can tell a stream exists on the fleet (even if not on
// this node) before answering 404.
//
// Every Redis round trip goes through a circuit breaker: a publish or
// play request that merely wants to mirror presence metadata must not
// pile up on a slow or down Redis the way a direct call would.
type RedisRegistry struct {
	local  bus.Registry
	client *redis.Client
	log    *zap.SugaredLogger
	cb     *circuitbreaker.CircuitBreaker
	events *distributed.EventBus
}

// NewRedisRegistry wires a RedisRegistry to an already-connected Redis
// client. instanceID identifies this process in events published to
// other instances (EventBus skips events it sees come back from
// itself).
func NewRedisRegistry(client *redis.Client, instanceID string, log *zap.SugaredLogger) *RedisRegistry {
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		log.Warnw("redis registry circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return &RedisRegistry{
		local:  bus.NewMemoryRegistry(),
		client: client,
		log:    log,
		cb:     cb,
		events: distributed.NewEventBus(client, instanceID, log),
	}
}

func (r *RedisRegistry) FetchOrCreate(streamID string) bus.Source {
	return &redisSource{Source: r.local.FetchOrCreate(streamID), streamID: streamID, registry: r}
}

func (r *RedisRegistry) Fetch(streamID string) (bus.Source, bool) {
	src, ok := r.local.Fetch(streamID)
	if !ok {
		return nil, false
	}
	return &redisSource{Source: src, streamID: streamID, registry: r}, true
}

func (r *RedisRegistry) Remove(streamID string) {
	r.local.Remove(streamID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.cb.Execute(ctx, func() error {
		return r.client.Del(ctx, streamKeyPrefix+streamID).Err()
	})
	if err != nil {
		r.log.Warnw("failed to remove stream record from redis", "stream_id", streamID, "error", err)
	}
	if err := r.events.Publish(ctx, &distributed.Event{Type: distributed.EventStreamEnded, StreamID: domain.StreamID(streamID)}); err != nil {
		r.log.Debugw("failed to publish stream-ended event", "stream_id", streamID, "error", err)
	}
}

// ExistsAnywhere reports whether streamID is currently publishing on
// any instance sharing this Redis, regardless of whether it is
// playable from this one.
func (r *RedisRegistry) ExistsAnywhere(streamID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var n int64
	err := r.cb.Execute(ctx, func() error {
		var execErr error
		n, execErr = r.client.Exists(ctx, streamKeyPrefix+streamID).Result()
		return execErr
	})
	return err == nil && n > 0
}

// redisSource wraps a local bus.Source, mirroring SetTrackDescriptions/
// SetPublishStream into Redis so other instances can discover this
// stream; every other method is the embedded local Source's.
type redisSource struct {
	bus.Source
	streamID string
	registry *RedisRegistry
}

func (s *redisSource) SetTrackDescriptions(tds []track.TrackDescription) {
	s.Source.SetTrackDescriptions(tds)
	data, err := json.Marshal(tds)
	if err != nil {
		s.registry.log.Warnw("failed to marshal track descriptions", "stream_id", s.streamID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wasKnown := s.registry.ExistsAnywhere(s.streamID)
	err = s.registry.cb.Execute(ctx, func() error {
		return s.registry.client.Set(ctx, streamKeyPrefix+s.streamID, data, streamRecordTTL).Err()
	})
	if err != nil {
		s.registry.log.Warnw("failed to publish stream record to redis", "stream_id", s.streamID, "error", err)
		return
	}
	if !wasKnown {
		if err := s.registry.events.Publish(ctx, &distributed.Event{Type: distributed.EventStreamCreated, StreamID: domain.StreamID(s.streamID)}); err != nil {
			s.registry.log.Debugw("failed to publish stream-created event", "stream_id", s.streamID, "error", err)
		}
	}
}

func (s *redisSource) SetPublishStream(active bool) {
	s.Source.SetPublishStream(active)
	if !active {
		s.registry.Remove(s.streamID)
	}
}
