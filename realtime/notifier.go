package realtime

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// EventSink receives serialized envelopes that could not be published so
// they are not lost outright.
type EventSink interface {
	EnqueueEvent(ctx context.Context, data []byte) error
}

// Envelope is the wire form of a board event on the pub/sub channel.
type Envelope struct {
	BoardID string          `json:"boardId"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Publisher pushes board events onto a shared Redis channel so every running
// instance can fan them out to its own sessions.
type Publisher struct {
	redis   *redis.Client
	channel string
	sink    EventSink
	logger  *log.Logger
}

// NewPublisher creates a Publisher on the given channel. sink may be nil, in
// which case undeliverable events are only logged.
func NewPublisher(rdb *redis.Client, channel string, sink EventSink, logger *log.Logger) *Publisher {
	return &Publisher{redis: rdb, channel: channel, sink: sink, logger: logger}
}

// Publish serializes the event and publishes it. Failures never propagate to
// the caller; the request that triggered the event has already succeeded.
func (p *Publisher) Publish(ctx context.Context, boardID, event string, payload any) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).WithField("event", event).Error("marshal event payload")
		return
	}
	msg, err := sonic.ConfigStd.Marshal(Envelope{BoardID: boardID, Event: event, Data: data})
	if err != nil {
		p.logger.WithError(err).WithField("event", event).Error("marshal event envelope")
		return
	}
	if err := p.redis.Publish(ctx, p.channel, msg).Err(); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"event": event,
			"board": boardID,
		}).Warn("publish failed, parking event")
		if p.sink == nil {
			return
		}
		if qerr := p.sink.EnqueueEvent(ctx, msg); qerr != nil {
			p.logger.WithError(qerr).Error("park undelivered event")
		}
	}
}
