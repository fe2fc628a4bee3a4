// Package relay forwards realtime frames between instances over Redis
// pub/sub, so recipients connected to another instance still get live
// delivery.
package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/registry"
)

type envelope struct {
	Origin string          `json:"origin"`
	ChatID string          `json:"chat_id,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Skip   string          `json:"skip,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay bridges the local registry and the shared frame channel. Published
// envelopes carry the instance id so each publisher drops its own frames on
// the way back in.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	reg     *registry.Registry
	log     *zap.SugaredLogger
}

func New(client *redis.Client, channel, origin string, reg *registry.Registry, log *zap.SugaredLogger) *Relay {
	return &Relay{client: client, channel: channel, origin: origin, reg: reg, log: log}
}

// PublishToChat shares a chat frame with the other instances. skipUserID
// excludes that user's remote connections, mirroring the local echo rules.
// Best effort: local delivery already happened.
func (r *Relay) PublishToChat(ctx context.Context, chatID, skipUserID string, frame []byte) {
	r.publish(ctx, envelope{Origin: r.origin, ChatID: chatID, Skip: skipUserID, Frame: frame})
}

// PublishToUser shares a user-directed frame with the other instances.
func (r *Relay) PublishToUser(ctx context.Context, userID string, frame []byte) {
	r.publish(ctx, envelope{Origin: r.origin, UserID: userID, Frame: frame})
}

func (r *Relay) publish(ctx context.Context, env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		r.log.Warnw("frame relay publish", "channel", r.channel, "err", err)
	}
}

// Run consumes the shared channel until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

// handle replays one published envelope onto local connections.
func (r *Relay) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Debugw("frame relay decode", "err", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.UserID != "" {
		r.reg.PushToUser(env.UserID, env.Frame)
		return
	}
	for _, c := range r.reg.ConnectionsFor(env.ChatID) {
		if env.Skip != "" && c.UserID() == env.Skip {
			continue
		}
		_ = c.Push(env.Frame)
	}
}
