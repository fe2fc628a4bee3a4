// Package router accepts outbound messages, persists them with seeded
// receipts and fans them out to connected participants.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/events"
	"github.com/talkwave/realtime/internal/metrics"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/receipts"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/relay"
	"github.com/talkwave/realtime/internal/repository"
	"github.com/talkwave/realtime/internal/wire"
)

type Options struct {
	PushRetries  int
	PushBackoff  time.Duration
	DeleteWindow time.Duration
}

type Router struct {
	store    repository.Store
	reg      *registry.Registry
	receipts *receipts.Tracker
	dir      directory.Directory
	producer *events.Producer // optional
	notifier *events.Notifier // optional
	relay    *relay.Relay     // optional
	log      *zap.SugaredLogger
	opts     Options
	now      func() time.Time

	qmu    sync.Mutex
	queues map[string]*chatQueue
}

func New(store repository.Store, reg *registry.Registry, rt *receipts.Tracker, dir directory.Directory,
	producer *events.Producer, notifier *events.Notifier, rly *relay.Relay, log *zap.SugaredLogger, opts Options) *Router {
	if opts.PushRetries == 0 {
		opts.PushRetries = 3
	}
	if opts.PushBackoff == 0 {
		opts.PushBackoff = 100 * time.Millisecond
	}
	if opts.DeleteWindow == 0 {
		opts.DeleteWindow = time.Hour
	}
	return &Router{
		store:    store,
		reg:      reg,
		receipts: rt,
		dir:      dir,
		producer: producer,
		notifier: notifier,
		relay:    rly,
		log:      log,
		opts:     opts,
		now:      time.Now,
		queues:   make(map[string]*chatQueue),
	}
}

// Send validates, persists and fans out one message. The returned message
// carries its per-chat sequence number.
func (r *Router) Send(ctx context.Context, senderID, chatID string, payload models.Payload, replyTo string) (*models.Message, error) {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(senderID) {
		return nil, errs.ErrNotParticipant
	}
	if !payload.Kind.Valid() || len(payload.Content) > models.MaxContentBytes {
		return nil, errs.ErrPayloadInvalid
	}
	if payload.Kind == models.ContentText && payload.Content == "" {
		return nil, errs.ErrPayloadInvalid
	}
	if chat.Kind == models.ChatDirect {
		for _, member := range chat.Members {
			if member == senderID {
				continue
			}
			blocked, err := r.dir.IsBlocked(ctx, member, senderID)
			if err != nil {
				r.log.Warnw("block lookup", "chat", chatID, "err", err)
			} else if blocked {
				return nil, errs.ErrBlocked
			}
		}
	}

	// dangling or cross-chat reply references degrade to no reference
	if replyTo != "" {
		ref, err := r.store.GetMessage(ctx, replyTo)
		if err != nil || ref.ChatID != chatID || ref.Deletion == models.DeletionForEveryone {
			replyTo = ""
		}
	}

	job := &sendJob{
		ctx:     ctx,
		chat:    chat,
		sender:  senderID,
		payload: payload,
		replyTo: replyTo,
		resp:    make(chan sendResult, 1),
	}
	r.enqueue(chatID, job)
	res := <-job.resp
	return res.msg, res.err
}

type sendJob struct {
	ctx     context.Context
	chat    *models.Chat
	sender  string
	payload models.Payload
	replyTo string
	resp    chan sendResult
}

type sendResult struct {
	msg *models.Message
	err error
}

type chatQueue struct {
	jobs    []*sendJob
	running bool
}

// enqueue hands the job to the chat's dispatch goroutine, starting one if
// none is running. The lock only guards the queue itself, never I/O.
func (r *Router) enqueue(chatID string, job *sendJob) {
	r.qmu.Lock()
	q := r.queues[chatID]
	if q == nil {
		q = &chatQueue{}
		r.queues[chatID] = q
	}
	q.jobs = append(q.jobs, job)
	if !q.running {
		q.running = true
		go r.drain(chatID, q)
	}
	r.qmu.Unlock()
}

func (r *Router) drain(chatID string, q *chatQueue) {
	for {
		r.qmu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			delete(r.queues, chatID)
			r.qmu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		r.qmu.Unlock()
		job.resp <- r.deliver(job)
	}
}

// deliver runs on the chat's dispatch goroutine. Sequence assignment,
// persistence and the fan-out enqueue happen as one ordered step per chat,
// so frames reach each recipient connection in seq order even when senders
// race.
func (r *Router) deliver(job *sendJob) sendResult {
	ctx := job.ctx
	chat := job.chat
	seq, err := r.store.NextSeq(ctx, chat.ID)
	if err != nil {
		return sendResult{err: err}
	}
	now := r.now().UTC()
	m := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		SenderID:  job.sender,
		Seq:       seq,
		Payload:   job.payload,
		ReplyTo:   job.replyTo,
		Deletion:  models.DeletionActive,
		CreatedAt: now,
	}
	seeded := make([]*models.MessageReceipt, 0, len(chat.Members)-1)
	for _, member := range chat.Members {
		if member == job.sender {
			continue
		}
		seeded = append(seeded, &models.MessageReceipt{
			MessageID: m.ID,
			ChatID:    chat.ID,
			UserID:    member,
			Status:    models.ReceiptSent,
		})
	}
	if err := r.store.InsertMessageWithReceipts(ctx, m, seeded); err != nil {
		return sendResult{err: err}
	}
	metrics.MessagesSent.Inc()

	if r.producer != nil {
		ev := events.MessageSentEvent{MessageID: m.ID, ChatID: chat.ID, SenderID: job.sender, Seq: seq, SentAt: now}
		if err := r.producer.PublishMessageSent(ctx, ev); err != nil {
			r.log.Warnw("message event publish", "message", m.ID, "err", err)
		}
	}

	r.fanOut(ctx, chat, m)
	return sendResult{msg: m}
}

// fanOut enqueues the message on every subscribed recipient connection.
// Enqueue happens synchronously so per-chat ordering is preserved on each
// connection's FIFO queue; only the failure path leaves this ordering.
func (r *Router) fanOut(ctx context.Context, chat *models.Chat, m *models.Message) {
	frame := wire.Message(m)
	conns := r.reg.ConnectionsFor(chat.ID)
	delivered := make(map[string]bool, len(conns))
	for _, c := range conns {
		if c.UserID() == m.SenderID {
			_ = c.Push(frame) // echo to the sender's other devices
			continue
		}
		if err := c.Push(frame); err != nil {
			metrics.FanoutPushes.WithLabelValues("retry").Inc()
			go r.retryPush(ctx, c, m, frame)
			continue
		}
		metrics.FanoutPushes.WithLabelValues("ok").Inc()
		delivered[c.UserID()] = true
	}
	// recipients on other instances get the frame over the shared channel
	// and ack delivered themselves
	if r.relay != nil {
		r.relay.PublishToChat(ctx, chat.ID, "", frame)
	}
	for userID := range delivered {
		if _, err := r.receipts.AckDelivered(ctx, userID, m.ID); err != nil {
			r.log.Warnw("delivered transition", "message", m.ID, "user", userID, "err", err)
		}
	}
	// offline recipients stay at sent and get a push notification
	if r.notifier != nil {
		for _, member := range chat.Members {
			if member == m.SenderID || delivered[member] {
				continue
			}
			if len(r.reg.ConnectionsForUser(member)) > 0 {
				continue // connected but not subscribed; catch-up handles it
			}
			r.notifier.Notify(ctx, events.Notification{
				UserID:    member,
				Kind:      "message",
				ChatID:    chat.ID,
				MessageID: m.ID,
				Title:     "New message",
				Body:      preview(m),
			})
		}
	}
}

// retryPush retries a failed enqueue a bounded number of times. Exhausting
// retries demotes the recipient to catch-up delivery; the send itself never
// fails.
func (r *Router) retryPush(ctx context.Context, c registry.Conn, m *models.Message, frame []byte) {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.PushBackoff), uint64(r.opts.PushRetries))
	err := backoff.Retry(func() error {
		return c.Push(frame)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		metrics.FanoutPushes.WithLabelValues("dropped").Inc()
		r.log.Infow("push retries exhausted, recipient demoted to catch-up",
			"message", m.ID, "user", c.UserID())
		return
	}
	metrics.FanoutPushes.WithLabelValues("ok").Inc()
	if _, err := r.receipts.AckDelivered(ctx, c.UserID(), m.ID); err != nil {
		r.log.Warnw("delivered transition", "message", m.ID, "user", c.UserID(), "err", err)
	}
}

// CatchUp replays messages still in the sent state for the user onto a
// freshly subscribed connection, in sequence order, and marks them
// delivered.
func (r *Router) CatchUp(ctx context.Context, c registry.Conn, chatID string) error {
	msgs, err := r.store.ListUndelivered(ctx, chatID, c.UserID())
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := c.Push(wire.Message(m)); err != nil {
			return err
		}
		if _, err := r.receipts.AckDelivered(ctx, c.UserID(), m.ID); err != nil {
			r.log.Warnw("catch-up delivered transition", "message", m.ID, "user", c.UserID(), "err", err)
		}
	}
	return nil
}

// DeleteForSelf hides the message for one user only.
func (r *Router) DeleteForSelf(ctx context.Context, userID, messageID string) error {
	m, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := r.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(userID) {
		return errs.ErrNotParticipant
	}
	return r.store.MarkDeletedFor(ctx, messageID, userID)
}

// DeleteForEveryone replaces the payload with a tombstone for all
// participants. Sender only, within the delete window, irreversible.
func (r *Router) DeleteForEveryone(ctx context.Context, senderID, messageID string) error {
	m, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != senderID {
		return errs.ErrNotParticipant
	}
	if r.now().UTC().Sub(m.CreatedAt) > r.opts.DeleteWindow {
		return errs.ErrDeleteWindowExpired
	}
	if err := r.store.MarkDeletedForEveryone(ctx, messageID); err != nil {
		return err
	}
	frame := wire.MessageDeleted(m.ChatID, messageID)
	for _, c := range r.reg.ConnectionsFor(m.ChatID) {
		_ = c.Push(frame)
	}
	if r.relay != nil {
		r.relay.PublishToChat(ctx, m.ChatID, "", frame)
	}
	return nil
}

// Typing relays a transient typing indicator to the chat's subscribers.
// Never persisted, never echoed back to the typist.
func (r *Router) Typing(ctx context.Context, chatID, userID string, isTyping bool) error {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(userID) {
		return errs.ErrNotParticipant
	}
	frame := wire.Typing(chatID, userID, isTyping)
	for _, c := range r.reg.ConnectionsFor(chatID) {
		if c.UserID() == userID {
			continue
		}
		_ = c.Push(frame)
	}
	if r.relay != nil {
		r.relay.PublishToChat(ctx, chatID, userID, frame)
	}
	return nil
}

// ListVisible returns the chat history as seen by one user: messages the
// user deleted for themselves are dropped.
func (r *Router) ListVisible(ctx context.Context, userID, chatID string, limit int64, before time.Time) ([]*models.Message, error) {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(userID) {
		return nil, errs.ErrNotParticipant
	}
	msgs, err := r.store.ListMessages(ctx, chatID, limit, before)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		hidden := false
		for _, u := range m.DeletedBy {
			if u == userID {
				hidden = true
				break
			}
		}
		if !hidden {
			out = append(out, m)
		}
	}
	return out, nil
}

// Subscribe checks membership, registers the subscription and replays
// undelivered messages. Registration precedes the replay snapshot, so a
// message fanned out in the gap can arrive twice (push and replay); frame
// delivery is at-least-once and the delivered transition is idempotent.
// Membership revocation elsewhere calls Registry.RevokeUser.
func (r *Router) Subscribe(ctx context.Context, c registry.Conn, chatID string) error {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(c.UserID()) {
		return errs.ErrNotParticipant
	}
	if !r.reg.Subscribe(c.ID(), chatID) {
		return errs.ErrNotFound
	}
	return r.CatchUp(ctx, c, chatID)
}

// RemoveMember drops a user from a group chat and immediately revokes any
// live subscriptions.
func (r *Router) RemoveMember(ctx context.Context, actorID, chatID, userID string) error {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	isAdmin := false
	for _, a := range chat.Admins {
		if a == actorID {
			isAdmin = true
			break
		}
	}
	if !isAdmin && actorID != userID {
		return errs.ErrNotParticipant
	}
	if err := r.store.RemoveMember(ctx, chatID, userID); err != nil {
		return err
	}
	r.reg.RevokeUser(chatID, userID)
	return nil
}

func preview(m *models.Message) string {
	if m.Payload.Kind == models.ContentText {
		s := m.Payload.Content
		if len(s) > 80 {
			s = s[:80]
		}
		return s
	}
	return "[" + string(m.Payload.Kind) + "]"
}
