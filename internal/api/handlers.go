package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/talkwave/realtime/internal/calls"
	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/presence"
	"github.com/talkwave/realtime/internal/receipts"
	"github.com/talkwave/realtime/internal/repository"
	"github.com/talkwave/realtime/internal/router"
	"github.com/talkwave/realtime/internal/status"
)

type Handlers struct {
	store    repository.Store
	router   *router.Router
	receipts *receipts.Tracker
	presence *presence.Service
	statuses *status.Service
	calls    *calls.Service
}

func NewHandlers(store repository.Store, rtr *router.Router, rt *receipts.Tracker,
	pres *presence.Service, st *status.Service, cs *calls.Service) *Handlers {
	return &Handlers{store: store, router: rtr, receipts: rt, presence: pres, statuses: st, calls: cs}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrChatNotFound), errors.Is(err, errs.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errs.ErrNotParticipant), errors.Is(err, errs.ErrBlocked),
		errors.Is(err, errs.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, errs.ErrPayloadInvalid), errors.Is(err, errs.ErrDeleteWindowExpired):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(httpStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func reqCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), 5*time.Second)
}

func (h *Handlers) createChat(c *fiber.Ctx) error {
	var req struct {
		Kind    models.ChatKind `json:"kind"`
		Name    string          `json:"name"`
		Members []string        `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	uid := userID(c)
	switch req.Kind {
	case models.ChatDirect, models.ChatGroup, models.ChatBroadcast:
	default:
		return fail(c, errs.ErrPayloadInvalid)
	}
	members := req.Members
	found := false
	for _, m := range members {
		if m == uid {
			found = true
			break
		}
	}
	if !found {
		members = append(members, uid)
	}
	if req.Kind == models.ChatDirect && len(members) != 2 {
		return fail(c, errs.ErrPayloadInvalid)
	}
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Name:      req.Name,
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Kind != models.ChatDirect {
		chat.Admins = []string{uid}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.store.CreateChat(ctx, chat); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": chat})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		ChatID  string         `json:"chat_id"`
		Payload models.Payload `json:"payload"`
		ReplyTo string         `json:"reply_to"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.router.Send(ctx, userID(c), req.ChatID, req.Payload, req.ReplyTo)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	limit := int64(c.QueryInt("limit", 50))
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.router.ListVisible(ctx, userID(c), chatID, limit, time.Time{})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *Handlers) ackDelivered(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	agg, err := h.receipts.AckDelivered(ctx, userID(c), c.Params("msg_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "aggregate": agg})
}

func (h *Handlers) ackRead(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	agg, err := h.receipts.AckRead(ctx, userID(c), c.Params("msg_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "aggregate": agg})
}

// markChatRead acknowledges every recent message in the chat not sent by the
// caller.
func (h *Handlers) markChatRead(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	uid := userID(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.router.ListVisible(ctx, uid, chatID, 200, time.Time{})
	if err != nil {
		return fail(c, err)
	}
	for _, m := range msgs {
		if m.SenderID == uid {
			continue
		}
		if _, err := h.receipts.AckRead(ctx, uid, m.ID); err != nil && !errors.Is(err, errs.ErrNotParticipant) {
			return fail(c, err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	msgID := c.Params("msg_id")
	ctx, cancel := reqCtx(c)
	defer cancel()
	if c.Query("scope", "me") == "everyone" {
		if err := h.router.DeleteForEveryone(ctx, userID(c), msgID); err != nil {
			return fail(c, err)
		}
	} else if err := h.router.DeleteForSelf(ctx, userID(c), msgID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) setReaction(c *fiber.Ctx) error {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.receipts.SetReaction(ctx, userID(c), c.Params("msg_id"), req.Emoji); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) clearReaction(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.receipts.ClearReaction(ctx, userID(c), c.Params("msg_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) removeMember(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.router.RemoveMember(ctx, userID(c), c.Params("chat_id"), c.Params("user_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) getPresence(c *fiber.Ctx) error {
	target := c.Params("user_id")
	ctx, cancel := reqCtx(c)
	defer cancel()
	online := h.presence.IsOnline(ctx, target)
	out := fiber.Map{"status": "ok", "online": online}
	if ts, ok := h.presence.LastSeenFor(ctx, target, userID(c)); ok {
		out["last_seen"] = ts.UTC().Format(time.RFC3339)
	}
	return c.JSON(out)
}

func (h *Handlers) publishStatus(c *fiber.Ctx) error {
	var req struct {
		Kind       models.ContentKind `json:"kind"`
		Content    string             `json:"content"`
		MediaURL   string             `json:"media_url"`
		Background string             `json:"background"`
		Font       string             `json:"font"`
		Audience   models.Privacy     `json:"audience"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.statuses.Publish(ctx, userID(c), status.PublishInput{
		Kind:       req.Kind,
		Content:    req.Content,
		MediaURL:   req.MediaURL,
		Background: req.Background,
		Font:       req.Font,
		Audience:   req.Audience,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": st})
}

func (h *Handlers) statusFeed(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	feed, err := h.statuses.Feed(ctx, userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": feed})
}

func (h *Handlers) viewStatus(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.statuses.RecordView(ctx, c.Params("status_id"), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) statusViews(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	views, err := h.statuses.Views(ctx, c.Params("status_id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": views})
}

func (h *Handlers) deleteStatus(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.statuses.Delete(ctx, c.Params("status_id"), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) startCall(c *fiber.Ctx) error {
	var req struct {
		ReceiverID string `json:"receiver_id"`
		Video      bool   `json:"video"`
	}
	if err := c.BodyParser(&req); err != nil || req.ReceiverID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	call, err := h.calls.Start(ctx, userID(c), req.ReceiverID, req.Video)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": call})
}

func (h *Handlers) answerCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	call, err := h.calls.Answer(ctx, userID(c), c.Params("call_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": call})
}

func (h *Handlers) declineCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	call, err := h.calls.Decline(ctx, userID(c), c.Params("call_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": call})
}

func (h *Handlers) endCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	call, err := h.calls.End(ctx, userID(c), c.Params("call_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": call})
}

func (h *Handlers) startGroupCall(c *fiber.Ctx) error {
	var req struct {
		Video bool `json:"video"`
	}
	_ = c.BodyParser(&req)
	ctx, cancel := reqCtx(c)
	defer cancel()
	gc, err := h.calls.StartGroup(ctx, userID(c), c.Params("chat_id"), req.Video)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": gc})
}

func (h *Handlers) joinGroupCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.calls.JoinGroup(ctx, userID(c), c.Params("call_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) leaveGroupCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.calls.LeaveGroup(ctx, userID(c), c.Params("call_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) endGroupCall(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.calls.EndGroup(ctx, userID(c), c.Params("call_id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
