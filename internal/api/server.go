package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/auth"
	"github.com/talkwave/realtime/internal/metrics"
	"github.com/talkwave/realtime/internal/ws"
)

// NewServer assembles the fiber app: REST surface, websocket upgrade,
// metrics and health.
func NewServer(h *Handlers, wsSrv *ws.Server, jv *auth.JWTValidator, rl *IPRateLimiter, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsSrv.HandleWS()))

	api := app.Group("/v1", BearerAuth(jv), rl.Handler())

	api.Post("/chats", h.createChat)
	api.Get("/chats/:chat_id/messages", h.listMessages)
	api.Post("/chats/:chat_id/read", h.markChatRead)
	api.Delete("/chats/:chat_id/members/:user_id", h.removeMember)
	api.Post("/chats/:chat_id/group-calls", h.startGroupCall)

	api.Post("/messages", h.sendMessage)
	api.Post("/messages/:msg_id/delivered", h.ackDelivered)
	api.Post("/messages/:msg_id/read", h.ackRead)
	api.Delete("/messages/:msg_id", h.deleteMessage)
	api.Put("/messages/:msg_id/reaction", h.setReaction)
	api.Delete("/messages/:msg_id/reaction", h.clearReaction)

	api.Get("/users/:user_id/presence", h.getPresence)

	api.Post("/statuses", h.publishStatus)
	api.Get("/statuses", h.statusFeed)
	api.Post("/statuses/:status_id/view", h.viewStatus)
	api.Get("/statuses/:status_id/views", h.statusViews)
	api.Delete("/statuses/:status_id", h.deleteStatus)

	api.Post("/calls", h.startCall)
	api.Post("/calls/:call_id/answer", h.answerCall)
	api.Post("/calls/:call_id/decline", h.declineCall)
	api.Post("/calls/:call_id/end", h.endCall)
	api.Post("/group-calls/:call_id/join", h.joinGroupCall)
	api.Post("/group-calls/:call_id/leave", h.leaveGroupCall)
	api.Post("/group-calls/:call_id/end", h.endGroupCall)

	log.Infow("routes registered")
	return app
}
