package repository

import (
	"context"
	"time"

	"github.com/talkwave/realtime/internal/models"
)

type ChatRepository interface {
	CreateChat(ctx context.Context, c *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	NextSeq(ctx context.Context, chatID string) (int64, error)
	RemoveMember(ctx context.Context, chatID, userID string) error
}

type MessageRepository interface {
	// InsertMessageWithReceipts persists the message and its seeded receipts
	// as one atomic unit.
	InsertMessageWithReceipts(ctx context.Context, m *models.Message, receipts []*models.MessageReceipt) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, limit int64, before time.Time) ([]*models.Message, error)
	MarkDeletedForEveryone(ctx context.Context, id string) error
	MarkDeletedFor(ctx context.Context, id, userID string) error
}

type ReceiptRepository interface {
	GetReceipt(ctx context.Context, messageID, userID string) (*models.MessageReceipt, error)
	ListReceipts(ctx context.Context, messageID string) ([]*models.MessageReceipt, error)
	SetReceiptStatus(ctx context.Context, messageID, userID string, status models.ReceiptStatus, at time.Time) error
	// ListUndelivered returns messages in the chat whose receipt for the user
	// is still in the sent state, ordered by sequence number.
	ListUndelivered(ctx context.Context, chatID, userID string) ([]*models.Message, error)
}

type ReactionRepository interface {
	SetReaction(ctx context.Context, r *models.MessageReaction) error
	ClearReaction(ctx context.Context, messageID, userID string) error
	ListReactions(ctx context.Context, messageID string) ([]*models.MessageReaction, error)
}

type StatusRepository interface {
	InsertStatus(ctx context.Context, s *models.Status) error
	GetStatus(ctx context.Context, id string) (*models.Status, error)
	ListActive(ctx context.Context, ownerIDs []string, now time.Time) ([]*models.Status, error)
	DeleteStatus(ctx context.Context, id, ownerID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// InsertView records the first view by a viewer; later calls report created=false.
	InsertView(ctx context.Context, v *models.StatusView) (created bool, err error)
	ListViews(ctx context.Context, statusID string) ([]*models.StatusView, error)
}

type CallRepository interface {
	InsertCall(ctx context.Context, c *models.Call) error
	GetCall(ctx context.Context, id string) (*models.Call, error)
	UpdateCall(ctx context.Context, c *models.Call) error
	InsertGroupCall(ctx context.Context, gc *models.GroupCall) error
	GetGroupCall(ctx context.Context, id string) (*models.GroupCall, error)
	UpdateGroupCall(ctx context.Context, gc *models.GroupCall) error
	UpsertGroupCallParticipant(ctx context.Context, p *models.GroupCallParticipant) error
}

// Store bundles the collaborator repositories the realtime core depends on.
type Store interface {
	ChatRepository
	MessageRepository
	ReceiptRepository
	ReactionRepository
	StatusRepository
	CallRepository
}
