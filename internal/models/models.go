package models

import "time"

type ChatKind string

const (
	ChatDirect    ChatKind = "direct"
	ChatGroup     ChatKind = "group"
	ChatBroadcast ChatKind = "broadcast"
)

type Privacy string

const (
	PrivacyEveryone Privacy = "everyone"
	PrivacyContacts Privacy = "contacts"
	PrivacyNobody   Privacy = "nobody"
)

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentDocument ContentKind = "document"
	ContentVoice    ContentKind = "voice"
	ContentSticker  ContentKind = "sticker"
)

var contentKinds = map[ContentKind]struct{}{
	ContentText:     {},
	ContentImage:    {},
	ContentVideo:    {},
	ContentAudio:    {},
	ContentDocument: {},
	ContentVoice:    {},
	ContentSticker:  {},
}

func (k ContentKind) Valid() bool {
	_, ok := contentKinds[k]
	return ok
}

// MaxContentBytes bounds the text/body portion of a message payload.
const MaxContentBytes = 64 * 1024

type User struct {
	ID              string    `bson:"_id" json:"id"`
	Username        string    `bson:"username" json:"username"`
	About           string    `bson:"about,omitempty" json:"about,omitempty"`
	IsOnline        bool      `bson:"is_online" json:"is_online"`
	LastSeen        time.Time `bson:"last_seen" json:"last_seen"`
	LastSeenPrivacy Privacy   `bson:"last_seen_privacy" json:"last_seen_privacy"`
	StatusPrivacy   Privacy   `bson:"status_privacy" json:"status_privacy"`
}

type Chat struct {
	ID        string    `bson:"_id" json:"id"`
	Kind      ChatKind  `bson:"kind" json:"kind"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Members   []string  `bson:"members" json:"members"`
	Admins    []string  `bson:"admins,omitempty" json:"admins,omitempty"`
	Seq       int64     `bson:"seq" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type ChatParticipant struct {
	ChatID     string    `bson:"chat_id" json:"chat_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	Role       string    `bson:"role" json:"role"`
	IsMuted    bool      `bson:"is_muted" json:"is_muted"`
	IsPinned   bool      `bson:"is_pinned" json:"is_pinned"`
	IsArchived bool      `bson:"is_archived" json:"is_archived"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at"`
}

type DeletionState string

const (
	DeletionActive      DeletionState = "active"
	DeletionForEveryone DeletionState = "deleted_for_everyone"
)

// Tombstone replaces the payload of a message deleted for everyone.
const Tombstone = "This message was deleted"

type Payload struct {
	Kind     ContentKind `bson:"kind" json:"kind"`
	Content  string      `bson:"content,omitempty" json:"content,omitempty"`
	MediaURL string      `bson:"media_url,omitempty" json:"media_url,omitempty"`
	Duration int         `bson:"duration,omitempty" json:"duration,omitempty"`
}

type Message struct {
	ID        string        `bson:"_id" json:"id"`
	ChatID    string        `bson:"chat_id" json:"chat_id"`
	SenderID  string        `bson:"sender_id" json:"sender_id"`
	Seq       int64         `bson:"seq" json:"seq"`
	Payload   Payload       `bson:"payload" json:"payload"`
	ReplyTo   string        `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Deletion  DeletionState `bson:"deletion" json:"deletion"`
	DeletedBy []string      `bson:"deleted_by,omitempty" json:"-"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}

type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "sent"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)

func (s ReceiptStatus) Rank() int {
	switch s {
	case ReceiptDelivered:
		return 1
	case ReceiptRead:
		return 2
	default:
		return 0
	}
}

type MessageReceipt struct {
	MessageID   string        `bson:"message_id" json:"message_id"`
	ChatID      string        `bson:"chat_id" json:"chat_id"`
	UserID      string        `bson:"user_id" json:"user_id"`
	Status      ReceiptStatus `bson:"status" json:"status"`
	DeliveredAt *time.Time    `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

type MessageReaction struct {
	MessageID string    `bson:"message_id" json:"message_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Status struct {
	ID         string      `bson:"_id" json:"id"`
	OwnerID    string      `bson:"owner_id" json:"owner_id"`
	Kind       ContentKind `bson:"kind" json:"kind"`
	Content    string      `bson:"content,omitempty" json:"content,omitempty"`
	MediaURL   string      `bson:"media_url,omitempty" json:"media_url,omitempty"`
	Background string      `bson:"background,omitempty" json:"background,omitempty"`
	Font       string      `bson:"font,omitempty" json:"font,omitempty"`
	Audience   Privacy     `bson:"audience" json:"audience"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
	ExpiresAt  time.Time   `bson:"expires_at" json:"expires_at"`
}

type StatusView struct {
	StatusID string    `bson:"status_id" json:"status_id"`
	ViewerID string    `bson:"viewer_id" json:"viewer_id"`
	ViewedAt time.Time `bson:"viewed_at" json:"viewed_at"`
}

type CallState string

const (
	CallInitiated CallState = "initiated"
	CallRinging   CallState = "ringing"
	CallOngoing   CallState = "ongoing"
	CallCompleted CallState = "completed"
	CallMissed    CallState = "missed"
	CallDeclined  CallState = "declined"
)

type Call struct {
	ID         string     `bson:"_id" json:"id"`
	CallerID   string     `bson:"caller_id" json:"caller_id"`
	ReceiverID string     `bson:"receiver_id" json:"receiver_id"`
	Video      bool       `bson:"video" json:"video"`
	State      CallState  `bson:"state" json:"state"`
	StartedAt  time.Time  `bson:"started_at" json:"started_at"`
	AnsweredAt *time.Time `bson:"answered_at,omitempty" json:"answered_at,omitempty"`
	EndedAt    *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	Duration   int        `bson:"duration" json:"duration"`
}

type GroupCall struct {
	ID          string     `bson:"_id" json:"id"`
	ChatID      string     `bson:"chat_id" json:"chat_id"`
	InitiatorID string     `bson:"initiator_id" json:"initiator_id"`
	Video       bool       `bson:"video" json:"video"`
	StartedAt   time.Time  `bson:"started_at" json:"started_at"`
	EndedAt     *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
}

type GroupCallParticipant struct {
	CallID   string     `bson:"call_id" json:"call_id"`
	UserID   string     `bson:"user_id" json:"user_id"`
	JoinedAt time.Time  `bson:"joined_at" json:"joined_at"`
	LeftAt   *time.Time `bson:"left_at,omitempty" json:"left_at,omitempty"`
}
