package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
)

type MongoStore struct {
	client       *mongo.Client
	chats        *mongo.Collection
	messages     *mongo.Collection
	receipts     *mongo.Collection
	reactions    *mongo.Collection
	statuses     *mongo.Collection
	views        *mongo.Collection
	calls        *mongo.Collection
	groupCalls   *mongo.Collection
	participants *mongo.Collection
}

func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:       client,
		chats:        db.Collection("chats"),
		messages:     db.Collection("messages"),
		receipts:     db.Collection("receipts"),
		reactions:    db.Collection("reactions"),
		statuses:     db.Collection("statuses"),
		views:        db.Collection("status_views"),
		calls:        db.Collection("calls"),
		groupCalls:   db.Collection("group_calls"),
		participants: db.Collection("group_call_participants"),
	}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.receipts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.reactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.views.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status_id", Value: 1}, {Key: "viewer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "seq", Value: 1}},
	})
	return err
}

func (s *MongoStore) CreateChat(ctx context.Context, c *models.Chat) error {
	_, err := s.chats.InsertOne(ctx, c)
	return err
}

func (s *MongoStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) NextSeq(ctx context.Context, chatID string) (int64, error) {
	res := s.chats.FindOneAndUpdate(ctx,
		bson.M{"_id": chatID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var c models.Chat
	if err := res.Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, errs.ErrChatNotFound
		}
		return 0, err
	}
	return c.Seq, nil
}

func (s *MongoStore) RemoveMember(ctx context.Context, chatID, userID string) error {
	res, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": chatID},
		bson.M{"$pull": bson.M{"members": userID, "admins": userID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrChatNotFound
	}
	return nil
}

func (s *MongoStore) InsertMessageWithReceipts(ctx context.Context, m *models.Message, receipts []*models.MessageReceipt) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.messages.InsertOne(sc, m); err != nil {
			return nil, err
		}
		if len(receipts) == 0 {
			return nil, nil
		}
		docs := make([]interface{}, 0, len(receipts))
		for _, r := range receipts {
			docs = append(docs, r)
		}
		_, err := s.receipts.InsertMany(sc, docs)
		return nil, err
	})
	return err
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID string, limit int64, before time.Time) ([]*models.Message, error) {
	filter := bson.M{"chat_id": chatID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	cur, err := s.messages.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	// return in chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, cur.Err()
}

func (s *MongoStore) MarkDeletedForEveryone(ctx context.Context, id string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"deletion": models.DeletionForEveryone,
			"payload":  models.Payload{Kind: models.ContentText, Content: models.Tombstone},
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *MongoStore) MarkDeletedFor(ctx context.Context, id, userID string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deleted_by": userID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetReceipt(ctx context.Context, messageID, userID string) (*models.MessageReceipt, error) {
	var r models.MessageReceipt
	err := s.receipts.FindOne(ctx, bson.M{"message_id": messageID, "user_id": userID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) ListReceipts(ctx context.Context, messageID string) ([]*models.MessageReceipt, error) {
	cur, err := s.receipts.Find(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.MessageReceipt
	for cur.Next(ctx) {
		var r models.MessageReceipt
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

func (s *MongoStore) SetReceiptStatus(ctx context.Context, messageID, userID string, status models.ReceiptStatus, at time.Time) error {
	filter := bson.M{"message_id": messageID, "user_id": userID}
	switch status {
	case models.ReceiptDelivered:
		// only advance from sent; a later ack is a no-op
		filter["status"] = models.ReceiptSent
		_, err := s.receipts.UpdateOne(ctx, filter,
			bson.M{"$set": bson.M{"status": status, "delivered_at": at}})
		return err
	case models.ReceiptRead:
		filter["status"] = bson.M{"$ne": models.ReceiptRead}
		_, err := s.receipts.UpdateOne(ctx, filter,
			bson.M{"$set": bson.M{"status": status, "read_at": at}})
		if err != nil {
			return err
		}
		// read implies delivered
		_, err = s.receipts.UpdateOne(ctx,
			bson.M{"message_id": messageID, "user_id": userID, "delivered_at": nil},
			bson.M{"$set": bson.M{"delivered_at": at}})
		return err
	default:
		return nil
	}
}

func (s *MongoStore) ListUndelivered(ctx context.Context, chatID, userID string) ([]*models.Message, error) {
	cur, err := s.receipts.Find(ctx, bson.M{
		"chat_id": chatID,
		"user_id": userID,
		"status":  models.ReceiptSent,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var r models.MessageReceipt
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		ids = append(ids, r.MessageID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	mcur, err := s.messages.Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer mcur.Close(ctx)
	var out []*models.Message
	for mcur.Next(ctx) {
		var m models.Message
		if err := mcur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, mcur.Err()
}

func (s *MongoStore) SetReaction(ctx context.Context, r *models.MessageReaction) error {
	_, err := s.reactions.UpdateOne(ctx,
		bson.M{"message_id": r.MessageID, "user_id": r.UserID},
		bson.M{"$set": bson.M{"emoji": r.Emoji, "created_at": r.CreatedAt}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) ClearReaction(ctx context.Context, messageID, userID string) error {
	_, err := s.reactions.DeleteOne(ctx, bson.M{"message_id": messageID, "user_id": userID})
	return err
}

func (s *MongoStore) ListReactions(ctx context.Context, messageID string) ([]*models.MessageReaction, error) {
	cur, err := s.reactions.Find(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.MessageReaction
	for cur.Next(ctx) {
		var r models.MessageReaction
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

func (s *MongoStore) InsertStatus(ctx context.Context, st *models.Status) error {
	_, err := s.statuses.InsertOne(ctx, st)
	return err
}

func (s *MongoStore) GetStatus(ctx context.Context, id string) (*models.Status, error) {
	var st models.Status
	err := s.statuses.FindOne(ctx, bson.M{"_id": id}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MongoStore) ListActive(ctx context.Context, ownerIDs []string, now time.Time) ([]*models.Status, error) {
	cur, err := s.statuses.Find(ctx, bson.M{
		"owner_id":   bson.M{"$in": ownerIDs},
		"expires_at": bson.M{"$gt": now},
	}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Status
	for cur.Next(ctx) {
		var st models.Status
		if err := cur.Decode(&st); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, cur.Err()
}

func (s *MongoStore) DeleteStatus(ctx context.Context, id, ownerID string) error {
	res, err := s.statuses.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.ErrNotFound
	}
	_, _ = s.views.DeleteMany(ctx, bson.M{"status_id": id})
	return nil
}

func (s *MongoStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.statuses.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) InsertView(ctx context.Context, v *models.StatusView) (bool, error) {
	_, err := s.views.InsertOne(ctx, v)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) ListViews(ctx context.Context, statusID string) ([]*models.StatusView, error) {
	cur, err := s.views.Find(ctx, bson.M{"status_id": statusID},
		options.Find().SetSort(bson.D{{Key: "viewed_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.StatusView
	for cur.Next(ctx) {
		var v models.StatusView
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

func (s *MongoStore) InsertCall(ctx context.Context, c *models.Call) error {
	_, err := s.calls.InsertOne(ctx, c)
	return err
}

func (s *MongoStore) GetCall(ctx context.Context, id string) (*models.Call, error) {
	var c models.Call
	err := s.calls.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) UpdateCall(ctx context.Context, c *models.Call) error {
	res, err := s.calls.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *MongoStore) InsertGroupCall(ctx context.Context, gc *models.GroupCall) error {
	_, err := s.groupCalls.InsertOne(ctx, gc)
	return err
}

func (s *MongoStore) GetGroupCall(ctx context.Context, id string) (*models.GroupCall, error) {
	var gc models.GroupCall
	err := s.groupCalls.FindOne(ctx, bson.M{"_id": id}).Decode(&gc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

func (s *MongoStore) UpdateGroupCall(ctx context.Context, gc *models.GroupCall) error {
	res, err := s.groupCalls.ReplaceOne(ctx, bson.M{"_id": gc.ID}, gc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpsertGroupCallParticipant(ctx context.Context, p *models.GroupCallParticipant) error {
	_, err := s.participants.UpdateOne(ctx,
		bson.M{"call_id": p.CallID, "user_id": p.UserID},
		bson.M{"$set": p},
		options.Update().SetUpsert(true),
	)
	return err
}
