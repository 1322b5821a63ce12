package mongo

import (
	"Parley/internal/pkg/consts"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollection = "message"

// MessageRepo 消息存储。所有状态迁移都是带条件的原子更新，单调性由过滤条件保证
type MessageRepo interface {
	Create(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*Message, error)
	AdvanceStatus(ctx context.Context, id primitive.ObjectID, target string, at time.Time) (*Message, bool, error)
	MarkConversationRead(ctx context.Context, conversationKey string, receiverID uint64, at time.Time) (int64, error)
	MarkDeliveredForReceiver(ctx context.Context, receiverID uint64, batch string, at time.Time) ([]*Message, error)
	UpdateContent(ctx context.Context, id primitive.ObjectID, senderID uint64, content string, editableSince, at time.Time) (*Message, error)
	SoftDelete(ctx context.Context, id primitive.ObjectID, senderID uint64, at time.Time) (*Message, error)
	ListPage(ctx context.Context, conversationKey string, page, pageSize int) ([]*Message, error)
	CountUnreadByConversation(ctx context.Context, receiverID uint64, conversationKeys []string) (map[string]int64, error)
	CountSent(ctx context.Context, userID uint64) (int64, error)
	CountReceived(ctx context.Context, userID uint64) (int64, error)
	CountUnread(ctx context.Context, userID uint64) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection(messageCollection),
	}
}

// EnsureMessageIndexes 建立查询所需索引，可重复执行
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(messageCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_key", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "delivery_batch", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	return err
}

// Create 新消息一律以 sent 状态入库
func (s *messageRepoImpl) Create(ctx context.Context, msg *Message) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	msg.Status = consts.MessageStatusSent
	msg.IsRead = false
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

func (s *messageRepoImpl) GetByID(ctx context.Context, id primitive.ObjectID) (*Message, error) {
	var msg Message
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AdvanceStatus 仅当当前状态严格低于 target 时才更新；否则原样返回当前文档，changed=false
func (s *messageRepoImpl) AdvanceStatus(ctx context.Context, id primitive.ObjectID, target string, at time.Time) (*Message, bool, error) {
	lower := LowerStatuses(target)
	if len(lower) == 0 {
		msg, err := s.GetByID(ctx, id)
		return msg, false, err
	}

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": lower},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg Message
	err := s.col.FindOneAndUpdate(ctx, filter, statusUpdate(target, at), opts).Decode(&msg)
	if err == nil {
		return &msg, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	// 没匹配上：要么 ID 不存在，要么已经处于同级或更高状态
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkConversationRead 把会话中发给 receiverID 的未读消息全部置为 read
func (s *messageRepoImpl) MarkConversationRead(ctx context.Context, conversationKey string, receiverID uint64, at time.Time) (int64, error) {
	filter := bson.M{
		"conversation_key": conversationKey,
		"receiver_id":      receiverID,
		"status":           bson.M{"$ne": consts.MessageStatusRead},
	}
	res, err := s.col.UpdateMany(ctx, filter, statusUpdate(consts.MessageStatusRead, at))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkDeliveredForReceiver 一次 UpdateMany 把 receiverID 的 sent 消息推进到 delivered，
// 并用 batch 标记，随后只读回本批次真正推进过的消息
func (s *messageRepoImpl) MarkDeliveredForReceiver(ctx context.Context, receiverID uint64, batch string, at time.Time) ([]*Message, error) {
	filter := bson.M{
		"receiver_id": receiverID,
		"status":      consts.MessageStatusSent,
	}
	update := bson.M{"$set": bson.M{
		"status":         consts.MessageStatusDelivered,
		"delivered_at":   at,
		"delivery_batch": batch,
		"updated_at":     at,
	}}
	res, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}

	cursor, err := s.col.Find(ctx,
		bson.M{"receiver_id": receiverID, "delivery_batch": batch},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// UpdateContent 条件编辑：必须是发送者、未删除、仍在编辑窗口内
func (s *messageRepoImpl) UpdateContent(ctx context.Context, id primitive.ObjectID, senderID uint64, content string, editableSince, at time.Time) (*Message, error) {
	filter := bson.M{
		"_id":        id,
		"sender_id":  senderID,
		"is_deleted": false,
		"created_at": bson.M{"$gte": editableSince},
	}
	update := bson.M{"$set": bson.M{
		"content":    content,
		"edited_at":  at,
		"updated_at": at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg Message
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDelete 软删除，重复调用返回已删除的文档
func (s *messageRepoImpl) SoftDelete(ctx context.Context, id primitive.ObjectID, senderID uint64, at time.Time) (*Message, error) {
	filter := bson.M{
		"_id":        id,
		"sender_id":  senderID,
		"is_deleted": false,
	}
	update := bson.M{"$set": bson.M{
		"is_deleted": true,
		"content":    consts.DeletedMessageContent,
		"updated_at": at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg Message
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg)
	if err == nil {
		return &msg, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// ListPage 按创建时间倒序分页（最新的在前）
func (s *messageRepoImpl) ListPage(ctx context.Context, conversationKey string, page, pageSize int) ([]*Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, bson.M{"conversation_key": conversationKey}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	messages := make([]*Message, 0, pageSize)
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountUnreadByConversation 按会话聚合 receiverID 的未读数
func (s *messageRepoImpl) CountUnreadByConversation(ctx context.Context, receiverID uint64, conversationKeys []string) (map[string]int64, error) {
	res := make(map[string]int64, len(conversationKeys))
	if len(conversationKeys) == 0 {
		return res, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"receiver_id":      receiverID,
			"conversation_key": bson.M{"$in": conversationKeys},
			"status":           bson.M{"$ne": consts.MessageStatusRead},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$conversation_key",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var rows []struct {
		Key   string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		res[r.Key] = r.Count
	}
	return res, nil
}

func (s *messageRepoImpl) CountSent(ctx context.Context, userID uint64) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{"sender_id": userID})
}

func (s *messageRepoImpl) CountReceived(ctx context.Context, userID uint64) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{"receiver_id": userID})
}

func (s *messageRepoImpl) CountUnread(ctx context.Context, userID uint64) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{
		"receiver_id": userID,
		"status":      bson.M{"$ne": consts.MessageStatusRead},
	})
}

// statusUpdate 生成推进到 target 的更新管道；跳级到 read 时补齐 delivered_at
func statusUpdate(target string, at time.Time) bson.A {
	set := bson.M{
		"status":     target,
		"updated_at": at,
	}
	switch target {
	case consts.MessageStatusDelivered:
		set["delivered_at"] = at
	case consts.MessageStatusRead:
		set["is_read"] = true
		set["read_at"] = at
		set["delivered_at"] = bson.M{"$ifNull": bson.A{"$delivered_at", at}}
	}
	return bson.A{bson.M{"$set": set}}
}
