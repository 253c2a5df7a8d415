package store

import (
	"context"
	"time"

	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/tools/errs"
	"HProject/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const seqTableName = "conv_seq"

// MongoStore 文档库实现。
// 单次写入都是原子文档更新；两个节点并发 AddMessage 时会话预览为
// last-writer-wins（与原系统一致，见 DESIGN.md）。
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) convs() *mongo.Collection { return s.db.Collection(model.ConversationTableName) }
func (s *MongoStore) msgs() *mongo.Collection  { return s.db.Collection(model.MessageTableName) }
func (s *MongoStore) seqs() *mongo.Collection  { return s.db.Collection(seqTableName) }

// EnsureIndexes 建索引：pair_key 唯一保证“无序参与者对唯一会话”
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.convs().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.msgs().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
	})
	return err
}

func (s *MongoStore) AllConversations(ctx context.Context) ([]*model.Conversation, error) {
	cur, err := s.convs().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	return decodeConversations(ctx, cur), nil
}

func (s *MongoStore) UserConversations(ctx context.Context, identity string) ([]*model.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"participant_a": identity},
		bson.M{"participant_b": identity},
	}}
	cur, err := s.convs().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	return decodeConversations(ctx, cur), nil
}

// decodeConversations 逐条解码；坏文档记日志后跳过（fail-soft），
// 不让单条脏数据拖垮整个会话列表。
func decodeConversations(ctx context.Context, cur *mongo.Cursor) []*model.Conversation {
	out := make([]*model.Conversation, 0)
	for cur.Next(ctx) {
		var c model.Conversation
		if err := cur.Decode(&c); err != nil {
			logger.Errorf("[store] skip corrupted conversation doc: %v", err)
			continue
		}
		out = append(out, &c)
	}
	if err := cur.Err(); err != nil {
		logger.Errorf("[store] conversation cursor error: %v", err)
	}
	return out
}

func (s *MongoStore) ConversationByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var c model.Conversation
	err := s.convs().FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrConversationMissing.WithDetail("conversation_id=" + conversationID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) GetOrCreateConversation(ctx context.Context, idA, nameA, idB, nameB string) (*model.Conversation, error) {
	key := model.PairKey(idA, idB)
	now := time.Now()

	// upsert on pair_key：并发调用也只会产生一条
	after := options.After
	res := s.convs().FindOneAndUpdate(ctx,
		bson.M{"pair_key": key},
		bson.M{"$setOnInsert": &model.Conversation{
			ConversationID:   ids.ConversationID(),
			PairKey:          key,
			ParticipantA:     idA,
			ParticipantAName: nameA,
			ParticipantB:     idB,
			ParticipantBName: nameB,
			LastMessage:      model.DefaultPreview,
			LastMessageAt:    now,
			CreateTime:       now,
		}},
		&options.FindOneAndUpdateOptions{
			Upsert:         boolPtr(true),
			ReturnDocument: &after,
		},
	)
	var c model.Conversation
	if err := res.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ConversationMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	cur, err := s.msgs().Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*model.Message, 0)
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			logger.Errorf("[store] skip corrupted message doc: %v", err)
			continue
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		logger.Errorf("[store] message cursor error: %v", err)
	}
	return out, nil
}

// nextSeq 原子自增会话序列（upsert）
func (s *MongoStore) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	after := options.After
	res := s.seqs().FindOneAndUpdate(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$inc": bson.M{"max_seq": int64(1)}},
		&options.FindOneAndUpdateOptions{
			Upsert:         boolPtr(true),
			ReturnDocument: &after,
		},
	)
	var doc struct {
		MaxSeq int64 `bson:"max_seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.MaxSeq, nil
}

func (s *MongoStore) AddMessage(ctx context.Context, conversationID, senderID, text, kind string, extra *model.Attachment) (*model.Message, error) {
	if !model.ValidKind(kind) {
		return nil, errs.ErrBadMessageKind.WithDetail("kind=" + kind)
	}

	var conv model.Conversation
	err := s.convs().FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrConversationMissing.WithDetail("conversation_id=" + conversationID)
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, errs.ErrNotParticipant.WithDetail("sender=" + senderID)
	}

	seq, err := s.nextSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		MessageID:      ids.MessageID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
		Text:           text,
		Seq:            seq,
		SendTime:       time.Now().UnixMilli(),
		IsRead:         false,
	}
	if extra != nil {
		m.Images = extra.Images
		m.File = extra.File
	}
	if _, err := s.msgs().InsertOne(ctx, m); err != nil {
		return nil, err
	}

	// 刷新会话预览；单次 $set 原子，跨节点并发为 LWW
	_, err = s.convs().UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$set": bson.M{
			"last_message":    m.Preview(),
			"last_message_at": time.UnixMilli(m.SendTime),
		}},
	)
	if err != nil {
		logger.Errorf("[store] update conversation preview failed conv=%s: %v", conversationID, err)
	}
	return m, nil
}

func (s *MongoStore) MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.msgs().UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": readerID},
			"is_read":         false,
		},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) UnreadCount(ctx context.Context, conversationID, viewerID string) (int64, error) {
	return s.msgs().CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": viewerID},
		"is_read":         false,
	})
}

func (s *MongoStore) ClearAll(ctx context.Context) error {
	if _, err := s.convs().DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if _, err := s.msgs().DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.seqs().DeleteMany(ctx, bson.M{})
	return err
}

func boolPtr(v bool) *bool { return &v }
