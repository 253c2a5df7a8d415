package store

import (
	"context"
	"sync"
	"time"

	"HProject/module/chat/model"
	"HProject/tools/errs"
	"HProject/tools/ids"
)

// MemStore 内存实现：语义与 Mongo 实现一致。
// 用于测试，以及 mongo 未配置时的单机降级运行。
type MemStore struct {
	mu sync.RWMutex

	convs  map[string]*model.Conversation // conversation_id -> conv
	byPair map[string]string              // pair_key -> conversation_id
	msgs   map[string][]*model.Message    // conversation_id -> append-only list
	seq    map[string]int64               // conversation_id -> max seq
}

func NewMemStore() *MemStore {
	return &MemStore{
		convs:  make(map[string]*model.Conversation),
		byPair: make(map[string]string),
		msgs:   make(map[string][]*model.Message),
		seq:    make(map[string]int64),
	}
}

func (s *MemStore) AllConversations(ctx context.Context) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) UserConversations(ctx context.Context, identity string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range s.convs {
		if c.HasParticipant(identity) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) ConversationByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, errs.ErrConversationMissing.WithDetail("conversation_id=" + conversationID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) GetOrCreateConversation(ctx context.Context, idA, nameA, idB, nameB string) (*model.Conversation, error) {
	key := model.PairKey(idA, idB)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		cp := *s.convs[id]
		return &cp, nil
	}

	now := time.Now()
	c := &model.Conversation{
		ConversationID:   ids.ConversationID(),
		PairKey:          key,
		ParticipantA:     idA,
		ParticipantAName: nameA,
		ParticipantB:     idB,
		ParticipantBName: nameB,
		LastMessage:      model.DefaultPreview,
		LastMessageAt:    now,
		CreateTime:       now,
	}
	s.convs[c.ConversationID] = c
	s.byPair[key] = c.ConversationID
	cp := *c
	return &cp, nil
}

func (s *MemStore) ConversationMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.msgs[conversationID]
	out := make([]*model.Message, 0, len(list))
	for _, m := range list {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) AddMessage(ctx context.Context, conversationID, senderID, text, kind string, extra *model.Attachment) (*model.Message, error) {
	if !model.ValidKind(kind) {
		return nil, errs.ErrBadMessageKind.WithDetail("kind=" + kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, errs.ErrConversationMissing.WithDetail("conversation_id=" + conversationID)
	}
	if !conv.HasParticipant(senderID) {
		return nil, errs.ErrNotParticipant.WithDetail("sender=" + senderID)
	}

	s.seq[conversationID]++
	m := &model.Message{
		MessageID:      ids.MessageID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
		Text:           text,
		Seq:            s.seq[conversationID],
		SendTime:       time.Now().UnixMilli(),
		IsRead:         false,
	}
	if extra != nil {
		m.Images = extra.Images
		m.File = extra.File
	}
	s.msgs[conversationID] = append(s.msgs[conversationID], m)

	conv.LastMessage = m.Preview()
	conv.LastMessageAt = time.UnixMilli(m.SendTime)

	cp := *m
	return &cp, nil
}

func (s *MemStore) MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemStore) UnreadCount(ctx context.Context, conversationID, viewerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.SenderID != viewerID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]*model.Conversation)
	s.byPair = make(map[string]string)
	s.msgs = make(map[string][]*model.Message)
	s.seq = make(map[string]int64)
	return nil
}
