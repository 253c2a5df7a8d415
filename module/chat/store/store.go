package store

import (
	"context"

	"HProject/module/chat/model"
)

// Store 会话/消息的持久层。不感知网络与 UI。
//
// 语义约定：
//   - GetOrCreateConversation 对 (A,B)/(B,A) 幂等，只会产生一条会话；
//   - AddMessage 追加消息并同步刷新会话的预览与最后消息时间；
//   - MarkMessagesAsRead 只翻转“对端发的、未读”的消息，返回实际修改条数；
//   - ConversationMessages 按插入顺序（会话内 Seq）返回。
type Store interface {
	AllConversations(ctx context.Context) ([]*model.Conversation, error)
	UserConversations(ctx context.Context, identity string) ([]*model.Conversation, error)
	ConversationByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	GetOrCreateConversation(ctx context.Context, idA, nameA, idB, nameB string) (*model.Conversation, error)

	ConversationMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
	AddMessage(ctx context.Context, conversationID, senderID, text, kind string, extra *model.Attachment) (*model.Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, viewerID string) (int64, error)

	// ClearAll wipes both collections. For tests and explicit resets only.
	ClearAll(ctx context.Context) error
}
