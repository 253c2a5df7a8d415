package model

// 事件类型：总线上流转的五种通知
type EventKind string

const (
	EventMessage            EventKind = "message"
	EventConversationUpdate EventKind = "conversation_update"
	EventUserTyping         EventKind = "user_typing"
	EventUserOnline         EventKind = "user_online"
	EventUserOffline        EventKind = "user_offline"
)

// ChatEvent 总线统一事件载体。
// Origin 标识发布事件的总线实例：远端消费时丢弃自己发出的事件，
// 避免“本地派发 + 广播回环”造成的重复投递。
type ChatEvent struct {
	Kind   EventKind `json:"kind"`
	Origin string    `json:"origin"`

	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	SenderName     string `json:"senderName,omitempty"`

	IsTyping bool     `json:"isTyping,omitempty"`
	Message  *Message `json:"message,omitempty"`

	Ts int64 `json:"ts"` // Unix ms
}
