package model

import (
	"strings"
	"time"
)

// Conversation 表示两个参与者之间的会话（单聊）。
// 同一对参与者（无序）只允许存在一条记录，由 pair_key 的唯一索引保证。
type Conversation struct {
	ConversationID string `bson:"conversation_id" json:"conversationId"`
	PairKey        string `bson:"pair_key" json:"-"` // 排序后的 "<a>|<b>"，(A,B) 与 (B,A) 归一

	ParticipantA     string `bson:"participant_a" json:"participantA"`
	ParticipantAName string `bson:"participant_a_name" json:"participantAName"`
	ParticipantB     string `bson:"participant_b" json:"participantB"`
	ParticipantBName string `bson:"participant_b_name" json:"participantBName"`

	LastMessage   string    `bson:"last_message" json:"lastMessage"` // 列表页预览（冗余字段）
	LastMessageAt time.Time `bson:"last_message_at" json:"lastMessageAt"`
	CreateTime    time.Time `bson:"create_time" json:"createTime"`
}

const ConversationTableName = "conversation"

// DefaultPreview 新会话尚无消息时的预览文案
const DefaultPreview = ""

func (*Conversation) TableName() string { return ConversationTableName }

// PairKey 归一化参与者对：字典序小的在前
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

func (c *Conversation) HasParticipant(id string) bool {
	return c.ParticipantA == id || c.ParticipantB == id
}

// Peer 返回 id 对端的参与者（身份与展示名）
func (c *Conversation) Peer(id string) (peerID, peerName string) {
	if c.ParticipantA == id {
		return c.ParticipantB, c.ParticipantBName
	}
	return c.ParticipantA, c.ParticipantAName
}
