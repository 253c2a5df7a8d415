package model

// 消息体类型
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

// 预览文案：图片相册用固定文案，文件带文件名
const (
	ImagePreview      = "📷 Image"
	FilePreviewPrefix = "📎 "
)

const MessageTableName = "message"

// ImageItem 图片相册里的一张图
type ImageItem struct {
	Name string `bson:"name" json:"name"`
	URL  string `bson:"url" json:"url"`
	Size int64  `bson:"size" json:"size"`
}

// FileInfo 单文件附件
type FileInfo struct {
	Name string `bson:"name" json:"name"`
	Size int64  `bson:"size" json:"size"`
	Mime string `bson:"mime" json:"mime"`
	URL  string `bson:"url" json:"url"`
}

// Attachment 是 AddMessage 的 kind 专属负载
type Attachment struct {
	Images []ImageItem `json:"images,omitempty"`
	File   *FileInfo   `json:"file,omitempty"`
}

// Message 一条持久化的聊天消息。
// Seq 为会话内自增序列：插入顺序 = 时间顺序，读取端按 Seq 排序即可。
// IsRead 只允许 false -> true 单向翻转，不会回退。
type Message struct {
	MessageID      string `bson:"message_id" json:"messageId"`
	ConversationID string `bson:"conversation_id" json:"conversationId"`
	SenderID       string `bson:"sender_id" json:"senderId"`

	Kind   string      `bson:"kind" json:"kind"`
	Text   string      `bson:"text" json:"text"`
	Images []ImageItem `bson:"images,omitempty" json:"images,omitempty"`
	File   *FileInfo   `bson:"file,omitempty" json:"file,omitempty"`

	Seq      int64 `bson:"seq" json:"seq"`
	SendTime int64 `bson:"send_time" json:"sendTime"` // Unix ms
	IsRead   bool  `bson:"is_read" json:"isRead"`
}

func (*Message) TableName() string { return MessageTableName }

// Preview 计算该消息在会话列表里的预览文案
func (m *Message) Preview() string {
	switch m.Kind {
	case KindImage:
		return ImagePreview
	case KindFile:
		if m.File != nil {
			return FilePreviewPrefix + m.File.Name
		}
		return FilePreviewPrefix
	default:
		return m.Text
	}
}

// ValidKind 校验消息体类型
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}
