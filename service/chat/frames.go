package chat

import (
	"encoding/json"
	"time"

	"HProject/module/chat/model"
	"HProject/tools/errs"
)

// 帧类型。客户端上行 connect/send/typing/read/ping，
// 服务端下行 conn_ack/ack/event/pong/error。
const (
	FrameConnect = "connect"
	FrameConnAck = "conn_ack"
	FrameSend    = "send"
	FrameAck     = "ack"
	FrameTyping  = "typing"
	FrameRead    = "read"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameEvent   = "event"
	FrameError   = "error"
)

// Frame WebSocket 上的统一 JSON 帧。按 Type 取用字段，
// 未用字段序列化时省略。
type Frame struct {
	Type  string `json:"type"`
	Ts    int64  `json:"ts,omitempty"`
	AckID string `json:"ack_id,omitempty"`

	// connect
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`

	// send：带 ConversationID，或带 PeerID 隐式建会话
	ConversationID string            `json:"conversation_id,omitempty"`
	PeerID         string            `json:"peer_id,omitempty"`
	PeerName       string            `json:"peer_name,omitempty"`
	Text           string            `json:"text,omitempty"`
	Kind           string            `json:"kind,omitempty"`
	Extra          *model.Attachment `json:"extra,omitempty"`

	// typing
	IsTyping bool `json:"is_typing,omitempty"`

	// 服务端下行
	ConnID    string           `json:"conn_id,omitempty"`
	GatewayID string           `json:"gateway_id,omitempty"`
	Event     *model.ChatEvent `json:"event,omitempty"`
	Message   *model.Message   `json:"message,omitempty"`
	Code      int              `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, errs.New("frame missing type")
	}
	return &f, nil
}

func marshalFrame(f *Frame) []byte {
	if f.Ts == 0 {
		f.Ts = time.Now().UnixMilli()
	}
	data, _ := json.Marshal(f)
	return data
}

// ---- 服务端回执 ----

func BuildConnAck(connID, gatewayID string) *Frame {
	return &Frame{Type: FrameConnAck, ConnID: connID, GatewayID: gatewayID}
}

func BuildEventFrame(ev *model.ChatEvent) *Frame {
	return &Frame{Type: FrameEvent, Event: ev}
}

func BuildErrorFrame(ackID string, err error) *Frame {
	return &Frame{
		Type:  FrameError,
		AckID: ackID,
		Code:  errs.CodeOf(err),
		Error: err.Error(),
	}
}
