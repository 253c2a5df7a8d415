package chat

import (
	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/service/storage"
	"HProject/tools/errs"
)

// sendHandler 上行消息：落库、广播、回 ack。
// 不带 conversation_id 时按 peer 隐式建会话。
type sendHandler struct{}

func (sendHandler) Type() string { return FrameSend }

func (sendHandler) Handle(ctx *ChatContext, f *Frame, c *Client) error {
	convID := f.ConversationID
	if convID == "" {
		if f.PeerID == "" {
			return errs.ErrConversationMissing.WithDetail("neither conversation_id nor peer_id given")
		}
		conv, err := ctx.S.st.GetOrCreateConversation(ctx.Ctx, c.UserID, c.UserName, f.PeerID, f.PeerName)
		if err != nil {
			return err
		}
		convID = conv.ConversationID
	}

	kind := f.Kind
	if kind == "" {
		kind = model.KindText
	}
	m, err := ctx.S.st.AddMessage(ctx.Ctx, convID, c.UserID, f.Text, kind, f.Extra)
	if err != nil {
		return err
	}

	if err := ctx.S.bus.Publish(&model.ChatEvent{
		Kind:           model.EventMessage,
		ConversationID: convID,
		SenderID:       c.UserID,
		SenderName:     c.UserName,
		Message:        m,
	}); err != nil {
		return err
	}

	c.enqueue(marshalFrame(&Frame{
		Type:           FrameAck,
		AckID:          f.AckID,
		ConversationID: convID,
		Message:        m,
	}))
	return nil
}

// typingHandler 转发输入状态并挂上到期兜底
type typingHandler struct{}

func (typingHandler) Type() string { return FrameTyping }

func (typingHandler) Handle(ctx *ChatContext, f *Frame, c *Client) error {
	if f.ConversationID == "" {
		return errs.ErrConversationMissing.WithDetail("typing frame without conversation_id")
	}
	return ctx.S.typing.update(c.UserID, c.UserName, f.ConversationID, f.IsTyping)
}

// readHandler 已读回执：有实际翻转才广播会话更新
type readHandler struct{}

func (readHandler) Type() string { return FrameRead }

func (readHandler) Handle(ctx *ChatContext, f *Frame, c *Client) error {
	if f.ConversationID == "" {
		return errs.ErrConversationMissing.WithDetail("read frame without conversation_id")
	}
	n, err := ctx.S.st.MarkMessagesAsRead(ctx.Ctx, f.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return ctx.S.bus.Publish(&model.ChatEvent{
		Kind:           model.EventConversationUpdate,
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
		SenderName:     c.UserName,
	})
}

// pingHandler 应用层心跳，顺带给 redis 在线 key 续期
type pingHandler struct{}

func (pingHandler) Type() string { return FramePing }

func (pingHandler) Handle(ctx *ChatContext, f *Frame, c *Client) error {
	err := storage.PresenceOnline(ctx.Ctx, c.UserID, ctx.S.cfg.GatewayID, ctx.S.cfg.PresenceTTL)
	if err != nil && err != storage.ErrRedisNotReady {
		logger.Errorf("[gateway] presence renew failed user=%s: %v", c.UserID, err)
	}
	c.enqueue(marshalFrame(&Frame{Type: FramePong, AckID: f.AckID}))
	return nil
}
