package chat

import (
	"sync"
	"time"

	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/service/bus"
)

// typingGuard 给不守规矩的客户端兜底：typing=true 之后
// 一直不发 false 的连接，到期由网关补发一条合成的 false。
// 定时器按 (user, conversation) 去重，true 重置，false 取消。
// 定时器操作与事件发布在同一临界区：过期回调先比对自己还是不是
// 该 key 的当前定时器（Stop 拦不住已出队的回调），合成的 false
// 既不会吃掉重臂后的状态，也不会排在新一轮 true 之后。
type typingGuard struct {
	ttl time.Duration
	bus *bus.EventBus

	mu     sync.Mutex
	timers map[string]*time.Timer // user + "|" + conversation_id
}

func newTypingGuard(b *bus.EventBus, ttl time.Duration) *typingGuard {
	return &typingGuard{ttl: ttl, bus: b, timers: make(map[string]*time.Timer)}
}

// update 处理一次输入状态：重置/取消定时器并发布事件
func (g *typingGuard) update(userID, userName, conversationID string, isTyping bool) error {
	key := userID + "|" + conversationID

	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.timers[key]; ok {
		t.Stop()
		delete(g.timers, key)
	}
	if isTyping {
		var t *time.Timer
		t = time.AfterFunc(g.ttl, func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.timers[key] != t {
				return
			}
			delete(g.timers, key)
			if err := g.bus.Publish(&model.ChatEvent{
				Kind:           model.EventUserTyping,
				ConversationID: conversationID,
				SenderID:       userID,
				SenderName:     userName,
				IsTyping:       false,
			}); err != nil {
				logger.Errorf("[gateway] typing expiry publish failed user=%s conv=%s: %v", userID, conversationID, err)
			}
		})
		g.timers[key] = t
	}

	return g.bus.Publish(&model.ChatEvent{
		Kind:           model.EventUserTyping,
		ConversationID: conversationID,
		SenderID:       userID,
		SenderName:     userName,
		IsTyping:       isTyping,
	})
}

func (g *typingGuard) stopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, t := range g.timers {
		t.Stop()
		delete(g.timers, k)
	}
}
