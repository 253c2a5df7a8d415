package bus

import (
	"encoding/json"
	"sync"
	"time"

	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/service/kafka"
	"HProject/service/natsx"
	"HProject/tools/errs"
	"HProject/tools/safe"

	"context"
)

const chatEventsBiz = "chat-events"

// Handler 订阅回调。message 通道收到全部五种事件，
// typing 通道只收 user_typing。
type Handler func(ev *model.ChatEvent)

// Config 总线配置。Servers 为空时进入 local-only 模式：
// 只做进程内派发，不接 NATS（测试与单机降级用）。
type Config struct {
	ID      string // 总线实例标识，事件的 Origin
	Subject string // NATS 广播 subject，例如 helpdesk.chat.events
	Servers []string
	Name    string

	AuditTopic string // kafka 审计 topic；空则不镜像
}

// EventBus 本地事件总线：handler-id 注册表 + 进程内同步派发，
// 跨节点经 NATS 广播。远端丢弃 Origin 为自己的事件，避免
// “本地派发 + 广播回环”双投。
type EventBus struct {
	cfg Config

	mu        sync.RWMutex
	identity  string
	connected bool
	nm        *natsx.NatsManager

	msgHandlers map[string]Handler
	msgOrder    []string // 注册顺序派发，保证确定性
	typHandlers map[string]Handler
	typOrder    []string
}

func NewEventBus(cfg Config) *EventBus {
	if cfg.Subject == "" {
		cfg.Subject = "helpdesk.chat.events"
	}
	if cfg.Name == "" {
		cfg.Name = "helpdesk-bus"
	}
	return &EventBus{
		cfg:         cfg,
		msgHandlers: make(map[string]Handler),
		typHandlers: make(map[string]Handler),
	}
}

// ID 总线实例标识（即事件 Origin）
func (b *EventBus) ID() string { return b.cfg.ID }

// Connect 为某个身份建立总线。幂等：重复调用不会叠加 NATS 订阅，
// 整个建连在锁内完成，并发首连也只会产生一个 NatsManager。
func (b *EventBus) Connect(identity string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identity = identity
	if b.connected {
		return nil
	}

	if len(b.cfg.Servers) > 0 {
		nm, err := natsx.NewNatsManager(natsx.NatsxConfig{
			Servers: b.cfg.Servers,
			Name:    b.cfg.Name + "-" + b.cfg.ID,
		})
		if err != nil {
			return err
		}
		// 广播路由：Queue 置空，所有节点都收到
		if err := nm.RegisterRoute(natsx.NatsxRoute{Biz: chatEventsBiz, Subject: b.cfg.Subject}); err != nil {
			_ = nm.Close()
			return err
		}
		if err := nm.Subscribe(chatEventsBiz, b.onRemote); err != nil {
			_ = nm.Close()
			return err
		}
		b.nm = nm
	}

	b.connected = true
	return nil
}

// onRemote NATS 进来的事件：反序列化、过滤自己的回环、本地派发
func (b *EventBus) onRemote(_ context.Context, msg natsx.NatsxMessage) error {
	var ev model.ChatEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Errorf("[bus] drop malformed event: %v", err)
		return nil // 不 NACK：坏事件重投也没用
	}
	if ev.Origin == b.cfg.ID {
		return nil
	}
	b.dispatch(&ev)
	return nil
}

// Publish 发布事件：先本地同步派发（同进程订阅者立即可见），
// 再异步广播给其它节点，并镜像到审计管道。
func (b *EventBus) Publish(ev *model.ChatEvent) error {
	b.mu.RLock()
	connected := b.connected
	nm := b.nm
	b.mu.RUnlock()
	if !connected {
		return errs.NewCodeError(errs.BusClosed, "event bus not connected")
	}

	if ev.Origin == "" {
		ev.Origin = b.cfg.ID
	}
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}

	b.dispatch(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if nm != nil {
		safe.Go(func() {
			if err := nm.Publish(chatEventsBiz, data, nil); err != nil {
				logger.Errorf("[bus] broadcast failed kind=%s: %v", ev.Kind, err)
			}
		})
	}
	if b.cfg.AuditTopic != "" && kafka.Ready() {
		kafka.SendAsync(b.cfg.AuditTopic, ev.ConversationID, data)
	}
	return nil
}

// PublishTyping 发布当前身份的输入状态
func (b *EventBus) PublishTyping(conversationID string, isTyping bool) error {
	b.mu.RLock()
	identity := b.identity
	b.mu.RUnlock()
	return b.Publish(&model.ChatEvent{
		Kind:           model.EventUserTyping,
		ConversationID: conversationID,
		SenderID:       identity,
		IsTyping:       isTyping,
	})
}

// dispatch 按注册顺序逐个调用；单个 handler panic 不影响其它订阅者
func (b *EventBus) dispatch(ev *model.ChatEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.msgOrder))
	names := make([]string, 0, len(b.msgOrder))
	for _, id := range b.msgOrder {
		handlers = append(handlers, b.msgHandlers[id])
		names = append(names, id)
	}
	var typing []Handler
	var typingNames []string
	if ev.Kind == model.EventUserTyping {
		for _, id := range b.typOrder {
			typing = append(typing, b.typHandlers[id])
			typingNames = append(typingNames, id)
		}
	}
	b.mu.RUnlock()

	for i, h := range handlers {
		fn := h
		safe.Invoke(names[i], func() { fn(ev) })
	}
	for i, h := range typing {
		fn := h
		safe.Invoke(typingNames[i], func() { fn(ev) })
	}
}

// OnMessage 注册消息 handler；同 id 重复注册只替换回调，位置不变
func (b *EventBus) OnMessage(handlerID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.msgHandlers[handlerID]; !ok {
		b.msgOrder = append(b.msgOrder, handlerID)
	}
	b.msgHandlers[handlerID] = h
}

func (b *EventBus) OffMessage(handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.msgHandlers[handlerID]; !ok {
		return
	}
	delete(b.msgHandlers, handlerID)
	b.msgOrder = removeID(b.msgOrder, handlerID)
}

// OnTyping 注册输入状态 handler。不在这里过滤自己的 typing 事件，
// 自我过滤是 realtime 层的职责。
func (b *EventBus) OnTyping(handlerID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.typHandlers[handlerID]; !ok {
		b.typOrder = append(b.typOrder, handlerID)
	}
	b.typHandlers[handlerID] = h
}

func (b *EventBus) OffTyping(handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.typHandlers[handlerID]; !ok {
		return
	}
	delete(b.typHandlers, handlerID)
	b.typOrder = removeID(b.typOrder, handlerID)
}

// Disconnect 注销 NATS 订阅并清空两张注册表
func (b *EventBus) Disconnect() {
	b.mu.Lock()
	nm := b.nm
	b.nm = nil
	b.connected = false
	b.msgHandlers = make(map[string]Handler)
	b.msgOrder = nil
	b.typHandlers = make(map[string]Handler)
	b.typOrder = nil
	b.mu.Unlock()

	if nm != nil {
		if err := nm.Close(); err != nil {
			logger.Errorf("[bus] close nats: %v", err)
		}
	}
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
