package realtime

import (
	"context"
	"sync"
	"time"

	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/module/chat/store"
	"HProject/service/bus"
	"HProject/tools/errs"
	"HProject/tools/safe"
)

// DefaultTypingTTL 输入状态静默期：超过即自动回落为“未输入”
const DefaultTypingTTL = 3 * time.Second

// ConversationView 会话 + 当前视角的未读数（每次现算，不缓存）
type ConversationView struct {
	*model.Conversation
	UnreadCount int64 `json:"unreadCount"`
}

// MessageView 消息 + 投影层的临时投递标记（不落库）
type MessageView struct {
	*model.Message
	IsDelivered bool `json:"isDelivered"`
}

// Service 实时层门面：绑定“当前用户”身份到 store 与 bus，
// 补两块下层没有的业务逻辑——自己 typing 事件的过滤，
// 以及 typing 自动过期状态机。
type Service struct {
	store store.Store
	bus   *bus.EventBus

	typingTTL time.Duration

	mu          sync.Mutex
	initialized bool
	identity    string
	displayName string
	handlerID   string

	// typing 状态机独立一把锁：定时器操作与事件发布在同一临界区，
	// 合成的 false 不可能排在新一轮 true 之后
	typingMu     sync.Mutex
	typingTimers map[string]*time.Timer // conv|sender -> debounce timer

	msgSubs    *registry // kind=message
	convSubs   *registry // kind=conversation_update
	typingSubs *registry // kind=user_typing（已过滤自己）
}

// Option 配置钩子（测试用短 TTL）
type Option func(*Service)

func WithTypingTTL(d time.Duration) Option {
	return func(s *Service) { s.typingTTL = d }
}

func New(st store.Store, b *bus.EventBus, opts ...Option) *Service {
	s := &Service{
		store:        st,
		bus:          b,
		typingTTL:    DefaultTypingTTL,
		typingTimers: make(map[string]*time.Timer),
		msgSubs:      newRegistry(),
		convSubs:     newRegistry(),
		typingSubs:   newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize 绑定身份并接通总线。对同一身份幂等；
// 换身份需先 Cleanup，否则返回 ErrAlreadyInitialized。
func (s *Service) Initialize(identity, displayName string) error {
	s.mu.Lock()
	if s.initialized {
		same := s.identity == identity
		s.mu.Unlock()
		if same {
			return s.bus.Connect(identity) // 幂等 reconnect
		}
		return errs.ErrAlreadyInitialized.WithDetail("current=" + s.identity)
	}
	s.identity = identity
	s.displayName = displayName
	s.handlerID = "realtime-chat-" + identity
	s.initialized = true
	s.mu.Unlock()

	if err := s.bus.Connect(identity); err != nil {
		s.mu.Lock()
		s.initialized = false
		s.mu.Unlock()
		return err
	}

	s.bus.OnMessage(s.handlerID, s.onBusEvent)
	s.bus.OnTyping(s.handlerID, s.onBusTyping)
	return nil
}

func (s *Service) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errs.ErrNotInitialized
	}
	return nil
}

// Identity 当前绑定的用户身份（未初始化为空串）
func (s *Service) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// onBusEvent 总线消息通道：按事件类型分流到 UI 注册表
func (s *Service) onBusEvent(ev *model.ChatEvent) {
	switch ev.Kind {
	case model.EventMessage:
		s.msgSubs.dispatch(ev)
	case model.EventConversationUpdate:
		s.convSubs.dispatch(ev)
	}
}

// onBusTyping 总线 typing 通道：过滤掉自己的输入事件再派发
func (s *Service) onBusTyping(ev *model.ChatEvent) {
	s.mu.Lock()
	self := s.identity
	s.mu.Unlock()
	if ev.SenderID == self {
		return
	}
	s.typingSubs.dispatch(ev)
}

// SendMessage 落库后在总线上发布一次 message 事件。
// 本地订阅者同步收到，其它节点经广播收到——不存在浏览器版的双发。
func (s *Service) SendMessage(ctx context.Context, conversationID, text, kind string, extra *model.Attachment) (*MessageView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sender := s.identity
	senderName := s.displayName
	s.mu.Unlock()

	m, err := s.store.AddMessage(ctx, conversationID, sender, text, kind, extra)
	if err != nil {
		return nil, err
	}
	if err := s.bus.Publish(&model.ChatEvent{
		Kind:           model.EventMessage,
		ConversationID: conversationID,
		SenderID:       sender,
		SenderName:     senderName,
		Message:        m,
	}); err != nil {
		logger.Errorf("[realtime] publish message event conv=%s: %v", conversationID, err)
	}
	return &MessageView{Message: m, IsDelivered: true}, nil
}

// SendTypingIndicator 输入状态机，按 (conversation, sender)：
//
//	Idle --true--> Typing（起 3s 定时器）
//	Typing --true--> Typing（旧定时器取消，重新计时；防抖而非叠加）
//	Typing --timer到期--> Idle（补发一条 false）
//	Typing --显式false--> Idle（立即发布并取消定时器）
func (s *Service) SendTypingIndicator(conversationID string, isTyping bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	sender := s.identity
	senderName := s.displayName
	s.mu.Unlock()
	key := conversationID + "|" + sender

	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	// Stop 对已出队的回调返回 false：旧回调靠下面的指针比对判废，
	// 不会吃掉重臂后的状态
	if t, ok := s.typingTimers[key]; ok {
		t.Stop()
		delete(s.typingTimers, key)
	}
	if isTyping {
		var t *time.Timer
		t = time.AfterFunc(s.typingTTL, func() {
			s.typingMu.Lock()
			defer s.typingMu.Unlock()
			if s.typingTimers[key] != t {
				return
			}
			delete(s.typingTimers, key)
			if err := s.bus.Publish(&model.ChatEvent{
				Kind:           model.EventUserTyping,
				ConversationID: conversationID,
				SenderID:       sender,
				SenderName:     senderName,
				IsTyping:       false,
			}); err != nil {
				logger.Errorf("[realtime] publish typing expiry conv=%s: %v", conversationID, err)
			}
		})
		s.typingTimers[key] = t
	}

	return s.bus.Publish(&model.ChatEvent{
		Kind:           model.EventUserTyping,
		ConversationID: conversationID,
		SenderID:       sender,
		SenderName:     senderName,
		IsTyping:       isTyping,
	})
}

// MarkMessagesAsRead 只在有消息真正翻转时发 conversation_update
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	reader := s.identity
	readerName := s.displayName
	s.mu.Unlock()

	n, err := s.store.MarkMessagesAsRead(ctx, conversationID, reader)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.bus.Publish(&model.ChatEvent{
			Kind:           model.EventConversationUpdate,
			ConversationID: conversationID,
			SenderID:       reader,
			SenderName:     readerName,
		}); err != nil {
			logger.Errorf("[realtime] publish conversation_update conv=%s: %v", conversationID, err)
		}
	}
	return n, nil
}

// GetOrCreateConversation store 透传 + 当前视角未读数
func (s *Service) GetOrCreateConversation(ctx context.Context, idA, nameA, idB, nameB string) (*ConversationView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	c, err := s.store.GetOrCreateConversation(ctx, idA, nameA, idB, nameB)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, c)
}

// UserConversations 透传 + 按 identity 视角补未读数
func (s *Service) UserConversations(ctx context.Context, identity string) ([]*ConversationView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	list, err := s.store.UserConversations(ctx, identity)
	if err != nil {
		return nil, err
	}
	out := make([]*ConversationView, 0, len(list))
	for _, c := range list {
		n, err := s.store.UnreadCount(ctx, c.ConversationID, identity)
		if err != nil {
			logger.Errorf("[realtime] unread count conv=%s: %v", c.ConversationID, err)
		}
		out = append(out, &ConversationView{Conversation: c, UnreadCount: n})
	}
	return out, nil
}

// ConversationMessages 透传 + 投影标记（持久化即视为已投递）
func (s *Service) ConversationMessages(ctx context.Context, conversationID string) ([]*MessageView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	msgs, err := s.store.ConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &MessageView{Message: m, IsDelivered: true})
	}
	return out, nil
}

func (s *Service) project(ctx context.Context, c *model.Conversation) (*ConversationView, error) {
	s.mu.Lock()
	viewer := s.identity
	s.mu.Unlock()
	n, err := s.store.UnreadCount(ctx, c.ConversationID, viewer)
	if err != nil {
		return nil, err
	}
	return &ConversationView{Conversation: c, UnreadCount: n}, nil
}

// ---- UI 订阅管理（handler-id 维度，幂等注册/注销） ----

func (s *Service) OnNewMessage(handlerID string, h bus.Handler)          { s.msgSubs.on(handlerID, h) }
func (s *Service) OffNewMessage(handlerID string)                       { s.msgSubs.off(handlerID) }
func (s *Service) OnConversationUpdate(handlerID string, h bus.Handler) { s.convSubs.on(handlerID, h) }
func (s *Service) OffConversationUpdate(handlerID string)               { s.convSubs.off(handlerID) }
func (s *Service) OnTypingIndicator(handlerID string, h bus.Handler)    { s.typingSubs.on(handlerID, h) }
func (s *Service) OffTypingIndicator(handlerID string)                  { s.typingSubs.off(handlerID) }

// Cleanup 注销总线 handler、清空三张注册表、取消全部 typing
// 定时器并断开总线。之后可重新 Initialize（允许换身份）。
func (s *Service) Cleanup() {
	s.mu.Lock()
	handlerID := s.handlerID
	s.initialized = false
	s.identity = ""
	s.displayName = ""
	s.handlerID = ""
	s.mu.Unlock()

	s.typingMu.Lock()
	for key, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, key)
	}
	s.typingMu.Unlock()

	if handlerID != "" {
		s.bus.OffMessage(handlerID)
		s.bus.OffTyping(handlerID)
	}
	s.msgSubs.clear()
	s.convSubs.clear()
	s.typingSubs.clear()
	s.bus.Disconnect()
}

// registry handler-id -> 回调，按注册顺序派发
type registry struct {
	mu    sync.Mutex
	m     map[string]bus.Handler
	order []string
}

func newRegistry() *registry {
	return &registry{m: make(map[string]bus.Handler)}
}

func (r *registry) on(id string, h bus.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		r.order = append(r.order, id)
	}
	r.m[id] = h
}

func (r *registry) off(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return
	}
	delete(r.m, id)
	keep := r.order[:0]
	for _, v := range r.order {
		if v != id {
			keep = append(keep, v)
		}
	}
	r.order = keep
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m = make(map[string]bus.Handler)
	r.order = nil
}

func (r *registry) dispatch(ev *model.ChatEvent) {
	r.mu.Lock()
	handlers := make([]bus.Handler, 0, len(r.order))
	names := append([]string(nil), r.order...)
	for _, id := range r.order {
		handlers = append(handlers, r.m[id])
	}
	r.mu.Unlock()

	for i, h := range handlers {
		fn := h
		safe.Invoke(names[i], func() { fn(ev) })
	}
}
