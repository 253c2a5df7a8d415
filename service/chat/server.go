package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"HProject/logger"
	"HProject/middleware"
	"HProject/module/chat/model"
	"HProject/module/chat/store"
	"HProject/service/bus"

	"github.com/gin-gonic/gin"
)

// Config 网关配置
type Config struct {
	GatewayID string
	Addr      string // 监听地址，例如 :8891

	SendQueueSize int
	FanoutWorkers int
	FanoutQueue   int

	TypingTTL   time.Duration // typing 合成 false 的兜底时限
	PresenceTTL time.Duration // redis 在线 key 的有效期
}

// Server 聊天网关：WebSocket 接入 + 总线事件下行 fanout。
// 所有下行统一走 event 帧，上行按帧类型进 Dispatcher。
type Server struct {
	cfg Config

	st     store.Store
	bus    *bus.EventBus
	reg    *Registry
	fan    *Fanout
	disp   *Dispatcher
	typing *typingGuard

	srv *http.Server
}

func NewServer(cfg Config, st store.Store, b *bus.EventBus) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8891"
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 8
	}
	if cfg.FanoutQueue <= 0 {
		cfg.FanoutQueue = 1024
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 3 * time.Second
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = 60 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		st:     st,
		bus:    b,
		reg:    NewRegistry(),
		fan:    NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue),
		disp:   NewDispatcher(),
		typing: newTypingGuard(b, cfg.TypingTTL),
	}
	s.disp.Register(sendHandler{})
	s.disp.Register(typingHandler{})
	s.disp.Register(readHandler{})
	s.disp.Register(pingHandler{})
	return s
}

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) busHandlerID() string { return "gateway-" + s.cfg.GatewayID }

// Run 连总线、挂路由、起 HTTP。阻塞到 Shutdown。
func (s *Server) Run() error {
	if err := s.bus.Connect(s.cfg.GatewayID); err != nil {
		return err
	}
	s.bus.OnMessage(s.busHandlerID(), s.onBusEvent)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Cors())
	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := r.Group("/api")
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id/messages", s.listMessages)

	s.srv = &http.Server{Addr: s.cfg.Addr, Handler: r}
	logger.Infof("[gateway] %s listening on %s", s.cfg.GatewayID, s.cfg.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 停接入、撤总线订阅、踢掉所有连接
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.OffMessage(s.busHandlerID())
	s.typing.stopAll()
	for _, c := range s.reg.listAll() {
		c.close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// onBusEvent 总线事件下行：上下线全站广播，typing 只发对端，
// 消息和会话更新发两个参与者的全部连接。
func (s *Server) onBusEvent(ev *model.ChatEvent) {
	payload := marshalFrame(BuildEventFrame(ev))
	switch ev.Kind {
	case model.EventUserOnline, model.EventUserOffline:
		s.fan.Broadcast(s.reg.listAll(), payload)
	case model.EventUserTyping:
		s.fanToParticipants(ev.ConversationID, payload, ev.SenderID)
	default:
		s.fanToParticipants(ev.ConversationID, payload, "")
	}
}

func (s *Server) fanToParticipants(conversationID string, payload []byte, exclude string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conv, err := s.st.ConversationByID(ctx, conversationID)
	if err != nil {
		logger.Errorf("[gateway] fanout lookup failed conv=%s: %v", conversationID, err)
		return
	}
	var conns []*Client
	for _, u := range []string{conv.ParticipantA, conv.ParticipantB} {
		if u == exclude {
			continue
		}
		conns = append(conns, s.reg.listByUser(u)...)
	}
	s.fan.Broadcast(conns, payload)
}

// ---- 轻量查询接口，给不走 ws 的拉取端用 ----

func (s *Server) listConversations(c *gin.Context) {
	user := c.Query("user")
	var (
		convs []*model.Conversation
		err   error
	)
	if user == "" {
		convs, err = s.st.AllConversations(c.Request.Context())
	} else {
		convs, err = s.st.UserConversations(c.Request.Context(), user)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.st.ConversationMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}
