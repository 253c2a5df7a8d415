package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"HProject/logger"
	"HProject/module/chat/model"
	"HProject/service/storage"
	"HProject/tools/errs"
	"HProject/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const connectWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS 接入流程：升级、首帧必须是 connect、注册、读循环。
// 写全部走 writePump，单写协程。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade failed: %v", err)
		return
	}

	client, err := s.awaitConnect(ws)
	if err != nil {
		logger.Infof("[gateway] handshake rejected: %v", err)
		_ = ws.WriteMessage(websocket.TextMessage, marshalFrame(BuildErrorFrame("", err)))
		_ = ws.Close()
		return
	}

	s.reg.add(client)
	go client.writePump()
	s.markOnline(client)
	client.enqueue(marshalFrame(BuildConnAck(client.ConnID, s.cfg.GatewayID)))
	logger.Infof("[gateway] connected user=%s conn=%s", client.UserID, client.ConnID)

	s.readLoop(client)

	s.reg.remove(client)
	client.close()
	s.markOffline(client)
	logger.Infof("[gateway] disconnected user=%s conn=%s", client.UserID, client.ConnID)
}

// awaitConnect 等首帧。超时或帧不对直接拒绝。
func (s *Server) awaitConnect(ws *websocket.Conn) (*Client, error) {
	_ = ws.SetReadDeadline(time.Now().Add(connectWait))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	f, err := ParseFrameJSON(data)
	if err != nil {
		return nil, err
	}
	if f.Type != FrameConnect {
		return nil, errs.New("first frame must be connect, got " + f.Type)
	}
	if f.UserID == "" {
		return nil, errs.New("connect frame missing user_id")
	}
	name := f.UserName
	if name == "" {
		name = f.UserID
	}
	return NewClient(ids.GenerateString(), f.UserID, name, ws, s.cfg.SendQueueSize), nil
}

func (s *Server) readLoop(client *Client) {
	for {
		mt, data, err := client.WS.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed conn=%s", client.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout conn=%s: %v", client.ConnID, err)
			} else {
				logger.Infof("[gateway] read error conn=%s: %v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			logger.Infof("[gateway] bad frame conn=%s: %v", client.ConnID, perr)
			client.enqueue(marshalFrame(BuildErrorFrame("", perr)))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		herr := s.disp.Dispatch(&ChatContext{S: s, Ctx: ctx}, f, client)
		cancel()
		if herr != nil {
			logger.Infof("[gateway] frame %s failed conn=%s: %v", f.Type, client.ConnID, herr)
			client.enqueue(marshalFrame(BuildErrorFrame(f.AckID, herr)))
		}
	}
}

// markOnline 写 redis 在线态并广播 user_online。
// redis 没配时降级为只广播。
func (s *Server) markOnline(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := storage.PresenceOnline(ctx, client.UserID, s.cfg.GatewayID, s.cfg.PresenceTTL); err != nil && err != storage.ErrRedisNotReady {
		logger.Errorf("[gateway] presence online failed user=%s: %v", client.UserID, err)
	}
	if err := s.bus.Publish(&model.ChatEvent{
		Kind:       model.EventUserOnline,
		SenderID:   client.UserID,
		SenderName: client.UserName,
	}); err != nil {
		logger.Errorf("[gateway] publish user_online failed: %v", err)
	}
}

// markOffline 用户最后一条连接断开才算离线
func (s *Server) markOffline(client *Client) {
	if s.reg.countByUser(client.UserID) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := storage.PresenceOffline(ctx, client.UserID); err != nil && err != storage.ErrRedisNotReady {
		logger.Errorf("[gateway] presence offline failed user=%s: %v", client.UserID, err)
	}
	if err := s.bus.Publish(&model.ChatEvent{
		Kind:       model.EventUserOffline,
		SenderID:   client.UserID,
		SenderName: client.UserName,
	}); err != nil {
		logger.Errorf("[gateway] publish user_offline failed: %v", err)
	}
}
