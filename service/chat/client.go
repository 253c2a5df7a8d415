package chat

import (
	"sync"
	"time"

	"HProject/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 25 * time.Second
)

// Client 网关上的一条用户连接。同一用户可以有多条连接
// （多端/多标签页），各自独立注册与回收。
type Client struct {
	ConnID   string
	UserID   string
	UserName string
	WS       *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClient(connID, userID, userName string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID:   connID,
		UserID:   userID,
		UserName: userName,
		WS:       ws,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// enqueue 非阻塞投递。连接已关或队列已满返回 false，
// 慢客户端丢帧而不是拖死 fanout。
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump 单写协程：唯一允许向 ws 写的地方
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write failed conn=%s user=%s: %v", c.ConnID, c.UserID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
