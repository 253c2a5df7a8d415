package chat

import (
	"context"

	"HProject/tools/errs"
)

// Handler 一种上行帧的处理器
type Handler interface {
	Type() string
	Handle(ctx *ChatContext, f *Frame, c *Client) error
}

// ChatContext 处理器可见的服务端上下文
type ChatContext struct {
	S   *Server
	Ctx context.Context
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) GetHandler(frameType string) Handler {
	return d.handlers[frameType]
}

func (d *Dispatcher) Dispatch(ctx *ChatContext, f *Frame, c *Client) error {
	h := d.handlers[f.Type]
	if h == nil {
		return errs.New("no handler for frame type " + f.Type)
	}
	return h.Handle(ctx, f, c)
}
