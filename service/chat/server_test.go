package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"HProject/module/chat/model"
	"HProject/module/chat/store"
	"HProject/service/bus"
	"HProject/tools/errs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemStore()
	b := bus.NewEventBus(bus.Config{ID: "gw-test"})
	s := NewServer(Config{GatewayID: "gw-test", TypingTTL: 60 * time.Millisecond}, st, b)
	require.NoError(t, b.Connect("gw-test"))
	b.OnMessage(s.busHandlerID(), s.onBusEvent)
	t.Cleanup(func() {
		s.typing.stopAll()
		b.Disconnect()
	})
	return s
}

// newTestClient 不起 writePump，直接从 send 队列取下行帧
func newTestClient(id, name string) *Client {
	return NewClient("conn-"+id, id, name, nil, 16)
}

func recvFrame(t *testing.T, c *Client) *Frame {
	t.Helper()
	select {
	case payload := <-c.send:
		var f Frame
		require.NoError(t, json.Unmarshal(payload, &f))
		return &f
	case <-time.After(time.Second):
		t.Fatal("no frame within 1s")
		return nil
	}
}

func dispatch(t *testing.T, s *Server, f *Frame, c *Client) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.disp.Dispatch(&ChatContext{S: s, Ctx: ctx}, f, c)
}

func TestParseFrameJSONRejectsGarbage(t *testing.T) {
	_, err := ParseFrameJSON([]byte("not json"))
	require.Error(t, err)

	_, err = ParseFrameJSON([]byte(`{"text":"no type"}`))
	require.Error(t, err)
}

func TestSendFrameImplicitConversationAndAck(t *testing.T) {
	s := newTestServer(t)
	alice := newTestClient("a@x.com", "Alice")
	s.reg.add(alice)

	err := dispatch(t, s, &Frame{
		Type:     FrameSend,
		AckID:    "ack-1",
		PeerID:   "b@x.com",
		PeerName: "Bob",
		Text:     "Hello",
	}, alice)
	require.NoError(t, err)

	// ack 带回会话 id 与落库后的消息
	var ack *Frame
	for {
		f := recvFrame(t, alice)
		if f.Type == FrameAck {
			ack = f
			break
		}
		require.Equal(t, FrameEvent, f.Type) // fanout 先到也正常
	}
	require.Equal(t, "ack-1", ack.AckID)
	require.NotEmpty(t, ack.ConversationID)
	require.Equal(t, int64(1), ack.Message.Seq)

	msgs, err := s.st.ConversationMessages(context.Background(), ack.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "Hello", msgs[0].Text)
}

func TestSendFrameUnknownConversation(t *testing.T) {
	s := newTestServer(t)
	alice := newTestClient("a@x.com", "Alice")

	err := dispatch(t, s, &Frame{Type: FrameSend, ConversationID: "conv_missing", Text: "hi"}, alice)
	require.True(t, errs.IsCode(err, errs.ConversationNotFound))
}

func TestSendFrameWithoutTarget(t *testing.T) {
	s := newTestServer(t)
	alice := newTestClient("a@x.com", "Alice")

	err := dispatch(t, s, &Frame{Type: FrameSend, Text: "hi"}, alice)
	require.True(t, errs.IsCode(err, errs.ConversationNotFound))
}

func TestBusEventFanoutToParticipants(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	conv, err := s.st.GetOrCreateConversation(ctx, "a@x.com", "Alice", "b@x.com", "Bob")
	require.NoError(t, err)

	alice := newTestClient("a@x.com", "Alice")
	bob := newTestClient("b@x.com", "Bob")
	carol := newTestClient("c@x.com", "Carol") // 非参与者
	s.reg.add(alice)
	s.reg.add(bob)
	s.reg.add(carol)

	require.NoError(t, s.bus.Publish(&model.ChatEvent{
		Kind:           model.EventMessage,
		ConversationID: conv.ConversationID,
		SenderID:       "a@x.com",
		SenderName:     "Alice",
	}))

	for _, c := range []*Client{alice, bob} {
		f := recvFrame(t, c)
		require.Equal(t, FrameEvent, f.Type)
		require.Equal(t, model.EventMessage, f.Event.Kind)
	}
	require.Empty(t, carol.send, "non-participant must not receive conversation events")
}

func TestTypingFanoutExcludesTypist(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	conv, err := s.st.GetOrCreateConversation(ctx, "a@x.com", "Alice", "b@x.com", "Bob")
	require.NoError(t, err)

	alice := newTestClient("a@x.com", "Alice")
	bob := newTestClient("b@x.com", "Bob")
	s.reg.add(alice)
	s.reg.add(bob)

	require.NoError(t, dispatch(t, s, &Frame{
		Type:           FrameTyping,
		ConversationID: conv.ConversationID,
		IsTyping:       true,
	}, alice))

	f := recvFrame(t, bob)
	require.Equal(t, model.EventUserTyping, f.Event.Kind)
	require.True(t, f.Event.IsTyping)

	require.Empty(t, alice.send, "typist must not get their own typing echo")
}

func TestTypingGuardSyntheticFalse(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	conv, err := s.st.GetOrCreateConversation(ctx, "a@x.com", "Alice", "b@x.com", "Bob")
	require.NoError(t, err)

	alice := newTestClient("a@x.com", "Alice")
	bob := newTestClient("b@x.com", "Bob")
	s.reg.add(alice)
	s.reg.add(bob)

	require.NoError(t, dispatch(t, s, &Frame{
		Type:           FrameTyping,
		ConversationID: conv.ConversationID,
		IsTyping:       true,
	}, alice))

	f := recvFrame(t, bob)
	require.True(t, f.Event.IsTyping)

	// 客户端不发 false，到期网关补发
	f = recvFrame(t, bob)
	require.Equal(t, model.EventUserTyping, f.Event.Kind)
	require.False(t, f.Event.IsTyping)
	require.Equal(t, "a@x.com", f.Event.SenderID)
}

// typingLog 并发安全地攒 typing 事件
type typingLog struct {
	mu  sync.Mutex
	evs []*model.ChatEvent
}

func (l *typingLog) add(ev *model.ChatEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *typingLog) snapshot() []*model.ChatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.ChatEvent(nil), l.evs...)
}

func TestTypingGuardRearmAtExpiryBoundary(t *testing.T) {
	st := store.NewMemStore()
	b := bus.NewEventBus(bus.Config{ID: "gw-test"})
	s := NewServer(Config{GatewayID: "gw-test", TypingTTL: time.Millisecond}, st, b)
	require.NoError(t, b.Connect("gw-test"))
	t.Cleanup(func() {
		s.typing.stopAll()
		b.Disconnect()
	})

	log := &typingLog{}
	b.OnTyping("watch", log.add)

	conv, err := st.GetOrCreateConversation(context.Background(), "a@x.com", "Alice", "b@x.com", "Bob")
	require.NoError(t, err)
	alice := newTestClient("a@x.com", "Alice")

	// 第二帧 true 反复踩在兜底定时器的过期边界上：已出队的旧回调
	// 必须自行判废，不得对着重臂后的状态补发 false
	const rounds = 300
	for i := 0; i < rounds; i++ {
		require.NoError(t, dispatch(t, s, &Frame{
			Type:           FrameTyping,
			ConversationID: conv.ConversationID,
			IsTyping:       true,
		}, alice))
		time.Sleep(time.Millisecond)
		require.NoError(t, dispatch(t, s, &Frame{
			Type:           FrameTyping,
			ConversationID: conv.ConversationID,
			IsTyping:       true,
		}, alice))
		time.Sleep(4 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	lastWasFalse := false
	for i, ev := range log.snapshot() {
		require.Equal(t, model.EventUserTyping, ev.Kind)
		if ev.IsTyping {
			lastWasFalse = false
			continue
		}
		require.False(t, lastWasFalse, "event %d: stale expiry fired against re-armed typing state", i)
		lastWasFalse = true
	}
	require.True(t, lastWasFalse, "a typing burst must settle with a synthetic false")
}

func TestReadFramePublishesOnlyOnChange(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	conv, err := s.st.GetOrCreateConversation(ctx, "a@x.com", "Alice", "b@x.com", "Bob")
	require.NoError(t, err)
	_, err = s.st.AddMessage(ctx, conv.ConversationID, "b@x.com", "hi", model.KindText, nil)
	require.NoError(t, err)

	alice := newTestClient("a@x.com", "Alice")
	bob := newTestClient("b@x.com", "Bob")
	s.reg.add(alice)
	s.reg.add(bob)

	require.NoError(t, dispatch(t, s, &Frame{Type: FrameRead, ConversationID: conv.ConversationID}, alice))
	f := recvFrame(t, bob)
	require.Equal(t, model.EventConversationUpdate, f.Event.Kind)

	// 已经全读过：不再广播
	require.NoError(t, dispatch(t, s, &Frame{Type: FrameRead, ConversationID: conv.ConversationID}, alice))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, bob.send)
}

func TestPingPong(t *testing.T) {
	s := newTestServer(t)
	alice := newTestClient("a@x.com", "Alice")

	require.NoError(t, dispatch(t, s, &Frame{Type: FramePing, AckID: "hb-1"}, alice))
	f := recvFrame(t, alice)
	require.Equal(t, FramePong, f.Type)
	require.Equal(t, "hb-1", f.AckID)
}

func TestRegistryCountsAndRemoval(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient("a@x.com", "Alice")
	c2 := NewClient("conn-2", "a@x.com", "Alice", nil, 16)

	r.add(c1)
	r.add(c2)
	require.Equal(t, 2, r.countByUser("a@x.com"))
	require.Len(t, r.listByUser("a@x.com"), 2)
	require.Same(t, c2, r.getByConnID("conn-2"))

	r.remove(c1)
	require.Equal(t, 1, r.countByUser("a@x.com"))
	r.remove(c2)
	require.Zero(t, r.countByUser("a@x.com"))
	require.Empty(t, r.listAll())
}

func TestEnqueueDropsWhenClosedOrFull(t *testing.T) {
	c := NewClient("conn-1", "a@x.com", "Alice", nil, 1)
	require.True(t, c.enqueue([]byte("one")))
	require.False(t, c.enqueue([]byte("two")), "full queue drops instead of blocking")

	c.close()
	require.False(t, c.enqueue([]byte("three")))
}
