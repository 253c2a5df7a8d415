package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"HProject/module/chat/model"
	"HProject/tools/errs"
)

func newLocalBus(t *testing.T) *EventBus {
	t.Helper()
	b := NewEventBus(Config{ID: "bus-test"}) // local-only: no servers
	require.NoError(t, b.Connect("a@x.com"))
	return b
}

func TestPublishBeforeConnect(t *testing.T) {
	b := NewEventBus(Config{ID: "bus-test"})
	err := b.Publish(&model.ChatEvent{Kind: model.EventMessage})
	require.True(t, errs.IsCode(err, errs.BusClosed))
}

func TestLocalDispatchOrder(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var got []string
	b.OnMessage("h1", func(ev *model.ChatEvent) { got = append(got, "h1") })
	b.OnMessage("h2", func(ev *model.ChatEvent) { got = append(got, "h2") })
	b.OnMessage("h3", func(ev *model.ChatEvent) { got = append(got, "h3") })

	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventConversationUpdate}))
	require.Equal(t, []string{"h1", "h2", "h3"}, got)
}

func TestHandlerIsolation(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var delivered []*model.ChatEvent
	b.OnMessage("h1", func(ev *model.ChatEvent) { panic("boom") })
	b.OnMessage("h2", func(ev *model.ChatEvent) { delivered = append(delivered, ev) })

	ev := &model.ChatEvent{Kind: model.EventMessage, ConversationID: "conv_1"}
	require.NoError(t, b.Publish(ev))

	// h1 panicked, h2 must still receive the same payload
	require.Len(t, delivered, 1)
	require.Equal(t, "conv_1", delivered[0].ConversationID)
}

func TestReregisterByIDReplacesHandler(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var first, second int
	b.OnMessage("h", func(ev *model.ChatEvent) { first++ })
	b.OnMessage("h", func(ev *model.ChatEvent) { second++ })

	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	require.Zero(t, first, "replaced handler must not run")
	require.Equal(t, 1, second)
}

func TestOffMessageStopsDelivery(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var calls int
	b.OnMessage("h", func(ev *model.ChatEvent) { calls++ })
	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	b.OffMessage("h")
	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	require.Equal(t, 1, calls)

	// unregistering an unknown id is a no-op
	b.OffMessage("nope")
}

func TestTypingChannelOnlySeesTypingEvents(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var typingCalls, msgCalls int
	b.OnTyping("t", func(ev *model.ChatEvent) { typingCalls++ })
	b.OnMessage("m", func(ev *model.ChatEvent) { msgCalls++ })

	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	require.NoError(t, b.PublishTyping("conv_1", true))

	require.Equal(t, 1, typingCalls, "typing channel only fires for user_typing")
	require.Equal(t, 2, msgCalls, "message channel sees every kind")
}

func TestPublishTypingCarriesIdentity(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var got *model.ChatEvent
	b.OnTyping("t", func(ev *model.ChatEvent) { got = ev })
	require.NoError(t, b.PublishTyping("conv_9", true))

	require.NotNil(t, got)
	require.Equal(t, "a@x.com", got.SenderID)
	require.Equal(t, "conv_9", got.ConversationID)
	require.True(t, got.IsTyping)
	require.Equal(t, "bus-test", got.Origin)
	require.NotZero(t, got.Ts)
}

func TestConcurrentFirstConnect(t *testing.T) {
	b := NewEventBus(Config{ID: "bus-test"})
	defer b.Disconnect()

	const callers = 16
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errCh <- b.Connect("a@x.com") }()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errCh)
	}

	var calls int
	b.OnMessage("h", func(ev *model.ChatEvent) { calls++ })
	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	require.Equal(t, 1, calls)
}

func TestReconnectKeepsHandlers(t *testing.T) {
	b := newLocalBus(t)
	defer b.Disconnect()

	var calls int
	b.OnMessage("h", func(ev *model.ChatEvent) { calls++ })

	// idempotent reconnect must not drop registrations or double-deliver
	require.NoError(t, b.Connect("a@x.com"))
	require.NoError(t, b.Publish(&model.ChatEvent{Kind: model.EventMessage}))
	require.Equal(t, 1, calls)
}

func TestDisconnectClearsRegistries(t *testing.T) {
	b := newLocalBus(t)

	var calls int
	b.OnMessage("h", func(ev *model.ChatEvent) { calls++ })
	b.Disconnect()

	err := b.Publish(&model.ChatEvent{Kind: model.EventMessage})
	require.True(t, errs.IsCode(err, errs.BusClosed))
	require.Zero(t, calls)
}
