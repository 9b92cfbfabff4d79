package rpc

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name    string
	handles map[string]bool
	reply   string
	calls   int
}

func newStubHandler(name, reply string, variants ...string) *stubHandler {
	handles := make(map[string]bool, len(variants))
	for _, v := range variants {
		handles[v] = true
	}
	return &stubHandler{name: name, handles: handles, reply: reply}
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) CanHandle(variant string) bool { return h.handles[variant] }

func (h *stubHandler) Handle(context.Context, *Context, *Request) (*Response, error) {
	h.calls++
	return &Response{Variant: h.reply}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(quietLogger())
	ping := newStubHandler("ping", "Pong", "Ping")
	reader := newStubHandler("reader", "ReadKeyResult", "ReadKey")
	reg.Register(ping, 100)
	reg.Register(reader, 100)

	resp, err := reg.Dispatch(context.Background(), &Context{}, &Request{Variant: "Ping"})
	require.NoError(t, err)
	assert.Equal(t, "Pong", resp.Variant)
	assert.Equal(t, 1, ping.calls)
	assert.Zero(t, reader.calls)
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry(quietLogger())
	_, err := reg.Dispatch(context.Background(), &Context{}, &Request{Variant: "Unknown"})
	var noHandler *ErrNoHandler
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, "Unknown", noHandler.Variant)
}

func TestRegistryPriorityOrder(t *testing.T) {
	reg := NewRegistry(quietLogger())
	low := newStubHandler("low", "Low", "Op")
	high := newStubHandler("high", "High", "Op")
	reg.Register(low, 10)
	reg.Register(high, 500)

	resp, err := reg.Dispatch(context.Background(), &Context{}, &Request{Variant: "Op"})
	require.NoError(t, err)
	assert.Equal(t, "High", resp.Variant)
	assert.Equal(t, []string{"high", "low"}, reg.HandlerNames())
}

func TestRegistrySwapPluginHandlers(t *testing.T) {
	reg := NewRegistry(quietLogger())
	static := newStubHandler("static", "Static", "Ping")
	oldPlugin := newStubHandler("old-plugin", "Old", "Op")
	reg.Register(static, 100)
	reg.RegisterPlugin(oldPlugin, 100)

	newPlugin := newStubHandler("new-plugin", "New", "Op")
	reg.SwapPluginHandlers([]Handler{newPlugin}, []uint32{200})

	resp, err := reg.Dispatch(context.Background(), &Context{}, &Request{Variant: "Op"})
	require.NoError(t, err)
	assert.Equal(t, "New", resp.Variant)
	assert.Zero(t, oldPlugin.calls)

	// Static handlers survive the swap.
	resp, err = reg.Dispatch(context.Background(), &Context{}, &Request{Variant: "Ping"})
	require.NoError(t, err)
	assert.Equal(t, "Static", resp.Variant)
}
