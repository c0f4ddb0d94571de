package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ircbridge/pkg/bus"
	"ircbridge/pkg/config"
	"ircbridge/pkg/iface"

	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name      string
	connected atomic.Bool
	runErr    error
	started   chan struct{}
}

func newFakeComponent(name string) *fakeComponent {
	return &fakeComponent{name: name, started: make(chan struct{})}
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Connected() bool { return c.connected.Load() }

func (c *fakeComponent) Run(ctx context.Context) error {
	close(c.started)
	if c.runErr != nil {
		return c.runErr
	}
	<-ctx.Done()
	return nil
}

func testInterface(t *testing.T) (*iface.Interface, *bus.MessageBus) {
	t.Helper()

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	itf, err := iface.New("irc", bus.MediaIRC, "testhost", mb, slog.Default())
	require.NoError(t, err)
	return itf, mb
}

func testService(t *testing.T, components ...Component) *Service {
	t.Helper()

	itf, mb := testInterface(t)
	svc := &Service{
		cfg:             config.Default(),
		log:             slog.Default().With("component", "gateway.service.test"),
		iface:           itf,
		bus:             mb,
		components:      components,
		componentStates: make(map[string]ComponentState),
	}
	for _, component := range components {
		svc.componentStates[component.Name()] = ComponentState{}
	}
	return svc
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	irc := newFakeComponent("irc")
	hub := newFakeComponent("bus.ws")
	svc := testService(t, hub, irc)

	require.False(t, svc.isReady())

	svc.setComponentState("irc", ComponentState{Running: true})
	svc.setComponentState("bus.ws", ComponentState{Running: true})
	irc.connected.Store(true)
	hub.connected.Store(true)
	require.False(t, svc.isReady(), "interface has not signalled ready")

	svc.iface.Ready()
	require.True(t, svc.isReady())

	hub.connected.Store(false)
	require.False(t, svc.isReady(), "hub connection is down")

	hub.connected.Store(true)
	svc.setComponentState("irc", ComponentState{Error: "boom"})
	require.False(t, svc.isReady(), "irc component stopped")
}

func TestIsReadyWithoutComponents(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	svc.iface.Ready()
	require.False(t, svc.isReady())
}

func TestHandleReadyReportsComponents(t *testing.T) {
	t.Parallel()

	irc := newFakeComponent("irc")
	svc := testService(t, localTransport{}, irc)

	recorder := httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var notReady Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &notReady))
	require.Equal(t, "not_ready", notReady.Status)
	require.Equal(t, "interface-irc.testhost", notReady.BusName)
	require.Empty(t, notReady.ReadyAt)
	require.Contains(t, notReady.Components, "irc")
	require.Contains(t, notReady.Components, localTransportName)

	svc.setComponentState("irc", ComponentState{Running: true})
	svc.setComponentState(localTransportName, ComponentState{Running: true})
	irc.connected.Store(true)
	svc.iface.Ready()

	recorder = httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var ready Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &ready))
	require.Equal(t, "ready", ready.Status)
	require.NotEmpty(t, ready.ReadyAt)
	require.Equal(t, ComponentState{Running: true, Connected: true}, ready.Components["irc"])
	require.Equal(t, ComponentState{Running: true, Connected: true}, ready.Components[localTransportName])
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	svc := testService(t, newFakeComponent("irc"))

	recorder := httptest.NewRecorder()
	svc.handleHealth(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, "ok", payload.Status)
}

func TestNewServiceLocalBus(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Interface.Hostname = "Living-Room.lan"

	svc, err := NewService(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(svc.bus.Close)

	require.Equal(t, "interface-irc.livingroom", svc.Interface().BusName())
	require.Len(t, svc.components, 2)
	require.Equal(t, localTransportName, svc.components[0].Name())
	require.Equal(t, "irc", svc.components[1].Name())
	require.True(t, svc.components[0].Connected())
}

func TestNewServiceHubTransport(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Interface.Hostname = "testhost"
	cfg.Bus.URL = "ws://127.0.0.1:1/bus"

	svc, err := NewService(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(svc.bus.Close)

	require.Equal(t, "bus.ws", svc.components[0].Name())
	require.False(t, svc.components[0].Connected())

	cfg.Bus.URL = "http://127.0.0.1:1/bus"
	_, err = NewService(cfg, slog.Default())
	require.Error(t, err)
}

func TestNewServiceRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, nil)
	require.Error(t, err)
}
