package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"ircbridge/pkg/bus"
	"ircbridge/pkg/channel/irc"

	"github.com/stretchr/testify/require"
)

func runService(t *testing.T, svc *Service) (context.CancelFunc, chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	return cancel, errCh
}

func waitRunResult(t *testing.T, errCh chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
		return nil
	}
}

func TestGatewayServiceReadyzFollowsInterfaceAndConnections(t *testing.T) {
	ircComponent := newFakeComponent("irc")
	svc := testService(t, localTransport{}, ircComponent)
	port := freeTCPPort(t)
	svc.cfg.Gateway.Port = port

	cancel, errCh := runService(t, svc)
	defer cancel()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)

	require.Equal(t, http.StatusOK, waitHTTPStatus(t, healthURL, 3*time.Second))
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, readyURL, 3*time.Second))

	ircComponent.connected.Store(true)
	svc.iface.Ready()
	require.Eventually(t, func() bool {
		return httpStatus(readyURL) == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	ircComponent.connected.Store(false)
	require.Eventually(t, func() bool {
		return httpStatus(readyURL) == http.StatusServiceUnavailable
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	require.NoError(t, waitRunResult(t, errCh))
}

func TestGatewayServiceDieStopsWithErrDie(t *testing.T) {
	ircComponent := newFakeComponent("irc")
	svc := testService(t, localTransport{}, ircComponent)
	svc.cfg.Gateway.Port = freeTCPPort(t)

	cancel, errCh := runService(t, svc)
	defer cancel()

	select {
	case <-ircComponent.started:
	case <-time.After(3 * time.Second):
		t.Fatal("component was not started")
	}

	svc.Die()
	require.ErrorIs(t, waitRunResult(t, errCh), irc.ErrDie)

	err := svc.bus.Publish(context.Background(), bus.Message{Topic: bus.TopicInterfaceOutput})
	require.ErrorIs(t, err, bus.ErrClosed)
}

func TestGatewayServiceComponentFailure(t *testing.T) {
	failing := newFakeComponent("bus.ws")
	failing.runErr = errors.New("hub rejected handshake")
	ircComponent := newFakeComponent("irc")
	svc := testService(t, failing, ircComponent)
	svc.cfg.Gateway.Port = freeTCPPort(t)

	cancel, errCh := runService(t, svc)
	defer cancel()

	err := waitRunResult(t, errCh)
	require.ErrorContains(t, err, "run bus.ws")
	require.ErrorContains(t, err, "hub rejected handshake")

	state := svc.currentStatus("not_ready").Components["bus.ws"]
	require.False(t, state.Running)
	require.Equal(t, "hub rejected handshake", state.Error)
}

func TestGatewayServiceStatusServerBindFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	svc := testService(t, newFakeComponent("irc"))
	svc.cfg.Gateway.Port = listener.Addr().(*net.TCPAddr).Port

	cancel, errCh := runService(t, svc)
	defer cancel()

	require.ErrorContains(t, waitRunResult(t, errCh), "start status server")
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

// httpStatus returns 0 when the request fails.
func httpStatus(url string) int {
	response, err := http.Get(url)
	if err != nil {
		return 0
	}
	_ = response.Body.Close()
	return response.StatusCode
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
