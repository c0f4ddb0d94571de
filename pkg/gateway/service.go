package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ircbridge/pkg/bus"
	"ircbridge/pkg/bus/wsbus"
	"ircbridge/pkg/channel"
	"ircbridge/pkg/channel/irc"
	"ircbridge/pkg/config"
	"ircbridge/pkg/iface"
)

const localTransportName = "bus.local"

// Component is anything the service keeps running next to the status server:
// the bus transport and every channel adapter.
type Component interface {
	Name() string
	Run(context.Context) error
	Connected() bool
}

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	iface      *iface.Interface
	bus        *bus.MessageBus
	components []Component

	mu              sync.RWMutex
	startedAt       time.Time
	componentStates map[string]ComponentState
	cancel          context.CancelCauseFunc
}

// ComponentState is the per-component entry of the status payload.
type ComponentState struct {
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Status is the JSON body served by /healthz and /readyz.
type Status struct {
	Status        string                    `json:"status"`
	BusName       string                    `json:"bus_name,omitempty"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	ReadyAt       string                    `json:"ready_at,omitempty"`
	Components    map[string]ComponentState `json:"components"`
}

// NewService wires the local bus, the optional hub transport, the interface and the IRC bridge.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:             cfg,
		log:             log.With("component", "gateway.service"),
		bus:             bus.NewMessageBus(bus.WithLogger(log)),
		componentStates: make(map[string]ComponentState),
	}

	var publisher bus.Publisher = s.bus
	var transport Component = localTransport{}

	// The bus name is only known once the interface exists, so the hub client gets it afterwards.
	var hub *wsbus.Client
	if cfg.Bus.URL != "" {
		client, err := wsbus.New(wsbus.Options{
			URL:           cfg.Bus.URL,
			Topics:        []string{bus.TopicInterfaceOutput},
			Local:         s.bus,
			RetryInterval: cfg.IRC.ReconnectDelay(),
			Log:           log,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize bus transport: %w", err)
		}
		hub = client
		publisher = client
		transport = hubTransport{client}
	} else {
		s.log.Warn("No bus url configured, requests stay on the in-process bus")
	}

	itf, err := iface.New(cfg.Interface.Name, bus.MediaIRC, cfg.Interface.Hostname, publisher, log)
	if err != nil {
		return nil, fmt.Errorf("initialize interface: %w", err)
	}
	s.iface = itf
	if hub != nil {
		hub.SetSender(itf.BusName())
	}

	bridge, err := irc.New(irc.Options{
		Config:     cfg.IRC,
		Dispatcher: itf,
		Subscriber: s.bus,
		Log:        log,
		OnDie:      s.Die,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize irc bridge: %w", err)
	}

	adapters := []channel.Adapter{bridge}
	s.components = []Component{transport}
	for _, adapter := range adapters {
		s.components = append(s.components, adapter)
	}
	for _, component := range s.components {
		s.componentStates[component.Name()] = ComponentState{}
	}

	return s, nil
}

// Interface exposes the lifecycle collaborator, mostly for the CLI banner.
func (s *Service) Interface() *iface.Interface {
	return s.iface
}

// Run starts every component and the status server, and blocks until ctx ends,
// a component fails, or the die command was received. The latter returns irc.ErrDie.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.cancel = cancel
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.components))
	for _, component := range s.components {
		s.setComponentState(component.Name(), ComponentState{Running: true})

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := component.Run(ctx)
			s.setComponentState(component.Name(), ComponentState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s: %w", component.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), irc.ErrDie) {
			runErr = irc.ErrDie
		}
	case err := <-serverErrors:
		runErr = err
	case err := <-errCh:
		runErr = err
	}

	cancel(runErr)
	wg.Wait()
	s.bus.Close()

	return runErr
}

// Die stops the service as if the process was asked to terminate.
func (s *Service) Die() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel != nil {
		cancel(irc.ErrDie)
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.cfg.Gateway.Address()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	components := make(map[string]ComponentState, len(s.componentStates))
	for name, state := range s.componentStates {
		components[name] = state
	}
	for _, component := range s.components {
		state := components[component.Name()]
		state.Connected = state.Running && component.Connected()
		components[component.Name()] = state
	}

	resp := Status{
		Status:        status,
		UptimeSeconds: uptime,
		Components:    components,
	}
	if s.iface != nil {
		resp.BusName = s.iface.BusName()
		if readyAt := s.iface.ReadyAt(); !readyAt.IsZero() {
			resp.ReadyAt = readyAt.Format(time.RFC3339)
		}
	}

	return resp
}

// isReady is true once the interface signalled ready and every component is running and connected.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.iface == nil || !s.iface.IsReady() {
		return false
	}
	if len(s.components) == 0 {
		return false
	}

	for _, component := range s.components {
		if !s.componentStates[component.Name()].Running || !component.Connected() {
			return false
		}
	}

	return true
}

func (s *Service) setComponentState(name string, state ComponentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.componentStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// localTransport stands in for the hub when the bridge only uses the in-process bus.
type localTransport struct{}

func (localTransport) Name() string { return localTransportName }

func (localTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (localTransport) Connected() bool { return true }

type hubTransport struct {
	*wsbus.Client
}

func (hubTransport) Name() string { return "bus.ws" }
