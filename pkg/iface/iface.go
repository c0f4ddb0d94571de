// Package iface is the lifecycle every platform interface shares: naming on the bus,
// publishing requests to the butler, and signalling readiness.
package iface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"ircbridge/pkg/bus"
)

const maxHostnameLength = 16

// Request is what an interface asks the butler to process.
type Request struct {
	Text     string
	Identity string
	Location string
}

// Interface carries the shared collaborators of one interface process.
type Interface struct {
	name     string
	hostname string
	template bus.Context
	pub      bus.Publisher
	log      *slog.Logger

	mu      sync.RWMutex
	readyAt time.Time
}

// New builds an interface named name publishing through pub.
// An empty hostname is derived from the machine host name.
func New(name string, media string, hostname string, pub bus.Publisher, log *slog.Logger) (*Interface, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("interface name is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if log == nil {
		log = slog.Default()
	}

	if strings.TrimSpace(hostname) == "" {
		raw, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		hostname = raw
	}

	sanitized := SanitizeHostname(hostname)
	if sanitized == "" {
		return nil, fmt.Errorf("hostname %q has no usable characters", hostname)
	}

	return &Interface{
		name:     name,
		hostname: sanitized,
		template: bus.Context{Media: media},
		pub:      pub,
		log:      log.With("component", "interface."+name),
	}, nil
}

// SanitizeHostname keeps the lower-cased first label of host, alphanumerics only, at most 16 characters.
func SanitizeHostname(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if label, _, ok := strings.Cut(host, "."); ok {
		host = label
	}

	var b strings.Builder
	for _, r := range host {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == maxHostnameLength {
			break
		}
	}

	return b.String()
}

func (i *Interface) Name() string {
	return i.name
}

func (i *Interface) Log() *slog.Logger {
	return i.log
}

func (i *Interface) SanitizedHostname() string {
	return i.hostname
}

// BusName is the identity this interface publishes under, e.g. interface-irc.myhost.
func (i *Interface) BusName() string {
	return fmt.Sprintf("interface-%s.%s", i.name, i.hostname)
}

// Context returns the per-process context template.
func (i *Interface) Context() bus.Context {
	return i.template
}

// SendToButler publishes req on interface.input.
func (i *Interface) SendToButler(ctx context.Context, req Request) error {
	if !bus.ValidLocation(req.Location) {
		return fmt.Errorf("unknown location %q", req.Location)
	}

	event := bus.InboundEvent{
		Context: i.template.With(req.Identity, req.Location),
		Text:    req.Text,
	}

	msg, err := bus.NewMessage(bus.TopicInterfaceInput, i.BusName(), event)
	if err != nil {
		return err
	}

	if err := i.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", bus.TopicInterfaceInput, err)
	}

	i.log.Debug("Request sent to butler", "message_id", msg.ID, "identity", req.Identity, "location", req.Location)
	return nil
}

// Ready records that the interface finished starting up. Later calls are no-ops.
func (i *Interface) Ready() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.readyAt.IsZero() {
		return
	}
	i.readyAt = time.Now().UTC()
	i.log.Info("Interface ready", "bus_name", i.BusName())
}

func (i *Interface) IsReady() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return !i.readyAt.IsZero()
}

// ReadyAt returns when Ready was first called, zero if never.
func (i *Interface) ReadyAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.readyAt
}
