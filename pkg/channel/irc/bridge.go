// Package irc relays IRC chat to the butler over the bus and butler replies back to IRC.
package irc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"ircbridge/pkg/bus"
	"ircbridge/pkg/channel"
	"ircbridge/pkg/config"
	"ircbridge/pkg/iface"
)

const (
	channelName = "irc"

	commandDisconnect = "disconnect"
	commandDie        = "die"

	noticeSuccess     = "Request sent over MQ with success"
	noticeFailure     = "Unable to send your request over the MQ : "
	noticeFailureWhy  = "The reason is :"
	messagePreviewMax = 240
	chatQueueSize     = 100
)

// ErrDie is the cause attached to the shutdown triggered by the die command.
var ErrDie = errors.New("die requested over irc")

var _ channel.Adapter = (*Bridge)(nil)

// Conn is the part of an IRC session the bridge writes to.
type Conn interface {
	Join(channel string)
	Message(target string, text string)
	Notice(target string, text string)
	Quit(reason string)
	Nick() string
}

// Dispatcher forwards requests to the butler and reports readiness.
type Dispatcher interface {
	SendToButler(ctx context.Context, req iface.Request) error
	Ready()
}

// Options configures a Bridge.
type Options struct {
	Config     config.IRCConfig
	Dispatcher Dispatcher
	Subscriber bus.Subscriber
	Log        *slog.Logger
	// OnDie is called after the die command closed the IRC session.
	OnDie func()
}

type chatMessage struct {
	sender  string
	text    string
	private bool
}

// Bridge owns one IRC session and translates between IRC messages and bus events.
type Bridge struct {
	cfg        config.IRCConfig
	dispatcher Dispatcher
	sub        bus.Subscriber
	log        *slog.Logger
	onDie      func()

	chat    chan chatMessage
	connect func(context.Context) error

	// writeMu serializes every write to conn.
	writeMu  sync.Mutex
	conn     Conn
	welcomed bool

	nickMu        sync.Mutex
	triedFallback bool
	lastNick      string
}

// New validates options and constructs a bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if strings.TrimSpace(opts.Config.Channel) == "" {
		return nil, errors.New("irc.channel is required")
	}
	if strings.TrimSpace(opts.Config.Nickname) == "" {
		return nil, errors.New("irc.nickname is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.OnDie == nil {
		opts.OnDie = func() {}
	}

	b := &Bridge{
		cfg:        opts.Config,
		dispatcher: opts.Dispatcher,
		sub:        opts.Subscriber,
		log:        opts.Log.With("component", "channel.irc"),
		onDie:      opts.OnDie,
		chat:       make(chan chatMessage, chatQueueSize),
	}
	b.connect = b.connectLoop

	return b, nil
}

// Name returns the channel identifier used in logs and status.
func (b *Bridge) Name() string {
	return channelName
}

// Connected reports whether the bot is registered on the IRC server.
func (b *Bridge) Connected() bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn != nil && b.welcomed
}

// Run keeps the IRC session alive and serializes chat commands and bus replies
// through a single loop until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	outputs, unsubscribe := b.sub.Subscribe(ctx, bus.TopicInterfaceOutput, 0)
	defer unsubscribe()

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- b.connect(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-connectDone
			return nil
		case err := <-connectDone:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case msg := <-b.chat:
			b.handleChat(ctx, msg)
		case msg, ok := <-outputs:
			if !ok {
				if ctx.Err() != nil {
					<-connectDone
					return nil
				}
				return errors.New("interface.output subscription closed")
			}
			b.ProcessResponse(msg)
		}
	}
}

// enqueue hands a chat message from the IRC event loop to Run.
func (b *Bridge) enqueue(ctx context.Context, msg chatMessage) {
	select {
	case b.chat <- msg:
	case <-ctx.Done():
	}
}

func (b *Bridge) handleChat(ctx context.Context, msg chatMessage) {
	if msg.private {
		b.onPrivateMessage(ctx, msg.sender, msg.text)
		return
	}
	b.onChannelMessage(ctx, msg.sender, msg.text)
}

// onWelcome joins the configured channel and tells the platform the interface is up.
func (b *Bridge) onWelcome() {
	b.log.Info("Welcomed on the IRC server, joining channel", "channel", b.cfg.Channel)

	b.writeMu.Lock()
	if b.conn != nil {
		b.conn.Join(b.cfg.Channel)
		b.welcomed = true
	}
	b.writeMu.Unlock()

	b.dispatcher.Ready()
}

func (b *Bridge) onPrivateMessage(ctx context.Context, sender string, text string) {
	b.log.Info("Private message received", "sender", sender, "content", previewText(text))
	b.handleCommand(ctx, sender, text, bus.LocationPrivate)
}

// onChannelMessage only reacts to "<nick>: <command>" addressed to the bot's current nickname.
func (b *Bridge) onChannelMessage(ctx context.Context, sender string, text string) {
	command, ok := addressedCommand(text, b.currentNick())
	if !ok {
		return
	}

	b.log.Info("Channel message received", "sender", sender, "content", previewText(text))
	b.handleCommand(ctx, sender, command, bus.LocationPublic)
}

// addressedCommand splits "<nick>:<rest>" and returns the trimmed rest when nick matches.
func addressedCommand(text string, nick string) (string, bool) {
	if nick == "" {
		return "", false
	}

	prefix, rest, ok := strings.Cut(text, ":")
	if !ok {
		return "", false
	}
	if !equalNick(prefix, nick) {
		return "", false
	}

	return strings.TrimSpace(rest), true
}

func (b *Bridge) handleCommand(ctx context.Context, sender string, text string, location string) {
	switch text {
	case commandDisconnect:
		b.log.Info("Disconnect requested", "sender", sender)
		b.quit("disconnect requested by " + sender)
		return
	case commandDie:
		b.log.Warn("Die requested", "sender", sender)
		b.quit("die requested by " + sender)
		b.onDie()
		return
	}

	err := b.dispatcher.SendToButler(ctx, iface.Request{
		Text:     text,
		Identity: sender,
		Location: location,
	})
	if err != nil {
		b.log.Error("Failed to send request to butler", "sender", sender, "error", err)
		b.notice(sender, failureNotices(text, err)...)
		return
	}

	b.notice(sender, noticeSuccess)
}

func failureNotices(command string, err error) []string {
	lines := []string{noticeFailure + command, noticeFailureWhy}
	for _, line := range strings.Split(err.Error(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ProcessResponse delivers one interface.output message to IRC.
func (b *Bridge) ProcessResponse(msg bus.Message) {
	event, err := msg.DecodeOutbound()
	if err != nil {
		b.log.Warn("Dropping malformed bus message", "message_id", msg.ID, "error", err)
		return
	}
	b.onBusEvent(event)
}

func (b *Bridge) onBusEvent(event bus.OutboundEvent) {
	if event.Media != bus.MediaIRC {
		return
	}

	switch event.Location {
	case bus.LocationPublic:
		b.message(b.cfg.Channel, event.Text)
	case bus.LocationPrivate:
		if strings.TrimSpace(event.ReplyTo) == "" {
			b.log.Warn("Dropping private reply without reply_to", "content", previewText(event.Text))
			return
		}
		b.message(event.ReplyTo, event.Text)
	default:
		b.log.Warn("Invalid location received for irc media", "location", event.Location)
	}
}

func (b *Bridge) message(target string, text string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		b.log.Warn("Not connected to IRC, dropping message", "target", target, "content", previewText(text))
		return
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		b.log.Warn("Dropping empty message", "target", target)
		return
	}

	b.log.Info("Sending message", "target", target, "content", previewText(text))
	for _, line := range lines {
		b.conn.Message(target, line)
	}
}

func (b *Bridge) notice(target string, lines ...string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		return
	}
	for _, line := range lines {
		b.conn.Notice(target, line)
	}
}

func (b *Bridge) quit(reason string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		return
	}
	b.conn.Quit(reason)
	b.welcomed = false
}

func (b *Bridge) currentNick() string {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		return b.cfg.Nickname
	}
	return b.conn.Nick()
}

// attach makes conn the target of all writes; nil detaches.
func (b *Bridge) attach(conn Conn) {
	b.writeMu.Lock()
	b.conn = conn
	b.welcomed = false
	b.writeMu.Unlock()
}

// nextNick picks the nickname to try after the last attempt was refused:
// the secondary nickname once, then the primary with one more underscore each time.
//
// girc passes the configured nick while registration is pending, so the
// attempted nick is tracked here rather than taken from the argument.
func (b *Bridge) nextNick(string) string {
	b.nickMu.Lock()
	defer b.nickMu.Unlock()

	refused := b.lastNick
	if refused == "" {
		refused = b.cfg.Nickname
	}

	fallback := strings.TrimSpace(b.cfg.SecondaryNickname)
	var next string
	switch {
	case fallback != "" && !b.triedFallback:
		b.triedFallback = true
		next = fallback
	case fallback != "" && refused == fallback:
		next = b.cfg.Nickname + "_"
	default:
		next = refused + "_"
	}
	b.lastNick = next

	b.log.Warn("Nickname already used, trying another", "nick", refused, "next", next)
	return next
}

func (b *Bridge) resetNick() {
	b.nickMu.Lock()
	b.triedFallback = false
	b.lastNick = ""
	b.nickMu.Unlock()
}

// splitLines breaks text on newlines since a PRIVMSG carries exactly one line.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := make([]string, 0, 1)
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewMax {
		return trimmed
	}

	return trimmed[:messagePreviewMax] + "..."
}
