package irc

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/lrstanley/girc"

	"ircbridge/pkg/logger"
)

const (
	ircUser     = "ircbridge"
	ircRealName = "Butler IRC interface"
	pingDelay   = 30 * time.Second
)

// session adapts a girc client to Conn.
type session struct {
	client *girc.Client
}

func (s *session) Join(channel string) {
	s.client.Cmd.Join(channel)
}

func (s *session) Message(target string, text string) {
	s.client.Cmd.Message(target, text)
}

func (s *session) Notice(target string, text string) {
	s.client.Cmd.Notice(target, text)
}

func (s *session) Quit(reason string) {
	s.client.Quit(reason)
}

func (s *session) Nick() string {
	return s.client.GetNick()
}

// equalNick compares nicknames with the RFC1459 case mapping IRC servers use.
func equalNick(a string, b string) bool {
	return girc.ToRFC1459(a) == girc.ToRFC1459(b)
}

func (b *Bridge) clientConfig() girc.Config {
	cfg := girc.Config{
		Server:            b.cfg.Server,
		Port:              b.cfg.Port,
		Nick:              b.cfg.Nickname,
		User:              ircUser,
		Name:              ircRealName,
		ServerPass:        b.cfg.Password,
		PingDelay:         pingDelay,
		HandleNickCollide: b.nextNick,
	}
	if b.cfg.TLS {
		cfg.SSL = true
		cfg.TLSConfig = &tls.Config{ServerName: b.cfg.Server, MinVersion: tls.VersionTLS12}
	}
	if b.log.Enabled(context.Background(), slog.LevelDebug) {
		cfg.Debug = logger.LineWriter(b.log.With("stream", "girc"), slog.LevelDebug)
	}

	return cfg
}

func (b *Bridge) registerHandlers(ctx context.Context, client *girc.Client) {
	client.Handlers.Add(girc.CONNECTED, func(_ *girc.Client, _ girc.Event) {
		b.resetNick()
		b.onWelcome()
	})

	client.Handlers.Add(girc.PRIVMSG, func(_ *girc.Client, e girc.Event) {
		if e.Source == nil || e.IsAction() || len(e.Params) == 0 {
			return
		}

		b.enqueue(ctx, chatMessage{
			sender:  e.Source.Name,
			text:    e.Last(),
			private: !e.IsFromChannel(),
		})
	})
}

// connectLoop dials the IRC server and redials after the fixed reconnect interval
// whenever the session ends, until ctx is done.
func (b *Bridge) connectLoop(ctx context.Context) error {
	delay := b.cfg.ReconnectDelay()
	bf := &backoff.Backoff{Min: delay, Max: delay, Factor: 1}

	for {
		client := girc.New(b.clientConfig())
		b.registerHandlers(ctx, client)
		b.attach(&session{client: client})

		b.log.Info("Connecting to IRC", "server", b.cfg.Server, "port", b.cfg.Port, "nick", b.cfg.Nickname, "tls", b.cfg.TLS)
		stop := context.AfterFunc(ctx, client.Close)
		err := client.Connect()
		stop()
		b.attach(nil)
		if closer, ok := client.Config.Debug.(interface{ Close() error }); ok {
			_ = closer.Close()
		}

		if ctx.Err() != nil {
			return nil
		}

		wait := bf.Duration()
		if err != nil {
			b.log.Error("IRC connection failed", "error", err, "retry_in", wait)
		} else {
			b.log.Info("Disconnected from IRC", "retry_in", wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
