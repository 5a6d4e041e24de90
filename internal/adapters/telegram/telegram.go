// Package telegram adapts telebot to the bot's moderation domain: command
// dispatch, member resolution, and the video-permission capability itself.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "streambot/pkg/logx"
)

// ErrMemberNotFound means the user is not (or no longer) a member of the
// moderated group. Expected during reconciliation after a restart.
var ErrMemberNotFound = errors.New("member not found")

type Config struct {
	Token       string
	ChatID      int64 // the moderated group
	PollTimeout time.Duration
}

// Message is the adapter-neutral view of an incoming command.
type Message struct {
	ChatID        int64
	FromID        int64
	FromUsername  string
	Payload       string // text after the command
	ReplyToUserID int64  // 0 when the command is not a reply
}

// Handler handles one command. A non-empty reply is sent back to the chat.
type Handler func(ctx context.Context, m Message) (reply string, err error)

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	ready     chan struct{}
	readyOnce sync.Once

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, ready: make(chan struct{})}, nil
}

// Command registers a handler for a slash command ("/stream").
// Must be called before Start.
func (a *Adapter) Command(cmd string, h Handler) {
	a.bot.Handle(cmd, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		// Commands only make sense inside the moderated group.
		if m.Chat == nil || m.Chat.ID != a.cfg.ChatID {
			return nil
		}
		msg := Message{
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Payload:      strings.TrimSpace(m.Payload),
		}
		if m.ReplyTo != nil && m.ReplyTo.Sender != nil {
			msg.ReplyToUserID = m.ReplyTo.Sender.ID
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		reply, err := h(ctx, msg)
		if err != nil {
			a.log.Warn("command failed",
				logx.String("command", cmd),
				logx.Int64("from", msg.FromID),
				logx.Err(err))
			if reply == "" {
				reply = "Something went wrong, try again later."
			}
		}
		if reply == "" {
			return nil
		}
		return c.Reply(reply)
	})
}

// Start launches long polling and the readiness probe.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Readiness: the gate opens once the moderated group is reachable, so
	// reconciliation never runs against a half-up API session.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			if _, err := a.bot.ChatByID(a.cfg.ChatID); err == nil {
				a.readyOnce.Do(func() { close(a.ready) })
				a.log.Info("moderated group reachable", logx.Int64("chat_id", a.cfg.ChatID))
				return
			} else {
				a.log.Debug("group not reachable yet", logx.Err(err))
			}
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

// AwaitReady blocks until member lookups are usable (expiry.Gate).
func (a *Adapter) AwaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendLog delivers a log line to chatID. Wired as the logx telegram sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, msg string) error {
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, msg)
	return err
}
