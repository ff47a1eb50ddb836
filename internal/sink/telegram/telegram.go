// Package telegram posts notification threads to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/notify"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// Config configures the sink.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

type Sink struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	// No poller: the sink only sends.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, bot: b, log: log}, nil
}

func (s *Sink) Name() string { return "telegram" }

// Post sends parts in order, each replying to the previous so the chat
// shows one thread per event.
func (s *Sink) Post(ctx context.Context, parts []message.Part) error {
	to := tele.ChatID(s.cfg.ChatID)

	var parent *tele.Message
	for i, part := range parts {
		opts := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: s.cfg.ThreadID}
		if parent != nil {
			opts.ReplyTo = parent
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.bot.Send(to, part.Text, opts)
		if err != nil {
			err = classify(err)
			if i > 0 {
				return fmt.Errorf("thread truncated after %d part(s): %w", i, err)
			}
			return err
		}
		parent = msg
	}
	return nil
}

func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return errors.Join(notify.ErrRateLimited,
			fmt.Errorf("retry after %s: %w", time.Duration(flood.RetryAfter)*time.Second, err))
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return errors.Join(notify.ErrAuthFailed, err)
		case 429:
			return errors.Join(notify.ErrRateLimited, err)
		}
	}
	return errors.Join(notify.ErrUnavailable, err)
}
