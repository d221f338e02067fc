// Package telegram delivers reports to a Telegram chat or channel.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"rankwatch/internal/outbox"
	"rankwatch/internal/publish"
)

type Config struct {
	Token string `json:"token,omitempty"`
	// ChatID is a numeric chat id or an @channelname.
	ChatID string `json:"chat_id,omitempty"`
}

type Sender struct {
	cfg   Config
	retry publish.RetryPolicy
	log   zerolog.Logger

	mu  sync.Mutex
	bot *tele.Bot
}

func New(cfg Config, retry publish.RetryPolicy, log zerolog.Logger) *Sender {
	return &Sender{cfg: cfg, retry: retry, log: log}
}

func (s *Sender) Name() string { return "telegram" }

// chatRecipient passes the configured chat id through verbatim, so both
// numeric ids and @channelnames work.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

// Send delivers the message with HTML formatting, falling back to raw text
// when Telegram rejects the markup (a broken tag should not lose the alert).
func (s *Sender) Send(ctx context.Context, message string) outbox.Outcome {
	if strings.TrimSpace(s.cfg.Token) == "" || strings.TrimSpace(s.cfg.ChatID) == "" {
		s.log.Info().Msg("telegram not configured (missing token or chat id)")
		return outbox.NotConfigured
	}

	bot, err := s.botClient()
	if err != nil {
		s.log.Error().Err(err).Msg("telegram bot init failed")
		return outbox.Failed
	}

	to := chatRecipient(strings.TrimSpace(s.cfg.ChatID))

	err = s.sendWithRetries(bot, to, message, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err == nil {
		s.log.Info().Msg("telegram message sent (html)")
		return outbox.Delivered
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		s.log.Warn().Err(err).Msg("telegram html send rejected, retrying as raw text")
		// Raw text keeps the alert readable even if the markup is broken.
		if err := s.sendWithRetries(bot, to, message, nil); err != nil {
			s.log.Error().Err(err).Msg("telegram raw send failed")
			return outbox.Failed
		}
		s.log.Info().Msg("telegram message sent (raw)")
		return outbox.Delivered
	}

	s.log.Error().Err(err).Msg("telegram send failed")
	return outbox.Failed
}

func (s *Sender) sendWithRetries(bot *tele.Bot, to tele.Recipient, text string, opts *tele.SendOptions) error {
	return s.retry.Do(func() error {
		var err error
		if opts != nil {
			_, err = bot.Send(to, text, opts)
		} else {
			_, err = bot.Send(to, text)
		}
		return err
	}, func(attempt int, err error) {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("telegram send attempt failed, retrying")
	})
}

// botClient builds the API client on first use. The bot is send-only, so
// there is no poller and no getMe round trip at construction.
func (s *Sender) botClient() (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return s.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: s.cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	s.bot = b
	return b, nil
}
