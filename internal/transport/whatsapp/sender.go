// Package whatsapp delivers reports to a WhatsApp channel through a Whapi
// gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rankwatch/internal/outbox"
	"rankwatch/internal/publish"
)

type Config struct {
	APIURL string `json:"api_url,omitempty"`
	Token  string `json:"token,omitempty"`
	// ChannelJID is the target channel/group JID.
	ChannelJID string `json:"channel_jid,omitempty"`
}

type Sender struct {
	cfg   Config
	retry publish.RetryPolicy
	http  *http.Client
	log   zerolog.Logger
}

func New(cfg Config, retry publish.RetryPolicy, log zerolog.Logger) *Sender {
	return &Sender{
		cfg:   cfg,
		retry: retry,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log,
	}
}

func (s *Sender) Name() string { return "whatsapp" }

type textMessage struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	TypingTime int    `json:"typing_time"`
}

// Send posts the message (converted from Telegram HTML to WhatsApp text) to
// the gateway. Missing gateway URL or token means the channel is simply not
// set up; a missing JID with the gateway configured is an operator error and
// counts as a failure.
func (s *Sender) Send(ctx context.Context, message string) outbox.Outcome {
	apiURL := strings.TrimRight(strings.TrimSpace(s.cfg.APIURL), "/")
	token := strings.TrimSpace(s.cfg.Token)
	jid := strings.TrimSpace(s.cfg.ChannelJID)

	if apiURL == "" || token == "" {
		s.log.Debug().Msg("whatsapp not configured (missing api url or token)")
		return outbox.NotConfigured
	}
	if jid == "" {
		s.log.Error().Msg("whatsapp channel jid not set")
		return outbox.Failed
	}

	body, err := json.Marshal(textMessage{To: jid, Body: FromTelegramHTML(message)})
	if err != nil {
		s.log.Error().Err(err).Msg("whatsapp payload marshal failed")
		return outbox.Failed
	}

	endpoint := apiURL + "/messages/text"
	err = s.retry.Do(func() error {
		return s.post(ctx, endpoint, token, body)
	}, func(attempt int, err error) {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("whatsapp send attempt failed, retrying")
	})
	if err != nil {
		s.log.Error().Err(err).Msg("whatsapp send failed")
		return outbox.Failed
	}
	s.log.Info().Msg("whatsapp message sent")
	return outbox.Delivered
}

func (s *Sender) post(ctx context.Context, endpoint, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
