// Package outbox is the per-channel durable pending-message store.
//
// Each channel owns exactly one file under <stateDir>/outbox; absence of the
// file means the channel's queue is empty. A message that could not be
// delivered stays on disk, and the next enqueue concatenates onto it so one
// combined message is sent instead of duplicates. The file is removed only
// once delivery is resolved.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Separator marks the boundary between messages combined after failed
// deliveries.
const Separator = "\n\n---\n\n"

// Outcome is the three-way result of a delivery attempt.
type Outcome int

const (
	// Delivered: the message went out; clear the queue.
	Delivered Outcome = iota
	// NotConfigured: the channel has no usable configuration; clear the
	// queue permanently so it never accumulates an unbounded backlog.
	NotConfigured
	// Failed: transient failure; keep the message for the next run.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NotConfigured:
		return "not-configured"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SendFunc attempts delivery of one message.
type SendFunc func(message string) Outcome

type pendingFile struct {
	Message string `json:"message"`
}

type Outbox struct {
	dir string
	log zerolog.Logger
}

func New(stateDir string, log zerolog.Logger) *Outbox {
	return &Outbox{dir: filepath.Join(stateDir, "outbox"), log: log}
}

func (o *Outbox) path(channel string) string {
	return filepath.Join(o.dir, channel+".json")
}

// Pending returns the queued message for a channel and whether one exists.
// A corrupt file reads as empty (and will be overwritten by the next
// enqueue).
func (o *Outbox) Pending(channel string) (string, bool) {
	b, err := os.ReadFile(o.path(channel))
	if err != nil {
		if !os.IsNotExist(err) {
			o.log.Error().Err(err).Str("channel", channel).Msg("outbox file unreadable, treating as empty")
		}
		return "", false
	}
	var pf pendingFile
	if err := json.Unmarshal(b, &pf); err != nil || pf.Message == "" {
		if err != nil {
			o.log.Error().Err(err).Str("channel", channel).Msg("outbox file corrupt, will overwrite")
		}
		return "", false
	}
	return pf.Message, true
}

// Enqueue adds message to the channel's queue. An already-pending message is
// kept in front, separated by Separator, so both go out as one combined
// delivery. The file is written via temp-file + rename in the same directory
// and is never observed partially written.
func (o *Outbox) Enqueue(channel, message string) error {
	combined := message
	if pending, ok := o.Pending(channel); ok {
		combined = pending + Separator + message
		o.log.Info().Str("channel", channel).Msg("appending to pending outbox message")
	}
	if err := o.write(channel, combined); err != nil {
		return err
	}
	o.log.Info().Str("channel", channel).Msg("message enqueued")
	return nil
}

func (o *Outbox) write(channel, message string) error {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("create outbox dir: %w", err)
	}
	path := o.path(channel)
	tmp := path + ".tmp"

	b, err := json.Marshal(pendingFile{Message: message})
	if err != nil {
		return fmt.Errorf("marshal outbox message: %w", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace outbox file: %w", err)
	}
	return nil
}

// Drain attempts delivery of the channel's pending message. It returns true
// when the queue is clear afterwards (nothing pending, delivered, or channel
// not configured) and false when delivery failed and the message is
// retained.
func (o *Outbox) Drain(channel string, send SendFunc) bool {
	message, ok := o.Pending(channel)
	if !ok {
		return true
	}

	switch send(message) {
	case Delivered:
		o.remove(channel)
		o.log.Info().Str("channel", channel).Msg("delivered and cleared")
		return true
	case NotConfigured:
		o.remove(channel)
		o.log.Info().Str("channel", channel).Msg("channel not configured, clearing outbox")
		return true
	default:
		o.log.Warn().Str("channel", channel).Msg("delivery failed, message retained for next run")
		return false
	}
}

func (o *Outbox) remove(channel string) {
	if err := os.Remove(o.path(channel)); err != nil && !os.IsNotExist(err) {
		o.log.Error().Err(err).Str("channel", channel).Msg("failed to remove outbox file")
	}
}
