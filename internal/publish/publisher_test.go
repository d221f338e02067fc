package publish

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"rankwatch/internal/outbox"
)

type fakeSender struct {
	name    string
	outcome outbox.Outcome
	sent    []string
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, message string) outbox.Outcome {
	f.sent = append(f.sent, message)
	return f.outcome
}

func newTestPublisher(t *testing.T, targets []string) (*Publisher, *outbox.Outbox) {
	t.Helper()
	box := outbox.New(t.TempDir(), zerolog.Nop())
	return New(box, targets, 100, zerolog.Nop()), box
}

func TestPublishDeliversToAllTargets(t *testing.T) {
	pub, box := newTestPublisher(t, []string{"telegram", "whatsapp"})
	tg := &fakeSender{name: "telegram", outcome: outbox.Delivered}
	wa := &fakeSender{name: "whatsapp", outcome: outbox.Delivered}
	pub.Register(tg, wa)

	pub.Publish(context.Background(), "report")

	if len(tg.sent) != 1 || tg.sent[0] != "report" {
		t.Errorf("telegram sent = %v", tg.sent)
	}
	if len(wa.sent) != 1 || wa.sent[0] != "report" {
		t.Errorf("whatsapp sent = %v", wa.sent)
	}
	for _, ch := range []string{"telegram", "whatsapp"} {
		if _, ok := box.Pending(ch); ok {
			t.Errorf("%s still pending after delivery", ch)
		}
	}
}

func TestPublishRetainsOnFailure(t *testing.T) {
	pub, box := newTestPublisher(t, []string{"telegram"})
	tg := &fakeSender{name: "telegram", outcome: outbox.Failed}
	pub.Register(tg)

	pub.Publish(context.Background(), "report")

	if msg, ok := box.Pending("telegram"); !ok || msg != "report" {
		t.Fatalf("pending = %q, %v", msg, ok)
	}

	// The channel recovers; the retained message goes out on the next drain.
	tg.outcome = outbox.Delivered
	pub.DrainAll(context.Background())
	if _, ok := box.Pending("telegram"); ok {
		t.Fatal("message should be delivered on drain")
	}
	if got := tg.sent[len(tg.sent)-1]; got != "report" {
		t.Errorf("drained message = %q", got)
	}
}

func TestPublishNotConfiguredClears(t *testing.T) {
	pub, box := newTestPublisher(t, []string{"whatsapp"})
	pub.Register(&fakeSender{name: "whatsapp", outcome: outbox.NotConfigured})

	pub.Publish(context.Background(), "report")

	if _, ok := box.Pending("whatsapp"); ok {
		t.Fatal("unconfigured channel must not accumulate messages")
	}
}

func TestPublishUnregisteredTargetStaysQueued(t *testing.T) {
	pub, box := newTestPublisher(t, []string{"telegram"})

	pub.Publish(context.Background(), "report")

	// No sender registered: the message survives until one exists.
	if msg, ok := box.Pending("telegram"); !ok || msg != "report" {
		t.Fatalf("pending = %q, %v", msg, ok)
	}
}

func TestPublishCombinesBacklog(t *testing.T) {
	pub, _ := newTestPublisher(t, []string{"telegram"})
	tg := &fakeSender{name: "telegram", outcome: outbox.Failed}
	pub.Register(tg)

	pub.Publish(context.Background(), "first")
	pub.Publish(context.Background(), "second")

	tg.outcome = outbox.Delivered
	pub.DrainAll(context.Background())

	want := "first" + outbox.Separator + "second"
	if got := tg.sent[len(tg.sent)-1]; got != want {
		t.Errorf("combined = %q, want %q", got, want)
	}
}
