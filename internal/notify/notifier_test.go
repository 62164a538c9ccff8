package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piaqi001/funding-rate-bot/internal/domain"
)

type chanSender struct {
	name string
	fail error
	sent chan string
}

func newChanSender(name string) *chanSender {
	return &chanSender{name: name, sent: make(chan string, 8)}
}

func (s *chanSender) Send(_ context.Context, title, message string) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent <- title + "|" + message
	return nil
}

func (s *chanSender) Name() string { return s.name }

func awaitSend(t *testing.T, s *chanSender) string {
	t.Helper()
	select {
	case msg := <-s.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("sender %s received nothing", s.name)
		return ""
	}
}

func assertNoSend(t *testing.T, s *chanSender) {
	t.Helper()
	select {
	case msg := <-s.sent:
		t.Fatalf("sender %s unexpectedly received %q", s.name, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyDeliversAllowedEvent(t *testing.T) {
	sender := newChanSender("telegram")
	n := New(testLogger(), []Sender{sender}, []string{domain.EventOrderOpened})

	n.Notify(context.Background(), domain.EventOrderOpened, "BTC opened at spread 0.0120")

	got := awaitSend(t, sender)
	assert.Equal(t, "Order opened|BTC opened at spread 0.0120", got)
}

func TestNotifyFiltersUnlistedEvent(t *testing.T) {
	sender := newChanSender("telegram")
	n := New(testLogger(), []Sender{sender}, []string{domain.EventRiskAlert})

	n.Notify(context.Background(), domain.EventOpportunity, "ignored")

	assertNoSend(t, sender)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := newChanSender("discord")
	n := New(testLogger(), []Sender{sender}, nil)

	n.Notify(context.Background(), "some_custom_event", "hello")

	got := awaitSend(t, sender)
	assert.Equal(t, "some_custom_event|hello", got)
}

func TestNotifyOneSenderFailureDoesNotStopOthers(t *testing.T) {
	broken := newChanSender("telegram")
	broken.fail = errors.New("bot token revoked")
	healthy := newChanSender("discord")
	n := New(testLogger(), []Sender{broken, healthy}, nil)

	n.Notify(context.Background(), domain.EventRiskAlert, "liquidation proximity on ETH")

	got := awaitSend(t, healthy)
	require.Equal(t, "Risk alert|liquidation proximity on ETH", got)
}

func TestNotifyNoSendersIsNoop(t *testing.T) {
	n := New(testLogger(), nil, nil)
	n.Notify(context.Background(), domain.EventLowBalance, "balance below floor")
}
