package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type fakeProcessor struct {
	// popped per call; nil means success
	processErrs    []error
	compensateErrs []error

	processCalls    int
	compensateCalls int
}

func (p *fakeProcessor) ProcessPaymentMessage(ctx context.Context, message []byte) error {
	p.processCalls++
	if len(p.processErrs) > 0 {
		err := p.processErrs[0]
		p.processErrs = p.processErrs[1:]
		return err
	}
	return nil
}

func (p *fakeProcessor) CompensatePaymentMessage(ctx context.Context, message []byte) error {
	p.compensateCalls++
	if len(p.compensateErrs) > 0 {
		err := p.compensateErrs[0]
		p.compensateErrs = p.compensateErrs[1:]
		return err
	}
	return nil
}

type fakeDeadLetterer struct {
	messages []*sarama.ConsumerMessage
	reasons  []string
	err      error
}

func (d *fakeDeadLetterer) PublishDeadLetter(m *sarama.ConsumerMessage, reason string) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, m)
	d.reasons = append(d.reasons, reason)
	return nil
}

// fastPolicy keeps the ladder shape but finishes in milliseconds: two
// immediate attempts, one delayed, then dead-letter.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		ImmediateAttempts: 2,
		ImmediateInterval: time.Millisecond,
		DelayedIntervals:  []time.Duration{time.Millisecond},
	}
}

func newTestHandler(p *fakeProcessor, d *fakeDeadLetterer) *commandGroupHandler {
	return &commandGroupHandler{
		processor:       p,
		deadLetterer:    d,
		policy:          fastPolicy(),
		processTopic:    "process-payment",
		compensateTopic: "compensate-payment",
		logger:          log.New(io.Discard, "", 0),
	}
}

func commandMsg(topic string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     topic,
		Partition: 0,
		Offset:    42,
		Value:     []byte(`{"order_id":"x"}`),
	}
}

func TestHandleWithRetrySucceedsFirstAttempt(t *testing.T) {
	p := &fakeProcessor{}
	d := &fakeDeadLetterer{}
	h := newTestHandler(p, d)

	if err := h.handleWithRetry(context.Background(), commandMsg("process-payment")); err != nil {
		t.Fatalf("handleWithRetry: %v", err)
	}
	if p.processCalls != 1 {
		t.Errorf("process calls = %d, want 1", p.processCalls)
	}
	if len(d.messages) != 0 {
		t.Error("successful command must not be dead-lettered")
	}
}

func TestHandleWithRetryRecoversFromTransientError(t *testing.T) {
	p := &fakeProcessor{processErrs: []error{errors.New("db timeout"), nil}}
	d := &fakeDeadLetterer{}
	h := newTestHandler(p, d)

	if err := h.handleWithRetry(context.Background(), commandMsg("process-payment")); err != nil {
		t.Fatalf("handleWithRetry: %v", err)
	}
	if p.processCalls != 2 {
		t.Errorf("process calls = %d, want 2", p.processCalls)
	}
	if len(d.messages) != 0 {
		t.Error("recovered command must not be dead-lettered")
	}
}

func TestHandleWithRetryDeadLettersFatalImmediately(t *testing.T) {
	p := &fakeProcessor{processErrs: []error{fmt.Errorf("%w: bad json", ErrUnprocessable)}}
	d := &fakeDeadLetterer{}
	h := newTestHandler(p, d)

	if err := h.handleWithRetry(context.Background(), commandMsg("process-payment")); err != nil {
		t.Fatalf("handleWithRetry: %v", err)
	}
	// Fatal commands skip the ladder entirely.
	if p.processCalls != 1 {
		t.Errorf("process calls = %d, want 1", p.processCalls)
	}
	if len(d.messages) != 1 {
		t.Fatalf("dead-lettered = %d, want 1", len(d.messages))
	}
}

func TestHandleWithRetryExhaustsLadder(t *testing.T) {
	boom := errors.New("still broken")
	p := &fakeProcessor{processErrs: []error{boom, boom, boom, boom}}
	d := &fakeDeadLetterer{}
	h := newTestHandler(p, d)

	if err := h.handleWithRetry(context.Background(), commandMsg("process-payment")); err != nil {
		t.Fatalf("handleWithRetry: %v", err)
	}
	if want := h.policy.MaxAttempts(); p.processCalls != want {
		t.Errorf("process calls = %d, want %d", p.processCalls, want)
	}
	if len(d.messages) != 1 {
		t.Fatalf("dead-lettered = %d, want 1", len(d.messages))
	}
	if d.reasons[0] != boom.Error() {
		t.Errorf("reason = %q, want %q", d.reasons[0], boom.Error())
	}
}

func TestHandleWithRetryLeavesUnackedOnDLQFailure(t *testing.T) {
	p := &fakeProcessor{processErrs: []error{fmt.Errorf("%w: bad json", ErrUnprocessable)}}
	d := &fakeDeadLetterer{err: errors.New("dlq broker down")}
	h := newTestHandler(p, d)

	err := h.handleWithRetry(context.Background(), commandMsg("process-payment"))
	if err == nil {
		t.Fatal("expected an error when the dead-letter publish fails")
	}
}

func TestHandleWithRetryStopsOnContextCancel(t *testing.T) {
	p := &fakeProcessor{processErrs: []error{errors.New("transient")}}
	h := newTestHandler(p, &fakeDeadLetterer{})
	h.policy.ImmediateInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.handleWithRetry(ctx, commandMsg("process-payment"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDispatchRoutesByTopic(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestHandler(p, &fakeDeadLetterer{})

	if err := h.dispatch(context.Background(), commandMsg("process-payment")); err != nil {
		t.Fatalf("dispatch process: %v", err)
	}
	if err := h.dispatch(context.Background(), commandMsg("compensate-payment")); err != nil {
		t.Fatalf("dispatch compensate: %v", err)
	}
	if p.processCalls != 1 || p.compensateCalls != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1)", p.processCalls, p.compensateCalls)
	}

	err := h.dispatch(context.Background(), commandMsg("some-other-topic"))
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatalf("unexpected topic must be unprocessable, got %v", err)
	}
}

func TestCommandTypeForTopic(t *testing.T) {
	if got := commandTypeForTopic("process-payment", "process-payment"); got != "process" {
		t.Errorf("got %q, want process", got)
	}
	if got := commandTypeForTopic("compensate-payment", "process-payment"); got != "compensate" {
		t.Errorf("got %q, want compensate", got)
	}
}
