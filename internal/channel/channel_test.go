package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"antenna/#", "antenna/data", true},
		{"antenna/#", "antenna/info", true},
		{"antenna/#", "antenna", true},
		{"antenna/#", "controller", false},
		{"antenna/+", "antenna/data", true},
		{"antenna/+", "antenna/data/raw", false},
		{"+/data", "antenna/data", true},
		{"controller", "controller", true},
		{"controller", "controller/x", false},
		{"#", "anything/at/all", true},
		{"antenna/data", "antenna/info", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	for _, ok := range []string{"antenna/#", "+/data", "#", "controller"} {
		if err := ValidatePattern(ok); err != nil {
			t.Errorf("ValidatePattern(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "antenna/#/data", "ant+/data", "antenna/da#"} {
		if err := ValidatePattern(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidatePattern(%q) = %v, want ErrInvalidTopic", bad, err)
		}
	}
	if err := ValidateTopic("antenna/+"); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("wildcard topic accepted")
	}
}

func TestDefaultTopicsValidate(t *testing.T) {
	if err := DefaultTopics().Validate(); err != nil {
		t.Fatalf("default topics invalid: %v", err)
	}
	bad := DefaultTopics()
	bad.ControllerSubscription = "antenna/data"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("pattern missing info topic accepted: %v", err)
	}
}

func TestMailboxLatestWins(t *testing.T) {
	var box Mailbox
	if _, ok := box.Take(); ok {
		t.Fatalf("empty mailbox returned a message")
	}

	box.Put(Message{Topic: "antenna/data", Payload: "[280,10]"})
	box.Put(Message{Topic: "antenna/data", Payload: "[286,14]"})

	m, ok := box.Take()
	if !ok || m.Payload != "[286,14]" {
		t.Fatalf("Take() = (%v, %v), want latest payload", m, ok)
	}
	if _, ok := box.Take(); ok {
		t.Fatalf("message delivered twice")
	}
	if box.Overwritten() != 1 || box.Puts() != 2 {
		t.Fatalf("Overwritten()=%d Puts()=%d, want 1 and 2", box.Overwritten(), box.Puts())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var reports, commands Mailbox
	cancelReports, err := bus.Subscribe("antenna/#", reports.Handler())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancelReports()
	if _, err := bus.Subscribe("controller", commands.Handler()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := bus.Publish(ctx, "antenna/data", "[286,14]"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, "controller", "[+006,+04]"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return reports.Puts() == 1 && commands.Puts() == 1 })

	if m, _ := reports.Take(); m.Payload != "[286,14]" || m.Topic != "antenna/data" {
		t.Fatalf("report mailbox got %+v", m)
	}
	if m, _ := commands.Take(); m.Payload != "[+006,+04]" {
		t.Fatalf("command mailbox got %+v", m)
	}
	if s := bus.Stats(); s.Published != 2 || s.Subscribers != 2 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestBusLossInjection(t *testing.T) {
	var mu sync.Mutex
	n := 0
	bus := NewBus(WithDropFunc(func(Message) bool {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n%2 == 1
	}))
	defer bus.Close()

	var box Mailbox
	if _, err := bus.Subscribe("controller", box.Handler()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := bus.Publish(context.Background(), "controller", "[+010,+00]"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool { return bus.Stats().Delivered == 2 })
	if s := bus.Stats(); s.LossInjected != 2 || s.Published != 4 {
		t.Fatalf("Stats() = %+v, want 2 injected losses of 4", s)
	}
}

func TestBusFullQueueDrops(t *testing.T) {
	bus := NewBus(WithQueueSize(1))
	defer bus.Close()

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	if _, err := bus.Subscribe("antenna/data", func(Message) {
		entered <- struct{}{}
		<-release
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	_ = bus.Publish(ctx, "antenna/data", "[001,01]")
	<-entered // handler now blocked holding the first message
	_ = bus.Publish(ctx, "antenna/data", "[002,02]")
	_ = bus.Publish(ctx, "antenna/data", "[003,03]")

	if got := bus.Stats().Dropped; got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	close(release)
}

func TestBusCancelAndClose(t *testing.T) {
	bus := NewBus()

	var box Mailbox
	cancel, err := bus.Subscribe("controller", box.Handler())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel()

	if err := bus.Publish(context.Background(), "controller", "[+001,+00]"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if bus.Stats().Subscribers != 0 {
		t.Fatalf("subscription survived cancel")
	}

	bus.Close()
	if err := bus.Publish(context.Background(), "controller", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe("controller", box.Handler()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestBusPublishValidates(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := bus.Publish(context.Background(), "antenna/#", "x"); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("Publish to wildcard = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, "controller", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish with cancelled ctx = %v", err)
	}
}
