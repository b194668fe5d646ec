// Package channel defines the publish/subscribe contract shared by the
// controller and the rotator, plus an in-memory implementation.
//
// Delivery is asynchronous, unordered and at-most-once. Nothing above this
// package may assume a message arrives, or arrives in send order.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned after the channel has been shut down.
	ErrClosed = errors.New("channel closed")
	// ErrInvalidTopic reports a topic or pattern that cannot be used.
	ErrInvalidTopic = errors.New("invalid topic")
)

// Message is a single delivered payload.
type Message struct {
	Topic   string
	Payload string
}

// Handler receives messages for a subscription. Handlers run on transport
// goroutines and must not block; the usual handler writes into a Mailbox.
type Handler func(Message)

// Channel is the transport boundary between controller and rotator.
type Channel interface {
	// Publish sends payload on topic. A nil error means the transport accepted
	// the message, not that any subscriber received it.
	Publish(ctx context.Context, topic, payload string) error
	// Subscribe registers h for every topic matching pattern. The returned
	// cancel func removes the subscription and is safe to call more than once.
	Subscribe(pattern string, h Handler) (cancel func(), err error)
}

// Topics names the three logical streams.
type Topics struct {
	// Command carries delta commands from controller to rotator.
	Command string
	// Report carries absolute position reports from rotator to controller.
	Report string
	// Info carries free-form status text from the rotator.
	Info string
	// ControllerSubscription is the pattern the controller subscribes with.
	ControllerSubscription string
}

// DefaultTopics returns the topic layout used by deployed rotators.
func DefaultTopics() Topics {
	return Topics{
		Command:                "controller",
		Report:                 "antenna/data",
		Info:                   "antenna/info",
		ControllerSubscription: "antenna/#",
	}
}

// Validate checks that every topic is concrete and the controller pattern
// covers both rotator streams.
func (t Topics) Validate() error {
	for _, topic := range []string{t.Command, t.Report, t.Info} {
		if err := ValidateTopic(topic); err != nil {
			return err
		}
	}
	if err := ValidatePattern(t.ControllerSubscription); err != nil {
		return err
	}
	if !Match(t.ControllerSubscription, t.Report) || !Match(t.ControllerSubscription, t.Info) {
		return fmt.Errorf("%w: pattern %q does not cover %q and %q",
			ErrInvalidTopic, t.ControllerSubscription, t.Report, t.Info)
	}
	return nil
}

// ValidateTopic rejects empty topics and topics containing wildcards.
func ValidateTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidatePattern accepts MQTT style filters: "+" matches one level, "#"
// matches the remainder and must be the last level.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidTopic)
	}
	levels := strings.Split(pattern, "/")
	for i, lvl := range levels {
		switch {
		case lvl == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, pattern)
		case lvl != "#" && lvl != "+" && strings.ContainsAny(lvl, "+#"):
			return fmt.Errorf("%w: %q: wildcard must occupy a whole level", ErrInvalidTopic, pattern)
		}
	}
	return nil
}

// Match reports whether topic matches pattern.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, lvl := range p {
		if lvl == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if lvl != "+" && lvl != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
