package channel

import "sync/atomic"

// Mailbox is a single-slot, latest-wins handoff between a transport goroutine
// and a polling loop. A Put replaces any message not yet taken.
type Mailbox struct {
	slot        atomic.Pointer[Message]
	puts        atomic.Uint64
	overwritten atomic.Uint64
}

// Put stores m, replacing any pending message.
func (b *Mailbox) Put(m Message) {
	b.puts.Add(1)
	if prev := b.slot.Swap(&m); prev != nil {
		b.overwritten.Add(1)
	}
}

// Take removes and returns the pending message, if any.
func (b *Mailbox) Take() (Message, bool) {
	m := b.slot.Swap(nil)
	if m == nil {
		return Message{}, false
	}
	return *m, true
}

// Handler adapts the mailbox to a subscription.
func (b *Mailbox) Handler() Handler {
	return b.Put
}

// Puts returns the number of messages ever stored.
func (b *Mailbox) Puts() uint64 { return b.puts.Load() }

// Overwritten returns how many messages were replaced before being taken.
func (b *Mailbox) Overwritten() uint64 { return b.overwritten.Load() }
