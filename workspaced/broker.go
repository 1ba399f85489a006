package main

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

const (
	backlogSize    = 1000
	subscriberSize = 256
)

type subscriber struct {
	ch      chan logLine
	dropped int
}

type logLine struct {
	Container string
	Line      string
}

// broker fans the log lines of one workspace out to every connected client.
// The most recent lines are kept so late subscribers see some history.
type broker struct {
	lock    sync.Mutex
	backlog []logLine
	subs    map[uuid.UUID]*subscriber
	closed  bool
}

func newBroker() *broker {
	return &broker{subs: map[uuid.UUID]*subscriber{}}
}

// HandleLog never blocks: slow subscribers drop lines.
// Drops are logged once when they start and counted until the subscriber leaves.
func (b *broker) HandleLog(line, container string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}

	ll := logLine{Container: container, Line: line}
	b.backlog = append(b.backlog, ll)
	if len(b.backlog) > backlogSize {
		b.backlog = append([]logLine(nil), b.backlog[len(b.backlog)-backlogSize:]...)
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- ll:
		default:
			if sub.dropped == 0 {
				log.Printf("subscriber %s is too slow, dropping log lines", id)
			}
			sub.dropped++
		}
	}
}

// Subscribe returns the current backlog and a channel of the lines that follow it.
// The channel is closed by Unsubscribe or when the broker is closed.
func (b *broker) Subscribe() (uuid.UUID, []logLine, <-chan logLine) {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := uuid.New()
	ch := make(chan logLine, subscriberSize)
	backlog := append([]logLine(nil), b.backlog...)
	if b.closed {
		close(ch)
		return id, backlog, ch
	}
	b.subs[id] = &subscriber{ch: ch}
	return id, backlog, ch
}

func (b *broker) Unsubscribe(id uuid.UUID) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		b.closeUnlocked(id, sub)
	}
}

func (b *broker) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		b.closeUnlocked(id, sub)
	}
}

func (b *broker) closeUnlocked(id uuid.UUID, sub *subscriber) {
	if sub.dropped > 0 {
		log.Printf("subscriber %s dropped %d log line(s)", id, sub.dropped)
	}
	close(sub.ch)
}

func (b *broker) Backlog() []logLine {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]logLine(nil), b.backlog...)
}
