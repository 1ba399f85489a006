package logwatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/jveski/workspaced/common"
)

// LogSource opens the log stream of one container.
// The stream should end when the container exits or ctx is canceled.
type LogSource interface {
	OpenLogs(ctx context.Context, pod, container string) (io.ReadCloser, error)
}

type Sink interface {
	HandleLog(line, container string)
}

type SinkFunc func(line, container string)

func (s SinkFunc) HandleLog(line, container string) { s(line, container) }

type handler struct {
	match func(pod string) bool
	sink  Sink
}

// maxLineSize bounds the length of a delivered line. Longer lines are delivered in pieces.
const maxLineSize = 1024 * 1024

type watchKey struct {
	Pod, Container string
}

// Dispatcher tails the logs of started containers for the handlers interested in their pod.
// Each (pod, container) pair is tailed at most once until Close is called.
type Dispatcher struct {
	source   LogSource
	handlers []handler

	lock     sync.Mutex
	watching map[watchKey]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	running  int
	idle     *sync.Cond
}

func New(source LogSource) *Dispatcher {
	d := &Dispatcher{source: source, watching: map[watchKey]struct{}{}}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.idle = sync.NewCond(&d.lock)
	return d
}

// AddLogHandler registers a sink for the logs of every pod accepted by match.
// Handlers must be registered before any event is handled.
func (d *Dispatcher) AddLogHandler(match func(pod string) bool, sink Sink) {
	d.handlers = append(d.handlers, handler{match: match, sink: sink})
}

// Run handles events until the channel is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, events <-chan common.PodEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.HandleEvent(ev)
		}
	}
}

// HandleEvent starts tailing the event's container if it just started and somebody is interested.
// It never blocks on log I/O. Returns true when a new watch was started.
func (d *Dispatcher) HandleEvent(ev common.PodEvent) bool {
	if ev.Reason != common.ReasonStarted || ev.Container == "" {
		return false
	}

	var sinks []Sink
	for _, h := range d.handlers {
		if h.match(ev.Pod) {
			sinks = append(sinks, h.sink)
		}
	}
	if len(sinks) == 0 {
		return false
	}

	key := watchKey{Pod: ev.Pod, Container: ev.Container}

	d.lock.Lock()
	if _, ok := d.watching[key]; ok {
		d.lock.Unlock()
		return false
	}
	d.watching[key] = struct{}{}
	ctx := d.ctx
	d.running++
	d.lock.Unlock()

	go d.tail(ctx, key, sinks)
	return true
}

func (d *Dispatcher) tail(ctx context.Context, key watchKey, sinks []Sink) {
	defer func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		d.running--
		if d.running == 0 {
			d.idle.Broadcast()
		}
	}()

	stream, err := d.source.OpenLogs(ctx, key.Pod, key.Container)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("error opening logs of container %q in pod %q: %s", key.Container, key.Pod, err)
		}
		return
	}
	defer stream.Close()
	log.Printf("watching logs of container %q in pod %q", key.Container, key.Pod)

	err = readLines(stream, func(line string) bool {
		if ctx.Err() != nil {
			return false // closed
		}
		for _, sink := range sinks {
			sink.HandleLog(line, key.Container)
		}
		return true
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("error reading logs of container %q in pod %q: %s", key.Container, key.Pod, err)
		return
	}
	log.Printf("logs of container %q in pod %q ended", key.Container, key.Pod)
}

// readLines calls fn with every newline-terminated line of r, without the line ending, until
// r ends or fn returns false. Lines longer than maxLineSize are split into several calls.
func readLines(r io.Reader, fn func(line string) bool) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var (
		line  []byte
		split bool // the previous call ended at maxLineSize rather than a newline
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) && len(line) < maxLineSize {
			continue
		}

		if len(line) > 0 {
			text := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
			line = line[:0]

			wasSplit := split
			split = errors.Is(err, bufio.ErrBufferFull)
			if !(wasSplit && text == "" && !split) && !fn(text) {
				return nil
			}
		}

		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

// Close stops delivery from every running watch and forgets them,
// so that the next started event for the same container starts a new watch.
func (d *Dispatcher) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.cancel()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.watching = map[watchKey]struct{}{}
}

// Wait blocks until no watch is running. It's safe to call while events are still handled,
// in which case watches started after the call may also be waited for.
func (d *Dispatcher) Wait() {
	d.lock.Lock()
	defer d.lock.Unlock()
	for d.running > 0 {
		d.idle.Wait()
	}
}
