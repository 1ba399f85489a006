package concurrency

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"
)

// RunLoop calls fn once initially, again for every signal and resync, and retries it with
// backoff until it returns true. It returns when ctx is done or the signal channel is closed.
func RunLoop(ctx context.Context, signal <-chan struct{}, resync, maxRetry time.Duration, fn func(ctx context.Context) bool) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{} // initial sync

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	if resync > 0 {
		go func() {
			timer := time.NewTimer(Jitter(resync))
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
				select {
				case ch <- struct{}{}:
				default:
				}
				timer.Reset(Jitter(resync))
			}
		}()
	}

	attempt := func() {
		var lastRetry time.Duration
		for ctx.Err() == nil {
			if fn(ctx) {
				return
			}

			if lastRetry == 0 {
				lastRetry = time.Millisecond * 50
			}
			lastRetry += lastRetry / 8
			if lastRetry > maxRetry {
				lastRetry = maxRetry
			}

			sleep(ctx, Jitter(lastRetry))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ch:
			attempt()
			sleep(ctx, Jitter(time.Millisecond*100)) // cooldown
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Jitter adds up to 5% of random jitter to the duration.
func Jitter(duration time.Duration) time.Duration {
	maxJitter := int64(duration) * int64(5) / 100
	if maxJitter <= 0 {
		return duration
	}
	return duration + time.Duration(mathrand.Int63n(maxJitter*2)-maxJitter)
}

// StateContainer holds a value and notifies watchers when it changes.
type StateContainer[T any] struct {
	lock     sync.Mutex
	current  T
	watchers map[any]chan struct{}
}

func (s *StateContainer[T]) Get() T {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current
}

func (s *StateContainer[T]) Swap(val T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = val
	s.bumpUnlocked()
}

// Update replaces the value with the result of fn while holding the lock.
func (s *StateContainer[T]) Update(fn func(T) T) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = fn(s.current)
	s.bumpUnlocked()
}

func (s *StateContainer[T]) bumpUnlocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a signal after every change until ctx is done.
func (s *StateContainer[T]) Watch(ctx context.Context) <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.watchers == nil {
		s.watchers = map[any]chan struct{}{}
	}

	ch := make(chan struct{}, 1)
	key := new(struct{ byte })
	go func() {
		<-ctx.Done()

		s.lock.Lock()
		defer s.lock.Unlock()

		delete(s.watchers, key)
		close(ch)
	}()

	s.watchers[key] = ch
	return ch
}
