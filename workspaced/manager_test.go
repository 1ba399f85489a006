package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/provision"
)

type fakeRuntime struct {
	lock      sync.Mutex
	created   []string
	removed   []string
	createErr error
	logs      map[string]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{logs: map[string]string{}}
}

func (f *fakeRuntime) Create(ctx context.Context, env *common.Environment, id common.RuntimeIdentity) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, id.PodName())
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id common.RuntimeIdentity) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.removed = append(f.removed, id.PodName())
	return nil
}

func (f *fakeRuntime) OpenLogs(ctx context.Context, pod, container string) (io.ReadCloser, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return io.NopCloser(strings.NewReader(f.logs[pod+"/"+container])), nil
}

func (f *fakeRuntime) WatchEvents(ctx context.Context, fn func(common.PodEvent)) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestManager(rt runtime) *manager {
	return newManager(rt, provision.New(append(provision.Agnostic(0), provision.Named("labels", provision.Func(provision.Labels)))...))
}

func newTestEnvironment() *common.Environment {
	return common.NewEnvironment("default", map[string]*common.MachineConfig{
		"dev": {Image: "test-image", Env: map[string]string{"A": "$(B)", "B": "b"}},
	})
}

func started(pod, container string) common.PodEvent {
	return common.PodEvent{Pod: pod, Container: container, Reason: common.ReasonStarted}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	rt.logs["ws-one/dev"] = "hello\nworld\n"
	rt.logs["ws-two/dev"] = "other\n"
	m := newTestManager(rt)

	one := common.RuntimeIdentity{WorkspaceID: "one", OwnerID: "owner", EnvName: "default"}
	two := common.RuntimeIdentity{WorkspaceID: "two", OwnerID: "owner", EnvName: "default"}

	ws, err := m.Start(ctx, newTestEnvironment(), one)
	require.NoError(t, err)
	assert.Equal(t, []common.EnvVar{{Name: "B", Value: "b"}, {Name: "A", Value: "$(B)"}}, ws.Env.Containers["dev"].Env)

	_, err = m.Start(ctx, newTestEnvironment(), two)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-one", "ws-two"}, rt.created)

	_, err = m.Start(ctx, newTestEnvironment(), one)
	assert.ErrorIs(t, err, errWorkspaceExists)

	generation, list := m.List()
	assert.Equal(t, int64(2), generation)
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Identity.WorkspaceID)

	// events are routed by pod and tailed once
	m.HandleEvent(started("ws-one", "dev"))
	m.HandleEvent(started("ws-one", "dev"))
	m.HandleEvent(started("ws-unknown", "dev"))
	ws.dispatcher.Wait()
	assert.Equal(t, []logLine{{Container: "dev", Line: "hello"}, {Container: "dev", Line: "world"}}, ws.logs.Backlog())

	other, ok := m.Get("two")
	require.True(t, ok)
	assert.Empty(t, other.logs.Backlog())

	require.NoError(t, m.Stop(ctx, "one"))
	assert.Equal(t, []string{"ws-one"}, rt.removed)
	assert.ErrorIs(t, m.Stop(ctx, "one"), errWorkspaceNotFound)
	_, ok = m.Get("one")
	assert.False(t, ok)

	generation, list = m.List()
	assert.Equal(t, int64(3), generation)
	assert.Len(t, list, 1)
}

func TestManagerStartFailures(t *testing.T) {
	ctx := context.Background()
	id := common.RuntimeIdentity{WorkspaceID: "one"}

	t.Run("configuration error", func(t *testing.T) {
		rt := newFakeRuntime()
		m := newTestManager(rt)

		env := newTestEnvironment()
		env.Machines["dev"].Env = map[string]string{"A": "$(A)"}
		_, err := m.Start(ctx, env, id)

		ce := &provision.ConfigError{}
		require.ErrorAs(t, err, &ce)
		assert.Empty(t, rt.created)
		generation, list := m.List()
		assert.Equal(t, int64(0), generation)
		assert.Empty(t, list)
	})

	t.Run("runtime error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.createErr = errors.New("test error")
		m := newTestManager(rt)

		_, err := m.Start(ctx, newTestEnvironment(), id)
		assert.EqualError(t, err, "creating runtime: test error")
		_, ok := m.Get("one")
		assert.False(t, ok)
	})
}

func TestManagerCloseStopsLogs(t *testing.T) {
	m := newTestManager(newFakeRuntime())
	ws, err := m.Start(context.Background(), newTestEnvironment(), common.RuntimeIdentity{WorkspaceID: "one"})
	require.NoError(t, err)

	_, _, lines := ws.logs.Subscribe()
	m.Close()

	select {
	case _, ok := <-lines:
		assert.False(t, ok)
	case <-time.After(time.Second * 5):
		t.Fatal("subscription was not closed")
	}
}

func TestBroker(t *testing.T) {
	b := newBroker()
	b.HandleLog("before", "c")

	id, backlog, lines := b.Subscribe()
	assert.Equal(t, []logLine{{Container: "c", Line: "before"}}, backlog)

	b.HandleLog("after", "c")
	assert.Equal(t, logLine{Container: "c", Line: "after"}, <-lines)

	t.Run("slow subscribers drop lines", func(t *testing.T) {
		for i := 0; i < backlogSize+subscriberSize; i++ {
			b.HandleLog("spam", "c")
		}
		assert.Len(t, lines, subscriberSize)
		assert.Len(t, b.Backlog(), backlogSize)

		b.lock.Lock()
		assert.Equal(t, backlogSize, b.subs[id].dropped)
		b.lock.Unlock()
	})

	t.Run("one log message per slow subscriber", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log.SetOutput(buf)
		defer log.SetOutput(os.Stderr)

		for i := 0; i < 10; i++ {
			b.HandleLog("spam", "c")
		}
		assert.Empty(t, buf.String())

		_, _, other := b.Subscribe()
		for i := 0; i < subscriberSize+10; i++ {
			b.HandleLog("spam", "c")
		}
		assert.Len(t, other, subscriberSize)
		assert.Equal(t, 1, strings.Count(buf.String(), "is too slow"))
	})

	b.Unsubscribe(id)
	b.Unsubscribe(id)

	b.Close()
	b.HandleLog("ignored", "c")
	_, backlog, closed := b.Subscribe()
	assert.Len(t, backlog, backlogSize)
	_, ok := <-closed
	assert.False(t, ok)
}
