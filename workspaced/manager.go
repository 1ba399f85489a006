package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/concurrency"
	"github.com/jveski/workspaced/internal/logwatch"
	"github.com/jveski/workspaced/internal/provision"
)

var (
	errWorkspaceExists   = errors.New("workspace already exists")
	errWorkspaceNotFound = errors.New("workspace not found")
)

// runtime is implemented by every infrastructure backend.
type runtime interface {
	logwatch.LogSource
	Create(ctx context.Context, env *common.Environment, id common.RuntimeIdentity) error
	Remove(ctx context.Context, id common.RuntimeIdentity) error
	WatchEvents(ctx context.Context, fn func(common.PodEvent)) error
}

type workspace struct {
	Identity common.RuntimeIdentity
	Env      *common.Environment
	Created  time.Time

	dispatcher *logwatch.Dispatcher
	logs       *broker
}

// workspaceTable is replaced as a whole on every change.
type workspaceTable struct {
	Generation int64
	ByID       map[string]*workspace
}

type tableContainer = *concurrency.StateContainer[*workspaceTable]

type manager struct {
	rt       runtime
	pipeline *provision.Pipeline
	state    tableContainer
	lock     sync.Mutex // serializes starting and stopping
}

func newManager(rt runtime, pipeline *provision.Pipeline) *manager {
	m := &manager{rt: rt, pipeline: pipeline, state: &concurrency.StateContainer[*workspaceTable]{}}
	m.state.Swap(&workspaceTable{ByID: map[string]*workspace{}})
	return m
}

// Start provisions the environment and runs it.
// The log session is registered before the runtime is created so no start event is missed.
func (m *manager) Start(ctx context.Context, env *common.Environment, id common.RuntimeIdentity) (*workspace, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.state.Get().ByID[id.WorkspaceID]; ok {
		return nil, errWorkspaceExists
	}

	if err := m.pipeline.Run(env, id); err != nil {
		return nil, err
	}

	ws := &workspace{
		Identity:   id,
		Env:        env,
		Created:    time.Now(),
		dispatcher: logwatch.New(m.rt),
		logs:       newBroker(),
	}
	pod := id.PodName()
	ws.dispatcher.AddLogHandler(func(p string) bool { return p == pod }, ws.logs)
	m.set(id.WorkspaceID, ws)

	if err := m.rt.Create(ctx, env, id); err != nil {
		m.set(id.WorkspaceID, nil)
		ws.dispatcher.Close()
		ws.logs.Close()
		return nil, fmt.Errorf("creating runtime: %w", err)
	}

	log.Printf("started workspace %q (env %q, owner %q)", id.WorkspaceID, id.EnvName, id.OwnerID)
	return ws, nil
}

func (m *manager) Stop(ctx context.Context, workspaceID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	ws, ok := m.state.Get().ByID[workspaceID]
	if !ok {
		return errWorkspaceNotFound
	}

	ws.dispatcher.Close()
	if err := m.rt.Remove(ctx, ws.Identity); err != nil {
		return fmt.Errorf("removing runtime: %w", err)
	}
	ws.logs.Close()
	m.set(workspaceID, nil)

	log.Printf("stopped workspace %q", workspaceID)
	return nil
}

func (m *manager) Get(workspaceID string) (*workspace, bool) {
	ws, ok := m.state.Get().ByID[workspaceID]
	return ws, ok
}

// List returns the workspaces ordered by id along with the table generation.
func (m *manager) List() (int64, []*workspace) {
	table := m.state.Get()
	list := make([]*workspace, 0, len(table.ByID))
	for _, ws := range table.ByID {
		list = append(list, ws)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Identity.WorkspaceID < list[j].Identity.WorkspaceID })
	return table.Generation, list
}

// HandleEvent routes an infrastructure event to the workspace owning the pod.
func (m *manager) HandleEvent(ev common.PodEvent) {
	for _, ws := range m.state.Get().ByID {
		if ws.Identity.PodName() == ev.Pod {
			ws.dispatcher.HandleEvent(ev)
		}
	}
}

// Close ends every log session without touching the runtimes.
func (m *manager) Close() {
	for _, ws := range m.state.Get().ByID {
		ws.dispatcher.Close()
		ws.logs.Close()
	}
}

func (m *manager) set(workspaceID string, ws *workspace) {
	m.state.Update(func(current *workspaceTable) *workspaceTable {
		next := &workspaceTable{Generation: current.Generation + 1, ByID: make(map[string]*workspace, len(current.ByID)+1)}
		for k, v := range current.ByID {
			next.ByID[k] = v
		}
		if ws == nil {
			delete(next.ByID, workspaceID)
		} else {
			next.ByID[workspaceID] = ws
		}
		return next
	})
}
