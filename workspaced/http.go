package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/julienschmidt/httprouter"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/config"
	"github.com/jveski/workspaced/internal/provision"
	"github.com/jveski/workspaced/internal/rpc"
)

const maxEnvironmentSize = 1024 * 1024

func newApiHandler(m *manager, auth rpc.Authorizer) http.Handler {
	router := httprouter.New()
	router.PUT("/workspaces/:id", rpc.WithAuth(auth, newStartWorkspaceHandler(m)))
	router.GET("/workspaces", rpc.WithAuth(auth, newListWorkspacesHandler(m, time.Minute*30)))
	router.GET("/workspaces/:id/logs", rpc.WithAuth(auth, newWorkspaceLogsHandler(m)))
	router.GET("/workspaces/:id/environment", rpc.WithAuth(auth, newWorkspaceEnvironmentHandler(m)))
	router.DELETE("/workspaces/:id", rpc.WithAuth(auth, newStopWorkspaceHandler(m)))
	return router
}

type workspaceStatus struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Env        string    `json:"env"`
	EnvHash    string    `json:"envHash,omitempty"`
	Pod        string    `json:"pod"`
	Containers []string  `json:"containers"`
	Created    time.Time `json:"created"`
}

type workspaceList struct {
	Generation int64              `json:"generation"`
	Workspaces []*workspaceStatus `json:"workspaces"`
}

func newWorkspaceStatus(ws *workspace) *workspaceStatus {
	s := &workspaceStatus{
		ID:         ws.Identity.WorkspaceID,
		Owner:      ws.Identity.OwnerID,
		Env:        ws.Identity.EnvName,
		EnvHash:    ws.Env.Hash,
		Pod:        ws.Identity.PodName(),
		Containers: []string{},
		Created:    ws.Created.UTC(),
	}
	for _, name := range ws.Env.MachineNames() {
		if _, ok := ws.Env.Containers[name]; ok {
			s.Containers = append(s.Containers, name)
		}
	}
	return s
}

func validateWorkspaceID(id string) error {
	if errs := validation.IsDNS1123Label("ws-" + id); len(errs) > 0 {
		return fmt.Errorf("invalid workspace id %q: %s", id, strings.Join(errs, ", "))
	}
	return nil
}

// newStartWorkspaceHandler runs the environment file in the request body.
// The owner defaults to the caller's certificate fingerprint.
func newStartWorkspaceHandler(m *manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")
		if err := validateWorkspaceID(id); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}

		q := r.URL.Query()
		owner := q.Get("owner")
		if owner == "" {
			owner = rpc.Fingerprint(r)
		}
		envName := q.Get("env")
		if envName == "" {
			envName = "default"
		}

		env, err := config.ReadEnvironment(io.LimitReader(r.Body, maxEnvironmentSize), envName)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		identity := common.RuntimeIdentity{WorkspaceID: id, OwnerID: owner, EnvName: env.Name}

		ws, err := m.Start(r.Context(), env, identity)
		ce := &provision.ConfigError{}
		switch {
		case errors.Is(err, errWorkspaceExists):
			http.Error(w, err.Error(), 409)
			return
		case errors.As(err, &ce):
			http.Error(w, err.Error(), 400)
			return
		case err != nil:
			log.Printf("error starting workspace %q: %s", id, err)
			http.Error(w, err.Error(), 500)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(201)
		json.NewEncoder(w).Encode(newWorkspaceStatus(ws))
	}
}

// newListWorkspacesHandler returns the workspace table.
// With ?after=<generation> it blocks until the table has changed or the timeout expires.
func newListWorkspacesHandler(m *manager, timeout time.Duration) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var after int64 = -1
		if str := r.URL.Query().Get("after"); str != "" {
			var err error
			if after, err = strconv.ParseInt(str, 10, 64); err != nil {
				http.Error(w, "invalid generation", 400)
				return
			}
		}

		ctx, done := context.WithTimeout(r.Context(), timeout)
		defer done()
		watcher := m.state.Watch(ctx)

		for {
			generation, list := m.List()
			if generation != after || ctx.Err() != nil {
				resp := &workspaceList{Generation: generation, Workspaces: []*workspaceStatus{}}
				for _, ws := range list {
					resp.Workspaces = append(resp.Workspaces, newWorkspaceStatus(ws))
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(resp)
				return
			}
			<-watcher
		}
	}
}

// newWorkspaceLogsHandler streams "<container> | <line>" records until the client
// goes away or the workspace is stopped.
func newWorkspaceLogsHandler(m *manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ws, ok := m.Get(p.ByName("id"))
		if !ok {
			http.Error(w, errWorkspaceNotFound.Error(), 404)
			return
		}

		id, backlog, lines := ws.logs.Subscribe()
		defer ws.logs.Unsubscribe(id)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(200)
		flusher, _ := w.(http.Flusher)
		write := func(ll logLine) error {
			if _, err := fmt.Fprintf(w, "%s | %s\n", ll.Container, ll.Line); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		}

		for _, ll := range backlog {
			if write(ll) != nil {
				return
			}
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case ll, ok := <-lines:
				if !ok || write(ll) != nil {
					return
				}
			}
		}
	}
}

func newStopWorkspaceHandler(m *manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		err := m.Stop(r.Context(), p.ByName("id"))
		if errors.Is(err, errWorkspaceNotFound) {
			http.Error(w, err.Error(), 404)
			return
		}
		if err != nil {
			log.Printf("error stopping workspace %q: %s", p.ByName("id"), err)
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(204)
	}
}

// newWorkspaceEnvironmentHandler returns the environment a workspace was started with.
func newWorkspaceEnvironmentHandler(m *manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ws, ok := m.Get(p.ByName("id"))
		if !ok {
			http.Error(w, errWorkspaceNotFound.Error(), 404)
			return
		}

		w.Header().Set("Content-Type", "application/toml")
		err := toml.NewEncoder(w).Encode(map[string]any{"name": ws.Env.Name, "machine": ws.Env.Machines})
		if err != nil {
			log.Printf("error encoding environment of workspace %q: %s", ws.Identity.WorkspaceID, err)
		}
	}
}
