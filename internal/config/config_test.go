package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jveski/workspaced/common"
)

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Equal(t, BackendDocker, c.Backend)
		assert.Equal(t, "workspaced", c.Docker.Network)
		assert.Equal(t, "default", c.Kubernetes.Namespace)
		assert.Equal(t, "workspaced-volumes", c.Kubernetes.ClaimName)
		assert.Equal(t, int64(0), c.DefaultMemoryLimit)
		assert.False(t, c.TrustsCert(""))
	})

	t.Run("full", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workspaced.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
backend = "kubernetes"
defaultMemory = "1g"

[kubernetes]
namespace = "workspaces"
claimName = "test-claim"

[[client]]
fingerprint = "test-fingerprint"
`), 0644))

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, BackendKubernetes, c.Backend)
		assert.Equal(t, int64(1024*1024*1024), c.DefaultMemoryLimit)
		assert.Equal(t, "workspaces", c.Kubernetes.Namespace)
		assert.Equal(t, "test-claim", c.Kubernetes.ClaimName)
		assert.True(t, c.TrustsCert("test-fingerprint"))
		assert.False(t, c.TrustsCert("another"))
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workspaced.toml")
		require.NoError(t, os.WriteFile(path, []byte(`backend = "nomad"`), 0644))

		_, err := Load(path)
		assert.EqualError(t, err, `unknown backend "nomad"`)
	})

	t.Run("invalid memory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workspaced.toml")
		require.NoError(t, os.WriteFile(path, []byte(`defaultMemory = "lots"`), 0644))

		_, err := Load(path)
		assert.ErrorContains(t, err, "parsing default memory")
	})
}

const fullEnvironment = `
[machine.dev]
image = "test-image"
command = ["sleep", "infinity"]
memory = "512m"

[machine.dev.env]
HOST = "localhost"
URL = "http://$(HOST):8080"

[machine.dev.server.web]
port = "8080/tcp"
protocol = "http"
path = "/api"

[[machine.dev.volume]]
name = "projects"
path = "/projects"

[machine.db]
image = "test-db"
`

func TestLoadEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullEnvironment), 0644))

	env, err := LoadEnvironment(path)
	require.NoError(t, err)
	assert.Equal(t, "default", env.Name)
	assert.Len(t, env.Hash, 32)
	assert.Equal(t, []string{"db", "dev"}, env.MachineNames())
	assert.Empty(t, env.Containers)

	dev := env.Machines["dev"]
	assert.Equal(t, "test-image", dev.Image)
	assert.Equal(t, []string{"sleep", "infinity"}, dev.Command)
	assert.Equal(t, int64(512*1024*1024), dev.MemoryLimit)
	assert.Equal(t, map[string]string{"HOST": "localhost", "URL": "http://$(HOST):8080"}, dev.Env)
	assert.Equal(t, map[string]common.ServerConfig{"web": {Port: "8080/tcp", Protocol: "http", Path: "/api"}}, dev.Servers)
	assert.Equal(t, []common.VolumeConfig{{Name: "projects", Path: "/projects"}}, dev.Volumes)
	assert.Equal(t, int64(0), env.Machines["db"].MemoryLimit)

	t.Run("hash is stable", func(t *testing.T) {
		again, err := ReadEnvironment(strings.NewReader(fullEnvironment), "other")
		require.NoError(t, err)
		assert.Equal(t, env.Hash, again.Hash)
		assert.Equal(t, "other", again.Name)

		changed, err := ReadEnvironment(strings.NewReader(fullEnvironment+"\n[machine.cache]\nimage = \"test-cache\"\n"), "other")
		require.NoError(t, err)
		assert.NotEqual(t, env.Hash, changed.Hash)
	})

	t.Run("explicit name", func(t *testing.T) {
		env, err := ReadEnvironment(strings.NewReader("name = \"custom\"\n"+fullEnvironment), "default")
		require.NoError(t, err)
		assert.Equal(t, "custom", env.Name)
	})

	t.Run("invalid memory", func(t *testing.T) {
		_, err := ReadEnvironment(strings.NewReader("[machine.dev]\nimage = \"x\"\nmemory = \"lots\"\n"), "default")
		assert.ErrorContains(t, err, `parsing memory of machine "dev"`)
	})

	t.Run("invalid toml", func(t *testing.T) {
		_, err := ReadEnvironment(strings.NewReader("[machine.dev"), "default")
		assert.ErrorContains(t, err, "decoding environment")
	})
}
