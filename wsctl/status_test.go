package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintWorkspaces(t *testing.T) {
	list := []*workspaceStatus{
		{ID: "one", Env: "dev", Owner: "0123456789abcdef", Containers: []string{"db", "web"}, Created: time.Now().Add(-time.Hour * 25).Format(time.RFC3339Nano)},
		{ID: "two", Env: "ci", Owner: "bob", Containers: []string{"runner"}, Created: time.Now().Add(-time.Hour * 23).Format(time.RFC3339Nano)},
		{ID: "three", Env: "dev", Owner: "alice", Containers: []string{"web"}, Created: "not a time"},
	}
	buf := &bytes.Buffer{}
	printWorkspaces(list, buf)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"ID", "ENV", "OWNER", "CONTAINERS", "CREATED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"one", "dev", "0123456789ab", "db,web", "1d"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"two", "ci", "bob", "runner", "23h"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"three", "dev", "alice", "web"}, strings.Fields(lines[3]))

	// columns are aligned
	assert.Equal(t, strings.Index(lines[0], "ENV"), strings.Index(lines[1], "dev"))
	assert.Equal(t, strings.Index(lines[0], "CREATED"), strings.Index(lines[2], "23h"))
}

func TestDurationToString(t *testing.T) {
	tests := []struct {
		In       time.Duration
		Expected string
	}{
		{In: time.Second * 5, Expected: "5s"},
		{In: time.Minute * 5, Expected: "5m"},
		{In: time.Hour * 5, Expected: "5h"},
		{In: time.Hour * 50, Expected: "2d"},
	}
	for _, test := range tests {
		t.Run(test.Expected, func(t *testing.T) {
			assert.Equal(t, test.Expected, durationToString(test.In))
		})
	}
}
