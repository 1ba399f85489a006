package envvars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jveski/workspaced/common"
)

func TestMerge(t *testing.T) {
	existing := []common.EnvVar{{Name: "B", Value: "old"}, {Name: "A", Value: "1"}}
	declared := map[string]string{"B": "new", "C": "3"}

	assert.Equal(t, []common.EnvVar{
		{Name: "B", Value: "new"},
		{Name: "A", Value: "1"},
		{Name: "C", Value: "3"},
	}, Merge(existing, declared))
}

func TestExpand(t *testing.T) {
	ordered, err := Resolve([]common.EnvVar{
		{Name: "URL", Value: "http://$(HOST):$(PORT)"},
		{Name: "HOST", Value: "localhost"},
		{Name: "PORT", Value: "8080"},
		{Name: "ENDPOINT", Value: "$(URL)/api"},
		{Name: "LITERAL", Value: "$$(URL) costs $5"},
		{Name: "MISSING", Value: "$(NOPE)/$(PORT"},
	})
	require.NoError(t, err)

	actual := map[string]string{}
	for _, v := range Expand(ordered) {
		actual[v.Name] = v.Value
	}

	assert.Equal(t, map[string]string{
		"URL":      "http://localhost:8080",
		"HOST":     "localhost",
		"PORT":     "8080",
		"ENDPOINT": "http://localhost:8080/api",
		"LITERAL":  "$(URL) costs $5",
		"MISSING":  "$(NOPE)/$(PORT",
	}, actual)
}
