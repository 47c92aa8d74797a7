package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/model"
)

func writeTargets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTargets(t *testing.T) {
	t.Parallel()
	path := writeTargets(t, `[
		{"entity_id":"ent-1","known":{"name":"Acme Plumbing","state":"CO"},"required":["phone","email"]},
		{"entity_id":"ent-2","known":{"name":"Brite Electric"},"allow_network":true}
	]`)

	targets, err := loadTargets(path)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "ent-1", targets[0].EntityID)
	assert.Equal(t, model.TargetPending, targets[0].State)
	assert.Equal(t, []string{"phone", "email"}, targets[0].Required)
	assert.False(t, targets[0].AllowNetwork)
	assert.True(t, targets[1].AllowNetwork)
}

func TestLoadTargetsRejectsMissingID(t *testing.T) {
	t.Parallel()
	path := writeTargets(t, `[{"known":{"name":"Acme"}}]`)

	_, err := loadTargets(path)
	assert.ErrorContains(t, err, "entity_id")
}

func TestLoadTargetsRejectsEmpty(t *testing.T) {
	t.Parallel()
	path := writeTargets(t, `[]`)

	_, err := loadTargets(path)
	assert.ErrorContains(t, err, "no targets")
}
