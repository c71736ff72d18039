package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmdText(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "docrank "+Version)
	assert.Contains(t, out, "commit: "+Commit)
	assert.Contains(t, out, "go: go")
}

func TestVersionCmdJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")

	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, Version, payload["version"])
	assert.Equal(t, Commit, payload["commit"])
	assert.Equal(t, Date, payload["date"])
	assert.NotEmpty(t, payload["go_version"])
}

func TestVersionCmdRejectsArgs(t *testing.T) {
	_, err := execute(t, "version", "extra")

	require.Error(t, err)
}
