package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
)

const testConfig = `
log:
  level: error
plugins:
  - name: buffer
    options:
      batch_size: 100
experiences:
  - id: exp-hero
    type: experiment
    traffic: 1
    distribution:
      - {index: 0, start: 0, end: 0.5}
      - {index: 1, start: 0.5, end: 1}
    components:
      baseline: {id: hero-a}
      variants: [{id: hero-b}]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experience.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestAssign_JSON(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "", "assign", "-c", cfg, "--json", "exp-hero", "anon-1", "anon-2")
	require.NoError(t, err)

	var rows []assignRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)

	d, err := bucket.NewDistribution(0.5, 0.5)
	require.NoError(t, err)
	exp := bucket.Experience{ID: "exp-hero", Traffic: 1, Distribution: d}
	for _, r := range rows {
		want := bucket.Resolve(exp, r.ProfileID)
		assert.Equal(t, want, r.Assignment, r.ProfileID)
		assert.True(t, r.Assignment.InExperience)
		assert.Contains(t, []string{"hero-a", "hero-b"}, r.Variant.ID)
	}
}

func TestAssign_Table(t *testing.T) {
	out, err := run(t, "", "assign", "-c", writeConfig(t), "exp-hero", "anon-1")
	require.NoError(t, err)
	assert.Contains(t, out, "PROFILE")
	assert.Contains(t, out, "anon-1")
}

func TestAssign_Errors(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown experience", args: []string{"assign", "-c", cfg, "exp-missing", "anon-1"}, want: "not configured"},
		{name: "missing profile", args: []string{"assign", "-c", cfg, "exp-hero"}, want: "requires at least 2 arg"},
		{name: "bad config path", args: []string{"assign", "-c", "missing.yaml", "exp-hero", "a"}, want: "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplay_Summary(t *testing.T) {
	input := strings.Join([]string{
		`{"type": "page", "messageId": "m-1", "properties": {"path": "/"}}`,
		`{"type": "track", "event": "signup"}`,
		``,
		`{"type": "component-view", "component": {"componentId": "hero"}}`,
		`not json`,
		`{"type": "track"}`,
	}, "\n")

	out, err := run(t, input, "replay", "-c", writeConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "replayed 4 events: 2 delivered, 1 blocked, 1 failed, 1 skipped\n", out)
}

func TestReplay_AcceptConsent(t *testing.T) {
	input := `{"type": "componentView", "component": {"componentId": "hero", "experienceId": "exp-hero"}}`

	out, err := run(t, input, "replay", "-c", writeConfig(t), "--accept-consent")
	require.NoError(t, err)
	assert.Equal(t, "replayed 1 events: 1 delivered, 0 blocked, 0 failed, 0 skipped\n", out)
}

func TestReplay_Strict(t *testing.T) {
	input := `{"type": "purchase"}`

	_, err := run(t, input, "replay", "-c", writeConfig(t), "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReplay_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "identify", "userId": "user-1"}`+"\n"), 0o600))

	out, err := run(t, "", "replay", "-c", writeConfig(t), "-i", path)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 events")
}
