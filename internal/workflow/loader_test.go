package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinition = `
id: onboarding
name: Customer onboarding
errorHandling: retry
variables:
  region: emea
steps:
  - id: welcome
    name: Send welcome
    kind: action
    action: httpRequest
    params:
      url: https://crm.example.com/welcome
      method: POST
    maxRetries: 2
    retryDelay: 5s
  - id: check
    name: Check region
    kind: condition
    expression: region == 'emea'
    truePath: assign-eu
    falsePath: assign-us
  - id: assign-eu
    name: Assign EU rep
    kind: action
    action: log
    dependsOn: [check]
  - id: assign-us
    name: Assign US rep
    kind: action
    action: log
    dependsOn: [check]
`

func TestParseDefinition(t *testing.T) {
	wf, err := ParseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, "onboarding", wf.ID)
	assert.Equal(t, "retry", wf.ErrorHandling)
	assert.Equal(t, "emea", wf.Variables["region"])
	require.Len(t, wf.Steps, 4)

	welcome := wf.Steps[0]
	assert.Equal(t, KindAction, welcome.Kind)
	assert.Equal(t, "httpRequest", welcome.Action)
	assert.Equal(t, 2, welcome.MaxRetries)
	assert.Equal(t, 5*time.Second, welcome.RetryDelay)

	check := wf.Steps[1]
	assert.Equal(t, KindCondition, check.Kind)
	assert.Equal(t, "assign-eu", check.TruePath)

	res := Validate(wf)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestParseDefinitionRejectsGarbage(t *testing.T) {
	_, err := ParseDefinition([]byte(":\n  - not yaml"))
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
id: wf-b
name: B
steps:
  - {id: s1, name: s1, kind: action, action: log}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(`
id: wf-a
name: A
steps:
  - {id: s1, name: s1, kind: action, action: log}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644))

	wfs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	assert.Equal(t, "wf-a", wfs[0].ID)
	assert.Equal(t, "wf-b", wfs[1].ID)
}
