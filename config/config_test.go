package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	assert.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `{"participants": 3, "max_depth": 12, "enable_loss": true, "search": "dfs"}`)

	c, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 3, c.Participants)
	assert.Equal(t, 12, c.MaxDepth)
	assert.True(t, c.EnableLoss)
	assert.Equal(t, "dfs", c.Search)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Workers, c.Workers)
	assert.Equal(t, Default().Runs, c.Runs)
	assert.True(t, c.EnableTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero participants": `{"participants": 0}`,
		"bad search":        `{"search": "random"}`,
		"cutoff past bound": `{"max_steps": 10, "fault_cutoff": 10}`,
		"not json":          `max_depth = 5`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Errorf(t, err, "%s must be rejected", name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
