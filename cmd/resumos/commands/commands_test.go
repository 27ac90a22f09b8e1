package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnephew1/resumos/pkg/resumos/bot"
	"github.com/dnephew1/resumos/pkg/resumos/summarizer"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "****cdef", maskSecret("sk-0123456789abcdef"))
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(" 5m ")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = parseDuration("0s")
	assert.Error(t, err)
	_, err = parseDuration("soon")
	assert.Error(t, err)
}

func TestApplySetupAnswers(t *testing.T) {
	cfg := bot.DefaultConfig()
	err := applySetupAnswers(cfg, setupAnswers{
		Model:       " gpt-4o-mini ",
		BaseURL:     "http://localhost:11434/v1",
		GateMode:    string(summarizer.GateGroups),
		MinMembers:  "20",
		Retention:   "10m",
		EmptyNotice: "Nada novo.",
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.API.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.API.BaseURL)
	assert.Equal(t, summarizer.GateGroups, cfg.Gate.Mode)
	assert.Equal(t, 20, cfg.Gate.MinMembers)
	assert.Equal(t, 10*time.Minute, cfg.Summary.Retention)
	assert.Equal(t, "Nada novo.", cfg.Summary.EmptyNotice)

	t.Run("bad member count", func(t *testing.T) {
		err := applySetupAnswers(bot.DefaultConfig(), setupAnswers{
			GateMode: string(summarizer.GateMinMembers), MinMembers: "many", Retention: "5m",
		})
		assert.Error(t, err)
	})

	t.Run("validation runs", func(t *testing.T) {
		err := applySetupAnswers(bot.DefaultConfig(), setupAnswers{
			GateMode: "everyone", MinMembers: "5", Retention: "5m",
		})
		assert.Error(t, err)
	})
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePositiveInt("3"))
	assert.Error(t, validatePositiveInt("0"))
	assert.Error(t, validatePositiveInt("x"))
	assert.NoError(t, validateDuration("1h"))
	assert.Error(t, validateDuration("-1h"))
}

func TestConfigShowMasksKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  api_key: sk-0123456789abcdef\n  model: gpt-4o\n"), 0o600))

	root := NewRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"config", "show", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "model: gpt-4o")
	assert.Contains(t, out.String(), "****cdef")
	assert.NotContains(t, out.String(), "sk-0123456789abcdef")
	assert.Contains(t, errOut.String(), path)
}

func TestLogoutWithoutSession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "database:\n  path: " + filepath.Join(dir, "data", "resumos.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"logout", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "No linked WhatsApp session.")
	assert.NoFileExists(t, filepath.Join(dir, "data", "resumos.db"))
}
