package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		APIKey:            "ak-test-1234",
		Model:             "gpt-4o-2024-08-06",
		DefaultTargetLang: "CHS",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	noKey := validSettings()
	noKey.APIKey = " "
	require.Error(t, noKey.Validate())

	badLang := validSettings()
	badLang.DefaultTargetLang = "klingon"
	require.Error(t, badLang.Validate())
}

func TestRuntimeSettings_Masked(t *testing.T) {
	assert.Equal(t, "********1234", validSettings().Masked().APIKey)

	short := validSettings()
	short.APIKey = "abc"
	assert.Equal(t, "***", short.Masked().APIKey)
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JOB_SERVICE_MODEL", "env-model")

	override := RuntimeSettings{
		APIKey:            "file-key",
		Model:             "file-model",
		DefaultTargetLang: "ja",
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.JobService.APIKey)
	assert.Equal(t, "file-model", cfg.JobService.Model)
	assert.Equal(t, "JPN", cfg.Translate.DefaultTargetLang)
	assert.Equal(t, RuntimeSettings{APIKey: "file-key", Model: "file-model", DefaultTargetLang: "JPN"}, cfg.RuntimeSettings())
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)
	assert.Equal(t, "ak-test-1234", store.APIKey())

	next := RuntimeSettings{APIKey: "new-ak", Model: "new-model", DefaultTargetLang: "eng"}
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, "ENG", got.DefaultTargetLang)

	assert.Equal(t, "new-ak", store.APIKey())
	assert.Equal(t, "new-model", store.ModelName())
	assert.Equal(t, "ENG", store.DefaultTargetLang())

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)
}

func TestRuntimeSettingsStore_RejectsInvalidUpdate(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")
	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{Model: "m", DefaultTargetLang: "CHS"})
	require.Error(t, err)
	assert.Equal(t, "ak-test-1234", store.APIKey())

	_, statErr := os.Stat(filePath)
	assert.True(t, os.IsNotExist(statErr))
}
