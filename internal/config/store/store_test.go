package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NotFoundError{Entity: "run", Key: "abc"}
	assert.Equal(t, "run abc not found", err.Error())
	assert.Equal(t, "setting not found", NotFoundError{Entity: "setting"}.Error())

	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", err)))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("run abc not found")))
}

func TestOpenCreatesDatabaseDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := Open(Options{InstanceName: "bench", DBPath: path})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	assert.Equal(t, "bench", s.InstanceName())
	assert.FileExists(t, path)
}

func TestOpenReadOnlyMissingDatabaseFails(t *testing.T) {
	_, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "absent.db"), ReadOnly: true})
	assert.Error(t, err)
}

func TestSettingsAreScopedPerInstance(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	lab, err := Open(Options{InstanceName: "lab", DBPath: path})
	require.NoError(t, err)
	defer lab.Close()
	require.NoError(t, lab.SaveSettings(ctx, map[string]string{SettingLastPort: "/dev/ttyACM0"}))

	field, err := Open(Options{InstanceName: "field", DBPath: path})
	require.NoError(t, err)
	defer field.Close()

	_, err = field.LoadSetting(ctx, SettingLastPort)
	assert.True(t, IsNotFound(err))

	port, err := lab.LoadSetting(ctx, SettingLastPort)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)
}

func TestDeleteSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveSettings(ctx, map[string]string{
		SettingArduinoCLIPath: "/opt/arduino-cli",
		SettingLastFQBN:       "rp2040:rp2040:rpipico",
	}))
	require.NoError(t, s.SaveSettings(ctx, nil))
	require.NoError(t, s.DeleteSettings(ctx, SettingArduinoCLIPath, "never-saved"))

	all, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SettingLastFQBN: "rp2040:rp2040:rpipico"}, all)
}
