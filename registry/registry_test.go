package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/molnus/entity"
)

func TestOpenMissingFile(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, r.Entries())
}

func TestOpenInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: [\n"), 0o644))

	_, err := Open(path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: parse")
}

func TestRegister(t *testing.T) {
	r := New("", zerolog.Nop())

	first, err := r.Register("uid-1", "sensor.molnus_latest", "entry-1")
	require.NoError(t, err)
	assert.Equal(t, "sensor.molnus_latest", first.EntityID)
	assert.Equal(t, "sensor", first.Platform)

	again, err := r.Register("uid-1", "sensor.something_else", "entry-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	second, err := r.Register("uid-2", "sensor.molnus_latest", "entry-2")
	require.NoError(t, err)
	assert.Equal(t, "sensor.molnus_latest_2", second.EntityID)

	third, err := r.Register("uid-3", "sensor.molnus_latest", "entry-3")
	require.NoError(t, err)
	assert.Equal(t, "sensor.molnus_latest_3", third.EntityID)

	_, err = r.Register("uid-4", "no_platform", "")
	assert.ErrorIs(t, err, ErrInvalidEntityID)
}

func TestRename(t *testing.T) {
	r := New("", zerolog.Nop())
	_, err := r.Register("uid-1", "sensor.old", "")
	require.NoError(t, err)
	_, err = r.Register("uid-2", "sensor.other", "")
	require.NoError(t, err)

	require.NoError(t, r.Rename("sensor.old", "sensor.new"))
	e, ok := r.Get("uid-1")
	require.True(t, ok)
	assert.Equal(t, "sensor.new", e.EntityID)

	_, ok = r.Lookup("sensor.old")
	assert.False(t, ok)
	owner, ok := r.Lookup("sensor.new")
	require.True(t, ok)
	assert.Equal(t, "uid-1", owner.UniqueID)

	assert.ErrorIs(t, r.Rename("sensor.old", "sensor.newer"), ErrNotFound)
	assert.ErrorIs(t, r.Rename("sensor.new", "sensor.other"), ErrTaken)
	assert.ErrorIs(t, r.Rename("sensor.new", "camera.new"), ErrInvalidEntityID)
	assert.ErrorIs(t, r.Rename("sensor.new", "bad"), ErrInvalidEntityID)
}

func TestSaveAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.yaml")
	r := New(path, zerolog.Nop())
	_, err := r.Register("uid-1", "sensor.a", "entry-1")
	require.NoError(t, err)
	_, err = r.Register("uid-2", "camera.b", "entry-1")
	require.NoError(t, err)
	require.NoError(t, r.Save())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, r.Entries(), reopened.Entries())
	assert.Equal(t, path, reopened.Path())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	r := New(path, zerolog.Nop())
	_, err := r.Register("uid-1", "sensor.legacy", "")
	require.NoError(t, err)
	_, err = r.Register("uid-2", "sensor.target_taken", "")
	require.NoError(t, err)
	_, err = r.Register("uid-3", "sensor.blocked", "")
	require.NoError(t, err)

	migrations := []Migration{
		{From: "sensor.legacy", To: "sensor.stable"},
		{From: "sensor.gone", To: "sensor.anything"},
		{From: "sensor.blocked", To: "sensor.target_taken"},
		{From: "sensor.stable", To: "sensor.stable"},
		{From: "sensor.blocked", To: "not an id"},
	}

	assert.Equal(t, 1, r.Migrate(migrations))

	e, _ := r.Get("uid-1")
	assert.Equal(t, "sensor.stable", e.EntityID)
	e, _ = r.Get("uid-3")
	assert.Equal(t, "sensor.blocked", e.EntityID)

	// Saved after a rename
	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	e, ok := reopened.Get("uid-1")
	require.True(t, ok)
	assert.Equal(t, "sensor.stable", e.EntityID)

	// Running again is a no-op
	assert.Equal(t, 0, r.Migrate(migrations))
}

func TestLegacyMigrations(t *testing.T) {
	r := New("", zerolog.Nop())

	_, err := r.Register(entity.SensorUniqueID("cam-1"), entity.LegacySensorEntityID(), "")
	require.NoError(t, err)
	_, err = r.Register(entity.CameraUniqueID("cam-1"), entity.LegacyCameraEntityID(), "")
	require.NoError(t, err)
	// second camera collided with the same legacy name
	_, err = r.Register(entity.SensorUniqueID("cam-2"), entity.LegacySensorEntityID(), "")
	require.NoError(t, err)
	// user renamed this one; leave it alone
	_, err = r.Register(entity.CameraUniqueID("cam-2"), "camera.back_field", "")
	require.NoError(t, err)

	assert.Equal(t, []Migration{
		{From: "sensor.molnus_camera_molnus_latest_image_id", To: "sensor.molnus_cam_1_latest_image_id"},
		{From: "camera.molnus_camera_molnus_latest", To: "camera.molnus_cam_1_latest"},
	}, r.LegacyMigrations("cam-1"))

	assert.Equal(t, []Migration{
		{From: "sensor.molnus_camera_molnus_latest_image_id_2", To: "sensor.molnus_cam_2_latest_image_id"},
	}, r.LegacyMigrations("cam-2"))

	assert.Empty(t, r.LegacyMigrations("cam-3"))

	assert.Equal(t, 2, r.Migrate(r.LegacyMigrations("cam-1")))
	assert.Empty(t, r.LegacyMigrations("cam-1"))
}

func TestIsLegacyID(t *testing.T) {
	assert.True(t, isLegacyID("sensor.x", "sensor.x"))
	assert.True(t, isLegacyID("sensor.x_2", "sensor.x"))
	assert.True(t, isLegacyID("sensor.x_13", "sensor.x"))
	assert.False(t, isLegacyID("sensor.x_", "sensor.x"))
	assert.False(t, isLegacyID("sensor.x_a", "sensor.x"))
	assert.False(t, isLegacyID("sensor.y", "sensor.x"))
}
