package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("UNIMATCH_HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, filepath.Join(home, "unimatch.db"), cfg.SQLitePath)
	assert.Equal(t, 800*time.Millisecond, cfg.Chat.TypingIdle)
	assert.Equal(t, int64(25), cfg.Chat.MaxImageMB)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("UNIMATCH_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: firestore
firestore:
  project_id: unimatch-dev
actor:
  id: alice
  verified: false
chat:
  typing_idle: 1s
s3:
  bucket: media
`), 0644))

	t.Setenv("UNIMATCH_ACTOR_VERIFIED", "true")
	t.Setenv("UNIMATCH_S3_REGION", "auto")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.Backend)
	assert.Equal(t, "unimatch-dev", cfg.Firestore.ProjectID)
	assert.Equal(t, "alice", cfg.Actor.ID)
	assert.True(t, cfg.Actor.Verified)
	assert.Equal(t, time.Second, cfg.Chat.TypingIdle)
	assert.Equal(t, 4, cfg.Chat.UploadConcurrency)
	assert.Equal(t, "media", cfg.S3.Bucket)
	assert.Equal(t, "auto", cfg.S3.Region)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("UNIMATCH_HOME", t.TempDir())

	t.Setenv("UNIMATCH_BACKEND", "redis")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown backend")

	t.Setenv("UNIMATCH_BACKEND", "firestore")
	_, err = Load("")
	assert.ErrorContains(t, err, "project_id")

	t.Setenv("UNIMATCH_BACKEND", "sqlite")
	t.Setenv("UNIMATCH_LOG_PRETTY", "sometimes")
	_, err = Load("")
	assert.ErrorContains(t, err, "UNIMATCH_LOG_PRETTY")
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("UNIMATCH_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yml")

	cfg := Default()
	cfg.Actor = Actor{ID: "alice", Name: "Alice", Verified: true}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Actor, loaded.Actor)
	assert.Equal(t, cfg.Chat, loaded.Chat)
}

func TestInitWritesOnce(t *testing.T) {
	t.Setenv("UNIMATCH_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yml")

	_, err := Init(path, Actor{})
	assert.Error(t, err)

	written, err := Init(path, Actor{ID: "alice", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, path, written)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Actor.ID)
	assert.Equal(t, BackendSQLite, loaded.Backend)

	_, err = Init(path, Actor{ID: "bob"})
	assert.ErrorContains(t, err, "already exists")
	loaded, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Actor.ID)
}
