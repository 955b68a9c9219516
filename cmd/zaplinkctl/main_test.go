package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashpass(t *testing.T) {
	out, err := execute(t, "hashpass", "--cost", "4", "s3cret-pass")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")))

	_, err = execute(t, "hashpass")
	assert.Error(t, err, "missing argument")
}

func TestInspect_MemoryStoreReportsNotFound(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("UPLOAD_DIR", t.TempDir())

	_, err := execute(t, "inspect", "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = execute(t, "inspect", "../etc")
	assert.ErrorIs(t, err, zaplink.ErrInvalidCode)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "false")

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestSweep_EmptyMemoryStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "false")

	out, err := execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "tombstoned 0 links")
}
