package ignite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/tx"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
	"github.com/iamNilotpal/ignitekv/pkg/options"
)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()

	inst, err := NewInstance(
		context.Background(),
		"ignite-test",
		options.WithDataDir(t.TempDir()),
		options.WithMaxMemtableSize(1<<20),
	)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestInstanceSetGetDelete(t *testing.T) {
	inst := newTestInstance(t)

	require.NoError(t, inst.Set("users", "alice", []byte("a1")))

	got, ok, err := inst.Get("users", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a1"), got)

	require.NoError(t, inst.Delete("users", "alice"))
	_, ok, err = inst.Get("users", "alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInstanceRejectsInvalidInput(t *testing.T) {
	inst := newTestInstance(t)

	err := inst.Set("", "key", []byte("v"))
	require.Error(t, err)
	require.True(t, ignerrors.IsValidationError(err))

	err = inst.Set("users", "", []byte("v"))
	require.Error(t, err)
	ve, ok := ignerrors.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, "key", ve.Field())

	_, _, err = inst.Get("users", "")
	require.Error(t, err)
	require.True(t, ignerrors.IsValidationError(err))

	err = inst.Delete("", "key")
	require.Error(t, err)
	require.True(t, ignerrors.IsValidationError(err))

	txn := inst.BeginTxn()
	defer txn.Rollback()
	require.Error(t, txn.Set("", "key", []byte("v")))
	require.Error(t, txn.Delete("users", ""))
}

func TestInstanceTransactionCommit(t *testing.T) {
	inst := newTestInstance(t)

	txn := inst.BeginTxn()
	require.NotEqual(t, txn.ID().String(), "")
	require.NoError(t, txn.Set("users", "bob", []byte("b1")))

	got, ok, err := txn.Get("users", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b1"), got)

	// Invisible to non-transactional reads until the commit lands.
	_, ok, err = inst.Get("users", "bob")
	require.NoError(t, err)
	require.False(t, ok)

	outcome, err := txn.Commit()
	require.NoError(t, err)
	require.Equal(t, tx.Ok, outcome)

	got, ok, err = inst.Get("users", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b1"), got)
}
