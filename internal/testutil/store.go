package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/config/store"
)

// OpenStore opens a state store in a temp dir for the "test" instance. It
// is closed when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{
		InstanceName: "test",
		DBPath:       filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}
