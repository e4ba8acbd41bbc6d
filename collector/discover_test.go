package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o600))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "temporal-lens.300"))
	touch(t, filepath.Join(root, "temporal-lens.12"))
	touch(t, filepath.Join(root, "temporal-lens.abc"))
	touch(t, filepath.Join(root, "other.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(root, "temporal-lens.7"), 0o700))

	paths, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "temporal-lens.12"),
		filepath.Join(root, "temporal-lens.300"),
	}, paths)

	_, err = Discover(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

type change struct {
	path  string
	added bool
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "temporal-lens.1")
	touch(t, existing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan change, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, root, zaptest.NewLogger(t), func(path string, added bool) {
			changes <- change{path, added}
		})
	}()

	next := func() change {
		select {
		case c := <-changes:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("no change reported")
			return change{}
		}
	}

	assert.Equal(t, change{existing, true}, next())

	touch(t, filepath.Join(root, "ignored.txt"))
	created := filepath.Join(root, "temporal-lens.2")
	touch(t, created)
	assert.Equal(t, change{created, true}, next())

	require.NoError(t, os.Remove(created))
	assert.Equal(t, change{created, false}, next())

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
