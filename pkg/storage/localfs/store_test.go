package localfs

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"testing"

	"github.com/treelinehq/treeline/pkg/storage"
	"github.com/treelinehq/treeline/pkg/storage/status"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t testing.TB) storage.Store {
	t.Helper()

	fs := afero.NewMemMapFs()
	for key, content := range map[string]string{
		"projects/acme/project.yaml":   "name: acme",
		"repos/acme/gateway/repo.yaml": "name: gateway",
	} {
		f, err := fs.Create(key)
		require.NoError(t, err)
		_, err = f.WriteString(content)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	return New(fs)
}

func TestHas(t *testing.T) {
	bs := setupStore(t)

	has, err := bs.Has(context.Background(), "projects/acme/project.yaml")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "projects/other/project.yaml")
	require.NoError(t, err)
	require.False(t, has)
}

func TestGet(t *testing.T) {
	bs := setupStore(t)

	rdr, err := bs.Get(context.Background(), "projects/acme/project.yaml")
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "name: acme", string(b))

	_, err = bs.Get(context.Background(), "projects/other/project.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestKeys(t *testing.T) {
	bs := setupStore(t)

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestDelete(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Delete(context.Background(), "repos/acme/gateway/repo.yaml"))
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)

	// deleting a missing key is not an error
	require.NoError(t, bs.Delete(context.Background(), "repos/acme/gateway/repo.yaml"))
}

func TestClear(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)
}

func TestPut(t *testing.T) {
	bs := setupStore(t)
	key := "repos/acme/billing/repo.yaml"

	err := bs.Put(context.Background(), key, bytes.NewBufferString("name: billing"), storage.NoOverWrite)
	require.NoError(t, err)

	rdr, err := bs.Get(context.Background(), key)
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "name: billing", string(b))

	// exclusive put on an existing key fails
	err = bs.Put(context.Background(), key, bytes.NewBufferString("x"), storage.NoOverWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrExists)

	// non-exclusive put truncates previous content
	err = bs.Put(context.Background(), key, bytes.NewBufferString("short"), storage.OverWrite)
	require.NoError(t, err)
	rdr, err = bs.Get(context.Background(), key)
	require.NoError(t, err)
	b, err = io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "short", string(b))
}

func fakeCommit(t testing.TB, bs storage.Store, key string) {
	t.Helper()
	require.NoError(t, bs.Put(context.Background(), key, bytes.NewBufferString("commit: yes"), storage.OverWrite))
}

func TestKeysPrefix(t *testing.T) {
	bs := New(afero.NewMemMapFs())
	for i := 0; i < 10; i++ {
		fakeCommit(t, bs, "commits/acme/gateway/"+strconv.Itoa(i)+"/commit.yaml")
		fakeCommit(t, bs, "commits/acme/billing/"+strconv.Itoa(i)+"/commit.yaml")
	}

	keys, next, err := bs.KeysPrefix(context.Background(), "", "commits/acme/gateway/", "", 0)
	require.NoError(t, err)
	assert.Len(t, keys, 10)
	assert.Empty(t, next)

	// paged listing walks the full set in lexical order
	var all []string
	token := ""
	for {
		keys, next, err = bs.KeysPrefix(context.Background(), token, "commits/acme/", "", 7)
		require.NoError(t, err)
		all = append(all, keys...)
		if next == "" {
			break
		}
		token = next
	}
	require.Len(t, all, 20)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}

	// unknown prefix yields no keys
	keys, next, err = bs.KeysPrefix(context.Background(), "", "commits/other/", "", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, next)

	// hierarchical listing is not supported here
	_, _, err = bs.KeysPrefix(context.Background(), "", "commits/acme/", "/", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrNotSupported)
}

func TestAtomicPut(t *testing.T) {
	bs, err := NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)

	require.NoError(t, bs.Put(context.Background(), "repos/p/r/repo.yaml", bytes.NewBufferString("descriptor"), storage.NoOverWrite))

	err = bs.Put(context.Background(), "repos/p/r/repo.yaml", bytes.NewBufferString("other"), storage.NoOverWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrExists)

	// the staging area never shows up in listings
	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"repos/p/r/repo.yaml"}, keys)

	// keys under the staging area are rejected
	err = bs.Put(context.Background(), ".put-stage/x", bytes.NewBufferString("x"), storage.OverWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrInvalidResource)
}
