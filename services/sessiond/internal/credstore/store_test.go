package credstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// contract tests shared by every driver
// ---------------------------------------------------------------------------

type storeFactory func(t *testing.T) Store

func drivers() map[string]storeFactory {
	return map[string]storeFactory{
		DriverMemory: func(t *testing.T) Store {
			return NewMemoryStore()
		},
		DriverFile: func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "creds", "credentials.json"))
			require.NoError(t, err)
			return s
		},
		DriverRedis: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client, "test:")
		},
		DriverSQLite: func(t *testing.T) Store {
			s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "credentials.db"), "test:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("missing key", func(t *testing.T) {
				s := factory(t)
				v, ok, err := s.Get(ctx, KeyAccessToken)
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Empty(t, v)
			})

			t.Run("set then get", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, KeyAccessToken, "a1"))
				v, ok, err := s.Get(ctx, KeyAccessToken)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "a1", v)
			})

			t.Run("overwrite", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, KeyRefreshToken, "r1"))
				require.NoError(t, s.Set(ctx, KeyRefreshToken, "r2"))
				v, ok, err := s.Get(ctx, KeyRefreshToken)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "r2", v)
			})

			t.Run("delete all keys", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, KeyAccessToken, "a"))
				require.NoError(t, s.Set(ctx, KeyRefreshToken, "r"))
				require.NoError(t, s.Set(ctx, KeyUser, `{"id":"1"}`))

				require.NoError(t, s.Delete(ctx, AllKeys...))
				for _, k := range AllKeys {
					_, ok, err := s.Get(ctx, k)
					require.NoError(t, err)
					assert.False(t, ok, k)
				}
			})

			t.Run("delete missing keys is not an error", func(t *testing.T) {
				s := factory(t)
				assert.NoError(t, s.Delete(ctx, AllKeys...))
				assert.NoError(t, s.Delete(ctx))
			})

			t.Run("delete leaves other keys", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Set(ctx, KeyAccessToken, "a"))
				require.NoError(t, s.Set(ctx, KeyUser, "u"))
				require.NoError(t, s.Delete(ctx, KeyAccessToken))

				v, ok, err := s.Get(ctx, KeyUser)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "u", v)
			})
		})
	}
}

// ---------------------------------------------------------------------------
// namespaces
// ---------------------------------------------------------------------------

func TestRedisStore_NamespaceIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisStore(client, "a:")
	b := NewRedisStore(client, "b:")
	require.NoError(t, a.Set(ctx, KeyAccessToken, "token-a"))

	_, ok, err := b.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := mr.Get("a:" + KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "token-a", raw)
}

func TestRedisStore_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "")
	assert.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisStore_GetError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, _, err = NewRedisStore(client, "").Get(context.Background(), KeyUser)
	assert.Error(t, err)
}

func TestSQLiteStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "shared.db")

	a, err := OpenSQLiteStore(ctx, dsn, "a:")
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLiteStore(ctx, dsn, "b:")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set(ctx, KeyAccessToken, "token-a"))
	require.NoError(t, b.Set(ctx, KeyAccessToken, "token-b"))
	require.NoError(t, a.Delete(ctx, KeyAccessToken))

	v, ok, err := b.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-b", v)
	assert.NoError(t, b.Ping(ctx))
}

func TestOpenSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := OpenSQLiteStore(context.Background(), "", "")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, closer, err := Open(ctx, Config{Driver: DriverMemory}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
		assert.NoError(t, closer.Close())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		s, closer, err := Open(ctx, Config{Driver: DriverFile, Path: path}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, s)
		assert.NoError(t, closer.Close())
	})

	t.Run("file without path", func(t *testing.T) {
		_, _, err := Open(ctx, Config{Driver: DriverFile}, discardLogger())
		assert.Error(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := Config{Driver: DriverRedis, Namespace: "ns:"}
		cfg.Redis.Addr = mr.Addr()

		s, closer, err := Open(ctx, cfg, discardLogger())
		require.NoError(t, err)
		defer closer.Close()

		require.NoError(t, s.Set(ctx, KeyUser, "u"))
		assert.True(t, mr.Exists("ns:"+KeyUser))
	})

	t.Run("sqlite", func(t *testing.T) {
		s, closer, err := Open(ctx, Config{
			Driver: DriverSQLite,
			DSN:    filepath.Join(t.TempDir(), "open.db"),
		}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, s)
		assert.NoError(t, closer.Close())
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := Open(ctx, Config{Driver: "etcd"}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "etcd")
	})
}
