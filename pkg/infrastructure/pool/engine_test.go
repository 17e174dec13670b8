package pool

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
)

func TestEngine_LazyOpen(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	engine := New(Config{}, logger)
	defer engine.Close()

	assert.False(t, engine.Opened())
	assert.Equal(t, ":memory:", engine.Config().DSN)

	require.NoError(t, engine.HealthCheck(context.Background()))
	assert.True(t, engine.Opened())
}

func TestEngine_ConcurrentFirstUse(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	engine := New(Config{DSN: ":memory:"}, logger)
	defer engine.Close()

	var wg sync.WaitGroup
	dbs := make([]*sql.DB, 16)
	for i := range dbs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := engine.DB(context.Background())
			assert.NoError(t, err)
			dbs[i] = db
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.opens.Load())
	for _, db := range dbs {
		assert.Same(t, dbs[0], db)
	}
}

func TestEngine_Conn(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	engine := New(Config{}, logger)
	defer engine.Close()

	ctx := context.Background()
	conn, err := engine.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT 42").Scan(&n))
	assert.Equal(t, 42, n)
}

func TestEngine_Close(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	t.Run("never opened", func(t *testing.T) {
		engine := New(Config{}, logger)
		require.NoError(t, engine.Close())
		require.NoError(t, engine.Close())
	})

	t.Run("use after close", func(t *testing.T) {
		engine := New(Config{}, logger)
		_, err := engine.DB(context.Background())
		require.NoError(t, err)
		require.NoError(t, engine.Close())

		_, err = engine.Conn(context.Background())
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeEngineUnavailable, pkgerrors.GetCode(err))
	})
}

func TestQueryLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	t.Run("disabled", func(t *testing.T) {
		buf.Reset()
		NewQueryLogger(logger, time.Second, false).LogQuery("cli", "SELECT 1", time.Millisecond, nil)
		assert.Empty(t, buf.String())
	})

	t.Run("fast query", func(t *testing.T) {
		buf.Reset()
		NewQueryLogger(logger, time.Second, true).LogQuery("cli", "SELECT 1", time.Millisecond, nil)
		assert.Contains(t, buf.String(), `"level":"debug"`)
		assert.Contains(t, buf.String(), `"backend":"cli"`)
		assert.NotContains(t, buf.String(), "slow_query")
	})

	t.Run("slow query", func(t *testing.T) {
		buf.Reset()
		NewQueryLogger(logger, time.Millisecond, true).LogQuery("embedded", "SELECT 1", time.Second, nil)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"slow_query":true`)
	})

	t.Run("failure", func(t *testing.T) {
		buf.Reset()
		err := pkgerrors.Wrap(errors.New("boom"), pkgerrors.CodeQueryFailed, "failed")
		NewQueryLogger(logger, time.Second, true).LogQuery("cli", "SELECT 1", time.Millisecond, err)
		assert.Contains(t, buf.String(), `"level":"error"`)
		assert.Contains(t, buf.String(), `"code":"QUERY_EXECUTION_FAILED"`)
	})
}

func TestTruncateQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", TruncateQuery("SELECT 1"))

	long := "SELECT " + strings.Repeat("a", 200)
	got := TruncateQuery(long)
	assert.Len(t, got, 103)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{":memory:", ":memory:"},
		{"short.db", "***"},
		{"/data/survey.duckdb", "/da***kdb"},
		{"md:survey?motherduck_token=abc", "md:survey?motherduck_token=%2A%2A%2A%2A%2A"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, maskDSN(tt.in))
		})
	}
}
