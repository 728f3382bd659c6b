package runstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func record(id, requestType string, offset int) Record {
	started := base.Add(time.Duration(offset) * time.Minute)
	return Record{
		RunID:       id,
		RequestType: requestType,
		Status:      workflow.StatusPartiallySucceeded,
		Outputs:     map[string]any{"note": "ok"},
		Errors: []workflow.StepError{
			{StepID: "draft", Kind: types.KindUpstreamFailure, Message: "upstream step failed", Attempts: 0},
		},
		Steps: []workflow.StepReport{
			{StepID: "search", Status: workflow.StepSucceeded, Attempts: 1, Duration: 20 * time.Millisecond},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewGormStore(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client, WithRedisPrefix("test:run:"), WithRedisLogger(zap.NewNop()))
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"gorm":   func(t *testing.T) Store { return newGormStore(t) },
		"redis": func(t *testing.T) Store {
			_, s := newRedisStore(t)
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			rec := record("run-1", "grant_search", 0)
			require.NoError(t, store.Append(ctx, rec))

			got, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, rec.RunID, got.RunID)
			assert.Equal(t, rec.RequestType, got.RequestType)
			assert.Equal(t, rec.Status, got.Status)
			assert.Equal(t, rec.Errors, got.Errors)
			assert.Equal(t, "ok", got.Outputs["note"])
			require.Len(t, got.Steps, 1)
			assert.Equal(t, 20*time.Millisecond, got.Steps[0].Duration)
			assert.True(t, rec.StartedAt.Equal(got.StartedAt))
			assert.True(t, rec.FinishedAt.Equal(got.FinishedAt))

			res := got.Result()
			assert.Equal(t, "run-1", res.RunID)
			assert.Equal(t, time.Second, res.Duration())
		})
	}
}

func TestStore_AppendOnly(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			require.NoError(t, store.Append(ctx, record("run-1", "grant_search", 0)))

			changed := record("run-1", "grant_search", 5)
			changed.Status = workflow.StatusFailed
			err := store.Append(ctx, changed)
			assert.True(t, types.IsKind(err, types.KindValidation), "got %v", err)

			got, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, workflow.StatusPartiallySucceeded, got.Status)

			err = store.Append(ctx, Record{})
			assert.True(t, types.IsKind(err, types.KindValidation))
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := open(t).Get(context.Background(), "missing")
			assert.True(t, types.IsKind(err, types.KindNotFound))
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			for i := 0; i < 6; i++ {
				typ := "grant_search"
				if i%2 == 1 {
					typ = "compliance_check"
				}
				require.NoError(t, store.Append(ctx, record(fmt.Sprintf("run-%d", i), typ, i)))
			}

			all, err := store.List(ctx, "", 4)
			require.NoError(t, err)
			assert.Equal(t, []string{"run-5", "run-4", "run-3", "run-2"}, ids(all))

			searches, err := store.List(ctx, "grant_search", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"run-4", "run-2", "run-0"}, ids(searches))

			none, err := store.List(ctx, "document_draft", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.RunID
	}
	return out
}

func TestRedisStore_TTLAndStaleIndex(t *testing.T) {
	mr, _ := newRedisStore(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, WithRedisTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, record("old", "grant_search", 0)))
	assert.Equal(t, time.Minute, mr.TTL("grantflow:run:old"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.Append(ctx, record("new", "grant_search", 1)))

	recs, err := store.List(ctx, "grant_search", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(recs))

	members, err := mr.ZMembers("grantflow:run:index:grant_search")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)

	// 过期后同一 run ID 可以重新写入
	assert.NoError(t, store.Append(ctx, record("old", "grant_search", 2)))
}

func TestRedisStore_UnavailableIsTransient(t *testing.T) {
	mr, store := newRedisStore(t)
	mr.Close()

	err := store.Append(context.Background(), record("x", "grant_search", 0))
	assert.True(t, types.IsTransient(err))
	_, err = store.Get(context.Background(), "x")
	assert.True(t, types.IsTransient(err))
}

func TestGormStore_CorruptRecord(t *testing.T) {
	store := newGormStore(t)
	ctx := context.Background()
	require.NoError(t, store.db.Create(&runModel{
		RunID: "bad", RequestType: "grant_search", Status: "succeeded",
		Outputs: "{not json", StartedAt: base, FinishedAt: base,
	}).Error)

	_, err := store.Get(ctx, "bad")
	assert.True(t, types.IsKind(err, types.KindInternal))
}

func TestFromResult(t *testing.T) {
	res := &workflow.Result{RunID: "r", RequestType: "grant_search", Status: workflow.StatusSucceeded, StartedAt: base, FinishedAt: base}
	rec := FromResult(res)
	assert.Equal(t, res, rec.Result())
}
