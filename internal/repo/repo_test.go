package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/db"
	"dealflow/internal/domain"
	"dealflow/internal/events"
	"dealflow/internal/migrate"
	"dealflow/internal/pipeline"
	"dealflow/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn, Dialect: db.SQLite, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestPipelineRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, _, err := r.LoadPipeline(ctx, "dealflow-deals")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	deals := domain.SampleDeals(time.Now())
	require.NoError(t, r.SavePipeline(ctx, "dealflow-deals", deals, 0, 3))
	require.NoError(t, r.SavePipeline(ctx, "dealflow-deals", deals[:2], 3, 4))

	got, version, err := r.LoadPipeline(ctx, "dealflow-deals")
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	assert.Equal(t, deals[:2], got)

	v, err := r.PipelineVersion(ctx, "dealflow-deals")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestSavePipelineRejectsStaleVersion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	deals := domain.SampleDeals(time.Now())

	require.NoError(t, r.SavePipeline(ctx, "k", deals, 0, 1))
	assert.ErrorIs(t, r.SavePipeline(ctx, "k", deals[:1], 0, 1), repo.ErrConflict)
	require.NoError(t, r.SavePipeline(ctx, "k", deals[:3], 1, 2))
	assert.ErrorIs(t, r.SavePipeline(ctx, "k", deals[:1], 1, 2), repo.ErrConflict)

	p := repo.PipelinePersister{Repo: r}
	assert.ErrorIs(t, p.Save(ctx, "k", deals, 1, 2), pipeline.ErrConflict)

	got, version, err := r.LoadPipeline(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Len(t, got, 3)
}

func TestPersisterBacksStore(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	p := repo.PipelinePersister{Repo: r}

	_, err := p.Version(ctx, "k")
	assert.ErrorIs(t, err, pipeline.ErrNotStored)

	s, err := pipeline.Open(ctx, pipeline.Options{Key: "k", Persister: p, Seed: domain.SampleDeals(time.Now())})
	require.NoError(t, err)
	s.Update(ctx, func(deals []domain.Deal) []domain.Deal { return deals[:1] })

	reopened, err := pipeline.Open(ctx, pipeline.Options{Key: "k", Persister: p})
	require.NoError(t, err)
	assert.Len(t, reopened.All(), 1)
}

func TestNotificationLog(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB, Dialect: db.SQLite}

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	for i := 0; i < 5; i++ {
		kind := domain.NotifyDealMoved
		if i == 4 {
			kind = domain.NotifyDealWon
		}
		require.NoError(t, w.Append(ctx, domain.Notification{
			ID: fmt.Sprintf("n-%d", i), Kind: kind, Message: fmt.Sprintf("msg %d", i),
			Severity: domain.SeveritySuccess, Icon: "🔄", Celebrate: i == 4,
		}))
	}

	page, err := r.LatestEvents(ctx, 2, 0, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "n-4", page[0].ID)
	assert.True(t, page[0].Celebrate)

	next, err := r.LatestEvents(ctx, 10, page[1].Seq, "")
	require.NoError(t, err)
	assert.Len(t, next, 3)

	won, err := r.LatestEvents(ctx, 10, 0, domain.NotifyDealWon)
	require.NoError(t, err)
	assert.Len(t, won, 1)

	after, err := r.EventsAfter(ctx, 10, page[1].Seq)
	require.NoError(t, err)
	assert.Len(t, after, 1)

	latest, err = r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, page[0].Seq, latest)
}
