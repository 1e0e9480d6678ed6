package repo

import (
	"context"
	"errors"

	"dealflow/internal/domain"
	"dealflow/internal/pipeline"
)

// PipelinePersister adapts Repo to pipeline.Persister.
type PipelinePersister struct {
	Repo Repo
}

func (p PipelinePersister) Load(ctx context.Context, key string) ([]domain.Deal, int64, error) {
	deals, version, err := p.Repo.LoadPipeline(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, 0, pipeline.ErrNotStored
	}
	return deals, version, err
}

func (p PipelinePersister) Save(ctx context.Context, key string, deals []domain.Deal, prev, version int64) error {
	err := p.Repo.SavePipeline(ctx, key, deals, prev, version)
	if errors.Is(err, ErrConflict) {
		return pipeline.ErrConflict
	}
	return err
}

func (p PipelinePersister) Version(ctx context.Context, key string) (int64, error) {
	v, err := p.Repo.PipelineVersion(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, pipeline.ErrNotStored
	}
	return v, err
}
