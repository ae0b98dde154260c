package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/awlabs/trellis/internal/config"
	"github.com/awlabs/trellis/pkg/api"
)

// RedisStore implements JobStore, WorkflowStore, and ArtifactStore over
// a single Redis connection. Records are JSON values under prefixed
// keys; sorted-set indexes keyed by creation time drive listings.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ JobStore      = (*RedisStore)(nil)
	_ WorkflowStore = (*RedisStore)(nil)
	_ ArtifactStore = (*RedisStore)(nil)
)

// NewRedisStore creates a store backed by the configured Redis instance
func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, prefix: cfg.Prefix}
}

// Ping verifies the Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) CreateJob(ctx context.Context, job *api.Job) error {
	return s.create(ctx, s.jobKey(job.ID), s.jobIndex(),
		string(job.ID), float64(job.CreatedAt.UnixNano()), job, ErrJobExists)
}

func (s *RedisStore) GetJob(
	ctx context.Context, id api.JobID,
) (*api.Job, error) {
	var job api.Job
	if err := s.get(ctx, s.jobKey(id), &job, ErrJobNotFound); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, job *api.Job) error {
	return s.update(ctx, s.jobKey(job.ID), job, ErrJobNotFound)
}

// UpdateJobIf writes the job under a WATCH on its key so the write only
// lands while the stored status is still from. Contended lifecycle
// edges resolve to exactly one winner; the loser sees ErrStatusConflict.
func (s *RedisStore) UpdateJobIf(
	ctx context.Context, job *api.Job, from api.JobStatus,
) error {
	key := s.jobKey(job.ID)
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, key)
		}
		if err != nil {
			return err
		}

		var current api.Job
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Status != from {
			return fmt.Errorf("%w: %s is %s, not %s",
				ErrStatusConflict, job.ID, current.Status, from)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for {
		err := s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		// the key moved under the watch; re-read and decide again
	}
}

func (s *RedisStore) ListJobs(
	ctx context.Context, filter JobFilter,
) ([]*api.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.jobIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	jobs := make([]*api.Job, 0, min(len(ids), limit))
	skipped := 0
	for _, id := range ids {
		job, err := s.GetJob(ctx, api.JobID(id))
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.WorkflowID != "" && job.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) >= limit {
			break
		}
	}
	return jobs, nil
}

func (s *RedisStore) CreateWorkflow(
	ctx context.Context, wf *api.Workflow,
) error {
	return s.create(ctx, s.workflowKey(wf.ID), s.workflowIndex(),
		string(wf.ID), float64(wf.CreatedAt.UnixNano()), wf,
		ErrWorkflowExists)
}

func (s *RedisStore) GetWorkflow(
	ctx context.Context, id api.WorkflowID,
) (*api.Workflow, error) {
	var wf api.Workflow
	err := s.get(ctx, s.workflowKey(id), &wf, ErrWorkflowNotFound)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *RedisStore) UpdateWorkflow(
	ctx context.Context, wf *api.Workflow,
) error {
	return s.update(ctx, s.workflowKey(wf.ID), wf, ErrWorkflowNotFound)
}

func (s *RedisStore) DeleteWorkflow(
	ctx context.Context, id api.WorkflowID,
) error {
	return s.delete(ctx, s.workflowKey(id), s.workflowIndex(),
		string(id), ErrWorkflowNotFound)
}

func (s *RedisStore) ListWorkflows(
	ctx context.Context,
) ([]*api.Workflow, error) {
	ids, err := s.client.ZRevRange(ctx, s.workflowIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	flows := make([]*api.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, api.WorkflowID(id))
		if errors.Is(err, ErrWorkflowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		flows = append(flows, wf)
	}
	return flows, nil
}

func (s *RedisStore) CreateArtifact(
	ctx context.Context, a *api.DataArtifact,
) error {
	return s.create(ctx, s.artifactKey(a.ID), s.artifactIndex(),
		string(a.ID), float64(a.CreatedAt.UnixNano()), a, ErrArtifactExists)
}

func (s *RedisStore) GetArtifact(
	ctx context.Context, id api.ArtifactID,
) (*api.DataArtifact, error) {
	var a api.DataArtifact
	err := s.get(ctx, s.artifactKey(id), &a, ErrArtifactNotFound)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *RedisStore) DeleteArtifact(
	ctx context.Context, id api.ArtifactID,
) error {
	return s.delete(ctx, s.artifactKey(id), s.artifactIndex(),
		string(id), ErrArtifactNotFound)
}

func (s *RedisStore) ListArtifacts(
	ctx context.Context,
) ([]*api.DataArtifact, error) {
	ids, err := s.client.ZRevRange(ctx, s.artifactIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	artifacts := make([]*api.DataArtifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetArtifact(ctx, api.ArtifactID(id))
		if errors.Is(err, ErrArtifactNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (s *RedisStore) create(
	ctx context.Context, key, index, member string, score float64,
	record any, exists error,
) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", exists, member)
	}

	return s.client.ZAdd(ctx, index, redis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

func (s *RedisStore) get(
	ctx context.Context, key string, record any, notFound error,
) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, record)
}

func (s *RedisStore) update(
	ctx context.Context, key string, record any, notFound error,
) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	return nil
}

func (s *RedisStore) delete(
	ctx context.Context, key, index, member string, notFound error,
) error {
	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", notFound, member)
	}
	return s.client.ZRem(ctx, index, member).Err()
}

func (s *RedisStore) jobKey(id api.JobID) string {
	return s.prefix + ":job:" + string(id)
}

func (s *RedisStore) workflowKey(id api.WorkflowID) string {
	return s.prefix + ":workflow:" + string(id)
}

func (s *RedisStore) artifactKey(id api.ArtifactID) string {
	return s.prefix + ":artifact:" + string(id)
}

func (s *RedisStore) jobIndex() string {
	return s.prefix + ":jobs"
}

func (s *RedisStore) workflowIndex() string {
	return s.prefix + ":workflows"
}

func (s *RedisStore) artifactIndex() string {
	return s.prefix + ":artifacts"
}
