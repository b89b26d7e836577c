package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cellstock/backend/internal/domain"
)

const (
	QueueDocuments = "jobs:documents"
	DLQDocuments   = "dlq:jobs:documents"
	renderLockTTL  = 30 * time.Second
)

var ErrQueueFull = errors.New("document queue is full")

type Renderer interface {
	Generate(ctx context.Context, job domain.DocumentJob) (string, error)
}

// LocalQueue runs document jobs on an in-process worker pool.
type LocalQueue struct {
	renderer Renderer
	workers  int
	jobs     chan domain.DocumentJob
}

func NewLocalQueue(renderer Renderer, workers int, buffer int) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 64
	}
	return &LocalQueue{renderer: renderer, workers: workers, jobs: make(chan domain.DocumentJob, buffer)}
}

func (q *LocalQueue) Enqueue(_ context.Context, job domain.DocumentJob) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run consumes jobs until ctx is cancelled.
func (q *LocalQueue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		id := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					log.Debug().Int("worker", id).Msg("document worker shutting down")
					return nil
				case job := <-q.jobs:
					process(gctx, q.renderer, job)
				}
			}
		})
	}
	log.Info().Int("workers", q.workers).Msg("document worker pool started")
	return g.Wait()
}

// RedisQueue pushes jobs onto a redis list that any replica may consume.
// A per-bill lock keeps two replicas from rendering the same bill at once.
type RedisQueue struct {
	rdb      *redis.Client
	locker   *redislock.Client
	renderer Renderer
	workers  int
}

func NewRedisQueue(rdb *redis.Client, renderer Renderer, workers int) *RedisQueue {
	if workers < 1 {
		workers = 1
	}
	return &RedisQueue{rdb: rdb, locker: redislock.New(rdb), renderer: renderer, workers: workers}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.DocumentJob) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, QueueDocuments, encoded).Err()
}

func (q *RedisQueue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		id := i
		g.Go(func() error {
			q.runWorker(gctx, id)
			return nil
		})
	}
	log.Info().Int("workers", q.workers).Msg("redis document worker pool started")
	return g.Wait()
}

func (q *RedisQueue) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("document worker shutting down")
			return
		default:
		}

		// BRPOP waits up to 5s and then loops to check ctx.
		result, err := q.rdb.BRPop(ctx, 5*time.Second, QueueDocuments).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn().Err(err).Int("worker", id).Msg("document queue pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job domain.DocumentJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error().Err(err).Str("queue", QueueDocuments).Msg("failed to unmarshal document job")
			continue
		}
		q.processLocked(ctx, job, result[1])
	}
}

func (q *RedisQueue) processLocked(ctx context.Context, job domain.DocumentJob, raw string) {
	lock, err := q.locker.Obtain(ctx, fmt.Sprintf("lock:document:%s", job.BillNumber), renderLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		log.Info().Str("bill_number", job.BillNumber).Msg("document already rendering elsewhere; skipping")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("bill_number", job.BillNumber).Msg("could not obtain document lock; rendering anyway")
	} else {
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	if !process(ctx, q.renderer, job) {
		if err := q.rdb.LPush(context.WithoutCancel(ctx), DLQDocuments, raw).Err(); err != nil {
			log.Error().Err(err).Str("bill_number", job.BillNumber).Msg("failed to push document job to dead letter queue")
		}
	}
}

func process(ctx context.Context, renderer Renderer, job domain.DocumentJob) bool {
	url, err := renderer.Generate(ctx, job)
	if err != nil {
		log.Error().Err(err).
			Str("job_id", job.ID).
			Str("bill_number", job.BillNumber).
			Str("kind", string(job.Kind)).
			Msg("document generation failed")
		return false
	}
	log.Info().
		Str("job_id", job.ID).
		Str("bill_number", job.BillNumber).
		Str("pdf_url", url).
		Msg("document generated")
	return true
}
