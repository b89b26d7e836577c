package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"cellstock/backend/internal/cache"
	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
	"cellstock/backend/internal/xid"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// DocumentQueue accepts render jobs for committed bills.
type DocumentQueue interface {
	Enqueue(ctx context.Context, job domain.DocumentJob) error
}

type Options struct {
	Cache     cache.ProductCache
	CacheTTL  time.Duration
	Documents DocumentQueue
	Location  *time.Location
	Now       func() time.Time
}

type Service struct {
	repo      store.Repository
	cache     cache.ProductCache
	cacheTTL  time.Duration
	documents DocumentQueue
	loc       *time.Location
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	svc := &Service{
		repo:      repo,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		documents: opts.Documents,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if svc.cache == nil {
		svc.cache = cache.NoopProductCache{}
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = 5 * time.Minute
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

func (s *Service) today() string {
	return domain.DayKey(s.now(), s.loc)
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: requires role %v", domain.ErrForbidden, roles)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, RoleAdmin)
}

func requireOperator(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, RoleAdmin, RoleStaff)
}

// storageErr leaves expected error kinds untouched and marks anything else
// as a storage failure.
func storageErr(err error) error {
	if err == nil || domain.IsKnown(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

func (s *Service) audit(ctx context.Context, action string, entity string, entityID string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Info().
		Str("actor", actor.Username).
		Str("role", actor.Role).
		Str("action", action).
		Str("entity", entity).
		Str("entity_id", entityID).
		Msg("audit")
}

// dispatchDocument queues the PDF for a committed bill. Failures are logged
// and never reach the caller.
func (s *Service) dispatchDocument(ctx context.Context, bill domain.Bill) {
	if s.documents == nil {
		return
	}
	actor, _ := ActorFromContext(ctx)
	job := domain.DocumentJob{
		ID:         xid.New("doc"),
		BillNumber: bill.BillNumber,
		Kind:       bill.Kind,
		Items:      bill.Items,
		Requester:  actor.Username,
		CreatedAt:  s.now(),
	}
	if err := s.documents.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		log.Warn().Err(err).Str("bill_number", bill.BillNumber).Msg("failed to queue bill document")
	}
}
