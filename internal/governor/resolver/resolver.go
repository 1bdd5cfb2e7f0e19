package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/profilegov/internal/governor/queue"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/pkg/utils"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// ActionVolatile is the queue action kind of a lightweight fetch.
	ActionVolatile = "profile.volatile"
	// ActionFull is the queue action kind of a full fetch.
	ActionFull = "profile.full"

	// DefaultStalenessThreshold is the age at which a snapshot's stable fields are refetched.
	DefaultStalenessThreshold = 7 * 24 * time.Hour
	// DefaultBatchConcurrency bounds concurrent resolutions in ResolveMany.
	DefaultBatchConcurrency = 4
)

var (
	// ErrInvalidIdentity is returned when the input holds no usable handle.
	ErrInvalidIdentity = utils.ErrInvalidIdentity

	errEmptyResult = errors.New("profile service returned no data")
)

// FetchError reports a failed full fetch. The cache is left untouched.
type FetchError struct {
	Identity string
	Reason   string // Message of the profile-data service
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not fetch profile %q: %s", e.Identity, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Submitter is the part of the request queue the resolver needs.
type Submitter interface {
	Submit(ctx context.Context, subjectKey, actionKind string, execute queue.Func) (any, error)
}

// Config holds the freshness policy of a Resolver.
type Config struct {
	StalenessThreshold time.Duration // Snapshots at least this old are refetched
	Coalesce           bool          // Share one network call between concurrent identical resolutions
	BatchConcurrency   int           // Concurrent resolutions in ResolveMany
}

// DefaultConfig returns the freshness policy used by the dashboard.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: DefaultStalenessThreshold,
		BatchConcurrency:   DefaultBatchConcurrency,
	}
}

// Result is the outcome of a resolution.
type Result struct {
	Profile         *types.Profile
	ServedFromCache bool // Stable fields came from a fresh snapshot
}

// BatchResult is the outcome of one identity in ResolveMany.
type BatchResult struct {
	Input    string
	Identity string
	Result   *Result
	Err      error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver decides per request whether a stored snapshot can be reused,
// and routes every network call through the request queue.
type Resolver struct {
	queue   Submitter
	fetcher types.Fetcher
	store   types.SnapshotStore
	config  Config
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	group   singleflight.Group
}

// New creates a Resolver.
func New(
	q Submitter, fetcher types.Fetcher, store types.SnapshotStore, config Config, logger *zap.Logger, opts ...Option,
) *Resolver {
	if config.StalenessThreshold <= 0 {
		config.StalenessThreshold = DefaultStalenessThreshold
	}

	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = DefaultBatchConcurrency
	}

	r := &Resolver{
		queue:   q,
		fetcher: fetcher,
		store:   store,
		config:  config,
		logger:  logger.Named("resolver"),
		tracer:  otel.Tracer("github.com/robalyx/profilegov/internal/governor/resolver"),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the profile for a handle or profile URL.
// A fresh snapshot is reused and only the volatile fields are fetched.
// A missing or stale snapshot, or forceRefresh, triggers a full fetch that overwrites the snapshot.
func (r *Resolver) Resolve(ctx context.Context, input string, forceRefresh bool) (*Result, error) {
	identity, err := utils.ExtractIdentity(input)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "resolver.resolve", trace.WithAttributes(
		attribute.String("profile.identity", identity),
		attribute.Bool("resolver.force_refresh", forceRefresh),
	))
	defer span.End()

	if !forceRefresh {
		if snapshot := r.lookup(ctx, identity); snapshot != nil {
			age := snapshot.Age(r.now())
			if age < r.config.StalenessThreshold {
				span.SetAttributes(attribute.Bool("resolver.served_from_cache", true))

				result, err := r.resolveFromSnapshot(ctx, snapshot)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return nil, err
				}

				return result, nil
			}

			r.logger.Debug("Snapshot is stale, running full fetch",
				zap.String("identity", identity),
				zap.Duration("age", age),
				zap.Duration("threshold", r.config.StalenessThreshold))
		}
	}

	result, err := r.resolveFull(ctx, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(attribute.Bool("resolver.served_from_cache", false))

	return result, nil
}

// ResolveMany resolves several identities concurrently.
// Inputs that normalize to the same identity are resolved once.
// Results keep the order in which each identity first appeared.
func (r *Resolver) ResolveMany(ctx context.Context, inputs []string, forceRefresh bool) []*BatchResult {
	var (
		results = make([]*BatchResult, 0, len(inputs))
		seen    = make(map[string]struct{}, len(inputs))
		p       = pool.New().WithMaxGoroutines(r.config.BatchConcurrency)
	)

	for _, input := range inputs {
		identity := utils.NormalizeIdentity(input)
		if identity == "" {
			results = append(results, &BatchResult{Input: input, Err: ErrInvalidIdentity})
			continue
		}

		if _, ok := seen[identity]; ok {
			continue
		}
		seen[identity] = struct{}{}

		entry := &BatchResult{Input: input, Identity: identity}
		results = append(results, entry)

		p.Go(func() {
			entry.Result, entry.Err = r.Resolve(ctx, identity, forceRefresh)
		})
	}

	p.Wait()

	return results
}

// lookup reads the snapshot. Store failures count as a miss.
func (r *Resolver) lookup(ctx context.Context, identity string) *types.Snapshot {
	snapshot, ok, err := r.store.GetSnapshot(ctx, identity)
	if err != nil {
		r.logger.Warn("Failed to read snapshot, treating as miss",
			zap.String("identity", identity),
			zap.Error(err))

		return nil
	}

	if !ok || snapshot == nil {
		return nil
	}

	return snapshot
}

// resolveFromSnapshot overlays freshly fetched volatile fields onto a fresh snapshot.
// If the lightweight fetch fails the stable fields are still served,
// unless the caller itself gave up.
func (r *Resolver) resolveFromSnapshot(ctx context.Context, snapshot *types.Snapshot) (*Result, error) {
	fetched, err := r.fetch(ctx, snapshot.Identity, ActionVolatile)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		r.logger.Warn("Lightweight fetch failed, serving snapshot without volatile fields",
			zap.String("identity", snapshot.Identity),
			zap.Error(err))

		fetched = nil
	}

	return &Result{
		Profile:         buildProfile(snapshot.Identity, snapshot.Stable, fetched, snapshot.LastFullSyncAt),
		ServedFromCache: true,
	}, nil
}

// resolveFull fetches the whole profile and overwrites the snapshot.
func (r *Resolver) resolveFull(ctx context.Context, identity string) (*Result, error) {
	fetched, err := r.fetch(ctx, identity, ActionFull)
	if err != nil {
		return nil, &FetchError{Identity: identity, Reason: err.Error(), Err: err}
	}

	syncedAt := r.now()
	snapshot := &types.Snapshot{
		Identity:       identity,
		Stable:         fetched.Stable,
		LastFullSyncAt: syncedAt,
	}

	if err := r.store.PutSnapshot(ctx, snapshot); err != nil {
		r.logger.Error("Failed to write snapshot",
			zap.String("identity", identity),
			zap.Error(err))
	}

	r.logger.Debug("Full fetch completed",
		zap.String("identity", identity),
		zap.Int64("followers", fetched.Stable.Followers),
		zap.Int("recentPosts", len(fetched.RecentPosts)))

	return &Result{
		Profile:         buildProfile(identity, fetched.Stable, fetched, syncedAt),
		ServedFromCache: false,
	}, nil
}

// fetch runs one network call through the queue, sharing it with identical
// in-flight calls when coalescing is enabled.
func (r *Resolver) fetch(ctx context.Context, identity, actionKind string) (*types.FetchResult, error) {
	if !r.config.Coalesce {
		return r.submit(ctx, identity, actionKind)
	}

	// The shared call must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(actionKind+":"+identity, func() (any, error) {
		return r.submit(shared, identity, actionKind)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*types.FetchResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) submit(ctx context.Context, identity, actionKind string) (*types.FetchResult, error) {
	opts := types.FetchOptions{OnlyVolatile: actionKind == ActionVolatile}

	result, err := r.queue.Submit(ctx, identity, actionKind, func(ctx context.Context) (any, error) {
		return r.fetcher.FetchProfile(ctx, identity, opts)
	})
	if err != nil {
		return nil, err
	}

	fetched, ok := result.(*types.FetchResult)
	if !ok || fetched == nil {
		return nil, errEmptyResult
	}

	return fetched, nil
}

// buildProfile combines stable fields with the volatile fields of a fetch.
// A nil fetch yields empty volatile fields.
func buildProfile(
	identity string, stable types.StableFields, fetched *types.FetchResult, syncedAt time.Time,
) *types.Profile {
	profile := &types.Profile{
		Identity:       identity,
		StableFields:   stable,
		LastFullSyncAt: syncedAt,
		VolatileFields: types.VolatileFields{
			RecentPosts: []types.Post{},
		},
	}

	if fetched == nil {
		return profile
	}

	if fetched.RecentPosts != nil {
		profile.RecentPosts = fetched.RecentPosts
	}

	profile.AvgLikes = fetched.AvgLikes
	profile.AvgComments = fetched.AvgComments

	if fetched.EngagementRate != nil {
		profile.EngagementRate = *fetched.EngagementRate
	} else {
		profile.EngagementRate = types.EngagementRate(fetched.AvgLikes, stable.Followers)
	}

	return profile
}
