// Package resolve turns a name, and optionally a claim ID or short ID, into a
// materialized asset record. A cache hit is returned directly. On a miss the
// claim is checked against the claim index, fetched from the content
// provider, and written to the asset cache for later lookups.
//
// Concurrent first-time resolutions of the same (name, claim ID) in one
// process share a single fetch. The shared fetch runs detached from any one
// caller's cancellation and is bounded by the flight timeout. Each caller
// still stops waiting when its own context ends. Across processes the asset cache's unique
// key is the only backstop: an insert that reports AlreadyExists is followed
// by a fresh cache read and never surfaces to the caller.
package resolve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/speech/internal/shortid"
	"github.com/mesh-intelligence/speech/pkg/types"
)

const tracerName = "github.com/mesh-intelligence/speech/internal/resolve"

// Store is the part of a backend the resolver reads and writes.
type Store interface {
	types.ClaimIndex
	types.AssetCache
}

// Resolver runs asset resolutions. It is safe for concurrent use.
type Resolver struct {
	store    Store
	provider types.ContentProvider
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *resolveMetrics
	group    singleflight.Group

	flightTimeout time.Duration
}

// Option configures a Resolver.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	flight     time.Duration
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the resolver's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithFlightTimeout bounds a shared cache-miss resolution. Zero or less
// leaves it unbounded. The default is types.DefaultFetchTimeout.
func WithFlightTimeout(d time.Duration) Option {
	return func(o *options) { o.flight = d }
}

// New creates a Resolver over store and provider.
func New(store Store, provider types.ContentProvider, opts ...Option) *Resolver {
	o := options{tracer: otel.GetTracerProvider(), flight: types.DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		store:    store,
		provider: provider,
		logger:   o.logger.With("component", "resolve"),
		tracer:   o.tracer.Tracer(tracerName),
		metrics:  initResolveMetrics(o.registerer),

		flightTimeout: o.flight,
	}
}

// ClaimSummary is a claim together with its current short ID.
type ClaimSummary struct {
	types.Claim
	ShortID string `json:"shortId"`
}

// ResolveByClaimID returns the asset for name#claimID. A claim missing from
// the index yields an error wrapping types.ErrNotFound.
func (r *Resolver) ResolveByClaimID(ctx context.Context, name, claimID string) (*types.AssetRecord, error) {
	ctx, span := r.tracer.Start(ctx, "resolve.ByClaimID", trace.WithAttributes(
		attribute.String("speech.name", name),
		attribute.String("speech.claim_id", claimID),
	))
	defer span.End()

	rec, err := r.resolveByClaimID(ctx, name, claimID)
	return rec, r.finish(span, err)
}

// ResolveByShortID expands shortID to the earliest claim under name whose ID
// starts with it, then resolves that claim. An unknown short ID yields
// types.ErrInvalidShortID.
func (r *Resolver) ResolveByShortID(ctx context.Context, name, shortID string) (*types.AssetRecord, error) {
	ctx, span := r.tracer.Start(ctx, "resolve.ByShortID", trace.WithAttributes(
		attribute.String("speech.name", name),
		attribute.String("speech.short_id", shortID),
	))
	defer span.End()

	claimID, err := r.store.FindClaimByShortPrefix(ctx, name, shortID)
	if err != nil {
		return nil, r.finish(span, err)
	}
	span.SetAttributes(attribute.String("speech.claim_id", claimID))
	rec, err := r.resolveByClaimID(ctx, name, claimID)
	return rec, r.finish(span, err)
}

// ResolveByName resolves the winning claim for name: the highest amount,
// ties going to the lowest height.
func (r *Resolver) ResolveByName(ctx context.Context, name string) (*types.AssetRecord, error) {
	ctx, span := r.tracer.Start(ctx, "resolve.ByName", trace.WithAttributes(
		attribute.String("speech.name", name),
	))
	defer span.End()

	if name == "" {
		return nil, r.finish(span, types.ErrInvalidName)
	}
	top, ok, err := r.store.TopFreeClaim(ctx, name)
	if err != nil {
		return nil, r.finish(span, err)
	}
	if !ok {
		return nil, r.finish(span, fmt.Errorf("%w: no claims for %s", types.ErrNotFound, name))
	}
	span.SetAttributes(attribute.String("speech.claim_id", top.ClaimID))
	rec, err := r.resolveByClaimID(ctx, name, top.ClaimID)
	return rec, r.finish(span, err)
}

// ResolveByChannel always fails with types.ErrUnsupported and touches no
// collaborator.
func (r *Resolver) ResolveByChannel(_ context.Context, channel, name string) (*types.AssetRecord, error) {
	r.metrics.errors.WithLabelValues(kindUnsupported).Inc()
	r.logger.Debug("channel resolution requested", "channel", channel, "name", name)
	return nil, types.ErrUnsupported
}

// ShortIDForClaim computes the short ID of name#claimID against every other
// claim under name. An unknown claim yields types.ErrInvalidClaimID.
func (r *Resolver) ShortIDForClaim(ctx context.Context, name, claimID string) (string, error) {
	claim, ok, err := r.store.ResolveClaim(ctx, name, claimID)
	if err != nil {
		return "", r.logIntegrity(types.WrapTimeout(err))
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidClaimID, types.QualifiedName(name, claimID))
	}
	claims, err := r.store.ListClaimsByName(ctx, name)
	if err != nil {
		return "", types.WrapTimeout(err)
	}
	return shortid.Compute(claim.ClaimID, claim.Height, claims), nil
}

// ListFreeClaims returns the claims under name in winning order, each with
// its short ID. A name without claims yields an empty slice.
func (r *Resolver) ListFreeClaims(ctx context.Context, name string) ([]ClaimSummary, error) {
	claims, err := r.store.ListFreeClaims(ctx, name)
	if err != nil {
		return nil, types.WrapTimeout(err)
	}
	out := make([]ClaimSummary, 0, len(claims))
	for _, c := range claims {
		out = append(out, ClaimSummary{Claim: c, ShortID: shortid.Compute(c.ClaimID, c.Height, claims)})
	}
	return out, nil
}

func (r *Resolver) resolveByClaimID(ctx context.Context, name, claimID string) (*types.AssetRecord, error) {
	if err := types.ValidateKey(name, claimID); err != nil {
		return nil, err
	}

	rec, ok, err := r.store.FindCachedAsset(ctx, name, claimID)
	if err != nil {
		return nil, fmt.Errorf("checking asset cache: %w", err)
	}
	if ok {
		r.metrics.cacheHits.Inc()
		r.logger.Debug("asset cache hit", "name", name, "claim_id", claimID)
		return rec, nil
	}
	r.metrics.cacheMisses.Inc()
	r.logger.Debug("asset cache miss", "name", name, "claim_id", claimID)

	qualified := types.QualifiedName(name, claimID)
	ch := r.group.DoChan(qualified, func() (any, error) {
		fctx, cancel := r.flightContext(ctx)
		defer cancel()
		return r.materialize(fctx, name, claimID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", qualified, types.WrapTimeout(ctx.Err()))
	case res := <-ch:
		if res.Shared {
			r.metrics.sharedFetches.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*types.AssetRecord)
		return &out, nil
	}
}

// flightContext derives the context a shared resolution runs on. It keeps
// ctx's values, such as the active span, but not its cancellation.
func (r *Resolver) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.flightTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, r.flightTimeout)
}

// materialize runs the miss path: claim check, fetch, insert.
func (r *Resolver) materialize(ctx context.Context, name, claimID string) (*types.AssetRecord, error) {
	qualified := types.QualifiedName(name, claimID)

	claim, ok, err := r.store.ResolveClaim(ctx, name, claimID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no claim %s", types.ErrNotFound, qualified)
	}

	fetched, err := r.fetch(ctx, qualified)
	if err != nil {
		return nil, err
	}
	rec := types.NewAssetRecord(fetched, claim)

	res, err := r.store.InsertCachedAsset(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("caching asset %s: %w", qualified, err)
	}
	if res == types.Inserted {
		r.metrics.inserts.Inc()
		return rec, nil
	}

	r.metrics.insertConflicts.Inc()
	r.logger.Debug("asset inserted concurrently, re-reading cache", "name", name, "claim_id", claimID)
	stored, ok, err := r.store.FindCachedAsset(ctx, name, claimID)
	if err != nil {
		return nil, fmt.Errorf("re-reading asset cache: %w", err)
	}
	if ok {
		return stored, nil
	}
	return rec, nil
}

func (r *Resolver) fetch(ctx context.Context, qualified string) (*types.FetchResult, error) {
	ctx, span := r.tracer.Start(ctx, "provider.FetchClaim", trace.WithAttributes(
		attribute.String("speech.uri", qualified),
	))
	defer span.End()

	r.metrics.fetches.Inc()
	start := time.Now()
	fetched, err := r.provider.FetchClaim(ctx, qualified)
	r.metrics.fetchDuration.Observe(time.Since(start).Seconds())
	if err == nil && fetched == nil {
		err = fmt.Errorf("%w: empty result for %s", types.ErrProvider, qualified)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	r.logger.Debug("fetched claim", "uri", qualified, "duration", time.Since(start))
	return fetched, nil
}

// finish classifies err, records it on span and returns it with deadline
// errors tagged retryable.
func (r *Resolver) finish(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	err = r.logIntegrity(types.WrapTimeout(err))
	kind := errorKind(err)
	r.metrics.errors.WithLabelValues(kind).Inc()
	span.SetAttributes(attribute.String("speech.error_kind", kind))
	if kind != kindNotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	return err
}

func (r *Resolver) logIntegrity(err error) error {
	if errorKind(err) == kindIntegrity {
		r.logger.Error("claim index integrity violation", "error", err)
	}
	return err
}
