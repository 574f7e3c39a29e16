package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mesh-intelligence/speech/internal/sqlite"
	"github.com/mesh-intelligence/speech/pkg/types"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, uri string) (*types.FetchResult, error)
}

func (p *fakeProvider) FetchClaim(ctx context.Context, uri string) (*types.FetchResult, error) {
	p.mu.Lock()
	p.calls++
	fetch := p.fetch
	p.mu.Unlock()
	if fetch != nil {
		return fetch(ctx, uri)
	}
	name, claimID, _ := strings.Cut(uri, "#")
	r := &types.FetchResult{
		Name:         name,
		ClaimID:      claimID,
		Outpoint:     claimID + ":0",
		FileName:     name + ".gif",
		DownloadPath: "/downloads/" + name + "-" + claimID + ".gif",
		MimeType:     "image/gif",
	}
	return r, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// setupStore returns an attached SQLite store holding claims.
func setupStore(t *testing.T, claims ...types.Claim) *sqlite.Backend {
	t.Helper()
	b := sqlite.NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	if len(claims) > 0 {
		var sb strings.Builder
		for _, c := range claims {
			line, err := json.Marshal(c)
			require.NoError(t, err)
			sb.Write(line)
			sb.WriteByte('\n')
		}
		path := filepath.Join(t.TempDir(), "claims.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
		n, err := b.ImportClaims(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, len(claims), n)
	}
	return b
}

var catClaims = []types.Claim{
	{Name: "cat", ClaimID: "aaaa1111", Height: 100, Amount: 1, Address: "bAddrA"},
	{Name: "cat", ClaimID: "aaaa2222", Height: 200, Amount: 3, Address: "bAddrB"},
	{Name: "cat", ClaimID: "b9", Height: 150, Amount: 3},
}

func TestResolveByClaimIDFetchesOnce(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, catClaims...)
	provider := &fakeProvider{}
	reg := prometheus.NewRegistry()
	r := New(store, provider, WithRegisterer(reg))

	first, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "cat", first.Name)
	assert.Equal(t, "aaaa1111", first.ClaimID)
	assert.Equal(t, "aaaa1111:0", first.Outpoint)
	assert.Equal(t, "/downloads/cat-aaaa1111.gif", first.FilePath)
	assert.Equal(t, "image/gif", first.FileType)
	assert.Equal(t, "bAddrA", first.Address)
	assert.Equal(t, int64(100), first.Height)

	second, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.inserts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cacheMisses))

	recs, err := store.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResolveByClaimIDNotFound(t *testing.T) {
	store := setupStore(t, catClaims...)
	provider := &fakeProvider{}
	r := New(store, provider)

	rec, err := r.ResolveByClaimID(context.Background(), "cat", "ffff")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.False(t, types.IsRetryable(err))
	assert.Zero(t, provider.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.errors.WithLabelValues(kindNotFound)))
}

func TestResolveByClaimIDRejectsEmptyKey(t *testing.T) {
	r := New(setupStore(t), &fakeProvider{})

	_, err := r.ResolveByClaimID(context.Background(), "", "aaaa")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	_, err = r.ResolveByClaimID(context.Background(), "cat", "")
	assert.ErrorIs(t, err, types.ErrInvalidClaimID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolveByClaimIDRejectsSeparatorInKey(t *testing.T) {
	provider := &fakeProvider{}
	r := New(setupStore(t), provider)

	_, err := r.ResolveByClaimID(context.Background(), "a#b", "c")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	_, err = r.ResolveByClaimID(context.Background(), "a", "b#c")
	assert.ErrorIs(t, err, types.ErrInvalidClaimID)
	assert.Zero(t, provider.Calls())
}

func TestResolveByClaimIDProviderFailure(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, catClaims...)
	provider := &fakeProvider{fetch: func(context.Context, string) (*types.FetchResult, error) {
		return nil, types.ErrProvider
	}}
	r := New(store, provider)

	rec, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.True(t, types.IsRetryable(err))

	_, ok, err := store.FindCachedAsset(ctx, "cat", "aaaa1111")
	require.NoError(t, err)
	assert.False(t, ok, "nothing is cached when the fetch fails")
}

func TestResolveByClaimIDNilFetchResult(t *testing.T) {
	store := setupStore(t, catClaims...)
	provider := &fakeProvider{fetch: func(context.Context, string) (*types.FetchResult, error) {
		return nil, nil
	}}
	_, err := New(store, provider).ResolveByClaimID(context.Background(), "cat", "aaaa1111")
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestResolveByClaimIDTimeoutIsRetryable(t *testing.T) {
	store := setupStore(t, catClaims...)
	fetched := make(chan struct{})
	provider := &fakeProvider{fetch: func(ctx context.Context, _ string) (*types.FetchResult, error) {
		defer close(fetched)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := New(store, provider, WithFlightTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.NotErrorIs(t, err, types.ErrNotFound)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.errors.WithLabelValues(kindTimeout)))
	<-fetched
}

func TestResolveByClaimIDFlightTimeoutIsRetryable(t *testing.T) {
	store := setupStore(t, catClaims...)
	provider := &fakeProvider{fetch: func(ctx context.Context, _ string) (*types.FetchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := New(store, provider, WithFlightTimeout(20*time.Millisecond))

	_, err := r.ResolveByClaimID(context.Background(), "cat", "aaaa1111")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.True(t, types.IsRetryable(err))

	recs, err := store.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// blockingProvider returns a provider whose fetch signals started and then
// waits for release.
func blockingProvider(started, release chan struct{}) *fakeProvider {
	var once sync.Once
	p := &fakeProvider{}
	p.fetch = func(ctx context.Context, uri string) (*types.FetchResult, error) {
		once.Do(func() { close(started) })
		<-release
		return (&fakeProvider{}).FetchClaim(ctx, uri)
	}
	return p
}

type resolveResult struct {
	rec *types.AssetRecord
	err error
}

func resolveAsync(ctx context.Context, r *Resolver, name, claimID string) <-chan resolveResult {
	out := make(chan resolveResult, 1)
	go func() {
		rec, err := r.ResolveByClaimID(ctx, name, claimID)
		out <- resolveResult{rec: rec, err: err}
	}()
	return out
}

func TestResolveByClaimIDJoinerHonorsOwnDeadline(t *testing.T) {
	store := setupStore(t, catClaims...)
	started, release := make(chan struct{}), make(chan struct{})
	provider := blockingProvider(started, release)
	r := New(store, provider)

	leader := resolveAsync(context.Background(), r, "cat", "aaaa1111")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	elapsed := time.Since(begin)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.True(t, types.IsRetryable(err))
	assert.Less(t, elapsed, time.Second)

	close(release)
	res := <-leader
	require.NoError(t, res.err)
	assert.Equal(t, "aaaa1111", res.rec.ClaimID)
	assert.Equal(t, 1, provider.Calls())
}

func TestResolveByClaimIDLeaderCancelDoesNotFailJoiner(t *testing.T) {
	store := setupStore(t, catClaims...)
	started, release := make(chan struct{}), make(chan struct{})
	provider := blockingProvider(started, release)
	r := New(store, provider)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leader := resolveAsync(leaderCtx, r, "cat", "aaaa1111")
	<-started

	joiner := resolveAsync(context.Background(), r, "cat", "aaaa1111")
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	res := <-leader
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, context.Canceled)

	close(release)
	res = <-joiner
	require.NoError(t, res.err)
	assert.Equal(t, "/downloads/cat-aaaa1111.gif", res.rec.FilePath)
	assert.Equal(t, 1, provider.Calls())

	stored, err := store.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestResolveByClaimIDAbsorbsInsertConflict(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{
		Backend: setupStore(t, catClaims...),
		winner: &types.AssetRecord{
			Name: "cat", ClaimID: "aaaa1111", Outpoint: "aaaa1111:0",
			FileName: "cat.gif", FilePath: "/winner/cat.gif", FileType: "image/gif",
			Address: "bAddrA", Height: 100,
		},
	}
	r := New(store, &fakeProvider{})

	rec, err := r.ResolveByClaimID(ctx, "cat", "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "/winner/cat.gif", rec.FilePath, "the stored row is returned")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.insertConflicts))
	assert.Zero(t, testutil.ToFloat64(r.metrics.inserts))

	recs, err := store.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResolveByClaimIDConcurrent(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, catClaims...)
	release := make(chan struct{})
	provider := &fakeProvider{}
	provider.fetch = func(ctx context.Context, uri string) (*types.FetchResult, error) {
		<-release
		return (&fakeProvider{}).FetchClaim(ctx, uri)
	}
	r := New(store, provider)

	const callers = 8
	recs := make([]*types.AssetRecord, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs[i], errs[i] = r.ResolveByClaimID(ctx, "cat", "aaaa2222")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "/downloads/cat-aaaa2222.gif", recs[i].FilePath)
	}
	stored, err := store.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.inserts))
}

// integrityStore reports a duplicated claim row.
type integrityStore struct {
	*sqlite.Backend
}

func (integrityStore) ResolveClaim(context.Context, string, string) (*types.Claim, bool, error) {
	return nil, false, types.ErrIntegrity
}

func TestResolveByClaimIDIntegrityViolation(t *testing.T) {
	provider := &fakeProvider{}
	r := New(integrityStore{setupStore(t)}, provider)

	_, err := r.ResolveByClaimID(context.Background(), "cat", "aaaa1111")
	assert.ErrorIs(t, err, types.ErrIntegrity)
	assert.False(t, types.IsRetryable(err))
	assert.Zero(t, provider.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.errors.WithLabelValues(kindIntegrity)))
}

func TestResolveByName(t *testing.T) {
	ctx := context.Background()
	r := New(setupStore(t, catClaims...), &fakeProvider{})

	rec, err := r.ResolveByName(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, "b9", rec.ClaimID, "equal amounts go to the lower height")

	_, err = r.ResolveByName(ctx, "dog")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.ResolveByName(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidName)
}

func TestResolveByShortID(t *testing.T) {
	ctx := context.Background()
	r := New(setupStore(t, catClaims...), &fakeProvider{})

	tests := []struct {
		shortID string
		want    string
	}{
		{shortID: "aaaa", want: "aaaa1111"},
		{shortID: "aaaa2", want: "aaaa2222"},
		{shortID: "a", want: "aaaa1111"},
		{shortID: "b", want: "b9"},
	}
	for _, tt := range tests {
		t.Run(tt.shortID, func(t *testing.T) {
			rec, err := r.ResolveByShortID(ctx, "cat", tt.shortID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.ClaimID)
		})
	}

	_, err := r.ResolveByShortID(ctx, "cat", "z")
	assert.ErrorIs(t, err, types.ErrInvalidShortID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestShortIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, catClaims...)
	r := New(store, &fakeProvider{})

	want := map[string]string{"aaaa1111": "aaaa", "aaaa2222": "aaaa2", "b9": "b"}
	for claimID, short := range want {
		got, err := r.ShortIDForClaim(ctx, "cat", claimID)
		require.NoError(t, err)
		assert.Equal(t, short, got, claimID)

		full, err := store.FindClaimByShortPrefix(ctx, "cat", got)
		require.NoError(t, err)
		assert.Equal(t, claimID, full)
	}

	_, err := r.ShortIDForClaim(ctx, "cat", "ffff")
	assert.ErrorIs(t, err, types.ErrInvalidClaimID)
}

func TestShortIDSingleClaim(t *testing.T) {
	r := New(setupStore(t, types.Claim{Name: "dog", ClaimID: "bbbb", Height: 5}), &fakeProvider{})
	got, err := r.ShortIDForClaim(context.Background(), "dog", "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestListFreeClaims(t *testing.T) {
	ctx := context.Background()
	r := New(setupStore(t, catClaims...), &fakeProvider{})

	got, err := r.ListFreeClaims(ctx, "cat")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b9", got[0].ClaimID)
	assert.Equal(t, "b", got[0].ShortID)
	assert.Equal(t, "aaaa2222", got[1].ClaimID)
	assert.Equal(t, "aaaa2", got[1].ShortID)
	assert.Equal(t, "aaaa1111", got[2].ClaimID)
	assert.Equal(t, "aaaa", got[2].ShortID)

	none, err := r.ListFreeClaims(ctx, "dog")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestResolveByChannelTouchesNothing(t *testing.T) {
	// nil collaborators panic if called.
	r := New(nil, nil)

	rec, err := r.ResolveByChannel(context.Background(), "@cats", "cat")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, types.ErrUnsupported)
	assert.False(t, types.IsRetryable(err))
	assert.False(t, errors.Is(err, types.ErrNotFound))
}

func TestResolveSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	r := New(setupStore(t, catClaims...), &fakeProvider{}, WithTracerProvider(tp))
	_, err := r.ResolveByName(context.Background(), "cat")
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"provider.FetchClaim", "resolve.ByName"}, names)

	_, err = r.ResolveByClaimID(context.Background(), "cat", "ffff")
	require.Error(t, err)
	last := sr.Ended()[len(sr.Ended())-1]
	assert.Equal(t, "resolve.ByClaimID", last.Name())
}
