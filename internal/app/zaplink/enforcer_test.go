package zaplink_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Collect(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Close() {}

func (r *recorder) outcomes() []audit.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Outcome, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Outcome)
	}
	return out
}

func setup(t *testing.T) (*repo.MemoryStore, *zaplink.Enforcer, *recorder) {
	t.Helper()
	codec, err := zaplink.NewCodec(6)
	require.NoError(t, err)
	store := repo.NewMemoryStore(codec)
	rec := &recorder{}
	return store, zaplink.NewEnforcer(store, rec), rec
}

func create(t *testing.T, s zaplink.Store, p zaplink.Policy, password string) zaplink.Link {
	t.Helper()
	nl := zaplink.NewLink{Name: "doc", ArtifactRef: "file://doc.pdf", FileName: "doc.pdf", Policy: p, CreatedAt: base}
	if password != "" {
		hash, err := zaplink.HashPassword(password, 4)
		require.NoError(t, err)
		nl.PasswordHash = hash
	}
	l, err := s.Create(context.Background(), nl)
	require.NoError(t, err)
	return l
}

func pw(s string) *string { return &s }

func TestTryAccess_MaxViews(t *testing.T) {
	ctx := context.Background()
	store, e, rec := setup(t)
	l := create(t, store, zaplink.MaxViews(2), "")

	got, err := e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base})
	require.NoError(t, err)
	assert.Equal(t, l.ArtifactRef, got.ArtifactRef)
	assert.EqualValues(t, 1, got.ViewCount)

	got, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ViewCount)
	assert.True(t, got.Tombstoned(), "last view tombstones the link")

	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base})
	assert.ErrorIs(t, err, zaplink.ErrExpired)

	stored, err := store.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.ViewCount, "denied access does not count")

	assert.Equal(t, []audit.Outcome{audit.OutcomeGranted, audit.OutcomeGranted, audit.OutcomeExpired}, rec.outcomes())
	assert.EqualValues(t, 2, rec.events[1].ViewCount)
}

func TestTryAccess_ExpiresAt(t *testing.T) {
	ctx := context.Background()
	store, e, _ := setup(t)
	l := create(t, store, zaplink.ExpiresAt(base.Add(time.Hour)), "")

	for i := 0; i < 3; i++ {
		_, err := e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base.Add(59 * time.Minute)})
		require.NoError(t, err)
	}
	_, err := e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base.Add(time.Hour)})
	assert.ErrorIs(t, err, zaplink.ErrExpired)

	stored, err := store.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.True(t, stored.Tombstoned())
	assert.EqualValues(t, 3, stored.ViewCount)
}

func TestTryAccess_DenialOrder(t *testing.T) {
	ctx := context.Background()
	store, e, rec := setup(t)
	l := create(t, store, zaplink.MaxViews(1), "s3cret")

	_, err := e.TryAccess(ctx, zaplink.AccessRequest{Code: "zzzzzz", Now: base})
	assert.ErrorIs(t, err, zaplink.ErrNotFound)
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: "../etc", Now: base})
	assert.ErrorIs(t, err, zaplink.ErrNotFound)

	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base})
	assert.ErrorIs(t, err, zaplink.ErrPasswordRequired)
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Password: pw(""), Now: base})
	assert.ErrorIs(t, err, zaplink.ErrPasswordRequired)
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Password: pw("wrong"), Now: base})
	assert.ErrorIs(t, err, zaplink.ErrPasswordMismatch)

	// 密码错误不消耗次数
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Password: pw("s3cret"), Now: base})
	require.NoError(t, err)

	// 耗尽之后，错误密码仍然先报密码错误
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Password: pw("wrong"), Now: base})
	assert.ErrorIs(t, err, zaplink.ErrPasswordMismatch)
	_, err = e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Password: pw("s3cret"), Now: base})
	assert.ErrorIs(t, err, zaplink.ErrExpired)

	assert.Equal(t, []audit.Outcome{
		audit.OutcomeNotFound, audit.OutcomeNotFound,
		audit.OutcomePasswordRequired, audit.OutcomePasswordRequired, audit.OutcomePasswordMismatch,
		audit.OutcomeGranted,
		audit.OutcomePasswordMismatch, audit.OutcomeExpired,
	}, rec.outcomes())
}

func TestTryAccess_ConcurrentLastView(t *testing.T) {
	ctx := context.Background()
	store, e, _ := setup(t)
	l := create(t, store, zaplink.MaxViews(3), "")

	var granted, expired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, zaplink.ErrExpired):
				expired.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, granted.Load())
	assert.EqualValues(t, 47, expired.Load())
}

type failingStore struct {
	zaplink.Store
	err error
}

func (f failingStore) Get(context.Context, string) (zaplink.Link, error) {
	return zaplink.Link{}, f.err
}

func TestTryAccess_StoreErrorIsNotADenial(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	boom := errors.New("connection reset")
	rec := &recorder{}
	e := zaplink.NewEnforcer(failingStore{err: boom}, rec)

	_, err := e.TryAccess(context.Background(), zaplink.AccessRequest{Code: "abc123", Now: base})
	require.ErrorIs(t, err, boom)
	for _, denial := range []error{zaplink.ErrNotFound, zaplink.ErrExpired, zaplink.ErrPasswordRequired, zaplink.ErrPasswordMismatch} {
		assert.NotErrorIs(t, err, denial)
	}
	assert.Equal(t, []audit.Outcome{audit.OutcomeError}, rec.outcomes())

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "zaplink.TryAccess", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
