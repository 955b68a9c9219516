package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	codes []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, codes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, codes...)
}

func TestSweepOnce_TombstonesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	codec, err := zaplink.NewCodec(6)
	require.NoError(t, err)
	store := repo.NewMemoryStore(codec)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(p zaplink.Policy) zaplink.Link {
		l, err := store.Create(ctx, zaplink.NewLink{
			Name:        "doc",
			ArtifactRef: "file://x",
			FileName:    "x.pdf",
			Policy:      p,
			CreatedAt:   base,
		})
		require.NoError(t, err)
		return l
	}

	var expired []string
	for i := 0; i < 5; i++ {
		expired = append(expired, mk(zaplink.ExpiresAt(base.Add(time.Minute))).Code)
	}
	future := mk(zaplink.ExpiresAt(base.Add(time.Hour)))
	views := mk(zaplink.MaxViews(1))
	unlimited := mk(zaplink.Unlimited())

	inv := &recordingInvalidator{}
	s := New(store, inv, time.Minute, 2)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.ElementsMatch(t, expired, inv.codes)

	for _, code := range expired {
		l, err := store.Get(ctx, code)
		require.NoError(t, err)
		assert.True(t, l.Tombstoned())
	}
	for _, l := range []zaplink.Link{future, views, unlimited} {
		got, err := store.Get(ctx, l.Code)
		require.NoError(t, err)
		assert.False(t, got.Tombstoned(), l.Policy.String())
	}

	// 第二轮没有可扫的
	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	codec, err := zaplink.NewCodec(6)
	require.NoError(t, err)
	s := New(repo.NewMemoryStore(codec), nil, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
