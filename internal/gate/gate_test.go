package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingRun(started chan<- string, unblock <-chan struct{}) RunFunc {
	return func(ctx context.Context, req Request, release func()) {
		started <- req.RequesterID
		<-unblock
		release()
	}
}

func TestQueuePositionsReportedAtSubmission(t *testing.T) {
	g := New(Config{}, nil, nil)
	started := make(chan string, 4)
	unblock := make(chan struct{})
	ctx := context.Background()

	_, pos, err := g.Submit(ctx, Request{RequesterID: "a", SourceURL: "https://www.tiktok.com/@a/video/1"}, blockingRun(started, unblock))
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, "a", <-started)

	var positions []int
	for _, who := range []string{"b", "c"} {
		_, pos, err := g.Submit(ctx, Request{RequesterID: who}, blockingRun(started, unblock))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	assert.Equal(t, []int{1, 2}, positions)
	assert.Equal(t, 2, g.Len())

	close(unblock)
	assert.Equal(t, "b", <-started)
	assert.Equal(t, "c", <-started)
	require.NoError(t, g.Close(ctx))
}

func TestAdmissionIsFIFOAndExclusive(t *testing.T) {
	g := New(Config{SettleDelay: time.Millisecond}, nil, nil)
	var (
		active    atomic.Int32
		maxActive atomic.Int32
		mu        sync.Mutex
		order     []int
		done      sync.WaitGroup
	)
	gateOpen := make(chan struct{})

	run := func(n int) RunFunc {
		return func(ctx context.Context, req Request, release func()) {
			defer done.Done()
			if n == 0 {
				<-gateOpen
			}
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			release()
		}
	}

	const total = 8
	done.Add(total)
	for i := 0; i < total; i++ {
		_, _, err := g.Submit(context.Background(), Request{RequesterID: "u"}, run(i))
		require.NoError(t, err)
	}
	close(gateOpen)
	done.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestReleaseOnReturnWithoutExplicitRelease(t *testing.T) {
	g := New(Config{}, nil, nil)
	ran := make(chan string, 2)
	run := func(ctx context.Context, req Request, release func()) { ran <- req.RequesterID }

	_, _, err := g.Submit(context.Background(), Request{RequesterID: "a"}, run)
	require.NoError(t, err)
	_, _, err = g.Submit(context.Background(), Request{RequesterID: "b"}, run)
	require.NoError(t, err)

	assert.Equal(t, "a", <-ran)
	assert.Equal(t, "b", <-ran)
}

func TestAbandonDropsQueuedRequest(t *testing.T) {
	g := New(Config{}, nil, nil)
	started := make(chan string, 3)
	unblock := make(chan struct{})
	ctx := context.Background()

	_, _, err := g.Submit(ctx, Request{RequesterID: "a"}, blockingRun(started, unblock))
	require.NoError(t, err)
	<-started
	b, _, err := g.Submit(ctx, Request{RequesterID: "b"}, blockingRun(started, unblock))
	require.NoError(t, err)
	c, _, err := g.Submit(ctx, Request{RequesterID: "c"}, blockingRun(started, unblock))
	require.NoError(t, err)

	assert.Equal(t, 2, g.Position(c.ID))
	assert.True(t, g.Abandon(b.ID))
	assert.False(t, g.Abandon(b.ID))
	assert.Equal(t, 1, g.Position(c.ID))
	assert.Equal(t, -1, g.Position(b.ID))

	close(unblock)
	assert.Equal(t, "c", <-started)
	require.NoError(t, g.Close(ctx))
	assert.Empty(t, started)
}

func TestCancelledQueuedRequestIsSkipped(t *testing.T) {
	g := New(Config{}, nil, nil)
	started := make(chan string, 3)
	unblock := make(chan struct{})

	_, _, err := g.Submit(context.Background(), Request{RequesterID: "a"}, blockingRun(started, unblock))
	require.NoError(t, err)
	<-started

	cancelled, cancel := context.WithCancel(context.Background())
	_, _, err = g.Submit(cancelled, Request{RequesterID: "b"}, blockingRun(started, unblock))
	require.NoError(t, err)
	_, _, err = g.Submit(context.Background(), Request{RequesterID: "c"}, blockingRun(started, unblock))
	require.NoError(t, err)
	cancel()

	close(unblock)
	assert.Equal(t, "c", <-started)
}

func TestSnapshotAndClose(t *testing.T) {
	g := New(Config{}, nil, nil)
	started := make(chan string, 2)
	unblock := make(chan struct{})
	ctx := context.Background()

	a, _, err := g.Submit(ctx, Request{RequesterID: "a", SourceURL: "https://youtu.be/x"}, blockingRun(started, unblock))
	require.NoError(t, err)
	<-started
	_, _, err = g.Submit(ctx, Request{RequesterID: "b"}, blockingRun(started, unblock))
	require.NoError(t, err)

	snap := g.Snapshot()
	require.NotNil(t, snap.Active)
	assert.Equal(t, a.ID, snap.Active.ID)
	assert.Equal(t, "youtube", string(snap.Active.Platform))
	require.Len(t, snap.Queued, 1)
	assert.Equal(t, "b", snap.Queued[0].RequesterID)

	closeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Close(closeCtx), context.DeadlineExceeded)

	_, _, err = g.Submit(ctx, Request{RequesterID: "late"}, blockingRun(started, unblock))
	assert.ErrorIs(t, err, ErrClosed)

	close(unblock)
	require.NoError(t, g.Close(ctx))
	assert.Empty(t, started)
}
