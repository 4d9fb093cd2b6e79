package emote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tag   Tag
	table Table
	gate  chan struct{}

	mu        sync.Mutex
	fetches   int
	refreshes int
	forgotten []string
}

func (f *fakeProvider) Tag() Tag                   { return f.tag }
func (f *fakeProvider) Initialize(context.Context) {}

func (f *fakeProvider) GetEmotes(ctx context.Context, _ string) Table {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.table
}

func (f *fakeProvider) Refresh(ctx context.Context, id string) Table {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.table
}

func (f *fakeProvider) Forget(id string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

func (f *fakeProvider) ParseMessage(text, _ string) []Match {
	return scan(text, f.tag, nil, f.table)
}

func (f *fakeProvider) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.refreshes
}

func newTestCache(clock clockwork.Clock, providers ...Provider) *Cache {
	c := NewCache(CacheConfig{TTL: 30 * time.Minute, FetchTimeout: time.Second, Clock: clock})
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

func TestCacheHitWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bttv := &fakeProvider{tag: TagBTTV, table: Table{"catJAM": {ID: "1", Code: "catJAM"}}}
	ffz := &fakeProvider{tag: TagFFZ, table: Table{}}
	c := newTestCache(clock, bttv, ffz)
	ctx := context.Background()

	first, err := c.ChannelEmotes(ctx, "123")
	require.NoError(t, err)
	clock.Advance(29 * time.Minute)
	second, err := c.ChannelEmotes(ctx, "123")
	require.NoError(t, err)

	assert.Same(t, first, second)
	for _, p := range []*fakeProvider{bttv, ffz} {
		fetches, refreshes := p.counts()
		assert.Equal(t, 1, fetches+refreshes, string(p.tag))
	}
	assert.Len(t, first.Emotes[TagBTTV], 1)
	assert.NotNil(t, first.Emotes[TagFFZ])
}

func TestCacheRefreshAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bttv := &fakeProvider{tag: TagBTTV, table: Table{}}
	c := newTestCache(clock, bttv)
	ctx := context.Background()

	first, err := c.ChannelEmotes(ctx, "123")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	second, err := c.ChannelEmotes(ctx, "123")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	fetches, refreshes := bttv.counts()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, clock.Now(), second.CreatedAt)
}

func TestCacheSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	bttv := &fakeProvider{tag: TagBTTV, table: Table{"Kappa": {ID: "k", Code: "Kappa"}}, gate: gate}
	c := newTestCache(clockwork.NewFakeClock(), bttv)

	var wg sync.WaitGroup
	results := make([]map[Tag][]Match, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.ParseMessage(context.Background(), "Kappa", "123")
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	require.Eventually(t, func() bool {
		fetches, _ := bttv.counts()
		return fetches == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	fetches, refreshes := bttv.counts()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 0, refreshes)
	for _, res := range results {
		require.Len(t, res[TagBTTV], 1)
		assert.Equal(t, "k", res[TagBTTV][0].Emote.ID)
	}
}

func TestCacheCallerTimeoutDoesNotCancelRefresh(t *testing.T) {
	gate := make(chan struct{})
	bttv := &fakeProvider{tag: TagBTTV, table: Table{}, gate: gate}
	c := newTestCache(clockwork.NewFakeClock(), bttv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ChannelEmotes(ctx, "123")
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		return c.Stats().TotalChannels == 1
	}, time.Second, time.Millisecond)
}

func TestCacheInvalidate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bttv := &fakeProvider{tag: TagBTTV, table: Table{}}
	c := newTestCache(clock, bttv)
	ctx := context.Background()

	_, _ = c.ChannelEmotes(ctx, "a")
	_, _ = c.ChannelEmotes(ctx, "b")
	require.Equal(t, 2, c.Stats().TotalChannels)

	c.Invalidate("a")
	assert.Equal(t, 1, c.Stats().TotalChannels)
	assert.Equal(t, []string{"a"}, bttv.forgotten)

	c.Invalidate("")
	assert.Equal(t, 0, c.Stats().TotalChannels)
	assert.ElementsMatch(t, []string{"a", "b"}, bttv.forgotten)

	_, _ = c.ChannelEmotes(ctx, "a")
	fetches, refreshes := bttv.counts()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 1, refreshes, "lookups after invalidation bypass provider memos")
}

func TestCacheInvalidateDuringRefresh(t *testing.T) {
	gate := make(chan struct{})
	bttv := &fakeProvider{tag: TagBTTV, table: Table{"old": {ID: "o", Code: "old"}}, gate: gate}
	c := newTestCache(clockwork.NewFakeClock(), bttv)

	done := make(chan *Entry, 1)
	go func() {
		e, err := c.ChannelEmotes(context.Background(), "123")
		assert.NoError(t, err)
		done <- e
	}()
	require.Eventually(t, func() bool {
		fetches, _ := bttv.counts()
		return fetches == 1
	}, time.Second, time.Millisecond)

	c.Invalidate("123")
	close(gate)
	select {
	case e := <-done:
		require.NotNil(t, e)
		assert.Contains(t, e.Emotes[TagBTTV], "old", "the waiting caller still gets its result")
	case <-time.After(time.Second):
		t.Fatal("lookup did not return")
	}
	assert.Equal(t, 0, c.Stats().TotalChannels, "superseded refresh must not be installed")

	_, err := c.ChannelEmotes(context.Background(), "123")
	require.NoError(t, err)
	fetches, refreshes := bttv.counts()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, c.Stats().TotalChannels)
}

func TestCacheLookupAfterInvalidateStartsNewFlight(t *testing.T) {
	gate := make(chan struct{})
	bttv := &fakeProvider{tag: TagBTTV, table: Table{}, gate: gate}
	c := newTestCache(clockwork.NewFakeClock(), bttv)

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = c.ChannelEmotes(context.Background(), "123")
	}()
	require.Eventually(t, func() bool {
		fetches, _ := bttv.counts()
		return fetches == 1
	}, time.Second, time.Millisecond)

	c.Invalidate("123")
	// Refresh is not gated, so this returns while the first flight is
	// still blocked. Joining the old flight would hang here.
	e, err := c.ChannelEmotes(context.Background(), "123")
	require.NoError(t, err)
	require.NotNil(t, e)
	_, refreshes := bttv.counts()
	assert.Equal(t, 1, refreshes)

	close(gate)
	<-first
	assert.Equal(t, 1, c.Stats().TotalChannels)
}

func TestCacheStats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bttv := &fakeProvider{tag: TagBTTV, table: Table{"a": {}, "b": {}}}
	sevenTV := &fakeProvider{tag: TagSevenTV, table: nil}
	c := newTestCache(clock, bttv, sevenTV)

	_, err := c.ChannelEmotes(context.Background(), "chan")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	s := c.Stats()
	require.Len(t, s.Channels, 1)
	assert.Equal(t, "chan", s.Channels[0].ChannelID)
	assert.Equal(t, int64(5000), s.Channels[0].AgeMs)
	assert.Equal(t, map[string]int{"bttv": 2, "7tv": 0}, s.Channels[0].Counts)
}
