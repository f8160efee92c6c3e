package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docuchat/internal/docuchat/model"
)

type stubAnswerer struct {
	name   string
	chunks int
}

func (s *stubAnswerer) Answer(_ context.Context, _ string) (*model.QueryResult, error) {
	return &model.QueryResult{Answer: s.name}, nil
}

func (s *stubAnswerer) ChunkCount() int { return s.chunks }

func TestGetOrCreateIDStablePerHint(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	id1 := store.GetOrCreateID("client-a")
	id2 := store.GetOrCreateID("client-a")
	id3 := store.GetOrCreateID("client-b")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.NotEmpty(t, id1)
}

func TestPutGetTouch(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	sid := store.GetOrCreateID("client")
	store.Put(sid, &stubAnswerer{name: "v1"})

	sess, ok := store.Get(sid)
	require.True(t, ok)
	assert.Equal(t, sid, sess.ID)
	first := sess.LastUsedAt

	time.Sleep(5 * time.Millisecond)
	sess2, ok := store.Get(sid)
	require.True(t, ok)
	assert.True(t, sess2.LastUsedAt.After(first), "Get must touch LastUsedAt")
}

func TestGetUnknownSession(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	_, ok := store.Get("no-such-session")
	assert.False(t, ok)
}

func TestPutReplacesWholeSession(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	sid := store.GetOrCreateID("client")
	store.Put(sid, &stubAnswerer{name: "old", chunks: 1})
	store.Put(sid, &stubAnswerer{name: "new", chunks: 9})

	sess, ok := store.Get(sid)
	require.True(t, ok)
	result, err := sess.Answerer.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "new", result.Answer)
	assert.Equal(t, 9, sess.Answerer.ChunkCount())
	assert.Equal(t, 1, store.Len())
}

func TestSweepRemovesExpired(t *testing.T) {
	store := NewStore(50 * time.Millisecond)
	defer store.Stop()

	expired := store.GetOrCreateID("stale-client")
	store.Put(expired, &stubAnswerer{name: "stale"})

	fresh := store.GetOrCreateID("fresh-client")
	store.Put(fresh, &stubAnswerer{name: "fresh"})

	time.Sleep(80 * time.Millisecond)
	// 在清理判定前刷新 fresh 的活跃时间
	_, ok := store.Get(fresh)
	require.True(t, ok)

	removed := store.Sweep()
	assert.Equal(t, 1, removed)

	_, ok = store.Get(expired)
	assert.False(t, ok, "expired session must be removed")
	_, ok = store.Get(fresh)
	assert.True(t, ok, "recently touched session must be retained")

	// 过期会话清理后，同一 hint 重新获得新的 id
	reissued := store.GetOrCreateID("stale-client")
	assert.NotEqual(t, expired, reissued)
}

func TestSweepReclaimsUnboundIDMappings(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	// 只查询过、从未上传文档的客户端：拿到 id 但没有会话记录
	staleID := store.GetOrCreateID("query-only-client")
	boundID := store.GetOrCreateID("uploading-client")
	store.Put(boundID, &stubAnswerer{})

	store.mu.Lock()
	rec := store.ids["query-only-client"]
	rec.issuedAt = time.Now().Add(-2 * time.Hour)
	store.ids["query-only-client"] = rec
	store.mu.Unlock()

	// 没有任何会话过期，但悬空映射必须被回收
	assert.Equal(t, 0, store.Sweep())

	store.mu.Lock()
	_, staleKept := store.ids["query-only-client"]
	_, boundKept := store.ids["uploading-client"]
	mappings := len(store.ids)
	store.mu.Unlock()

	assert.False(t, staleKept, "unbound mapping past ttl must be reclaimed")
	assert.True(t, boundKept, "mapping with a live session must survive")
	assert.Equal(t, 1, mappings)

	reissued := store.GetOrCreateID("query-only-client")
	assert.NotEqual(t, staleID, reissued)
}

func TestGetOrCreateIDTouchKeepsMappingAlive(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	sid := store.GetOrCreateID("active-client")

	store.mu.Lock()
	rec := store.ids["active-client"]
	rec.issuedAt = time.Now().Add(-2 * time.Hour)
	store.ids["active-client"] = rec
	store.mu.Unlock()

	// 再次取号刷新 issuedAt，映射不会被清掉
	assert.Equal(t, sid, store.GetOrCreateID("active-client"))
	store.Sweep()

	assert.Equal(t, sid, store.GetOrCreateID("active-client"))
}

func TestSweepCallback(t *testing.T) {
	store := NewStore(time.Nanosecond)
	defer store.Stop()

	var counted int
	store.OnExpired(func(count int) { counted = count })

	store.Put(store.GetOrCreateID("a"), &stubAnswerer{})
	store.Put(store.GetOrCreateID("b"), &stubAnswerer{})
	time.Sleep(time.Millisecond)

	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 2, counted)
}

func TestConcurrentPutGet(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	sid := store.GetOrCreateID("contended")
	store.Put(sid, &stubAnswerer{name: "seed", chunks: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.Put(sid, &stubAnswerer{name: fmt.Sprintf("w%d", n), chunks: n})
		}(i)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, ok := store.Get(sid)
			if !ok {
				t.Error("session disappeared during concurrent put/get")
				return
			}
			// 记录必须完整：ID 与回答器总是成对出现
			if sess.ID != sid || sess.Answerer == nil {
				t.Errorf("torn session record: id=%q answerer=%v", sess.ID, sess.Answerer)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
}

func TestConcurrentSweepAndGet(t *testing.T) {
	store := NewStore(20 * time.Millisecond)
	defer store.Stop()

	sid := store.GetOrCreateID("client")
	store.Put(sid, &stubAnswerer{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Sweep()
		}()
		go func() {
			defer wg.Done()
			store.Get(sid)
		}()
	}
	wg.Wait()
	// 持续被访问的会话在并发清理下不会被移除
	_, ok := store.Get(sid)
	assert.True(t, ok)
}
