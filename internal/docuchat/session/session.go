// Package session 管理会话与其问答管线的绑定关系和过期回收。
//
// 每个会话独占自己的向量索引和回答器，互不共享。锁只保护映射表的
// 读写，嵌入和模型调用等慢速 I/O 全部在锁外执行。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/model"
	"github.com/kart-io/docuchat/internal/pkg/textutil"
	"github.com/kart-io/docuchat/pkg/id"
	"github.com/kart-io/docuchat/pkg/infra/pool"
)

// DefaultTTL 会话空闲过期时长。
const DefaultTTL = 2 * time.Hour

// Answerer 回答该会话范围内的提问。
type Answerer interface {
	Answer(ctx context.Context, question string) (*model.QueryResult, error)
	// ChunkCount 返回索引中的块数。
	ChunkCount() int
}

// Session 绑定一个客户端的问答管线与活跃时间戳。
// LastUsedAt 只在 Store 锁内读写。
type Session struct {
	ID         string
	Answerer   Answerer
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store 维护会话映射。所有变更操作互斥，查询返回的 Session
// 要么是某次 put 的完整记录，不会出现字段混杂。
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ids      map[string]idRecord // client hint -> session id
	hints    map[string]string   // session id -> client hint
	ttl      time.Duration

	sweepStop chan struct{}
	sweepOnce sync.Once

	// onExpired 会话被清理时的回调，用于指标统计。
	onExpired func(count int)
}

// idRecord 记录 hint 到会话 id 的分配时间。只查询不上传的客户端
// 不会产生 Session 记录，清扫时按 issuedAt 回收这类映射。
type idRecord struct {
	sid      string
	issuedAt time.Time
}

// NewStore creates a session store. ttl <= 0 falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions:  make(map[string]*Session),
		ids:       make(map[string]idRecord),
		hints:     make(map[string]string),
		ttl:       ttl,
		sweepStop: make(chan struct{}),
	}
}

// OnExpired registers a callback invoked with the number of sessions
// removed by each sweep that removed at least one.
func (s *Store) OnExpired(fn func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// GetOrCreateID returns the session id for a client identity hint,
// creating one on first use. The same hint always maps to the same id
// until the session expires.
func (s *Store) GetOrCreateID(hint string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec, ok := s.ids[hint]; ok {
		rec.issuedAt = now
		s.ids[hint] = rec
		return rec.sid
	}

	// 哈希前缀保证同一客户端可读可追踪，ULID 后缀保证全局唯一
	sid := textutil.HashString(hint)[:16] + "-" + id.New()
	s.ids[hint] = idRecord{sid: sid, issuedAt: now}
	s.hints[sid] = hint
	return sid
}

// Put registers or wholly replaces the session state for an id.
// A concurrent Get sees either the previous record or this one, never
// a mixture.
func (s *Store) Put(sessionID string, answerer Answerer) {
	now := time.Now()
	sess := &Session{
		ID:         sessionID,
		Answerer:   answerer,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
}

// Get returns the session and touches its LastUsedAt.
func (s *Store) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	sess.LastUsedAt = time.Now()
	return sess, true
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle longer than the store TTL and returns
// how many were removed. The expiry check and the delete happen under
// one lock, so a session touched concurrently by Get is retained.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for sid, sess := range s.sessions {
		if now.Sub(sess.LastUsedAt) > s.ttl {
			delete(s.sessions, sid)
			if hint, ok := s.hints[sid]; ok {
				delete(s.ids, hint)
				delete(s.hints, sid)
			}
			removed++
		}
	}
	// 从未 Put 过会话的 hint 映射不在 sessions 里，按分配时间单独回收
	for hint, rec := range s.ids {
		if _, bound := s.sessions[rec.sid]; bound {
			continue
		}
		if now.Sub(rec.issuedAt) > s.ttl {
			delete(s.ids, hint)
			delete(s.hints, rec.sid)
		}
	}
	onExpired := s.onExpired
	s.mu.Unlock()

	if removed > 0 {
		logger.Infow("expired sessions removed", "count", removed, "ttl", s.ttl)
		if onExpired != nil {
			onExpired(removed)
		}
	}
	return removed
}

// StartSweeper runs Sweep on a fixed interval until Stop is called.
// The loop is submitted to the background worker pool, falling back to
// a plain goroutine when the pool is unavailable.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	loop := func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.sweepStop:
				return
			}
		}
	}

	if err := pool.SubmitToType(pool.BackgroundPool, loop); err != nil {
		logger.Warnw("background pool unavailable, running sweeper in goroutine",
			"error", err.Error(),
		)
		go loop()
	}
}

// Stop terminates the background sweeper. Safe to call more than once.
func (s *Store) Stop() {
	s.sweepOnce.Do(func() {
		close(s.sweepStop)
	})
}
