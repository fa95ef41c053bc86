package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sats-arena/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g., Postgres, a catalog file).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizIDs(ctx context.Context) ([]string, error)
}

// QuizRepository caches quizzes with TTL to avoid repeated DB hits.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
	ids   []string
	idsAt time.Time
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

const listKey = "\x00ids"

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		expiresAt := now.Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: expiresAt,
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// ListQuizIDs returns the catalog order, cached like quizzes.
func (r *QuizRepository) ListQuizIDs(ctx context.Context) ([]string, error) {
	now := r.clock()
	r.mu.RLock()
	if r.ids != nil && r.idsAt.After(now) {
		ids := append([]string(nil), r.ids...)
		r.mu.RUnlock()
		return ids, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(listKey, func() (interface{}, error) {
		ids, err := r.loader.ListQuizIDs(ctx)
		if err != nil {
			return nil, err
		}
		expiresAt := now.Add(r.ttlWithJitter())
		r.mu.Lock()
		r.ids = append([]string{}, ids...)
		r.idsAt = expiresAt
		r.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), result.([]string)...), nil
}

// Invalidate drops a cached quiz and the cached catalog order.
func (r *QuizRepository) Invalidate(_ context.Context, quizID string) error {
	r.mu.Lock()
	delete(r.cache, quizID)
	r.ids = nil
	r.mu.Unlock()
	return nil
}

// StaticQuizLoader is a simple loader backed by an ordered in-memory list.
type StaticQuizLoader struct {
	order   []string
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes []domain.Quiz) *StaticQuizLoader {
	l := &StaticQuizLoader{quizzes: make(map[string]domain.Quiz, len(quizzes))}
	for _, q := range quizzes {
		if _, dup := l.quizzes[q.ID]; !dup {
			l.order = append(l.order, q.ID)
		}
		l.quizzes[q.ID] = q
	}
	return l
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *StaticQuizLoader) ListQuizIDs(context.Context) ([]string, error) {
	return append([]string(nil), l.order...), nil
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
