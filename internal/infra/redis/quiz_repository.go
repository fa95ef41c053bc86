package redis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
)

// QuizRepository caches whole quizzes in Redis and falls back to a loader on cache miss.
// Quizzes are stored as msgpack blobs:  SET quiz:{quizID} <blob> EX ttl
// The catalog order is stored the same way under quizzes:index.
type QuizRepository struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := r.quizKey(quizID)

	var quiz domain.Quiz
	if ok := r.readCache(ctx, key, &quiz); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached domain.Quiz
		if ok := r.readCache(ctx, key, &cached); ok {
			return cached, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.writeCache(ctx, key, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// ListQuizIDs returns the catalog order.
func (r *QuizRepository) ListQuizIDs(ctx context.Context) ([]string, error) {
	key := r.indexKey()

	var ids []string
	if ok := r.readCache(ctx, key, &ids); ok {
		return ids, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		ids, err := r.loader.ListQuizIDs(ctx)
		if err != nil {
			return nil, err
		}
		r.writeCache(ctx, key, ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), result.([]string)...), nil
}

// Invalidate drops a cached quiz and the catalog index.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, r.quizKey(quizID), r.indexKey()).Err()
}

// readCache reports whether key held a decodable blob. Redis errors count as misses.
func (r *QuizRepository) readCache(ctx context.Context, key string, v any) bool {
	blob, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return msgpack.Unmarshal(blob, v) == nil
}

// writeCache is best effort; the loader stays the source of truth.
func (r *QuizRepository) writeCache(ctx context.Context, key string, v any) {
	blob, err := msgpack.Marshal(v)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, blob, r.ttlWithJitter()).Err()
}

func (r *QuizRepository) quizKey(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) indexKey() string {
	return "quizzes:index"
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
