package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader([]domain.Quiz{sampleQuiz()}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("quiz:quiz1") {
		t.Fatalf("expected quiz blob in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuiz(context.Background(), "quiz1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.Topic != quiz.Topic || len(cached.Questions) != 1 || cached.Questions[0].CorrectIndex() != 2 {
		t.Fatalf("cached quiz differs: %+v", cached)
	}

	mr.FastForward(2 * time.Minute)
	_, _ = repo.GetQuiz(context.Background(), "quiz1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls=%d", loader.calls)
	}
}

func TestQuizRepositoryUnknownQuiz(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "nope"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if mr.Exists("quiz:nope") {
		t.Fatalf("misses must not be cached")
	}
}

func TestQuizRepositoryListsIDs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	second := sampleQuiz()
	second.ID = "quiz2"
	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader([]domain.Quiz{sampleQuiz(), second}), 0)

	ids, err := repo.ListQuizIDs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "quiz1" || ids[1] != "quiz2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if !mr.Exists("quizzes:index") {
		t.Fatalf("expected index cached")
	}
	if err := repo.Invalidate(context.Background(), "quiz1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("quizzes:index") {
		t.Fatalf("expected index dropped")
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:      "quiz1",
		NPCName: "QuizMind",
		Topic:   "Unit of Weight",
		Cost:    1,
		Reward:  10,
		Questions: []domain.Question{
			{
				Prompt:  "What is the smallest unit of bitcoin called?",
				Answers: []string{"Bit", "Byte", "Satoshi", "Coin"},
				Correct: "Satoshi",
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
