package app

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"sats-arena/internal/domain"
)

// Catalog is an immutable set of quizzes and lessons. Reloads build a new one.
type Catalog struct {
	quizzes []domain.Quiz
	byID    map[string]int
	lessons map[string]domain.Lesson
}

func NewCatalog(quizzes []domain.Quiz, lessons []domain.Lesson) (*Catalog, error) {
	c := &Catalog{
		byID:    make(map[string]int, len(quizzes)),
		lessons: make(map[string]domain.Lesson, len(lessons)),
	}
	for _, q := range quizzes {
		if q.ID == "" {
			return nil, fmt.Errorf("catalog: quiz without id")
		}
		if _, dup := c.byID[q.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate quiz %q", q.ID)
		}
		if q.Cost < 0 || q.Reward < 0 {
			return nil, fmt.Errorf("catalog: quiz %q has negative cost or reward", q.ID)
		}
		c.byID[q.ID] = len(c.quizzes)
		c.quizzes = append(c.quizzes, q)
	}
	for _, l := range lessons {
		if l.ID == "" {
			return nil, fmt.Errorf("catalog: lesson without id")
		}
		c.lessons[l.ID] = l
	}
	return c, nil
}

// LoadCatalog pulls every quiz through repo, preserving the listed order.
func LoadCatalog(ctx context.Context, repo QuizRepository, lessons []domain.Lesson) (*Catalog, error) {
	ids, err := repo.ListQuizIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	quizzes := make([]domain.Quiz, 0, len(ids))
	for _, id := range ids {
		q, err := repo.GetQuiz(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load quiz %s: %w", id, err)
		}
		quizzes = append(quizzes, q)
	}
	return NewCatalog(quizzes, lessons)
}

// QuizInvalidator is implemented by repositories that cache quizzes.
type QuizInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

// CatalogSource rebuilds catalog snapshots from a repository.
type CatalogSource struct {
	Repo    QuizRepository
	Lessons []domain.Lesson
}

func (src CatalogSource) Load(ctx context.Context) (*Catalog, error) {
	return LoadCatalog(ctx, src.Repo, src.Lessons)
}

// Invalidate drops cached copies of ids. Repositories without a cache are left alone.
func (src CatalogSource) Invalidate(ctx context.Context, ids []string) error {
	inv, ok := src.Repo.(QuizInvalidator)
	if !ok {
		return nil
	}
	for _, id := range ids {
		if err := inv.Invalidate(ctx, id); err != nil {
			return fmt.Errorf("invalidate quiz %s: %w", id, err)
		}
	}
	return nil
}

// Quiz returns the quiz with the given id.
func (c *Catalog) Quiz(id string) (domain.Quiz, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return c.quizzes[i], nil
}

// QuizByNumber resolves a short "qN" reference to the Nth quiz, 1-based.
func (c *Catalog) QuizByNumber(ref string) (domain.Quiz, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if !strings.HasPrefix(ref, "q") {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil || n < 1 {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if q, err := c.Quiz("quiz" + strconv.Itoa(n)); err == nil {
		return q, nil
	}
	if n > len(c.quizzes) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return c.quizzes[n-1], nil
}

// Random picks a quiz uniformly.
func (c *Catalog) Random(r *rand.Rand) (domain.Quiz, error) {
	if len(c.quizzes) == 0 {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return c.quizzes[r.Intn(len(c.quizzes))], nil
}

// Quizzes returns the quizzes in catalog order.
func (c *Catalog) Quizzes() []domain.Quiz {
	out := make([]domain.Quiz, len(c.quizzes))
	copy(out, c.quizzes)
	return out
}

func (c *Catalog) Lesson(id string) (domain.Lesson, error) {
	l, ok := c.lessons[id]
	if !ok {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	return l, nil
}
