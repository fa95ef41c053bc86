package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sats-arena/internal/domain"
)

// QuizLoader loads quiz JSONB from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz.ID = quizID
	return quiz, nil
}

// ListQuizIDs returns quiz ids in catalog order.
func (l *QuizLoader) ListQuizIDs(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT id FROM quizzes ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan quiz id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return ids, nil
}

// SaveQuizzes upserts quizzes, keeping the slice order as catalog order.
func (l *QuizLoader) SaveQuizzes(ctx context.Context, quizzes []domain.Quiz) error {
	batch := &pgx.Batch{}
	for i, q := range quizzes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal quiz %s: %w", q.ID, err)
		}
		batch.Queue(`INSERT INTO quizzes (id, position, data) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (id) DO UPDATE SET position=EXCLUDED.position, data=EXCLUDED.data`, q.ID, i, string(data))
	}
	br := l.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range quizzes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save quiz: %w", err)
		}
	}
	return nil
}
