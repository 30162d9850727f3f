package service

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-backend/internal/repository"
)

// txQueries is one open transaction with its repository view. Tests inject
// beginTx functions returning stub commit/rollback.
type txQueries struct {
	qtx      *repository.Queries
	commit   func(context.Context) error
	rollback func(context.Context) error
}

// poolBeginner returns the production beginTx over a pgx pool.
func poolBeginner(db *pgxpool.Pool) func(context.Context) (txQueries, error) {
	return func(ctx context.Context) (txQueries, error) {
		tx, err := db.Begin(ctx)
		if err != nil {
			return txQueries{}, err
		}
		return txQueries{
			qtx:      repository.New(tx),
			commit:   tx.Commit,
			rollback: tx.Rollback,
		}, nil
	}
}
