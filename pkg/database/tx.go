package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"reservoir/pkg/apperror"
)

// Beginner источник транзакций: пул или DB
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WithTransaction выполняет fn в одной транзакции. Ошибка fn возвращается
// как есть (вместе с ошибкой отката, если откат не удался); сбои begin и
// commit оборачиваются в INFRASTRUCTURE.
func WithTransaction(ctx context.Context, db Beginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInfrastructure, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // паника важнее ошибки отката
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, apperror.Wrap(rbErr, apperror.CodeInfrastructure, "rollback"))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeInfrastructure, "commit transaction")
	}
	return nil
}
