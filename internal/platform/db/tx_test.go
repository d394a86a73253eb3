package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
	isoLevel   pgx.TxIsoLevel
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.tx.isoLevel = opts.IsoLevel
	return b.tx, nil
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	tx := &fakeTx{}
	err := WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return nil
	})
	require.NoError(t, err)
	require.True(t, tx.committed)
	require.False(t, tx.rolledBack)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
}

func TestWithTxPropagatesBeginAndCommitErrors(t *testing.T) {
	beginErr := errors.New("pool exhausted")
	err := WithTx(context.Background(), &fakeBeginner{beginErr: beginErr}, func(pgx.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, beginErr)

	commitErr := errors.New("serialization failure")
	tx := &fakeTx{commitErr: commitErr}
	err = WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, commitErr)
}

func TestWithTxUsesRepeatableRead(t *testing.T) {
	tx := &fakeTx{}
	require.NoError(t, WithTx(context.Background(), &fakeBeginner{tx: tx}, func(pgx.Tx) error {
		return nil
	}))
	require.Equal(t, pgx.RepeatableRead, tx.isoLevel)
}
