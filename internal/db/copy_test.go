package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grantCols = []string{"id", "rule_id", "employee_id", "event_id", "points_awarded", "created_at"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "reward_grants", grantCols, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "reward_grants", grantCols, [][]any{{"g1", "r1", "e1", "ev1", int64(5), nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO reward_grants")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyChunked_InsideTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnResult(1)
	mock.ExpectCommit()

	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("g%d", i), "r1", "e1", fmt.Sprintf("ev%d", i), int64(1), nil}
	}

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	n, err := CopyChunked(ctx, tx, "reward_grants", grantCols, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyChunked_StopsOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"reward_grants"}, grantCols).WillReturnError(fmt.Errorf("boom"))

	rows := [][]any{{"a"}, {"b"}, {"c"}}
	n, err := CopyChunked(context.Background(), mock, "reward_grants", grantCols, rows, 1)
	require.Error(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
