package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/beansplit/beansplit/internal/models"
	repository "github.com/beansplit/beansplit/internal/repository/postgres"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const purchaseColumnsSQL = `id, group_id, buyer_id, bean_ref, total_amount, purchased_on, collected_amount, is_fully_paid, created_at`

func TestPostgresPurchaseRepository_InsertTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPurchaseRepository(db)
	ctx := context.Background()

	t.Run("NilPurchase", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		err = repo.InsertTx(ctx, tx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilPurchase)
	})

	t.Run("NegativeTotal", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		err = repo.InsertTx(ctx, tx, &models.Purchase{BuyerID: 1, TotalAmount: -1})
		assert.ErrorIs(t, err, pkgerrors.ErrNegativeAmount)
	})

	t.Run("Success", func(t *testing.T) {
		groupID := int64(7)
		purchase := &models.Purchase{
			GroupID:     &groupID,
			BuyerID:     1,
			BeanRef:     "ethiopia-yirgacheffe",
			TotalAmount: 9000,
			PurchasedOn: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}
		createdAt := time.Now().UTC()

		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO purchases (group_id, buyer_id, bean_ref, total_amount, purchased_on) VALUES ($1, $2, $3, $4, $5) RETURNING id, collected_amount, is_fully_paid, created_at`)).
			WithArgs(groupID, purchase.BuyerID, purchase.BeanRef, purchase.TotalAmount, purchase.PurchasedOn).
			WillReturnRows(sqlmock.NewRows([]string{"id", "collected_amount", "is_fully_paid", "created_at"}).AddRow(int64(3), int64(0), false, createdAt))
		mock.ExpectCommit()

		err = repo.InsertTx(ctx, tx, purchase)
		require.NoError(t, err)
		assert.NoError(t, tx.Commit())
		assert.Equal(t, int64(3), purchase.ID)
		assert.Equal(t, int64(0), purchase.CollectedAmount)
		assert.False(t, purchase.IsFullyPaid)
		assert.WithinDuration(t, createdAt, purchase.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		purchase := &models.Purchase{BuyerID: 1, BeanRef: "brazil-santos", TotalAmount: 100, PurchasedOn: time.Now()}

		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO purchases`)).
			WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback()

		err = repo.InsertTx(ctx, tx, purchase)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert purchase")
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPurchaseRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPurchaseRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+purchaseColumnsSQL+` FROM purchases WHERE id = $1`)).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "buyer_id", "bean_ref", "total_amount", "purchased_on", "collected_amount", "is_fully_paid", "created_at"}).
				AddRow(int64(5), nil, int64(2), "colombia-huila", int64(4500), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), int64(4500), true, createdAt))

		purchase, err := repo.GetByID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), purchase.ID)
		assert.Nil(t, purchase.GroupID)
		assert.Equal(t, int64(4500), purchase.TotalAmount)
		assert.True(t, purchase.IsFullyPaid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+purchaseColumnsSQL+` FROM purchases WHERE id = $1`)).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		purchase, err := repo.GetByID(ctx, 99)
		assert.Nil(t, purchase)
		assert.ErrorIs(t, err, pkgerrors.ErrPurchaseNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPurchaseRepository_LockTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPurchaseRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		groupID := int64(7)
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+purchaseColumnsSQL+` FROM purchases WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "buyer_id", "bean_ref", "total_amount", "purchased_on", "collected_amount", "is_fully_paid", "created_at"}).
				AddRow(int64(5), groupID, int64(2), "colombia-huila", int64(4500), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), int64(1500), false, time.Now()))
		mock.ExpectCommit()

		purchase, err := repo.LockTx(ctx, tx, 5)
		require.NoError(t, err)
		require.NotNil(t, purchase.GroupID)
		assert.Equal(t, groupID, *purchase.GroupID)
		assert.Equal(t, int64(1500), purchase.CollectedAmount)
		assert.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		purchase, err := repo.LockTx(ctx, tx, 42)
		assert.Nil(t, purchase)
		assert.ErrorIs(t, err, pkgerrors.ErrPurchaseNotFound)
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPurchaseRepository_UpdateAggregateTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPurchaseRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE purchases SET collected_amount = $1, is_fully_paid = $2 WHERE id = $3`)).
			WithArgs(int64(9000), true, int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = repo.UpdateAggregateTx(ctx, tx, 5, 9000, true)
		require.NoError(t, err)
		assert.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE purchases SET`)).
			WithArgs(int64(100), false, int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = repo.UpdateAggregateTx(ctx, tx, 42, 100, false)
		assert.ErrorIs(t, err, pkgerrors.ErrPurchaseNotFound)
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
