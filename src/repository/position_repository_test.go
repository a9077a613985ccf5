package repository

import (
	"context"
	"testing"

	"betbridge/src/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&model.Position{}); err != nil {
		t.Fatalf("failed to migrate positions: %v", err)
	}

	t.Cleanup(func() {
		db.Exec("DELETE FROM positions")
	})

	return db
}

func TestPositionRepositoryUpsert(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)
	ctx := context.Background()

	err := repo.Upsert(ctx, "0xwallet", "tok-1", "will-it-rain",
		decimal.NewFromInt(60), decimal.NewFromFloat(0.5), decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	position, err := repo.FindByWalletAndToken(ctx, "0xwallet", "tok-1")
	if err != nil || position == nil {
		t.Fatalf("expected position after upsert, got %+v err=%v", position, err)
	}
	if !position.Shares.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 shares, got %s", position.Shares)
	}

	// Second fill at a worse price accumulates and recomputes the average.
	err = repo.Upsert(ctx, "0xwallet", "tok-1", "will-it-rain",
		decimal.NewFromInt(40), decimal.NewFromFloat(0.75), decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	position, err = repo.FindByWalletAndToken(ctx, "0xwallet", "tok-1")
	if err != nil || position == nil {
		t.Fatalf("expected accumulated position, got %+v err=%v", position, err)
	}
	if !position.Shares.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100 shares, got %s", position.Shares)
	}
	if !position.CostBasisUSD.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected cost basis 60, got %s", position.CostBasisUSD)
	}
	if !position.AvgPrice.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected avg price 0.6, got %s", position.AvgPrice)
	}
}

func TestPositionRepositoryReduce(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)
	ctx := context.Background()

	err := repo.Upsert(ctx, "0xseller", "tok-2", "will-it-rain",
		decimal.NewFromInt(100), decimal.NewFromFloat(0.4), decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("setup upsert failed: %v", err)
	}

	position, err := repo.FindByWalletAndToken(ctx, "0xseller", "tok-2")
	if err != nil || position == nil {
		t.Fatalf("setup position missing: %+v err=%v", position, err)
	}

	t.Run("partial sell leaves the remainder", func(t *testing.T) {
		err := repo.Reduce(ctx, position.ID, decimal.NewFromInt(30), decimal.NewFromInt(15))
		if err != nil {
			t.Fatalf("reduce failed: %v", err)
		}

		remaining, err := repo.FindByWalletAndToken(ctx, "0xseller", "tok-2")
		if err != nil || remaining == nil {
			t.Fatalf("expected remaining position, got %+v err=%v", remaining, err)
		}
		if !remaining.Shares.Equal(decimal.NewFromInt(70)) {
			t.Fatalf("expected 70 shares left, got %s", remaining.Shares)
		}
	})

	t.Run("selling down to dust deletes the row", func(t *testing.T) {
		err := repo.Reduce(ctx, position.ID, decimal.NewFromInt(70), decimal.NewFromInt(35))
		if err != nil {
			t.Fatalf("reduce failed: %v", err)
		}

		gone, err := repo.FindByWalletAndToken(ctx, "0xseller", "tok-2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gone != nil {
			t.Fatalf("expected position deleted, got %+v", gone)
		}
	})
}

func TestPositionRepositoryFindMissing(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)

	position, err := repo.FindByWalletAndToken(context.Background(), "0xnobody", "tok-x")
	if err != nil {
		t.Fatalf("not-found must not be an error, got %v", err)
	}
	if position != nil {
		t.Fatalf("expected nil, got %+v", position)
	}
}
