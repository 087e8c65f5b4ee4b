package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrMissingTransaction  = errors.New("missing_transaction_handle")
)

// Service moves money on the prepaid balance. Every method requires an
// already-open gorm transaction: the user row lock and the balance mutation
// must share one commit boundary with the resource mutation they pay for.
type Service interface {
	// Charge debits amountCents from the user's balance. The user row is
	// locked before the balance is read; ErrInsufficientBalance is returned
	// when the post-lock balance cannot cover the amount.
	Charge(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, txType TransactionType, metadata map[string]any) (*Transaction, error)

	// Credit adds amountCents to the user's balance under the same locking
	// discipline as Charge.
	Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, txType TransactionType, metadata map[string]any) (*Transaction, error)

	// Refund is Credit with the refund transaction type, kept separate so
	// call sites read symmetrically with the charge they compensate.
	Refund(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, metadata map[string]any) (*Transaction, error)

	// TotalSpent sums the user's spend-type transactions.
	TotalSpent(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error)

	// RecomputeDiscount refreshes current_discount from the discount tier
	// table given the user's total spend.
	RecomputeDiscount(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int, error)

	// Balance returns the user's current balance without locking.
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
}
