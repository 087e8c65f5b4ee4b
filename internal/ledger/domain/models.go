// Package domain contains the append-only balance ledger. Transactions are
// written exactly once per balance-affecting operation and never updated or
// deleted.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypeDeposit            TransactionType = "deposit"
	TransactionTypePurchase           TransactionType = "purchase"
	TransactionTypeRenewal            TransactionType = "renewal"
	TransactionTypeRefund             TransactionType = "refund"
	TransactionTypeSlotRental         TransactionType = "slot_rental"
	TransactionTypeSlotRentalPayout   TransactionType = "slot_rental_payout"
	TransactionTypeSlotRentalRenewal  TransactionType = "slot_rental_renewal"
	TransactionTypeReferralWithdrawal TransactionType = "referral_withdrawal"
)

// spendTypes are the debit types counted toward discount-tier eligibility.
var spendTypes = []TransactionType{
	TransactionTypePurchase,
	TransactionTypeRenewal,
	TransactionTypeSlotRental,
	TransactionTypeSlotRentalRenewal,
}

// SpendTypes returns the transaction types that count as spend.
func SpendTypes() []TransactionType {
	out := make([]TransactionType, len(spendTypes))
	copy(out, spendTypes)
	return out
}

// Transaction is an immutable ledger entry. AmountCents is signed: negative
// for charges, positive for credits. BalanceBefore/After are captured under
// the user row lock that performed the mutation.
type Transaction struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	UserID             snowflake.ID      `gorm:"not null;index"`
	Type               TransactionType   `gorm:"type:text;not null;index"`
	AmountCents        int64             `gorm:"not null"`
	BalanceBeforeCents int64             `gorm:"not null"`
	BalanceAfterCents  int64             `gorm:"not null"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }
