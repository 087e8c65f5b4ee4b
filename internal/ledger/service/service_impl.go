package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/linkrent/linkrent/internal/audit/domain"
	"github.com/linkrent/linkrent/internal/clock"
	ledgerdomain "github.com/linkrent/linkrent/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

// lockedBalance reads the user's balance under FOR UPDATE so the
// read-modify-write below is serialized against concurrent spenders. The
// lock is taken before the balance check on purpose: a balance fetched
// outside the lock is a stale read and must never be trusted.
func (s *Service) lockedBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	var row struct {
		ID           snowflake.ID
		BalanceCents int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, balance_cents
		 FROM users
		 WHERE id = ?
		 FOR UPDATE`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ledgerdomain.ErrUserNotFound
	}
	return row.BalanceCents, nil
}

func (s *Service) Charge(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, txType ledgerdomain.TransactionType, metadata map[string]any) (*ledgerdomain.Transaction, error) {
	return s.apply(ctx, tx, userID, -amountCents, txType, metadata)
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, txType ledgerdomain.TransactionType, metadata map[string]any) (*ledgerdomain.Transaction, error) {
	return s.apply(ctx, tx, userID, amountCents, txType, metadata)
}

func (s *Service) Refund(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountCents int64, metadata map[string]any) (*ledgerdomain.Transaction, error) {
	return s.apply(ctx, tx, userID, amountCents, ledgerdomain.TransactionTypeRefund, metadata)
}

// apply performs one locked read-modify-write of the balance and records
// exactly one transaction row. delta is signed: negative debits, positive
// credits.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64, txType ledgerdomain.TransactionType, metadata map[string]any) (*ledgerdomain.Transaction, error) {
	if tx == nil {
		return nil, ledgerdomain.ErrMissingTransaction
	}
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if delta == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	before, err := s.lockedBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	after := before + delta
	if after < 0 {
		return nil, ledgerdomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE users SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		after,
		now,
		userID,
	).Error; err != nil {
		return nil, err
	}

	entry := &ledgerdomain.Transaction{
		ID:                 s.genID.Generate(),
		UserID:             userID,
		Type:               txType,
		AmountCents:        delta,
		BalanceBeforeCents: before,
		BalanceAfterCents:  after,
		Metadata:           datatypes.JSONMap(metadata),
		CreatedAt:          now,
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}

	if delta < 0 && isSpendType(txType) {
		if _, err := s.RecomputeDiscount(ctx, tx, userID); err != nil {
			return nil, err
		}
	}

	if s.auditSvc != nil {
		entryID := entry.ID.String()
		meta := map[string]any{
			"type":          string(txType),
			"amount_cents":  delta,
			"balance_after": after,
		}
		if err := s.auditSvc.AuditLog(ctx, tx, userID, "ledger.transaction_recorded", "transaction", &entryID, meta); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}

	return entry, nil
}

func (s *Service) TotalSpent(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(-amount_cents), 0)
		 FROM transactions
		 WHERE user_id = ? AND type IN ?`,
		userID,
		spendTypeStrings(),
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// RecomputeDiscount derives the discount from transaction history at read
// time instead of maintaining a running counter, so the ledger stays the
// single source of truth for spend.
func (s *Service) RecomputeDiscount(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int, error) {
	if tx == nil {
		return 0, ledgerdomain.ErrMissingTransaction
	}

	total, err := s.TotalSpent(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	var discount int
	err = tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(discount_percent), 0)
		 FROM discount_tiers
		 WHERE min_spent_cents <= ?`,
		total,
	).Scan(&discount).Error
	if err != nil {
		return 0, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE users SET current_discount = ?, updated_at = ? WHERE id = ?`,
		discount,
		s.clock.Now(),
		userID,
	).Error; err != nil {
		return 0, err
	}
	return discount, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT balance_cents FROM users WHERE id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func isSpendType(txType ledgerdomain.TransactionType) bool {
	for _, t := range ledgerdomain.SpendTypes() {
		if t == txType {
			return true
		}
	}
	return false
}

func spendTypeStrings() []string {
	types := ledgerdomain.SpendTypes()
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
