package projection

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// PolicyFilter narrows ListPolicies. Zero fields match everything.
type PolicyFilter struct {
	PoolKey    string
	Owner      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

func first[T any](ctx context.Context, db *gorm.DB, what string, query string, args ...any) (*T, error) {
	var row T
	if err := db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return &row, nil
}

func (s *Store) GetPool(ctx context.Context, key string) (*PoolView, error) {
	return first[PoolView](ctx, s.db, "pool "+key, "pool_key = ?", key)
}

func (s *Store) ListPools(ctx context.Context) ([]PoolView, error) {
	var rows []PoolView
	if err := s.db.WithContext(ctx).Order("pool_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return rows, nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*PolicyView, error) {
	return first[PolicyView](ctx, s.db, "policy "+id, "id = ?", id)
}

func (s *Store) ListPolicies(ctx context.Context, f PolicyFilter) ([]PolicyView, error) {
	q := s.db.WithContext(ctx).Model(&PolicyView{})
	if f.PoolKey != "" {
		q = q.Where("pool_key = ?", f.PoolKey)
	}
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []PolicyView
	if err := q.Order("start_time, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return rows, nil
}

// ListHistory returns a policy's entries oldest first.
func (s *Store) ListHistory(ctx context.Context, policyID string) ([]HistoryView, error) {
	var rows []HistoryView
	err := s.db.WithContext(ctx).
		Where("policy_id = ?", policyID).
		Order("timestamp, sequence, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", policyID, err)
	}
	return rows, nil
}

func (s *Store) GetGovernance(ctx context.Context, key string) (*GovernanceView, error) {
	return first[GovernanceView](ctx, s.db, "governance "+key, "governance_key = ?", key)
}

// ListVotes returns a proposal's votes oldest first.
func (s *Store) ListVotes(ctx context.Context, proposalID uint64) ([]VoteView, error) {
	var rows []VoteView
	err := s.db.WithContext(ctx).
		Where("proposal_id = ?", amount(proposalID)).
		Order("timestamp, sequence, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list votes %d: %w", proposalID, err)
	}
	return rows, nil
}

func (s *Store) GetBalance(ctx context.Context, accountPath string) (*BalanceView, error) {
	return first[BalanceView](ctx, s.db, "balance "+accountPath, "account_path = ?", accountPath)
}
