package projection

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	mainWorkerID = "main"
	rebuildBatch = 500
)

// ErrNotFound is returned by readers for a missing view row; it matches
// state.ErrNotFound.
var ErrNotFound = state.ErrNotFound

// Store holds the query-side views in sqlite.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and creates the view tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open projections: %w", err)
	}
	for _, model := range MigrateModels {
		if err := db.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return &Store{db: db}, nil
}

// OpenFile opens a WAL-mode database file, creating its directory.
func OpenFile(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("create projection dir: %w", err)
		}
	}
	opts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=sync(NORMAL)"
	return Open(fmt.Sprintf("file:%s?%s", path, opts))
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Apply upserts every record a command touched and advances the watermark.
func (s *Store) Apply(ctx context.Context, seq int64, rs *core.RecordSet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rs != nil {
			if err := upsertRecordSet(tx, seq, rs); err != nil {
				return err
			}
		}
		return setWatermark(tx, seq)
	})
}

func upsertRecordSet(tx *gorm.DB, seq int64, rs *core.RecordSet) error {
	keys := make([]string, 0, len(rs.Pools))
	for k := range rs.Pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pools := make([]PoolView, 0, len(keys))
	for _, k := range keys {
		pools = append(pools, poolView(k, rs.Pools[k], seq))
	}

	policies := make([]PolicyView, 0, len(rs.Policies))
	for _, e := range rs.Policies {
		policies = append(policies, policyView(e, seq))
	}
	history := make([]HistoryView, 0, len(rs.History))
	for _, h := range rs.History {
		history = append(history, historyView(h, seq))
	}
	votes := make([]VoteView, 0, len(rs.Votes))
	for _, v := range rs.Votes {
		votes = append(votes, voteView(v, seq))
	}
	var govs []GovernanceView
	if rs.Governance != nil {
		govs = append(govs, governanceView(rs.GovernanceKey, rs.Governance, seq))
	}
	balances := make([]BalanceView, 0, len(rs.Balances))
	for k, v := range rs.Balances {
		balances = append(balances, BalanceView{AccountPath: k.AccountPath(), Amount: amount(v), LastSequence: seq})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].AccountPath < balances[j].AccountPath })

	if err := upsert(tx, "pool_views", pools); err != nil {
		return err
	}
	if err := upsert(tx, "policy_views", policies); err != nil {
		return err
	}
	if err := upsert(tx, "history_views", history); err != nil {
		return err
	}
	if err := upsert(tx, "vote_views", votes); err != nil {
		return err
	}
	if err := upsert(tx, "governance_views", govs); err != nil {
		return err
	}
	return upsert(tx, "balance_views", balances)
}

// upsert replaces rows by primary key. Empty slices are a no-op.
func upsert[T any](tx *gorm.DB, table string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, rebuildBatch).Error; err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func setWatermark(tx *gorm.DB, seq int64) error {
	wm := Watermark{WorkerID: mainWorkerID, LastSequence: seq, UpdatedAt: time.Now().Unix()}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sequence", "updated_at"}),
	}).Create(&wm)
	if result.Error != nil {
		return fmt.Errorf("watermark: %w", result.Error)
	}
	return nil
}

// Watermark returns the last applied sequence, 0 if nothing was applied.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	var wm Watermark
	result := s.db.WithContext(ctx).First(&wm, "worker_id = ?", mainWorkerID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return wm.LastSequence, nil
}

// Rebuild replaces every view with the record store's current contents
// and sets the watermark to asOf.
func (s *Store) Rebuild(ctx context.Context, src store.Store, governanceKey string, asOf int64) error {
	rs := &core.RecordSet{GovernanceKey: governanceKey}
	var rawBalances map[string]uint64
	err := src.View(func(txn store.Txn) error {
		var err error
		if rawBalances, err = txn.ListBalances(); err != nil {
			return err
		}
		if rs.Pools, err = txn.ListPools(); err != nil {
			return err
		}
		if rs.Policies, err = txn.ListPolicies(""); err != nil {
			return err
		}
		for _, p := range rs.Policies {
			hist, err := txn.ListHistory(p.ID)
			if err != nil {
				return err
			}
			rs.History = append(rs.History, hist...)
		}
		if rs.Votes, err = txn.ListAllVotes(); err != nil {
			return err
		}
		gov, err := txn.GetGovernance(governanceKey)
		switch {
		case err == nil:
			rs.Governance = gov
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read record store: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range MigrateModels {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		if err := upsertRecordSet(tx, asOf, rs); err != nil {
			return err
		}

		balances := make([]BalanceView, 0, len(rawBalances))
		for path, v := range rawBalances {
			balances = append(balances, BalanceView{AccountPath: path, Amount: amount(v), LastSequence: asOf})
		}
		sort.Slice(balances, func(i, j int) bool { return balances[i].AccountPath < balances[j].AccountPath })
		if err := upsert(tx, "balance_views", balances); err != nil {
			return err
		}
		return setWatermark(tx, asOf)
	})
}
