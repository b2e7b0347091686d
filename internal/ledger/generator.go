package ledger

import (
	"github.com/google/uuid"
)

// Posting identifies the command a batch is generated for.
type Posting struct {
	EventRef  string
	Sequence  int64
	Timestamp int64
}

// JournalGenerator creates balanced journal batches for insurance transfers.
// A zero amount yields a nil batch: nothing moves and nothing is journaled.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// GenerateRefund moves a pro-rata refund: pool:vault → user:wallet (NATIVE).
func (jg *JournalGenerator) GenerateRefund(p Posting, poolKey string, owner [32]byte, amount uint64) *Batch {
	return jg.single(p, JournalTypeRefund, amount,
		NewUserAccountKey(owner, SubTypeWallet, AssetNative),
		NewPoolAccountKey(poolKey, SubTypePoolVault, AssetNative),
	)
}

// GenerateWithdrawal moves surplus: pool:vault → recipient wallet (NATIVE).
func (jg *JournalGenerator) GenerateWithdrawal(p Posting, poolKey string, recipient [32]byte, amount uint64) *Batch {
	return jg.single(p, JournalTypeWithdrawal, amount,
		NewUserAccountKey(recipient, SubTypeWallet, AssetNative),
		NewPoolAccountKey(poolKey, SubTypePoolVault, AssetNative),
	)
}

// GenerateTokenPremium moves a token premium: user:token → pool:token_vault (USDC).
func (jg *JournalGenerator) GenerateTokenPremium(p Posting, poolKey string, payer [32]byte, amount uint64) *Batch {
	return jg.single(p, JournalTypeTokenPremium, amount,
		NewPoolAccountKey(poolKey, SubTypePoolTokenVault, AssetUSDC),
		NewUserAccountKey(payer, SubTypeTokenAccount, AssetUSDC),
	)
}

// GenerateStake moves staked liquidity: user:token → pool:token_vault (USDC).
func (jg *JournalGenerator) GenerateStake(p Posting, poolKey string, staker [32]byte, amount uint64) *Batch {
	return jg.single(p, JournalTypeStake, amount,
		NewPoolAccountKey(poolKey, SubTypePoolTokenVault, AssetUSDC),
		NewUserAccountKey(staker, SubTypeTokenAccount, AssetUSDC),
	)
}

// GenerateFunding mints into an account from external:mint.
func (jg *JournalGenerator) GenerateFunding(p Posting, account AccountKey, amount uint64) *Batch {
	return jg.single(p, JournalTypeFunding, amount,
		account,
		NewExternalAccountKey(SubTypeExternalMint, account.AssetID),
	)
}

func (jg *JournalGenerator) single(p Posting, jt JournalType, amount uint64, debit, credit AccountKey) *Batch {
	if amount == 0 {
		return nil
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  p.EventRef,
		Sequence:  p.Sequence,
		Timestamp: p.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      p.EventRef,
		Sequence:      p.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     p.Timestamp,
	})

	return batch
}
