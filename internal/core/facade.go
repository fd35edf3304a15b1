package core

import (
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ledger"
	fpmath "RedirectLedger/internal/math"
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Direct-call entry points. Each builds a command with a fresh operation id
// and runs it through ProcessEvent.

func (c *LedgerFacade) Deposit(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Deposit{Meta: newMeta(), Account: account, Amount: amount})
	return err
}

// DepositWithSelectedHat switches to an existing hat, then deposits.
func (c *LedgerFacade) DepositWithSelectedHat(ctx context.Context, account uuid.UUID, amount sdkmath.Uint, hatID uint64) error {
	_, err := c.ProcessEvent(ctx, &event.Deposit{Meta: newMeta(), Account: account, Amount: amount, HatID: &hatID})
	return err
}

// DepositWithNewHat creates a hat, switches to it, then deposits. Returns
// the new hat id.
func (c *LedgerFacade) DepositWithNewHat(ctx context.Context, account uuid.UUID, amount sdkmath.Uint, recipients []uuid.UUID, weights []uint32) (uint64, error) {
	out, err := c.ProcessEvent(ctx, &event.Deposit{
		Meta:    newMeta(),
		Account: account,
		Amount:  amount,
		NewHat:  &event.HatSpec{Recipients: recipients, Weights: weights},
	})
	if err != nil {
		return 0, err
	}
	return out.Result.HatID, nil
}

func (c *LedgerFacade) Withdraw(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Withdraw{Meta: newMeta(), Account: account, Amount: amount})
	return err
}

// WithdrawTo burns account's balance and sends the underlying to dst.
func (c *LedgerFacade) WithdrawTo(ctx context.Context, account, dst uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Withdraw{Meta: newMeta(), Account: account, Amount: amount, Recipient: dst})
	return err
}

// WithdrawAll withdraws the full balance and returns the amount.
func (c *LedgerFacade) WithdrawAll(ctx context.Context, account uuid.UUID) (sdkmath.Uint, error) {
	out, err := c.ProcessEvent(ctx, &event.Withdraw{Meta: newMeta(), Account: account, Amount: sdkmath.ZeroUint(), All: true})
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return out.Result.Amount, nil
}

func (c *LedgerFacade) Transfer(ctx context.Context, src, dst uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Transfer{Meta: newMeta(), Src: src, Dst: dst, Amount: amount})
	return err
}

// TransferFrom moves src's balance on spender's allowance.
func (c *LedgerFacade) TransferFrom(ctx context.Context, spender, src, dst uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Transfer{Meta: newMeta(), Spender: spender, Src: src, Dst: dst, Amount: amount})
	return err
}

// TransferAll moves src's full balance and returns the amount.
func (c *LedgerFacade) TransferAll(ctx context.Context, src, dst uuid.UUID) (sdkmath.Uint, error) {
	out, err := c.ProcessEvent(ctx, &event.Transfer{Meta: newMeta(), Src: src, Dst: dst, Amount: sdkmath.ZeroUint(), All: true})
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return out.Result.Amount, nil
}

func (c *LedgerFacade) Approve(ctx context.Context, owner, spender uuid.UUID, amount sdkmath.Uint) error {
	_, err := c.ProcessEvent(ctx, &event.Approve{Meta: newMeta(), Owner: owner, Spender: spender, Amount: amount})
	return err
}

// CreateHat registers a beneficiary set and, with apply, switches creator
// to it. Returns the new hat id.
func (c *LedgerFacade) CreateHat(ctx context.Context, creator uuid.UUID, recipients []uuid.UUID, weights []uint32, apply bool) (uint64, error) {
	out, err := c.ProcessEvent(ctx, &event.CreateHat{
		Meta:    newMeta(),
		Creator: creator,
		HatSpec: event.HatSpec{Recipients: recipients, Weights: weights},
		Apply:   apply,
	})
	if err != nil {
		return 0, err
	}
	return out.Result.HatID, nil
}

func (c *LedgerFacade) ChangeHat(ctx context.Context, account uuid.UUID, hatID uint64) error {
	_, err := c.ProcessEvent(ctx, &event.ChangeHat{Meta: newMeta(), Account: account, HatID: hatID})
	return err
}

// PayInterest realizes account's interest and returns the amount paid.
func (c *LedgerFacade) PayInterest(ctx context.Context, account uuid.UUID) (sdkmath.Uint, error) {
	out, err := c.ProcessEvent(ctx, &event.PayInterest{Meta: newMeta(), Account: account})
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return out.Result.Amount, nil
}

func newMeta() event.Meta {
	return event.Meta{OperationID: uuid.New(), Timestamp: time.Now().UTC()}
}

// --- Read accessors ---

// GlobalStats summarizes the pool.
type GlobalStats struct {
	TotalSupply        sdkmath.Uint `json:"total_supply"`
	TotalSavingsAmount sdkmath.Uint `json:"total_savings_amount"`
}

// SavingAssetBalance is the pool's position in the lending protocol.
type SavingAssetBalance struct {
	Underlying sdkmath.Uint `json:"underlying"`
	Shares     sdkmath.Uint `json:"shares"`
}

func (c *LedgerFacade) BalanceOf(account uuid.UUID) sdkmath.Uint {
	return c.state.Accounts.BalanceOf(account)
}

func (c *LedgerFacade) Allowance(owner, spender uuid.UUID) sdkmath.Uint {
	return c.state.Accounts.Allowance(owner, spender)
}

func (c *LedgerFacade) TotalSupply() sdkmath.Uint {
	return c.state.Accounts.TotalSupply()
}

func (c *LedgerFacade) GetMaximumHatID() uint64 {
	return c.state.Hats.MaxID()
}

// GetHatByAddress returns the account's hat id and its recipients.
func (c *LedgerFacade) GetHatByAddress(account uuid.UUID) (ledger.BeneficiarySet, error) {
	return c.state.Hats.Get(c.state.Accounts.HatOf(account))
}

func (c *LedgerFacade) GetHatByID(hatID uint64) (ledger.BeneficiarySet, error) {
	return c.state.Hats.Get(hatID)
}

// GetAccount returns a copy of the account record.
func (c *LedgerFacade) GetAccount(account uuid.UUID) (*ledger.Account, bool) {
	acct, ok := c.state.Accounts.Peek(account)
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

// ReceivedLoanOf returns the principal loaned to account.
func (c *LedgerFacade) ReceivedLoanOf(account uuid.UUID) sdkmath.Uint {
	if acct, ok := c.state.Accounts.Peek(account); ok {
		return acct.LoanedDebt
	}
	return sdkmath.ZeroUint()
}

// ReceivedSavingsOf values account's invested shares at the stored rate.
func (c *LedgerFacade) ReceivedSavingsOf(ctx context.Context, account uuid.UUID) (sdkmath.Uint, error) {
	acct, ok := c.state.Accounts.Peek(account)
	if !ok {
		return sdkmath.ZeroUint(), nil
	}
	rate, err := c.oracle.Rate(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return fpmath.UnderlyingForShares(acct.InvestedShare, rate), nil
}

// InterestPayableOf returns unrealized interest at the stored rate.
func (c *LedgerFacade) InterestPayableOf(ctx context.Context, account uuid.UUID) (sdkmath.Uint, error) {
	rate, err := c.oracle.Rate(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return c.state.Accounts.ComputeInterestPayable(account, rate), nil
}

func (c *LedgerFacade) GetAccountStats(account uuid.UUID) ledger.AccountStats {
	if acct, ok := c.state.Accounts.Peek(account); ok {
		return acct.Stats
	}
	return ledger.AccountStats{CumulativeInterest: sdkmath.ZeroUint()}
}

func (c *LedgerFacade) GetGlobalStats(ctx context.Context) (GlobalStats, error) {
	bal, err := c.GetSavingAssetBalance(ctx)
	if err != nil {
		return GlobalStats{}, err
	}
	return GlobalStats{
		TotalSupply:        c.state.Accounts.TotalSupply(),
		TotalSavingsAmount: bal.Underlying,
	}, nil
}

func (c *LedgerFacade) GetSavingAssetBalance(ctx context.Context) (SavingAssetBalance, error) {
	shares, err := c.oracle.TotalInvestedShares(ctx)
	if err != nil {
		return SavingAssetBalance{}, err
	}
	rate, err := c.oracle.Rate(ctx)
	if err != nil {
		return SavingAssetBalance{}, err
	}
	return SavingAssetBalance{
		Underlying: fpmath.UnderlyingForShares(shares, rate),
		Shares:     shares,
	}, nil
}
