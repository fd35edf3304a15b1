package core

import (
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ledger"
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// --- Handlers (run inside a ledger transaction) ---

func (c *LedgerFacade) handleDeposit(ctx context.Context, evt *event.Deposit) (Result, error) {
	if evt.Amount.IsZero() {
		return Result{}, fmt.Errorf("deposit: %w", ledger.ErrInvalidAmount)
	}
	if evt.HatID != nil && evt.NewHat != nil {
		return Result{}, fmt.Errorf("deposit: %w: both hat_id and new_hat given", ledger.ErrInvalidBeneficiarySet)
	}

	switch {
	case evt.NewHat != nil:
		if _, err := c.createHat(ctx, evt.Account, evt.NewHat.Recipients, evt.NewHat.Weights, true); err != nil {
			return Result{}, fmt.Errorf("deposit: %w", err)
		}
	case evt.HatID != nil:
		if err := c.changeHat(ctx, evt.Account, *evt.HatID); err != nil {
			return Result{}, fmt.Errorf("deposit: %w", err)
		}
	}

	if err := c.deposit(ctx, evt.Account, evt.Amount); err != nil {
		return Result{}, fmt.Errorf("deposit: %w", err)
	}
	return Result{HatID: c.state.Accounts.HatOf(evt.Account), Amount: evt.Amount}, nil
}

func (c *LedgerFacade) handleWithdraw(ctx context.Context, evt *event.Withdraw) (Result, error) {
	amount := evt.Amount
	if evt.All {
		amount = c.state.Accounts.BalanceOf(evt.Account)
	}
	if err := c.withdraw(ctx, evt.Account, evt.Destination(), amount); err != nil {
		return Result{}, fmt.Errorf("withdraw: %w", err)
	}
	return Result{HatID: c.state.Accounts.HatOf(evt.Account), Amount: amount}, nil
}

func (c *LedgerFacade) handleTransfer(ctx context.Context, evt *event.Transfer) (Result, error) {
	amount := evt.Amount
	if evt.All {
		amount = c.state.Accounts.BalanceOf(evt.Src)
	}
	if err := c.transfer(ctx, evt.Spender, evt.Src, evt.Dst, amount); err != nil {
		return Result{}, fmt.Errorf("transfer: %w", err)
	}
	return Result{HatID: c.state.Accounts.HatOf(evt.Dst), Amount: amount}, nil
}

func (c *LedgerFacade) handleApprove(evt *event.Approve) (Result, error) {
	c.state.Accounts.Approve(evt.Owner, evt.Spender, evt.Amount)
	return Result{HatID: c.state.Accounts.HatOf(evt.Owner), Amount: evt.Amount}, nil
}

func (c *LedgerFacade) handleCreateHat(ctx context.Context, evt *event.CreateHat) (Result, error) {
	id, err := c.createHat(ctx, evt.Creator, evt.Recipients, evt.Weights, evt.Apply)
	if err != nil {
		return Result{}, fmt.Errorf("create hat: %w", err)
	}
	return Result{HatID: id, Amount: sdkmath.ZeroUint()}, nil
}

func (c *LedgerFacade) handleChangeHat(ctx context.Context, evt *event.ChangeHat) (Result, error) {
	if err := c.changeHat(ctx, evt.Account, evt.HatID); err != nil {
		return Result{}, fmt.Errorf("change hat: %w", err)
	}
	return Result{HatID: evt.HatID, Amount: c.state.Accounts.BalanceOf(evt.Account)}, nil
}

func (c *LedgerFacade) handlePayInterest(ctx context.Context, evt *event.PayInterest) (Result, error) {
	paid, err := c.payInterest(ctx, evt.Account)
	if err != nil {
		return Result{}, fmt.Errorf("pay interest: %w", err)
	}
	return Result{HatID: c.state.Accounts.HatOf(evt.Account), Amount: paid}, nil
}

// --- Operation bodies ---

// deposit pulls underlying, invests it and loans the new principal and
// shares out under the caller's hat.
func (c *LedgerFacade) deposit(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) error {
	if err := c.token.TransferFrom(ctx, c.cfg.Pool, account, c.cfg.Pool, amount); err != nil {
		return fmt.Errorf("pull underlying from %s: %w", account, err)
	}

	minted, err := c.oracle.Invest(ctx, amount)
	if err != nil {
		c.refund(ctx, account, amount)
		return err
	}

	c.state.Accounts.Credit(account, amount)
	if err := c.engine.Distribute(ctx, c.state, account, amount, minted); err != nil {
		c.unwindInvestment(ctx, account, amount)
		return err
	}
	return nil
}

// withdraw redeems underlying, recollects the principal from the caller's
// recipients, burns the balance and sends the underlying to dst.
func (c *LedgerFacade) withdraw(ctx context.Context, account, dst uuid.UUID, amount sdkmath.Uint) error {
	if amount.IsZero() {
		return ledger.ErrInvalidAmount
	}
	if have := c.state.Accounts.BalanceOf(account); have.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ledger.ErrInsufficientBalance, account, have, amount)
	}

	if _, err := c.engine.RedeemAndRecollect(ctx, c.state, account, amount); err != nil {
		return err
	}
	if err := c.state.Accounts.Debit(account, amount); err != nil {
		c.reinvest(ctx, amount)
		return err
	}
	if err := c.token.Transfer(ctx, c.cfg.Pool, dst, amount); err != nil {
		c.reinvest(ctx, amount)
		return fmt.Errorf("send underlying to %s: %w", dst, err)
	}
	return nil
}

// transfer moves redeemable balance and the matching loans from src's hat
// to dst's hat. A hat-less dst first takes src's hat, SELF included.
func (c *LedgerFacade) transfer(ctx context.Context, spender, src, dst uuid.UUID, amount sdkmath.Uint) error {
	if src == dst {
		return ledger.ErrSameAccountTransfer
	}
	if have := c.state.Accounts.BalanceOf(src); have.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ledger.ErrInsufficientBalance, src, have, amount)
	}
	if spender != uuid.Nil && spender != src {
		if err := c.state.Accounts.SpendAllowance(src, spender, amount); err != nil {
			return err
		}
	}

	// Inheritance only sets the hat; dst's existing loans stay where they are.
	if srcHat := c.state.Accounts.HatOf(src); c.state.Accounts.HatOf(dst) == ledger.NoHatID && srcHat != ledger.NoHatID {
		c.state.Accounts.SetHat(dst, srcHat)
	}

	if err := c.state.Accounts.Move(src, dst, amount); err != nil {
		return err
	}
	sAmount, err := c.engine.EstimateAndRecollect(ctx, c.state, src, amount)
	if err != nil {
		return err
	}
	return c.engine.Distribute(ctx, c.state, dst, amount, sAmount)
}

// changeHat switches account to an existing hat chosen by the account.
func (c *LedgerFacade) changeHat(ctx context.Context, account uuid.UUID, hatID uint64) error {
	if !c.state.Hats.Exists(hatID) {
		return fmt.Errorf("%w: %d", ledger.ErrUnknownHat, hatID)
	}
	hat, err := c.state.Hats.Get(hatID)
	if err != nil {
		return err
	}
	if hat.Lists(account) {
		return fmt.Errorf("%w: %s in hat %d", ledger.ErrSelfReferencingHat, account, hatID)
	}
	return c.switchHat(ctx, account, hatID)
}

// switchHat re-loans account's holdings under hatID.
func (c *LedgerFacade) switchHat(ctx context.Context, account uuid.UUID, hatID uint64) error {
	held := c.state.Accounts.BalanceOf(account)
	if held.IsZero() {
		c.state.Accounts.SetHat(account, hatID)
		return nil
	}

	sAmount, err := c.engine.EstimateAndRecollect(ctx, c.state, account, held)
	if err != nil {
		return err
	}
	c.state.Accounts.SetHat(account, hatID)
	return c.engine.Distribute(ctx, c.state, account, held, sAmount)
}

func (c *LedgerFacade) createHat(ctx context.Context, creator uuid.UUID, recipients []uuid.UUID, weights []uint32, apply bool) (uint64, error) {
	if err := ledger.ValidateRecipients(recipients, weights); err != nil {
		return 0, err
	}
	if apply {
		for _, r := range recipients {
			if r == creator {
				return 0, fmt.Errorf("%w: %s", ledger.ErrSelfReferencingHat, creator)
			}
		}
	}

	id, err := c.state.Hats.Create(recipients, weights)
	if err != nil {
		return 0, err
	}
	if apply {
		if err := c.switchHat(ctx, creator, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (c *LedgerFacade) payInterest(ctx context.Context, account uuid.UUID) (sdkmath.Uint, error) {
	if err := c.oracle.Accrue(ctx); err != nil {
		return sdkmath.ZeroUint(), err
	}
	rate, err := c.oracle.Rate(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	payable := c.state.Accounts.ComputeInterestPayable(account, rate)
	c.state.Accounts.ApplyInterest(account, payable)
	return payable, nil
}

// --- Compensation for external effects of a failed operation ---

func (c *LedgerFacade) refund(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) {
	if err := c.token.Transfer(ctx, c.cfg.Pool, account, amount); err != nil {
		c.logger.Error().Err(err).Str("account", account.String()).Str("amount", amount.String()).
			Msg("refund after failed deposit did not complete")
	}
}

func (c *LedgerFacade) unwindInvestment(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) {
	if _, err := c.oracle.Withdraw(ctx, amount); err != nil {
		c.logger.Error().Err(err).Str("account", account.String()).Str("amount", amount.String()).
			Msg("redeem after failed deposit did not complete")
		return
	}
	c.refund(ctx, account, amount)
}

func (c *LedgerFacade) reinvest(ctx context.Context, amount sdkmath.Uint) {
	if _, err := c.oracle.Invest(ctx, amount); err != nil {
		c.logger.Error().Err(err).Str("amount", amount.String()).
			Msg("re-invest after failed withdraw did not complete")
	}
}
