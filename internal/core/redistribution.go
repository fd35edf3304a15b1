package core

import (
	"RedirectLedger/internal/ledger"
	fpmath "RedirectLedger/internal/math"
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// DefaultMaxInheritanceDepth bounds how far hat inheritance may cascade
// through recipients during a single distribution.
const DefaultMaxInheritanceDepth = 8

// ExchangeOracle is the view of the lending protocol the engine and the
// facade depend on. *protocol.ExchangeOracle implements it.
type ExchangeOracle interface {
	Accrue(ctx context.Context) error
	Rate(ctx context.Context) (sdkmath.Uint, error)
	Invest(ctx context.Context, amount sdkmath.Uint) (sdkmath.Uint, error)
	Withdraw(ctx context.Context, amount sdkmath.Uint) (sdkmath.Uint, error)
	TotalInvestedShares(ctx context.Context) (sdkmath.Uint, error)
}

// InheritanceObserver is notified when a recipient inherits a hat during
// distribution, or when inheritance is cut off by the depth bound.
type InheritanceObserver interface {
	HatInherited(recipient uuid.UUID, hatID uint64, depth int)
	InheritanceTruncated(recipient uuid.UUID, hatID uint64, depth int)
}

// Redistributor moves loaned principal and invested shares between an
// owner and the recipients of the owner's hat. It holds no ledger state:
// every call receives the ledger context explicitly.
type Redistributor struct {
	oracle   ExchangeOracle
	maxDepth int
	observer InheritanceObserver
}

func NewRedistributor(oracle ExchangeOracle, maxDepth int, observer InheritanceObserver) *Redistributor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxInheritanceDepth
	}
	return &Redistributor{
		oracle:   oracle,
		maxDepth: maxDepth,
		observer: observer,
	}
}

// Distribute loans rAmount of owner's principal and sAmount of invested
// shares to the recipients of owner's hat.
func (r *Redistributor) Distribute(ctx context.Context, st *ledger.State, owner uuid.UUID, rAmount, sAmount sdkmath.Uint) error {
	visited := map[uuid.UUID]struct{}{owner: {}}
	return r.distribute(ctx, st, owner, rAmount, sAmount, visited, 0)
}

func (r *Redistributor) distribute(
	ctx context.Context,
	st *ledger.State,
	owner uuid.UUID,
	rAmount, sAmount sdkmath.Uint,
	visited map[uuid.UUID]struct{},
	depth int,
) error {
	acct := st.Accounts.Get(owner)
	hat, err := st.Hats.Get(acct.HatID)
	if err != nil {
		return fmt.Errorf("distribute for %s: %w", owner, err)
	}

	if hat.IsEmpty() {
		acct.LoanedDebt = acct.LoanedDebt.Add(rAmount)
		acct.InvestedShare = acct.InvestedShare.Add(sAmount)
		return nil
	}

	var heirs []uuid.UUID
	rLeft, sLeft := rAmount, sAmount
	last := len(hat.Recipients) - 1

	for i, recipient := range hat.Recipients {
		var debt, share sdkmath.Uint
		if i == last {
			debt, share = rLeft, sLeft
		} else {
			debt = fpmath.Proportion(rAmount, hat.Weights[i])
			share = fpmath.Proportion(sAmount, hat.Weights[i])
			rLeft = rLeft.Sub(debt)
			sLeft = sLeft.Sub(share)
		}

		// An owner's own slice stays on the owner side; there is no
		// LoanedTo edge from an account to itself.
		if recipient == owner {
			acct.LoanedDebt = acct.LoanedDebt.Add(debt)
			acct.InvestedShare = acct.InvestedShare.Add(share)
			continue
		}

		acct.AddLoanedTo(recipient, debt)
		rec := st.Accounts.Get(recipient)
		rec.LoanedDebt = rec.LoanedDebt.Add(debt)
		rec.InvestedShare = rec.InvestedShare.Add(share)

		if rec.HatID == ledger.NoHatID {
			heirs = append(heirs, recipient)
		}
	}

	for _, heir := range heirs {
		if err := r.inherit(ctx, st, heir, acct.HatID, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// inherit gives a hat-0 recipient the hat of the account that just loaned
// to it and re-loans the recipient's own holdings under that hat.
func (r *Redistributor) inherit(
	ctx context.Context,
	st *ledger.State,
	recipient uuid.UUID,
	hatID uint64,
	visited map[uuid.UUID]struct{},
	depth int,
) error {
	if _, seen := visited[recipient]; seen {
		return nil
	}
	if st.Accounts.HatOf(recipient) != ledger.NoHatID {
		return nil
	}
	if depth > r.maxDepth {
		if r.observer != nil {
			r.observer.InheritanceTruncated(recipient, hatID, depth)
		}
		return nil
	}
	visited[recipient] = struct{}{}

	held := st.Accounts.BalanceOf(recipient)
	if held.IsZero() {
		st.Accounts.SetHat(recipient, hatID)
		r.notifyInherited(recipient, hatID, depth)
		return nil
	}

	sAmount, err := r.EstimateAndRecollect(ctx, st, recipient, held)
	if err != nil {
		return err
	}
	st.Accounts.SetHat(recipient, hatID)
	r.notifyInherited(recipient, hatID, depth)
	return r.distribute(ctx, st, recipient, held, sAmount, visited, depth)
}

func (r *Redistributor) notifyInherited(recipient uuid.UUID, hatID uint64, depth int) {
	if r.observer != nil {
		r.observer.HatInherited(recipient, hatID, depth)
	}
}

// EstimateAndRecollect withdraws rAmount of owner's principal from the
// recipients of owner's current hat, along with an estimate of the shares
// it represents at the freshly accrued rate. The estimate is returned so
// the caller can re-loan it.
func (r *Redistributor) EstimateAndRecollect(ctx context.Context, st *ledger.State, owner uuid.UUID, rAmount sdkmath.Uint) (sdkmath.Uint, error) {
	if err := r.oracle.Accrue(ctx); err != nil {
		return sdkmath.ZeroUint(), err
	}
	rate, err := r.oracle.Rate(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	sAmount := fpmath.SharesForUnderlying(rAmount, rate)

	hat, err := st.Hats.Get(st.Accounts.HatOf(owner))
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("recollect for %s: %w", owner, err)
	}
	r.Recollect(st, owner, hat, rAmount, sAmount)
	return sAmount, nil
}

// RedeemAndRecollect redeems rAmount of underlying from the protocol and
// recollects owner's principal with the shares actually burned.
func (r *Redistributor) RedeemAndRecollect(ctx context.Context, st *ledger.State, owner uuid.UUID, rAmount sdkmath.Uint) (sdkmath.Uint, error) {
	hat, err := st.Hats.Get(st.Accounts.HatOf(owner))
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("recollect for %s: %w", owner, err)
	}
	burned, err := r.oracle.Withdraw(ctx, rAmount)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	r.Recollect(st, owner, hat, rAmount, burned)
	return burned, nil
}

// Recollect is the mirror of distribute for an explicit hat. Every
// decrement is clamped at zero; any excess is dropped.
func (r *Redistributor) Recollect(st *ledger.State, owner uuid.UUID, hat ledger.BeneficiarySet, rAmount, sAmount sdkmath.Uint) {
	acct := st.Accounts.Get(owner)

	if hat.IsEmpty() {
		acct.LoanedDebt = fpmath.SaturatingSub(acct.LoanedDebt, rAmount)
		acct.InvestedShare = fpmath.SaturatingSub(acct.InvestedShare, sAmount)
		return
	}

	rLeft, sLeft := rAmount, sAmount
	last := len(hat.Recipients) - 1

	for i, recipient := range hat.Recipients {
		var debt, share sdkmath.Uint
		if i == last {
			debt, share = rLeft, sLeft
		} else {
			debt = fpmath.Proportion(rAmount, hat.Weights[i])
			share = fpmath.Proportion(sAmount, hat.Weights[i])
			rLeft = rLeft.Sub(debt)
			sLeft = sLeft.Sub(share)
		}

		if recipient == owner {
			acct.LoanedDebt = fpmath.SaturatingSub(acct.LoanedDebt, debt)
			acct.InvestedShare = fpmath.SaturatingSub(acct.InvestedShare, share)
			continue
		}

		acct.ReduceLoanedTo(recipient, debt)
		rec := st.Accounts.Get(recipient)
		rec.LoanedDebt = fpmath.SaturatingSub(rec.LoanedDebt, debt)
		rec.InvestedShare = fpmath.SaturatingSub(rec.InvestedShare, share)
	}
}
