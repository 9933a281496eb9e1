package ledger

import "errors"

// Economic faults. These are raised before or during a mutation and roll the
// active scope back like any other fault; callers can distinguish them from
// contract faults (cvm.Fault), deliberate cancels (cvm.CancelError), and
// store faults (store.ErrStore) by type.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrSelfTransfer          = errors.New("source and destination are the same account")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientStake     = errors.New("insufficient stake")
	ErrInsufficientShares    = errors.New("insufficient pool shares")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
)

// Row and state violations.
var (
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrDuplicateCurrency = errors.New("currency symbol already exists")
	ErrNotIssuer         = errors.New("caller is not the currency issuer")
	ErrMintingRenounced  = errors.New("minting has been renounced")
	ErrSupplyNotZero     = errors.New("currency supply is not zero")

	ErrRateChangePending = errors.New("a rate change is already pending")
	ErrNoRateChange      = errors.New("no pending rate change")
	ErrRateChangeLocked  = errors.New("rate change timelock has not elapsed")

	ErrUnknownTransfer = errors.New("unknown transfer")

	ErrUnknownClaim  = errors.New("unknown claim")
	ErrClaimSettled  = errors.New("claim is not pending")
	ErrNotClaimPayer = errors.New("caller is not the claim payer")
	ErrNotClaimParty = errors.New("caller is not a claim party")

	ErrUnknownPool   = errors.New("unknown pool")
	ErrDuplicatePool = errors.New("pool already exists for currency pair")
	ErrNoRoute       = errors.New("no swap route between currencies")

	ErrNoContract      = errors.New("account has no contract")
	ErrScriptTooLong   = errors.New("contract source exceeds length ceiling")
	ErrScriptTooCostly = errors.New("contract static cost exceeds ceiling")

	ErrVariableQuota = errors.New("contract variable quota exceeded")
)
