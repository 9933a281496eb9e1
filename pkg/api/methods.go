package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/scrip-ledger/scrip/internal/types"
)

// decodeParams unmarshals named params into dst.
func decodeParams(params json.RawMessage, dst interface{}) *RPCError {
	if len(params) == 0 {
		return ErrInvalidParams
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return InvalidParamsErrorf("invalid params: %v", err)
	}
	return nil
}

// Query methods

func (s *Server) getHealth(json.RawMessage) (interface{}, *RPCError) {
	return "ok", nil
}

func (s *Server) getVersion(json.RawMessage) (interface{}, *RPCError) {
	return map[string]string{"scrip-core": Version}, nil
}

func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Account  types.AccountID  `json:"account"`
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := s.engine.Balance(p.Account, p.Currency)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"balance": bal}, nil
}

func (s *Server) getCurrency(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID     types.CurrencyID `json:"id,omitempty"`
		Symbol string           `json:"symbol,omitempty"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Symbol != "" {
		c, err := s.engine.CurrencyBySymbol(p.Symbol)
		if err != nil {
			return nil, domainError(err)
		}
		return c, nil
	}
	c, err := s.engine.Currency(p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return c, nil
}

func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.TransferID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.Transaction(p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

func (s *Server) getClaim(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.ClaimID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	c, err := s.engine.Claim(p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return c, nil
}

func (s *Server) getPool(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.PoolID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	pool, err := s.engine.Pool(p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return pool, nil
}

func (s *Server) getStake(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Account  types.AccountID  `json:"account"`
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.engine.StakeOf(p.Account, p.Currency)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"staked": amount}, nil
}

func (s *Server) getAllowance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Owner    types.AccountID  `json:"owner"`
		Spender  types.AccountID  `json:"spender"`
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.engine.Allowance(p.Owner, p.Spender, p.Currency)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"allowance": amount}, nil
}

func (s *Server) getContract(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Account types.AccountID `json:"account"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	c, err := s.engine.Contract(p.Account)
	if err != nil {
		return nil, domainError(err)
	}
	src, err := s.engine.ContractSource(p.Account)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]interface{}{
		"owner":      c.Owner,
		"source":     src,
		"digest":     c.Digest,
		"staticCost": c.StaticCost,
		"maxCost":    c.MaxCost,
	}, nil
}

func (s *Server) getExecution(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.ExecutionID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	rec, err := s.engine.Journal().Get(p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return rec, nil
}

// Fund methods

func (s *Server) transfer(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Dest     types.AccountID  `json:"dest"`
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.Transfer(caller, p.Dest, p.Currency, p.Amount)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

func (s *Server) approve(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Spender  types.AccountID  `json:"spender"`
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.Approve(caller, p.Spender, p.Currency, p.Amount); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) transferFrom(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Owner    types.AccountID  `json:"owner"`
		Dest     types.AccountID  `json:"dest"`
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.TransferFrom(caller, p.Owner, p.Dest, p.Currency, p.Amount)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

// Currency methods

func (s *Server) createCurrency(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol    string `json:"symbol"`
		DailyRate string `json:"dailyRate,omitempty"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	rate := decimal.Zero
	if p.DailyRate != "" {
		var err error
		rate, err = decimal.NewFromString(p.DailyRate)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid dailyRate: %v", err)
		}
	}
	c, err := s.engine.CreateCurrency(caller, p.Symbol, rate)
	if err != nil {
		return nil, domainError(err)
	}
	return c, nil
}

func (s *Server) mint(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Dest     types.AccountID  `json:"dest"`
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.Mint(caller, p.Dest, p.Currency, p.Amount)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

func (s *Server) burn(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.Burn(caller, p.Currency, p.Amount)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

func (s *Server) renounceMinting(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RenounceMinting(caller, p.Currency); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) deleteCurrency(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DeleteCurrency(caller, p.Currency); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) requestRateChange(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency  types.CurrencyID `json:"currency"`
		DailyRate string           `json:"dailyRate"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	rate, err := decimal.NewFromString(p.DailyRate)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid dailyRate: %v", err)
	}
	if err := s.engine.RequestRateChange(caller, p.Currency, rate); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) applyRateChange(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.ApplyRateChange(caller, p.Currency); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

// Staking methods

func (s *Server) stakeDeposit(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.StakeDeposit(caller, p.Currency, p.Amount); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) stakeWithdraw(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.StakeWithdraw(caller, p.Currency, p.Amount); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

// Claim methods

func (s *Server) createClaim(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Payer    types.AccountID  `json:"payer"`
		Currency types.CurrencyID `json:"currency"`
		Amount   int64            `json:"amount"`
		Memo     string           `json:"memo,omitempty"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	c, err := s.engine.CreateClaim(caller, p.Payer, p.Currency, p.Amount, p.Memo)
	if err != nil {
		return nil, domainError(err)
	}
	return c, nil
}

func (s *Server) payClaim(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.ClaimID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.engine.PayClaim(caller, p.ID)
	if err != nil {
		return nil, domainError(err)
	}
	return t, nil
}

func (s *Server) cancelClaim(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		ID types.ClaimID `json:"id"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.CancelClaim(caller, p.ID); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

// Contract methods

func (s *Server) setContract(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Source  string `json:"source"`
		MaxCost *int64 `json:"maxCost,omitempty"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	c, err := s.engine.SetContract(caller, p.Source, p.MaxCost)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]interface{}{
		"digest":     c.Digest,
		"staticCost": c.StaticCost,
	}, nil
}

func (s *Server) removeContract(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	if err := s.engine.RemoveContract(caller); err != nil {
		return nil, domainError(err)
	}
	return true, nil
}

func (s *Server) invoke(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Target types.AccountID `json:"target"`
		Input  string          `json:"input,omitempty"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	rec, err := s.engine.Invoke(caller, p.Target, p.Input)
	if rec != nil {
		// The audit record reports the outcome either way; a fault or
		// cancel is carried inside it rather than duplicated as an error.
		return rec, nil
	}
	return nil, domainError(err)
}

// Pool methods

func (s *Server) createPool(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		CurrencyA types.CurrencyID `json:"currencyA"`
		CurrencyB types.CurrencyID `json:"currencyB"`
		AmountA   int64            `json:"amountA"`
		AmountB   int64            `json:"amountB"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	pool, err := s.engine.CreatePool(caller, p.CurrencyA, p.CurrencyB, p.AmountA, p.AmountB)
	if err != nil {
		return nil, domainError(err)
	}
	return pool, nil
}

func (s *Server) addLiquidity(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Pool    types.PoolID `json:"pool"`
		AmountA int64        `json:"amountA"`
		MaxB    int64        `json:"maxB"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	shares, err := s.engine.AddLiquidity(caller, p.Pool, p.AmountA, p.MaxB)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"shares": shares}, nil
}

func (s *Server) removeLiquidity(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Pool   types.PoolID `json:"pool"`
		Shares int64        `json:"shares"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	outA, outB, err := s.engine.RemoveLiquidity(caller, p.Pool, p.Shares)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"amountA": outA, "amountB": outB}, nil
}

func (s *Server) swap(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		From   types.CurrencyID `json:"from"`
		To     types.CurrencyID `json:"to"`
		Amount int64            `json:"amount"`
	}
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.engine.Swap(caller, p.From, p.To, p.Amount)
	if err != nil {
		return nil, domainError(err)
	}
	return map[string]int64{"amountOut": out}, nil
}
