package cvm

import (
	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
)

// ledgerOp dispatches opcodes that call through the ledger facade. Facade
// errors keep their type (the engine distinguishes economic faults, cancels,
// and store faults) but gain instruction attribution on the way out.
func (m *VM) ledgerOp(ins *ir.Instruction) error {
	switch ins.Op {
	case ir.OpTransfer:
		dest, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amount, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		if err := m.ledger.Transfer(types.AccountID(dest), types.CurrencyID(currency), amount); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpBalance:
		account, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		bal, err := m.ledger.Balance(types.AccountID(account), types.CurrencyID(currency))
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, bal)

	case ir.OpStoreGet:
		key, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		val, err := m.ledger.StoreGet(key)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, val)

	case ir.OpStoreSet:
		key, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		val, err := m.arg(ins, 1)
		if err != nil {
			return err
		}
		if err := m.ledger.StoreSet(key, stringify(val)); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpApprove:
		spender, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amount, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		if err := m.ledger.Approve(types.AccountID(spender), types.CurrencyID(currency), amount); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpTransferFrom:
		owner, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		dest, err := m.argStr(ins, 1)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		amount, err := m.argInt(ins, 3)
		if err != nil {
			return err
		}
		if err := m.ledger.TransferFrom(types.AccountID(owner), types.AccountID(dest), types.CurrencyID(currency), amount); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpAllowance:
		owner, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		spender, err := m.argStr(ins, 1)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		amount, err := m.ledger.Allowance(types.AccountID(owner), types.AccountID(spender), types.CurrencyID(currency))
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, amount)

	case ir.OpCurrency:
		id, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		row, err := m.ledger.Currency(types.CurrencyID(id))
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, row)

	case ir.OpTransaction:
		id, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		row, err := m.ledger.Transaction(types.TransferID(id))
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, row)

	case ir.OpClaimCreate:
		payer, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		currency, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amount, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		memo := ""
		if len(ins.Args) > 3 {
			v, err := m.arg(ins, 3)
			if err != nil {
				return err
			}
			memo = stringify(v)
		}
		id, err := m.ledger.ClaimCreate(types.AccountID(payer), types.CurrencyID(currency), amount, memo)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, int64(id))

	case ir.OpClaimPay:
		id, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		if err := m.ledger.ClaimPay(types.ClaimID(id)); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpClaimCancel:
		id, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		if err := m.ledger.ClaimCancel(types.ClaimID(id)); err != nil {
			return m.fault(ins, err)
		}
		return nil

	case ir.OpExecute:
		target, err := m.argStr(ins, 0)
		if err != nil {
			return err
		}
		input := ""
		if len(ins.Args) > 1 {
			v, err := m.arg(ins, 1)
			if err != nil {
				return err
			}
			input = stringify(v)
		}
		out, err := m.ledger.Execute(types.AccountID(target), input)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, out)

	case ir.OpSwap:
		from, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		to, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amountIn, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		out, err := m.ledger.Swap(types.CurrencyID(from), types.CurrencyID(to), amountIn)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, out)

	case ir.OpAddLiq:
		pool, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		amountA, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amountB, err := m.argInt(ins, 2)
		if err != nil {
			return err
		}
		shares, err := m.ledger.AddLiquidity(types.PoolID(pool), amountA, amountB)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, shares)

	case ir.OpRemoveLiq:
		pool, err := m.argInt(ins, 0)
		if err != nil {
			return err
		}
		shares, err := m.argInt(ins, 1)
		if err != nil {
			return err
		}
		amounts, err := m.ledger.RemoveLiquidity(types.PoolID(pool), shares)
		if err != nil {
			return m.fault(ins, err)
		}
		return m.bind(ins, amounts)
	}

	return m.fault(ins, ErrUnknownOpcode)
}
