package ledger

import (
	"encoding/binary"

	"github.com/scrip-ledger/scrip/internal/types"
)

// Key prefixes for the row store. Prefixes allow efficient iteration over
// one entity kind; composite keys separate variable-length parts with a
// zero byte (account ids never contain one).
var (
	prefixCurrency  = []byte{0x01} // + currency id
	prefixSymbol    = []byte{0x02} // + symbol -> currency id
	prefixBalance   = []byte{0x03} // + account + 0x00 + currency id
	prefixTransfer  = []byte{0x04} // + transfer id
	prefixContract  = []byte{0x05} // + account
	prefixVariable  = []byte{0x06} // + account + 0x00 + key
	prefixClaim     = []byte{0x07} // + claim id
	prefixStake     = []byte{0x08} // + account + 0x00 + currency id
	prefixAllowance = []byte{0x09} // + owner + 0x00 + spender + 0x00 + currency id
	prefixPool      = []byte{0x0a} // + pool id
	prefixPoolPair  = []byte{0x0b} // + currency id pair -> pool id
	prefixProvider  = []byte{0x0c} // + pool id + account
	prefixSeq       = []byte{0x0d} // + sequence name
)

// Sequence names. The transfer sequence is the id-allocation sentinel row
// locked before computing the next id.
const (
	seqTransfer = "transfer"
	seqCurrency = "currency"
	seqClaim    = "claim"
	seqPool     = "pool"
)

func u64be(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func compose(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0x00)
		}
		key = append(key, p...)
	}
	return key
}

func keyCurrency(id types.CurrencyID) []byte {
	return compose(prefixCurrency, u64be(uint64(id)))
}

func keySymbol(symbol string) []byte {
	return compose(prefixSymbol, []byte(symbol))
}

func keyBalance(account types.AccountID, cur types.CurrencyID) []byte {
	return compose(prefixBalance, []byte(account), u64be(uint64(cur)))
}

func keyTransfer(id types.TransferID) []byte {
	return compose(prefixTransfer, u64be(uint64(id)))
}

func keyContract(owner types.AccountID) []byte {
	return compose(prefixContract, []byte(owner))
}

func keyVariable(owner types.AccountID, name string) []byte {
	return compose(prefixVariable, []byte(owner), []byte(name))
}

func prefixVariables(owner types.AccountID) []byte {
	return append(compose(prefixVariable, []byte(owner)), 0x00)
}

func keyClaim(id types.ClaimID) []byte {
	return compose(prefixClaim, u64be(uint64(id)))
}

func keyStake(account types.AccountID, cur types.CurrencyID) []byte {
	return compose(prefixStake, []byte(account), u64be(uint64(cur)))
}

func keyAllowance(owner, spender types.AccountID, cur types.CurrencyID) []byte {
	return compose(prefixAllowance, []byte(owner), []byte(spender), u64be(uint64(cur)))
}

func keyPool(id types.PoolID) []byte {
	return compose(prefixPool, u64be(uint64(id)))
}

func keyPoolPair(a, b types.CurrencyID) []byte {
	return compose(prefixPoolPair, u64be(uint64(a)), u64be(uint64(b)))
}

func keyProvider(pool types.PoolID, account types.AccountID) []byte {
	return compose(prefixProvider, u64be(uint64(pool)), []byte(account))
}

func keySeq(name string) []byte {
	return compose(prefixSeq, []byte(name))
}
