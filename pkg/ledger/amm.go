package ledger

import (
	"fmt"
	"math/big"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/cvm"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// poolAccount is the custody account holding a pool's reserves. Reserves
// move through ordinary transfers, so the pair and supply invariants hold
// for pool flows like any other.
func poolAccount(id types.PoolID) types.AccountID {
	return types.AccountID(fmt.Sprintf("pool:%d", uint64(id)))
}

// canonicalPair orders a currency pair. Pools store the smaller id first.
func canonicalPair(a, b types.CurrencyID) (types.CurrencyID, types.CurrencyID, bool) {
	if a < b {
		return a, b, false
	}
	return b, a, true
}

// CreatePool creates a constant-product pool over a currency pair, seeding
// it with the caller's initial deposit. Initial shares are the integer
// square root of the deposit product. One pool per pair.
func (e *Engine) CreatePool(caller types.AccountID, curA, curB types.CurrencyID, amountA, amountB int64) (*Pool, error) {
	if amountA <= 0 || amountB <= 0 {
		return nil, ErrInvalidAmount
	}
	if curA == curB {
		return nil, fmt.Errorf("%w: identical currencies", ErrInvalidAmount)
	}
	curA, curB, swapped := canonicalPair(curA, curB)
	if swapped {
		amountA, amountB = amountB, amountA
	}

	var p *Pool
	err := e.store.Update(func(sc *store.Scope) error {
		pairKey := keyPoolPair(curA, curB)
		sc.Lock(string(pairKey))

		if _, ok, err := sc.Get(pairKey); err != nil {
			return err
		} else if ok {
			return ErrDuplicatePool
		}
		if _, err := e.getCurrency(sc, curA); err != nil {
			return err
		}
		if _, err := e.getCurrency(sc, curB); err != nil {
			return err
		}

		id, err := e.nextID(sc, seqPool)
		if err != nil {
			return err
		}
		p = &Pool{
			ID:        types.PoolID(id),
			CurrencyA: curA,
			CurrencyB: curB,
		}
		custody := poolAccount(p.ID)
		if _, err := e.transfer(sc, nil, caller, custody, curA, amountA, 0); err != nil {
			return err
		}
		if _, err := e.transfer(sc, nil, caller, custody, curB, amountB, 0); err != nil {
			return err
		}
		p.ReserveA = amountA
		p.ReserveB = amountB
		p.TotalShares = isqrt(amountA, amountB)
		if p.TotalShares <= 0 {
			return ErrInsufficientLiquidity
		}

		if err := putRow(sc, keyPool(p.ID), p); err != nil {
			return err
		}
		if err := sc.Set(pairKey, u64be(id)); err != nil {
			return err
		}
		return putRow(sc, keyProvider(p.ID, caller), &Provider{
			Pool:    p.ID,
			Account: caller,
			Shares:  p.TotalShares,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddLiquidity deposits into a pool at the current reserve ratio and mints
// proportional shares. The second amount is a ceiling: the actual B deposit
// is derived from amountA and the ratio, and must not exceed maxB.
func (e *Engine) AddLiquidity(caller types.AccountID, pool types.PoolID, amountA, maxB int64) (int64, error) {
	var shares int64
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		shares, err = e.addLiquidity(sc, nil, caller, pool, amountA, maxB)
		return err
	})
	return shares, err
}

func (e *Engine) addLiquidity(sc *store.Scope, chain *cvm.ChainContext, caller types.AccountID, pool types.PoolID, amountA, maxB int64) (int64, error) {
	if amountA <= 0 || maxB <= 0 {
		return 0, ErrInvalidAmount
	}
	poolKey := keyPool(pool)
	sc.Lock(string(poolKey))

	p, err := e.getPool(sc, pool)
	if err != nil {
		return 0, err
	}
	if p.ReserveA <= 0 || p.ReserveB <= 0 || p.TotalShares <= 0 {
		return 0, ErrInsufficientLiquidity
	}

	// amountB = ceil(amountA * reserveB / reserveA) keeps the deposit at or
	// above the pool ratio so existing providers are never diluted.
	amountB := mulDivCeil(amountA, p.ReserveB, p.ReserveA)
	if amountB > maxB {
		return 0, fmt.Errorf("%w: requires %d of second currency", ErrInvalidAmount, amountB)
	}
	shares := mulDiv(amountA, p.TotalShares, p.ReserveA)
	if shares <= 0 {
		return 0, ErrInsufficientLiquidity
	}

	custody := poolAccount(p.ID)
	if _, err := e.transfer(sc, chain, caller, custody, p.CurrencyA, amountA, 0); err != nil {
		return 0, err
	}
	if _, err := e.transfer(sc, chain, caller, custody, p.CurrencyB, amountB, 0); err != nil {
		return 0, err
	}
	p.ReserveA += amountA
	p.ReserveB += amountB
	p.TotalShares += shares
	if err := putRow(sc, poolKey, p); err != nil {
		return 0, err
	}

	provKey := keyProvider(p.ID, caller)
	sc.Lock(string(provKey))
	prov := &Provider{Pool: p.ID, Account: caller}
	if _, err := getRow(sc, provKey, prov); err != nil {
		return 0, err
	}
	prov.Shares += shares
	if err := putRow(sc, provKey, prov); err != nil {
		return 0, err
	}
	return shares, nil
}

// RemoveLiquidity burns the caller's shares and pays out the proportional
// slice of both reserves.
func (e *Engine) RemoveLiquidity(caller types.AccountID, pool types.PoolID, shares int64) (int64, int64, error) {
	var outA, outB int64
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		outA, outB, err = e.removeLiquidity(sc, nil, caller, pool, shares)
		return err
	})
	return outA, outB, err
}

func (e *Engine) removeLiquidity(sc *store.Scope, chain *cvm.ChainContext, caller types.AccountID, pool types.PoolID, shares int64) (int64, int64, error) {
	if shares <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	poolKey := keyPool(pool)
	sc.Lock(string(poolKey))

	p, err := e.getPool(sc, pool)
	if err != nil {
		return 0, 0, err
	}

	provKey := keyProvider(p.ID, caller)
	sc.Lock(string(provKey))
	var prov Provider
	ok, err := getRow(sc, provKey, &prov)
	if err != nil {
		return 0, 0, err
	}
	if !ok || prov.Shares < shares {
		return 0, 0, ErrInsufficientShares
	}

	outA := mulDiv(shares, p.ReserveA, p.TotalShares)
	outB := mulDiv(shares, p.ReserveB, p.TotalShares)
	if outA <= 0 || outB <= 0 {
		return 0, 0, ErrInsufficientLiquidity
	}

	custody := poolAccount(p.ID)
	if _, err := e.transfer(sc, chain, custody, caller, p.CurrencyA, outA, 0); err != nil {
		return 0, 0, err
	}
	if _, err := e.transfer(sc, chain, custody, caller, p.CurrencyB, outB, 0); err != nil {
		return 0, 0, err
	}

	p.ReserveA -= outA
	p.ReserveB -= outB
	p.TotalShares -= shares
	if err := putRow(sc, poolKey, p); err != nil {
		return 0, 0, err
	}

	prov.Shares -= shares
	if prov.Shares == 0 {
		err = sc.Delete(provKey)
	} else {
		err = putRow(sc, provKey, &prov)
	}
	if err != nil {
		return 0, 0, err
	}
	return outA, outB, nil
}

// Swap trades amountIn of one currency for another along the cheapest-hop
// pool route and returns the amount received.
func (e *Engine) Swap(caller types.AccountID, from, to types.CurrencyID, amountIn int64) (int64, error) {
	var out int64
	err := e.store.Update(func(sc *store.Scope) error {
		var err error
		out, err = e.swap(sc, nil, caller, from, to, amountIn)
		return err
	})
	return out, err
}

// swap routes a trade. A direct pool is always preferred; otherwise a
// breadth-first search over the pool pair graph finds a shortest hop chain,
// and each hop applies the swap fee then constant-product pricing against
// that hop's pool.
func (e *Engine) swap(sc *store.Scope, chain *cvm.ChainContext, caller types.AccountID, from, to types.CurrencyID, amountIn int64) (int64, error) {
	if amountIn <= 0 {
		return 0, ErrInvalidAmount
	}
	if from == to {
		return 0, fmt.Errorf("%w: identical currencies", ErrInvalidAmount)
	}

	route, err := e.findRoute(sc, from, to)
	if err != nil {
		return 0, err
	}

	amount := amountIn
	hopFrom := from
	for _, poolID := range route {
		amount, hopFrom, err = e.swapHop(sc, chain, caller, poolID, hopFrom, amount)
		if err != nil {
			return 0, err
		}
	}
	return amount, nil
}

// swapHop executes one hop: caller pays amountIn of cur into the pool and
// receives the constant-product output of the other side.
func (e *Engine) swapHop(sc *store.Scope, chain *cvm.ChainContext, caller types.AccountID, poolID types.PoolID, cur types.CurrencyID, amountIn int64) (int64, types.CurrencyID, error) {
	poolKey := keyPool(poolID)
	sc.Lock(string(poolKey))

	p, err := e.getPool(sc, poolID)
	if err != nil {
		return 0, 0, err
	}

	var resIn, resOut int64
	var curOut types.CurrencyID
	switch cur {
	case p.CurrencyA:
		resIn, resOut, curOut = p.ReserveA, p.ReserveB, p.CurrencyB
	case p.CurrencyB:
		resIn, resOut, curOut = p.ReserveB, p.ReserveA, p.CurrencyA
	default:
		return 0, 0, ErrUnknownPool
	}
	if resIn <= 0 || resOut <= 0 {
		return 0, 0, ErrInsufficientLiquidity
	}

	// Fee comes off the input, then x*y=k prices the remainder.
	effective := amountIn - mulDivCeil(amountIn, e.cfg.SwapFeeBps, 10_000)
	if effective <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	amountOut := mulDiv(effective, resOut, resIn+effective)
	if amountOut <= 0 || amountOut >= resOut {
		return 0, 0, ErrInsufficientLiquidity
	}

	custody := poolAccount(p.ID)
	if _, err := e.transfer(sc, chain, caller, custody, cur, amountIn, 0); err != nil {
		return 0, 0, err
	}
	if _, err := e.transfer(sc, chain, custody, caller, curOut, amountOut, 0); err != nil {
		return 0, 0, err
	}

	if cur == p.CurrencyA {
		p.ReserveA += amountIn
		p.ReserveB -= amountOut
	} else {
		p.ReserveB += amountIn
		p.ReserveA -= amountOut
	}
	if err := putRow(sc, poolKey, p); err != nil {
		return 0, 0, err
	}
	return amountOut, curOut, nil
}

// findRoute returns the pool ids along a shortest route between two
// currencies. A direct pool wins outright; ties between equal-length routes
// break on discovery order, which follows key order over the pair index.
func (e *Engine) findRoute(sc *store.Scope, from, to types.CurrencyID) ([]types.PoolID, error) {
	a, b, _ := canonicalPair(from, to)
	if raw, ok, err := sc.Get(keyPoolPair(a, b)); err != nil {
		return nil, err
	} else if ok {
		return []types.PoolID{poolIDFromIndex(raw)}, nil
	}

	edges, err := e.pairGraph(sc)
	if err != nil {
		return nil, err
	}

	type hop struct {
		cur  types.CurrencyID
		pool types.PoolID
	}
	prev := map[types.CurrencyID]hop{from: {}}
	queue := []types.CurrencyID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			break
		}
		for _, edge := range edges[cur] {
			if _, seen := prev[edge.cur]; seen {
				continue
			}
			prev[edge.cur] = hop{cur: cur, pool: edge.pool}
			queue = append(queue, edge.cur)
		}
	}
	if _, ok := prev[to]; !ok {
		return nil, ErrNoRoute
	}

	var route []types.PoolID
	for cur := to; cur != from; {
		h := prev[cur]
		route = append([]types.PoolID{h.pool}, route...)
		cur = h.cur
	}
	return route, nil
}

// pairEdge is one pool adjacency in the routing graph.
type pairEdge struct {
	cur  types.CurrencyID
	pool types.PoolID
}

// pairGraph loads the full pool pair index as an adjacency list.
func (e *Engine) pairGraph(sc *store.Scope) (map[types.CurrencyID][]pairEdge, error) {
	edges := make(map[types.CurrencyID][]pairEdge)
	err := sc.Iterate(prefixPoolPair, func(key, val []byte) error {
		// key layout: prefix + u64 a + 0x00 + u64 b
		rest := key[len(prefixPoolPair):]
		if len(rest) != 17 {
			return nil
		}
		a := types.CurrencyID(beUint64(rest[:8]))
		b := types.CurrencyID(beUint64(rest[9:]))
		id := poolIDFromIndex(val)
		edges[a] = append(edges[a], pairEdge{cur: b, pool: id})
		edges[b] = append(edges[b], pairEdge{cur: a, pool: id})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// getPool reads a pool row by id.
func (e *Engine) getPool(sc *store.Scope, id types.PoolID) (*Pool, error) {
	var p Pool
	ok, err := getRow(sc, keyPool(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPool
	}
	return &p, nil
}

func poolIDFromIndex(raw []byte) types.PoolID {
	return types.PoolID(beUint64(raw))
}

func beUint64(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n
}

// mulDiv computes a*b/c in 128-bit intermediate precision, truncating.
func mulDiv(a, b, c int64) int64 {
	var n big.Int
	n.Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(&n, big.NewInt(c))
	return n.Int64()
}

// mulDivCeil computes ceil(a*b/c) in 128-bit intermediate precision.
func mulDivCeil(a, b, c int64) int64 {
	var n big.Int
	n.Mul(big.NewInt(a), big.NewInt(b))
	n.Add(&n, big.NewInt(c-1))
	n.Quo(&n, big.NewInt(c))
	return n.Int64()
}

// isqrt returns floor(sqrt(a*b)) for the initial share mint.
func isqrt(a, b int64) int64 {
	var n big.Int
	n.Mul(big.NewInt(a), big.NewInt(b))
	return n.Sqrt(&n).Int64()
}
