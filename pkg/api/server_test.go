package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/scrip-ledger/scrip/pkg/ledger"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// rpcResponse mirrors Response with a raw result for test-side decoding.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *Keys) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	journal, err := audit.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	keys, err := OpenKeys(filepath.Join(dir, "keys.db"))
	if err != nil {
		t.Fatalf("open keys: %v", err)
	}
	t.Cleanup(func() { keys.Close() })

	engine := ledger.New(st, journal, ledger.DefaultConfig())
	srv := New(DefaultConfig(), engine, keys)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleRPC))
	t.Cleanup(ts.Close)
	return ts, keys
}

// call posts one JSON-RPC request, optionally authenticated.
func call(t *testing.T, ts *httptest.Server, apiKey, method string, params interface{}) rpcResponse {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": JSONRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestParseError(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error == nil || out.Error.Code != ParseError {
		t.Fatalf("error = %+v", out.Error)
	}
}

func TestRejectsWrongVersion(t *testing.T) {
	ts, _ := newTestServer(t)
	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"getHealth"}`)
	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error == nil || out.Error.Code != InvalidRequest {
		t.Fatalf("error = %+v", out.Error)
	}
}

func TestRejectsNonPost(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMethodNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	out := call(t, ts, "", "noSuchMethod", nil)
	if out.Error == nil || out.Error.Code != MethodNotFound {
		t.Fatalf("error = %+v", out.Error)
	}
}

func TestQueriesNeedNoKey(t *testing.T) {
	ts, _ := newTestServer(t)
	out := call(t, ts, "", "getHealth", nil)
	if out.Error != nil {
		t.Fatalf("getHealth error: %+v", out.Error)
	}
	var health string
	if err := json.Unmarshal(out.Result, &health); err != nil || health != "ok" {
		t.Fatalf("health = %s (%v)", out.Result, err)
	}

	out = call(t, ts, "", "getVersion", nil)
	var version map[string]string
	if err := json.Unmarshal(out.Result, &version); err != nil {
		t.Fatalf("version: %v", err)
	}
	if version["scrip-core"] != Version {
		t.Errorf("version = %v", version)
	}
}

func TestCommandsRequireKey(t *testing.T) {
	ts, keys := newTestServer(t)
	params := map[string]interface{}{"dest": "bob", "currency": 1, "amount": 5}

	out := call(t, ts, "", "transfer", params)
	if out.Error == nil || out.Error.Code != Unauthorized {
		t.Fatalf("no key: %+v", out.Error)
	}
	out = call(t, ts, "sk_bogus", "transfer", params)
	if out.Error == nil || out.Error.Code != Unauthorized {
		t.Fatalf("bad key: %+v", out.Error)
	}

	secret, err := keys.Create("alice")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if err := keys.Revoke(secret); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	out = call(t, ts, secret, "transfer", params)
	if out.Error == nil || out.Error.Code != Unauthorized {
		t.Fatalf("revoked key: %+v", out.Error)
	}
}

func TestAuthenticatedFlow(t *testing.T) {
	ts, keys := newTestServer(t)
	secret, err := keys.Create("alice")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	out := call(t, ts, secret, "createCurrency", map[string]interface{}{"symbol": "GLD"})
	if out.Error != nil {
		t.Fatalf("createCurrency: %+v", out.Error)
	}
	var cur struct {
		ID     uint64 `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(out.Result, &cur); err != nil {
		t.Fatalf("decode currency: %v", err)
	}
	if cur.Symbol != "GLD" {
		t.Errorf("symbol = %s", cur.Symbol)
	}

	out = call(t, ts, secret, "mint", map[string]interface{}{
		"dest": "alice", "currency": cur.ID, "amount": 1000,
	})
	if out.Error != nil {
		t.Fatalf("mint: %+v", out.Error)
	}

	out = call(t, ts, secret, "transfer", map[string]interface{}{
		"dest": "bob", "currency": cur.ID, "amount": 250,
	})
	if out.Error != nil {
		t.Fatalf("transfer: %+v", out.Error)
	}

	out = call(t, ts, "", "getBalance", map[string]interface{}{
		"account": "bob", "currency": cur.ID,
	})
	if out.Error != nil {
		t.Fatalf("getBalance: %+v", out.Error)
	}
	var bal struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(out.Result, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != 250 {
		t.Errorf("balance = %d", bal.Balance)
	}

	// Symbol lookup serves the same row.
	out = call(t, ts, "", "getCurrency", map[string]interface{}{"symbol": "gld"})
	if out.Error != nil {
		t.Fatalf("getCurrency: %+v", out.Error)
	}
}

func TestDomainErrorCodes(t *testing.T) {
	ts, keys := newTestServer(t)
	secret, err := keys.Create("alice")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	out := call(t, ts, "", "getCurrency", map[string]interface{}{"id": 42})
	if out.Error == nil || out.Error.Code != NotFound {
		t.Fatalf("unknown currency: %+v", out.Error)
	}

	out = call(t, ts, secret, "createCurrency", map[string]interface{}{"symbol": "GLD"})
	if out.Error != nil {
		t.Fatalf("createCurrency: %+v", out.Error)
	}
	var cur struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(out.Result, &cur); err != nil {
		t.Fatalf("decode currency: %v", err)
	}

	out = call(t, ts, secret, "transfer", map[string]interface{}{
		"dest": "bob", "currency": cur.ID, "amount": 5,
	})
	if out.Error == nil || out.Error.Code != EconomicFault {
		t.Fatalf("insufficient funds: %+v", out.Error)
	}

	out = call(t, ts, secret, "createCurrency", map[string]interface{}{"symbol": fmt.Sprintf("%013d", 1)})
	if out.Error == nil || out.Error.Code != EconomicFault {
		t.Fatalf("bad symbol: %+v", out.Error)
	}
}
