package chaindata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcHandler answers eth JSON-RPC calls with canned results per method.
func rpcHandler(t *testing.T, results map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestRPCClient_TokenSymbol(t *testing.T) {
	symbolResult := "0x" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000004" +
		"5745544800000000000000000000000000000000000000000000000000000000"

	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"eth_call": symbolResult,
	}))
	defer server.Close()

	client := NewRPCClient(server.URL)
	symbol, err := client.TokenSymbol(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("TokenSymbol: %v", err)
	}
	if symbol != "WETH" {
		t.Errorf("symbol = %q, want WETH", symbol)
	}
}

func TestRPCClient_TokenDecimals(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"eth_call": "0x0000000000000000000000000000000000000000000000000000000000000012",
	}))
	defer server.Close()

	client := NewRPCClient(server.URL)
	decimals, err := client.TokenDecimals(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("TokenDecimals: %v", err)
	}
	if decimals != 18 {
		t.Errorf("decimals = %d, want 18", decimals)
	}
}

func TestRPCClient_BalanceOf(t *testing.T) {
	var gotData string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		callObj := req.Params[0].(map[string]interface{})
		gotData = callObj["data"].(string)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x0000000000000000000000000000000000000000000000000de0b6b3a7640000",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewRPCClient(server.URL)
	balance, err := client.BalanceOf(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}

	// 10^18
	if balance.String() != "1000000000000000000" {
		t.Errorf("balance = %s, want 10^18", balance.String())
	}
	wantData := selBalanceOf + "0000000000000000000000002222222222222222222222222222222222222222"
	if gotData != wantData {
		t.Errorf("call data = %s, want %s", gotData, wantData)
	}
}

func TestRPCClient_GetCode_EOA(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"eth_getCode": "0x",
	}))
	defer server.Close()

	client := NewRPCClient(server.URL)
	code, err := client.GetCode(context.Background(), "0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if code != "0x" {
		t.Errorf("code = %q, want 0x", code)
	}
}

func TestRPCClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewRPCClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.GetCode(context.Background(), "0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("GetCode after retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRPCClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32000, "message": "execution reverted"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewRPCClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.TokenSymbol(context.Background(), "0x1111111111111111111111111111111111111111")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (RPC errors are terminal)", calls.Load())
	}
}
