package apiserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wark-project/wark/internal/auth"
	"github.com/wark-project/wark/internal/cost"
	"github.com/wark-project/wark/internal/httpcache"
	"github.com/wark-project/wark/internal/judge"
	"github.com/wark-project/wark/internal/ledger"
	"github.com/wark-project/wark/internal/sandbox"
)

// buildHelloModule returns a WASI module that writes "Hello\n" to fd 1 via
// fd_write, then returns normally (exit 0).
func buildHelloModule(t *testing.T) []byte {
	t.Helper()

	magic := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	var buf bytes.Buffer
	buf.Write(magic)

	writeSection := func(id byte, payload []byte) {
		buf.WriteByte(id)
		buf.Write(uleb(uint32(len(payload))))
		buf.Write(payload)
	}

	// type 0: (i32 i32 i32 i32) -> (i32)   -- fd_write signature
	// type 1: () -> ()                     -- _start signature
	var types []byte
	types = append(types, 0x02)
	types = append(types, 0x60, 0x04, 0x7F, 0x7F, 0x7F, 0x7F, 0x01, 0x7F)
	types = append(types, 0x60, 0x00, 0x00)
	writeSection(1, types)

	// import: wasi_snapshot_preview1.fd_write, using type 0
	var imp []byte
	imp = append(imp, 0x01) // count
	modName := []byte("wasi_snapshot_preview1")
	fieldName := []byte("fd_write")
	imp = append(imp, uleb(uint32(len(modName)))...)
	imp = append(imp, modName...)
	imp = append(imp, uleb(uint32(len(fieldName)))...)
	imp = append(imp, fieldName...)
	imp = append(imp, 0x00, 0x00) // func import, type index 0
	writeSection(2, imp)

	// function section: one function (index 1, after the 1 imported func), using type 1
	writeSection(3, []byte{0x01, 0x01})

	// memory section: one memory, min 1 page
	writeSection(5, []byte{0x01, 0x00, 0x01})

	// export: memory as "memory", _start as "_start"
	var exp []byte
	exp = append(exp, 0x02)
	memName := []byte("memory")
	exp = append(exp, uleb(uint32(len(memName)))...)
	exp = append(exp, memName...)
	exp = append(exp, 0x02, 0x00) // memory kind, index 0
	startName := []byte("_start")
	exp = append(exp, uleb(uint32(len(startName)))...)
	exp = append(exp, startName...)
	exp = append(exp, 0x00, 0x01) // func kind, index 1 (function index space: 0=import, 1=defined)
	writeSection(7, exp)

	// code: store "Hello\n" at offset 8, iovec {ptr=8,len=6} at offset 0,
	// call fd_write(1, iov_ptr=0, iov_cnt=1, nwritten_ptr=20), drop result.
	msg := []byte("Hello\n")
	var body []byte
	body = append(body, 0x00) // no locals

	emitI32Const := func(v int32) {
		body = append(body, 0x41)
		body = append(body, putVarInt64Like(int64(v))...)
	}
	emitI32Store := func(offset uint32) {
		body = append(body, 0x36, 0x02) // i32.store, align=2
		body = append(body, uleb(offset)...)
	}

	// iov.ptr = 8 at mem[0]
	emitI32Const(0)
	emitI32Const(8)
	emitI32Store(0)
	// iov.len = len(msg) at mem[4]
	emitI32Const(0)
	emitI32Const(int32(len(msg)))
	emitI32Store(4)
	// store message bytes at offset 8 one i32 at a time is wasteful; use data section instead.
	// call fd_write(fd=1, iovs=0, iovs_len=1, nwritten=20)
	emitI32Const(1)
	emitI32Const(0)
	emitI32Const(1)
	emitI32Const(20)
	body = append(body, 0x10, 0x00) // call func 0 (fd_write import)
	body = append(body, 0x1A)       // drop
	body = append(body, 0x0B)       // end

	var code []byte
	code = append(code, 0x01)
	code = append(code, uleb(uint32(len(body)))...)
	code = append(code, body...)
	writeSection(10, code)

	// data: place msg at offset 8
	var data []byte
	data = append(data, 0x01) // one segment
	data = append(data, 0x00) // active, memory 0
	data = append(data, 0x41, 0x08, 0x0B) // i32.const 8, end
	data = append(data, uleb(uint32(len(msg)))...)
	data = append(data, msg...)
	writeSection(11, data)

	return buf.Bytes()
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func putVarInt64Like(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			out = append(out, b)
			break
		}
		out = append(out, b|0x80)
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *auth.JWTValidator) {
	t.Helper()
	runner := sandbox.NewRunner(cost.New())
	store, err := httpcache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	pipeline := judge.NewPipeline(runner, httpcache.NewFetcher(store), 0)

	srv, err := New(runner, pipeline, ledger.NoopLedger{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ks, err := auth.NewInMemoryKeySet()
	if err != nil {
		t.Fatalf("NewInMemoryKeySet: %v", err)
	}
	validator := auth.NewJWTValidator(ks)

	token, err := ks.Sign(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "test-user"},
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	t.Setenv("TEST_BEARER_TOKEN", token)

	return srv, validator
}

func authedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearerTokenFromEnv(t))
	return req
}

func bearerTokenFromEnv(t *testing.T) string {
	t.Helper()
	tok, ok := os.LookupEnv("TEST_BEARER_TOKEN")
	if !ok {
		t.Fatal("TEST_BEARER_TOKEN not set; call newTestServer first")
	}
	return tok
}

func TestHandleRunHelloWorld(t *testing.T) {
	srv, _ := newTestServer(t)
	module := buildHelloModule(t)

	reqBody, _ := json.Marshal(runRequest{
		Cost:   1_000_000,
		Memory: 16,
		Input:  "",
		Wasm:   base64.StdEncoding.EncodeToString(module),
	})

	req := authedRequest(t, http.MethodPost, "/run", reqBody)
	w := httptest.NewRecorder()
	srv.handleRun(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp runResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Stdout != "Hello\n" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleRunCostExhausted(t *testing.T) {
	srv, _ := newTestServer(t)
	module := buildHelloModule(t)

	reqBody, _ := json.Marshal(runRequest{
		Cost:   1,
		Memory: 16,
		Wasm:   base64.StdEncoding.EncodeToString(module),
	})

	req := authedRequest(t, http.MethodPost, "/run", reqBody)
	w := httptest.NewRecorder()
	srv.handleRun(w, req)

	var resp runResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure under an impossibly small cost budget, got %+v", resp)
	}
}

func TestHandleRunMalformedBodyReturns400(t *testing.T) {
	srv, _ := newTestServer(t)

	req := authedRequest(t, http.MethodPost, "/run", []byte(`{"cost": "not-a-number"}`))
	w := httptest.NewRecorder()
	srv.handleRun(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected RFC 7807 content type, got %q", ct)
	}
}

func TestHandleRunMissingRequiredFieldReturns400(t *testing.T) {
	srv, _ := newTestServer(t)

	req := authedRequest(t, http.MethodPost, "/run", []byte(`{"cost": 100, "memory": 16}`))
	w := httptest.NewRecorder()
	srv.handleRun(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing required wasm field, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingBearer(t *testing.T) {
	srv, validator := newTestServer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/run", srv.handleRun)
	handler := auth.NewMiddleware(validator)(mux)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without Authorization header, got %d", w.Code)
	}
}

func TestHandleJudgePreservesOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	module := buildHelloModule(t)

	reqBody, _ := json.Marshal(judgeRequest{
		Wasm: base64.StdEncoding.EncodeToString(module),
		Specs: []specDTO{
			{Judger: "IOFast", ExpectedHash: sha256HexOf("Goodbye"), CostLimit: 1_000_000, MemoryLimitMB: 16},
			{Judger: "IOFast", ExpectedHash: sha256HexOf("Hello"), CostLimit: 1_000_000, MemoryLimitMB: 16},
		},
	})

	req := authedRequest(t, http.MethodPost, "/judge", reqBody)
	w := httptest.NewRecorder()
	srv.handleJudge(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp judgeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Success {
		t.Fatalf("expected spec 0 to fail on hash mismatch, got %+v", resp.Results[0])
	}
	if !resp.Results[1].Success {
		t.Fatalf("expected spec 1 to succeed, got %+v", resp.Results[1])
	}
}

func sha256HexOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
