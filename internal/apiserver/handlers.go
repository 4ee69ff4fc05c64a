package apiserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wark-project/wark/internal/judge"
	"github.com/wark-project/wark/internal/ledger"
	"github.com/wark-project/wark/internal/problem"
	"github.com/wark-project/wark/internal/sandbox"
)

const maxRequestBodyBytes = 64 << 20 // 64 MiB: bounds a worst-case wasm+input payload

type runRequest struct {
	Cost   uint64 `json:"cost"`
	Memory uint32 `json:"memory"`
	Input  string `json:"input"`
	Wasm   string `json:"wasm"`
}

type runResponse struct {
	Success bool   `json:"success"`
	Cost    uint64 `json:"cost"`
	Memory  uint32 `json:"memory"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Message string `json:"message"`
}

type specDTO struct {
	Judger        string `json:"judger"`
	Input         string `json:"input,omitempty"`
	InputURL      string `json:"input_url,omitempty"`
	ExpectedHash  string `json:"expected_hash"`
	CostLimit     uint64 `json:"cost_limit"`
	MemoryLimitMB uint32 `json:"memory_limit_mb"`
}

type judgeRequest struct {
	Wasm  string    `json:"wasm"`
	Specs []specDTO `json:"specs"`
}

type exceptionDTO struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type resultDTO struct {
	Success         bool          `json:"success"`
	ConsumedCost    uint64        `json:"consumed_cost"`
	PeakMemoryPages uint32        `json:"peak_memory_pages"`
	Message         string        `json:"message"`
	Exception       *exceptionDTO `json:"exception,omitempty"`
}

type judgeResponse struct {
	Results []resultDTO `json:"results"`
}

// decodeAndValidate reads r.Body, validates it against schema, and unmarshals
// it into out. Returns a user-facing detail string on any failure.
func decodeAndValidate(r *http.Request, schema interface{ Validate(interface{}) error }, out interface{}) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return "failed to read request body", false
	}

	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return "malformed JSON body", false
	}
	if err := schema.Validate(generic); err != nil {
		return "request failed schema validation: " + err.Error(), false
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "malformed JSON body", false
	}
	return "", true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w, r)
		return
	}

	var req runRequest
	if detail, ok := decodeAndValidate(r, s.schemas.run, &req); !ok {
		problem.WriteBadRequest(w, r, detail)
		return
	}

	wasm, err := base64.StdEncoding.DecodeString(req.Wasm)
	if err != nil {
		problem.WriteBadRequest(w, r, "wasm field is not valid base64")
		return
	}

	ctx, finish := s.Telemetry.TrackRun(r.Context(), "wark.run")
	outcome, err := s.Runner.Run(ctx, wasm, []byte(req.Input), sandbox.Config{
		CostLimit:     req.Cost,
		MemoryLimitMB: req.Memory,
	})
	if err != nil {
		finish(false, 0)
		problem.WriteInternal(w, r, err)
		return
	}
	finish(outcome.Success, outcome.ConsumedCost)

	resp := runResponse{
		Success: outcome.Success,
		Cost:    outcome.ConsumedCost,
		Memory:  outcome.PeakMemoryPages / pagesPerMB,
		Stdout:  string(outcome.Stdout),
		Stderr:  string(outcome.Stderr),
		Message: outcome.Message,
	}

	s.appendLedger(r.Context(), ledger.KindRun, outcome.Success, outcome.ConsumedCost, outcome.PeakMemoryPages, outcome.Message)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w, r)
		return
	}

	var req judgeRequest
	if detail, ok := decodeAndValidate(r, s.schemas.judge, &req); !ok {
		problem.WriteBadRequest(w, r, detail)
		return
	}

	wasm, err := base64.StdEncoding.DecodeString(req.Wasm)
	if err != nil {
		problem.WriteBadRequest(w, r, "wasm field is not valid base64")
		return
	}

	specs := make([]judge.Spec, len(req.Specs))
	for i, d := range req.Specs {
		specs[i] = judge.Spec{
			Judger:        judge.Judger(d.Judger),
			Input:         []byte(d.Input),
			InputURL:      d.InputURL,
			ExpectedHash:  d.ExpectedHash,
			CostLimit:     d.CostLimit,
			MemoryLimitMB: d.MemoryLimitMB,
		}
	}

	ctx, finish := s.Telemetry.TrackRun(r.Context(), "wark.judge")
	results := s.Pipeline.RunBatch(ctx, wasm, specs)

	dtos := make([]resultDTO, len(results))
	allSucceeded := true
	var totalConsumedCost uint64
	for i, res := range results {
		dto := resultDTO{
			Success:         res.Success,
			ConsumedCost:    res.ConsumedCost,
			PeakMemoryPages: res.PeakMemoryPages,
			Message:         res.Message,
		}
		if res.Exception != nil {
			dto.Exception = &exceptionDTO{Type: res.Exception.Type, Reason: res.Exception.Reason}
		}
		dtos[i] = dto
		allSucceeded = allSucceeded && res.Success
		totalConsumedCost += res.ConsumedCost
		s.appendLedger(ctx, ledger.KindJudge, res.Success, res.ConsumedCost, res.PeakMemoryPages, res.Message)
	}
	finish(allSucceeded, totalConsumedCost)

	writeJSON(w, http.StatusOK, judgeResponse{Results: dtos})
}

// appendLedger best-effort records one audited invocation. A failure here is
// logged by the Ledger implementation itself (or silently dropped by
// NoopLedger) and never changes the HTTP response.
func (s *Server) appendLedger(ctx context.Context, kind ledger.Kind, success bool, consumedCost uint64, peakPages uint32, message string) {
	_ = s.Ledger.Append(ctx, ledger.Record{
		ID:              uuid.NewString(),
		Kind:            kind,
		Success:         success,
		ConsumedCost:    consumedCost,
		PeakMemoryPages: peakPages,
		Message:         message,
		CreatedAt:       time.Now(),
	})
}

// pagesPerMB converts wazero's 64 KiB memory pages to megabytes for the wire
// response, matching the MB units the request accepted.
const pagesPerMB = (1 << 20) / (64 << 10)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
