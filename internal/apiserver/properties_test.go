//go:build property
// +build property

package apiserver

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRunResponseJSONRoundTrips checks that every runResponse value survives
// a marshal/unmarshal cycle unchanged, which is the only contract the wire
// format actually promises (field order and whitespace are not).
func TestRunResponseJSONRoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("marshal then unmarshal reproduces the original value", prop.ForAll(
		func(success bool, costVal uint64, mem uint32, stdout, stderr, message string) bool {
			want := runResponse{
				Success: success,
				Cost:    costVal,
				Memory:  mem,
				Stdout:  stdout,
				Stderr:  stderr,
				Message: message,
			}

			encoded, err := json.Marshal(want)
			if err != nil {
				t.Logf("marshal failed: %v", err)
				return false
			}

			var got runResponse
			if err := json.Unmarshal(encoded, &got); err != nil {
				t.Logf("unmarshal failed: %v", err)
				return false
			}

			return got == want
		},
		gen.Bool(),
		gen.UInt64Range(0, 1<<62),
		gen.UInt32Range(0, 1<<20),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestJudgeResultDTORoundTrips covers the resultDTO/exceptionDTO pair, which
// carries an optional pointer field (Exception) that a naive round-trip can
// easily turn into a spurious empty struct instead of nil.
func TestJudgeResultDTORoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a result with no exception round-trips with a nil exception", prop.ForAll(
		func(success bool, consumed uint64, peak uint32, message string) bool {
			want := resultDTO{
				Success:         success,
				ConsumedCost:    consumed,
				PeakMemoryPages: peak,
				Message:         message,
			}

			encoded, err := json.Marshal(want)
			if err != nil {
				return false
			}
			var got resultDTO
			if err := json.Unmarshal(encoded, &got); err != nil {
				return false
			}
			return got.Exception == nil &&
				got.Success == want.Success &&
				got.ConsumedCost == want.ConsumedCost &&
				got.PeakMemoryPages == want.PeakMemoryPages &&
				got.Message == want.Message
		},
		gen.Bool(),
		gen.UInt64Range(0, 1<<62),
		gen.UInt32Range(0, 1<<20),
		gen.AlphaString(),
	))

	properties.Property("a present exception round-trips with its fields intact", prop.ForAll(
		func(excType, reason string) bool {
			want := resultDTO{
				Success:   false,
				Exception: &exceptionDTO{Type: excType, Reason: reason},
			}

			encoded, err := json.Marshal(want)
			if err != nil {
				return false
			}
			var got resultDTO
			if err := json.Unmarshal(encoded, &got); err != nil {
				return false
			}
			return got.Exception != nil &&
				got.Exception.Type == excType &&
				got.Exception.Reason == reason
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
