package cost

import "testing"

func TestCostKnownOpcode(t *testing.T) {
	tbl := New()
	price, ok := tbl.Cost(OpSingle(0x6A)) // i32.add
	if !ok {
		t.Fatalf("expected i32.add to be in the base table")
	}
	if price == 0 {
		t.Fatalf("expected non-zero price for i32.add")
	}
}

func TestCostUnknownOpcodeFallsBackToPenalty(t *testing.T) {
	tbl := New()
	price, ok := tbl.Cost(OpSingle(0xFF))
	if ok {
		t.Fatalf("0xFF is not a real opcode and should not be in the table")
	}
	if price != DefaultPenalty {
		t.Fatalf("expected penalty %d, got %d", DefaultPenalty, price)
	}
}

func TestMonotoneFamilyOrdering(t *testing.T) {
	tbl := New()
	add, _ := tbl.Cost(OpSingle(0x6A))   // i32.add
	load, _ := tbl.Cost(OpSingle(0x28))  // i32.load
	div, _ := tbl.Cost(OpSingle(0x6D))   // i32.div_s
	trunc, _ := tbl.Cost(OpSingle(0xA8)) // i32.trunc_f32_s

	if !(add < load && load < div && div < trunc) {
		t.Fatalf("expected add < load < div < trunc, got %d %d %d %d", add, load, div, trunc)
	}
}

func TestWarnPenaltyOncePerName(t *testing.T) {
	tbl := New()
	// Calling repeatedly must not panic and should be idempotent in effect;
	// we can't observe the log line here, only that it doesn't error.
	tbl.WarnPenalty("reserved.op")
	tbl.WarnPenalty("reserved.op")
	tbl.ResetWarnings()
	tbl.WarnPenalty("reserved.op")
}

func TestWithOverrides(t *testing.T) {
	base := New()
	overridden := base.WithOverrides(map[Op]uint32{OpSingle(0x6A): 999}, 50)

	price, ok := overridden.Cost(OpSingle(0x6A))
	if !ok || price != 999 {
		t.Fatalf("expected override to take effect, got %d, %v", price, ok)
	}
	if overridden.Penalty() != 50 {
		t.Fatalf("expected overridden penalty 50, got %d", overridden.Penalty())
	}

	// base table must be unaffected
	basePrice, _ := base.Cost(OpSingle(0x6A))
	if basePrice == 999 {
		t.Fatalf("WithOverrides must not mutate the receiver")
	}
}
