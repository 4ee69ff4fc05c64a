// Package cost holds the static opcode-to-price mapping used by the metering
// transform. The table is pure data: every entry here is auditable without
// reading the rewriter that consumes it.
package cost

import (
	"log/slog"
	"sync"
)

// Op identifies a WebAssembly instruction for pricing purposes. Most
// instructions are identified by their single opcode byte; instructions with
// a multi-byte encoding (the 0xFC and 0xFD prefixed families) fold the prefix
// and sub-opcode into one Op value so the table stays a flat map.
type Op uint32

const (
	prefixFC = 0xFC000000
	prefixFD = 0xFD000000
)

// OpSingle builds an Op from a plain one-byte opcode.
func OpSingle(b byte) Op { return Op(b) }

// OpFC builds an Op for the misc/bulk-memory prefixed family (opcode 0xFC).
func OpFC(sub uint32) Op { return Op(prefixFC | sub) }

// OpFD builds an Op for the SIMD prefixed family (opcode 0xFD).
func OpFD(sub uint32) Op { return Op(prefixFD | sub) }

// DefaultPenalty is debited for any opcode absent from the table. The value
// is not derived from first principles; it is a conservative constant chosen
// to make unmetered instructions expensive relative to common arithmetic.
const DefaultPenalty uint32 = 1000

// Table is a process-wide, read-only opcode cost table. Construct it with New,
// which loads the built-in base table and DefaultPenalty; the zero value has
// no entries and a penalty of 0, so it prices every opcode at 0.
type Table struct {
	prices  map[Op]uint32
	penalty uint32

	warnOnce sync.Map // name (string) -> struct{}, reset per run via WarnReset
}

// New returns the built-in base table, a monotone-ordered set of
// representative per-family costs. Control flow and local/global access are
// cheapest; integer arithmetic next; memory access above that; integer
// division above memory access; float-to-integer truncations above division.
// Opcodes with no entry (the SIMD family among them) cost the penalty. The
// exact figures are not wall-clock normalized — they express relative weight
// only.
func New() *Table {
	t := &Table{
		prices:  make(map[Op]uint32, len(baseTable)),
		penalty: DefaultPenalty,
	}
	for op, price := range baseTable {
		t.prices[op] = price
	}
	return t
}

// WithOverrides returns a copy of t with entries replaced or added from
// overrides, and the penalty replaced if penalty > 0. Used to apply an
// optional on-disk override file at process start.
func (t *Table) WithOverrides(overrides map[Op]uint32, penalty uint32) *Table {
	nt := &Table{
		prices:  make(map[Op]uint32, len(t.prices)+len(overrides)),
		penalty: t.penalty,
	}
	for op, price := range t.prices {
		nt.prices[op] = price
	}
	for op, price := range overrides {
		nt.prices[op] = price
	}
	if penalty > 0 {
		nt.penalty = penalty
	}
	return nt
}

// Penalty returns the fallback cost applied to opcodes absent from the table.
func (t *Table) Penalty() uint32 { return t.penalty }

// Cost returns the price of op, and whether it was found verbatim in the
// table (false means the penalty was applied).
func (t *Table) Cost(op Op) (uint32, bool) {
	if price, ok := t.prices[op]; ok {
		return price, true
	}
	return t.penalty, false
}

// WarnPenalty logs a warning the first time name is seen by this Table
// instance's run-scoped dedup set, and is a no-op on subsequent calls with the
// same name. Callers construct one Table (or clear the dedup set, see
// ResetWarnings) per run so the "once per run per name" contract holds.
func (t *Table) WarnPenalty(name string) {
	if _, loaded := t.warnOnce.LoadOrStore(name, struct{}{}); !loaded {
		slog.Warn("penalty instruction", "opcode", name)
	}
}

// ResetWarnings clears the per-run penalty-warning dedup set. Callers invoke
// this once at the start of each run that shares a Table instance across
// runs (the table itself is otherwise immutable and safe for concurrent use).
func (t *Table) ResetWarnings() {
	t.warnOnce.Range(func(k, _ any) bool {
		t.warnOnce.Delete(k)
		return true
	})
}

// baseTable is the built-in, monotone-ordered opcode price list.
var baseTable = map[Op]uint32{
	// control flow — cheap, these don't do arithmetic work themselves
	OpSingle(0x00): 1,  // unreachable
	OpSingle(0x01): 1,  // nop
	OpSingle(0x02): 2,  // block
	OpSingle(0x03): 2,  // loop
	OpSingle(0x04): 3,  // if
	OpSingle(0x05): 1,  // else
	OpSingle(0x0B): 1,  // end
	OpSingle(0x0C): 2,  // br
	OpSingle(0x0D): 3,  // br_if
	OpSingle(0x0E): 5,  // br_table
	OpSingle(0x0F): 2,  // return
	OpSingle(0x10): 8,  // call
	OpSingle(0x11): 12, // call_indirect

	// parametric / variable access — cheap
	OpSingle(0x1A): 1, // drop
	OpSingle(0x1B): 2, // select
	OpSingle(0x1C): 2, // select t*
	OpSingle(0x20): 2, // local.get
	OpSingle(0x21): 2, // local.set
	OpSingle(0x22): 2, // local.tee
	OpSingle(0x23): 3, // global.get
	OpSingle(0x24): 3, // global.set

	// memory load/store — above plain arithmetic, below division
	OpSingle(0x28): 6, // i32.load
	OpSingle(0x29): 7, // i64.load
	OpSingle(0x2A): 6, // f32.load
	OpSingle(0x2B): 7, // f64.load
	OpSingle(0x2C): 6, // i32.load8_s
	OpSingle(0x2D): 6, // i32.load8_u
	OpSingle(0x2E): 6, // i32.load16_s
	OpSingle(0x2F): 6, // i32.load16_u
	OpSingle(0x30): 7, // i64.load8_s
	OpSingle(0x31): 7, // i64.load8_u
	OpSingle(0x32): 7, // i64.load16_s
	OpSingle(0x33): 7, // i64.load16_u
	OpSingle(0x34): 7, // i64.load32_s
	OpSingle(0x35): 7, // i64.load32_u
	OpSingle(0x36): 6, // i32.store
	OpSingle(0x37): 7, // i64.store
	OpSingle(0x38): 6, // f32.store
	OpSingle(0x39): 7, // f64.store
	OpSingle(0x3A): 6, // i32.store8
	OpSingle(0x3B): 6, // i32.store16
	OpSingle(0x3C): 7, // i64.store8
	OpSingle(0x3D): 7, // i64.store16
	OpSingle(0x3E): 7, // i64.store32
	OpSingle(0x3F): 4, // memory.size
	OpSingle(0x40): 20, // memory.grow — deliberately expensive, touches the cap

	// constants — free-ish
	OpSingle(0x41): 1, // i32.const
	OpSingle(0x42): 1, // i64.const
	OpSingle(0x43): 1, // f32.const
	OpSingle(0x44): 1, // f64.const

	// i64 comparisons (priced like their i32 counterparts)
	OpSingle(0x50): 2, // i64.eqz
	OpSingle(0x51): 2, // i64.eq
	OpSingle(0x52): 2, // i64.ne
	OpSingle(0x53): 2, // i64.lt_s
	OpSingle(0x54): 2, // i64.lt_u
	OpSingle(0x55): 2, // i64.gt_s
	OpSingle(0x56): 2, // i64.gt_u
	OpSingle(0x57): 2, // i64.le_s
	OpSingle(0x58): 2, // i64.le_u
	OpSingle(0x59): 2, // i64.ge_s
	OpSingle(0x5A): 2, // i64.ge_u

	// f32 comparisons
	OpSingle(0x5B): 3, // f32.eq
	OpSingle(0x5C): 3, // f32.ne
	OpSingle(0x5D): 3, // f32.lt
	OpSingle(0x5E): 3, // f32.gt
	OpSingle(0x5F): 3, // f32.le
	OpSingle(0x60): 3, // f32.ge

	// f64 comparisons
	OpSingle(0x61): 4, // f64.eq
	OpSingle(0x62): 4, // f64.ne
	OpSingle(0x63): 4, // f64.lt
	OpSingle(0x64): 4, // f64.gt
	OpSingle(0x65): 4, // f64.le
	OpSingle(0x66): 4, // f64.ge

	// i32 arithmetic
	OpSingle(0x45): 2, // i32.eqz
	OpSingle(0x46): 2, // i32.eq
	OpSingle(0x47): 2, // i32.ne
	OpSingle(0x48): 2, // i32.lt_s
	OpSingle(0x49): 2, // i32.lt_u
	OpSingle(0x4A): 2, // i32.gt_s
	OpSingle(0x4B): 2, // i32.gt_u
	OpSingle(0x4C): 2, // i32.le_s
	OpSingle(0x4D): 2, // i32.le_u
	OpSingle(0x4E): 2, // i32.ge_s
	OpSingle(0x4F): 2, // i32.ge_u

	OpSingle(0x67): 2, // i32.clz
	OpSingle(0x68): 2, // i32.ctz
	OpSingle(0x69): 2, // i32.popcnt
	OpSingle(0x6A): 2, // i32.add
	OpSingle(0x6B): 2, // i32.sub
	OpSingle(0x6C): 3, // i32.mul
	OpSingle(0x6D): 10, // i32.div_s
	OpSingle(0x6E): 10, // i32.div_u
	OpSingle(0x6F): 10, // i32.rem_s
	OpSingle(0x70): 10, // i32.rem_u
	OpSingle(0x71): 2, // i32.and
	OpSingle(0x72): 2, // i32.or
	OpSingle(0x73): 2, // i32.xor
	OpSingle(0x74): 2, // i32.shl
	OpSingle(0x75): 2, // i32.shr_s
	OpSingle(0x76): 2, // i32.shr_u
	OpSingle(0x77): 3, // i32.rotl
	OpSingle(0x78): 3, // i32.rotr

	// i64 arithmetic (slightly costlier than i32 equivalents)
	OpSingle(0x79): 3, // i64.clz
	OpSingle(0x7A): 3, // i64.ctz
	OpSingle(0x7B): 3, // i64.popcnt
	OpSingle(0x7C): 3, // i64.add
	OpSingle(0x7D): 3, // i64.sub
	OpSingle(0x7E): 4, // i64.mul
	OpSingle(0x7F): 14, // i64.div_s
	OpSingle(0x80): 14, // i64.div_u
	OpSingle(0x81): 14, // i64.rem_s
	OpSingle(0x82): 14, // i64.rem_u
	OpSingle(0x83): 3, // i64.and
	OpSingle(0x84): 3, // i64.or
	OpSingle(0x85): 3, // i64.xor
	OpSingle(0x86): 3, // i64.shl
	OpSingle(0x87): 3, // i64.shr_s
	OpSingle(0x88): 3, // i64.shr_u
	OpSingle(0x89): 4, // i64.rotl
	OpSingle(0x8A): 4, // i64.rotr

	// float arithmetic — above integer equivalents, below conversions
	OpSingle(0x8B): 4, // f32.abs
	OpSingle(0x8C): 4, // f32.neg
	OpSingle(0x8D): 12, // f32.ceil
	OpSingle(0x8E): 12, // f32.floor
	OpSingle(0x8F): 12, // f32.trunc
	OpSingle(0x90): 12, // f32.nearest
	OpSingle(0x91): 14, // f32.sqrt
	OpSingle(0x92): 5, // f32.add
	OpSingle(0x93): 5, // f32.sub
	OpSingle(0x94): 6, // f32.mul
	OpSingle(0x95): 16, // f32.div
	OpSingle(0x96): 6, // f32.min
	OpSingle(0x97): 6, // f32.max
	OpSingle(0x98): 4, // f32.copysign

	OpSingle(0x99): 5, // f64.abs
	OpSingle(0x9A): 5, // f64.neg
	OpSingle(0x9B): 14, // f64.ceil
	OpSingle(0x9C): 14, // f64.floor
	OpSingle(0x9D): 14, // f64.trunc
	OpSingle(0x9E): 14, // f64.nearest
	OpSingle(0x9F): 18, // f64.sqrt
	OpSingle(0xA0): 6, // f64.add
	OpSingle(0xA1): 6, // f64.sub
	OpSingle(0xA2): 8, // f64.mul
	OpSingle(0xA3): 20, // f64.div
	OpSingle(0xA4): 8, // f64.min
	OpSingle(0xA5): 8, // f64.max
	OpSingle(0xA6): 5, // f64.copysign

	// conversions — above plain arithmetic, reflect real cast work
	OpSingle(0xA7): 6, // i32.wrap_i64
	OpSingle(0xA8): 18, // i32.trunc_f32_s
	OpSingle(0xA9): 18, // i32.trunc_f32_u
	OpSingle(0xAA): 18, // i32.trunc_f64_s
	OpSingle(0xAB): 18, // i32.trunc_f64_u
	OpSingle(0xAC): 6, // i64.extend_i32_s
	OpSingle(0xAD): 6, // i64.extend_i32_u
	OpSingle(0xAE): 18, // i64.trunc_f32_s
	OpSingle(0xAF): 18, // i64.trunc_f32_u
	OpSingle(0xB0): 18, // i64.trunc_f64_s
	OpSingle(0xB1): 18, // i64.trunc_f64_u
	OpSingle(0xB2): 16, // f32.convert_i32_s
	OpSingle(0xB3): 16, // f32.convert_i32_u
	OpSingle(0xB4): 16, // f32.convert_i64_s
	OpSingle(0xB5): 16, // f32.convert_i64_u
	OpSingle(0xB6): 8, // f32.demote_f64
	OpSingle(0xB7): 16, // f64.convert_i32_s
	OpSingle(0xB8): 16, // f64.convert_i32_u
	OpSingle(0xB9): 16, // f64.convert_i64_s
	OpSingle(0xBA): 16, // f64.convert_i64_u
	OpSingle(0xBB): 8, // f64.promote_f32
	OpSingle(0xBC): 6, // i32.reinterpret_f32
	OpSingle(0xBD): 6, // i64.reinterpret_f64
	OpSingle(0xBE): 6, // f32.reinterpret_i32
	OpSingle(0xBF): 6, // f64.reinterpret_i64

	// sign extension ops (MVP+)
	OpSingle(0xC0): 2, // i32.extend8_s
	OpSingle(0xC1): 2, // i32.extend16_s
	OpSingle(0xC2): 3, // i64.extend8_s
	OpSingle(0xC3): 3, // i64.extend16_s
	OpSingle(0xC4): 3, // i64.extend32_s

	// bulk memory (0xFC prefix) — above plain load/store, proportional to bulk-ness
	OpFC(8):  40, // memory.init
	OpFC(9):  5,  // data.drop
	OpFC(10): 40, // memory.copy
	OpFC(11): 40, // memory.fill
	OpFC(12): 30, // table.init
	OpFC(13): 5,  // elem.drop
	OpFC(14): 30, // table.copy
}
