// Package meter rewrites a WebAssembly module so that every basic block
// debits a module-global budget counter before it executes, trapping the
// instant the counter would go negative. wazero (the runtime this project
// embeds) exposes no instruction-level instrumentation hook, so the rewrite
// operates directly on the module's binary encoding.
package meter

import (
	"github.com/wark-project/wark/internal/cost"
)

const budgetGlobalExportName = "wark_budget_remaining"

// Handle lets the Sandbox Runner read the remaining budget after a run.
// ExportName is what the runner looks up via the instantiated module's
// exported globals.
type Handle struct {
	ExportName string
	Initial    uint64
}

// Meter rewrites moduleBytes to meter execution against initialBudget using
// table for per-opcode pricing. It returns the rewritten module and a Handle
// describing how the Sandbox Runner recovers the remaining budget.
//
// The rewrite is deterministic: identical input bytes, table, and budget
// always produce identical output bytes.
func Meter(moduleBytes []byte, initialBudget uint64, table *cost.Table) ([]byte, *Handle, error) {
	mod, err := decodeModule(moduleBytes)
	if err != nil {
		return nil, nil, err
	}

	newGlobalIdx := mod.globalCount
	if err := appendBudgetGlobal(mod, int64(initialBudget)); err != nil {
		return nil, nil, err
	}
	if err := appendBudgetExport(mod, newGlobalIdx); err != nil {
		return nil, nil, err
	}

	if mod.codeSecIdx >= 0 {
		if err := instrumentCodeSection(mod, newGlobalIdx, table); err != nil {
			return nil, nil, err
		}
	}

	return mod.encode(), &Handle{ExportName: budgetGlobalExportName, Initial: initialBudget}, nil
}

// appendBudgetGlobal adds one new mutable i64 global, initialized to init, to
// the module's global section (creating the section if the module had none).
func appendBudgetGlobal(mod *module, init int64) error {
	var entry []byte
	entry = append(entry, 0x7E)       // valtype i64
	entry = append(entry, 0x01)       // mutable
	entry = append(entry, 0x42)       // i64.const
	entry = putVarInt64(entry, init)  // init value
	entry = append(entry, 0x0B)       // end

	if !mod.hasGlobal {
		payload := putVarUint32(nil, 1) // count = 1
		payload = append(payload, entry...)
		idx := mod.insertSectionInOrder(secGlobal, payload)
		mod.hasGlobal = true
		mod.globalSecIx = idx
		// The insert shifts every later section by one, so re-find the
		// global/export/code section indices before appendBudgetExport and
		// instrumentCodeSection use them.
		mod.refreshSectionIndices()
		return nil
	}

	sec := &mod.sections[mod.globalSecIx]
	count, n, err := readVarUint32(sec.payload, 0)
	if err != nil {
		return &MalformedModuleError{Reason: "re-reading global count: " + err.Error()}
	}
	rest := sec.payload[n:]
	newPayload := putVarUint32(nil, count+1)
	newPayload = append(newPayload, rest...)
	newPayload = append(newPayload, entry...)
	sec.payload = newPayload
	return nil
}

// appendBudgetExport exports globalIdx under budgetGlobalExportName, creating
// an export section if the module had none.
func appendBudgetExport(mod *module, globalIdx int) error {
	var entry []byte
	name := []byte(budgetGlobalExportName)
	entry = putVarUint32(entry, uint32(len(name)))
	entry = append(entry, name...)
	entry = append(entry, 0x03) // export kind: global
	entry = putVarUint32(entry, uint32(globalIdx))

	if !mod.hasExport {
		payload := putVarUint32(nil, 1)
		payload = append(payload, entry...)
		idx := mod.insertSectionInOrder(secExport, payload)
		mod.hasExport = true
		mod.exportSecIx = idx
		mod.refreshSectionIndices()
		return nil
	}

	sec := &mod.sections[mod.exportSecIx]
	count, n, err := readVarUint32(sec.payload, 0)
	if err != nil {
		return &MalformedModuleError{Reason: "re-reading export count: " + err.Error()}
	}
	rest := sec.payload[n:]
	newPayload := putVarUint32(nil, count+1)
	newPayload = append(newPayload, rest...)
	newPayload = append(newPayload, entry...)
	sec.payload = newPayload
	return nil
}

// refreshSectionIndices re-finds the global/export/code section indices after
// insertSectionInOrder has shifted the slice around.
func (m *module) refreshSectionIndices() {
	m.codeSecIdx = -1
	for i, s := range m.sections {
		switch s.id {
		case secGlobal:
			m.globalSecIx = i
		case secExport:
			m.exportSecIx = i
		case secCode:
			m.codeSecIdx = i
		}
	}
}

// instrumentCodeSection rewrites every function body in the code section,
// inserting a debit-and-trap prologue at the start of every metered segment.
func instrumentCodeSection(mod *module, globalIdx int, table *cost.Table) error {
	sec := &mod.sections[mod.codeSecIdx]
	count, n, err := readVarUint32(sec.payload, 0)
	if err != nil {
		return &MalformedModuleError{Reason: "code section count: " + err.Error()}
	}

	out := putVarUint32(nil, count)
	pos := n
	for i := uint32(0); i < count; i++ {
		bodySize, l, err := readVarUint32(sec.payload, pos)
		if err != nil {
			return &MalformedModuleError{Reason: "function body size: " + err.Error()}
		}
		pos += l
		if pos+int(bodySize) > len(sec.payload) {
			return &MalformedModuleError{Reason: "function body runs past code section end"}
		}
		body := sec.payload[pos : pos+int(bodySize)]
		pos += int(bodySize)

		rewritten, err := instrumentFunctionBody(body, globalIdx, table)
		if err != nil {
			return err
		}

		out = putVarUint32(out, uint32(len(rewritten)))
		out = append(out, rewritten...)
	}

	sec.payload = out
	return nil
}

// segment is a straight-line run of instructions that should be debited as
// one unit, identified by the byte offset (into the original body) where its
// prologue must be spliced in.
type segment struct {
	insertAt int
	cost     uint64
}

// instrumentFunctionBody locals-prefixed function body: skip the locals
// vector unchanged, then walk the instruction stream to find segment
// boundaries, then splice a debit-and-trap prologue at the start of every
// segment with non-zero cost.
//
// Segment boundaries are structural: a new segment starts at the function's
// first instruction and immediately after every block/loop/if opener and
// every else/end. This is coarser than a true basic-block partition: br,
// br_if, br_table, return and call do not end a segment, so a segment's full
// cost is debited up front even when a branch leaves it early. It can
// over-debit, but never lets an instruction run without its cost debited.
func instrumentFunctionBody(body []byte, globalIdx int, table *cost.Table) ([]byte, error) {
	localsEnd, err := skipLocals(body)
	if err != nil {
		return nil, err
	}

	var segments []segment
	cur := segment{insertAt: localsEnd, cost: 0}

	pos := localsEnd
	for pos < len(body) {
		d, err := decodeInstr(body, pos)
		if err != nil {
			return nil, err
		}

		price, found := table.Cost(d.op)
		if !found {
			table.WarnPenalty(opcodeName(d.op))
		}
		cur.cost += uint64(price)

		next := pos + d.totalLen
		if d.opensNew || d.closesOld {
			segments = append(segments, cur)
			cur = segment{insertAt: next, cost: 0}
		}
		pos = next
	}
	if cur.cost > 0 {
		segments = append(segments, cur)
	}

	return spliceSegments(body, segments, globalIdx), nil
}

// skipLocals returns the byte offset immediately after a function body's
// locals vector (a count followed by that many (count, valtype) pairs).
func skipLocals(body []byte) (int, error) {
	groups, n, err := readVarUint32(body, 0)
	if err != nil {
		return 0, &MalformedModuleError{Reason: "locals vector count: " + err.Error()}
	}
	pos := n
	for i := uint32(0); i < groups; i++ {
		_, l, err := readVarUint32(body, pos) // count of locals in this group
		if err != nil {
			return 0, &MalformedModuleError{Reason: "locals group count: " + err.Error()}
		}
		pos += l + 1 // + 1 for the valtype byte
	}
	if pos > len(body) {
		return 0, &MalformedModuleError{Reason: "locals vector runs past body end"}
	}
	return pos, nil
}

// spliceSegments rebuilds body with a debit-and-trap prologue inserted at
// every segment's start offset. Segments are processed in order and offsets
// refer to the ORIGINAL body, so we walk it once, copying straight through
// and injecting prologues at the recorded boundaries.
func spliceSegments(body []byte, segments []segment, globalIdx int) []byte {
	byStart := make(map[int]uint64, len(segments))
	for _, s := range segments {
		if s.cost == 0 {
			continue
		}
		if s.insertAt >= len(body) {
			continue // trailing segment after the function's final end
		}
		byStart[s.insertAt] += s.cost
	}

	out := make([]byte, 0, len(body)+len(segments)*24)
	for i := 0; i <= len(body); i++ {
		if c, ok := byStart[i]; ok {
			out = append(out, prologue(globalIdx, c)...)
		}
		if i < len(body) {
			out = append(out, body[i])
		}
	}
	return out
}

// prologue returns the debit-and-trap bytecode sequence for one segment:
//
//	global.get $budget
//	i64.const  cost
//	i64.sub
//	global.set $budget
//	global.get $budget
//	i64.const  0
//	i64.lt_s
//	if
//	  unreachable
//	end
func prologue(globalIdx int, segCost uint64) []byte {
	var b []byte
	b = append(b, 0x23)
	b = putVarUint32(b, uint32(globalIdx))
	b = append(b, 0x42)
	b = putVarInt64(b, int64(segCost))
	b = append(b, 0x7D) // i64.sub
	b = append(b, 0x24)
	b = putVarUint32(b, uint32(globalIdx))
	b = append(b, 0x23)
	b = putVarUint32(b, uint32(globalIdx))
	b = append(b, 0x42, 0x00) // i64.const 0
	b = append(b, 0x53)       // i64.lt_s
	b = append(b, 0x04, 0x40) // if (empty blocktype)
	b = append(b, 0x00)       // unreachable
	b = append(b, 0x0B)       // end
	return b
}
