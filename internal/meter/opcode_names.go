package meter

import (
	"fmt"

	"github.com/wark-project/wark/internal/cost"
)

// opcodeName renders an Op as the string the penalty warning logs, matching
// the cost table's comment-documented mnemonics where known and falling back
// to a numeric form otherwise.
func opcodeName(op cost.Op) string {
	if name, ok := opcodeMnemonics[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%06x)", uint32(op))
}

// opcodeMnemonics only needs entries for opcodes that are NOT already priced
// in the base cost table, since those are the only ones that ever reach
// WarnPenalty. Kept intentionally small; extend as the base table grows.
var opcodeMnemonics = map[cost.Op]string{
	cost.OpSingle(0x1D): "select (reserved)",
	cost.OpSingle(0x25): "table.get",
	cost.OpSingle(0x26): "table.set",
	cost.OpFC(15):       "table.grow",
	cost.OpFC(16):       "table.size",
	cost.OpFC(17):       "table.fill",
}
