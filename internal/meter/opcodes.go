package meter

import "github.com/wark-project/wark/internal/cost"

const (
	opUnreachable = 0x00
	opNop         = 0x01
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0B
	opBr          = 0x0C
	opBrIf        = 0x0D
	opBrTable     = 0x0E
	opReturn      = 0x0F
	opCall        = 0x10
	opCallInd     = 0x11

	opPrefixFC = 0xFC
)

// decoded describes one instruction's place in the function body byte
// stream: its opcode (for pricing), the total byte length of opcode plus
// immediates, and whether it opens or closes a metering segment boundary.
type decoded struct {
	op        cost.Op
	totalLen  int
	opensNew  bool // block / loop / if: a fresh segment starts right after this instruction
	closesOld bool // else / end: the preceding segment ends at this instruction (inclusive)
}

// decodeInstr decodes the instruction at body[pos:] far enough to know its
// total encoded length and its metering role. It does not validate full
// operand semantics (e.g. blocktype index bounds) — only enough structure to
// skip the right number of bytes, matching what a pricing/metering pass
// needs rather than a full validator.
func decodeInstr(body []byte, pos int) (decoded, error) {
	if pos >= len(body) {
		return decoded{}, &MalformedModuleError{Reason: "instruction stream ran past body end"}
	}
	opcode := body[pos]
	n := 1 // opcode byte itself

	switch opcode {
	case opUnreachable, opNop, opElse, opEnd, opReturn:
		// no immediate

	case opBlock, opLoop, opIf:
		blockLen, err := blockTypeLen(body, pos+n)
		if err != nil {
			return decoded{}, err
		}
		n += blockLen

	case opBr, opBrIf, opCall:
		_, l, err := readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case opBrTable:
		count, l, err := readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l
		for i := uint32(0); i < count; i++ {
			_, l, err := readVarUint32(body, pos+n)
			if err != nil {
				return decoded{}, &MalformedModuleError{Reason: err.Error()}
			}
			n += l
		}
		// default label
		_, l, err = readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case opCallInd:
		_, l, err := readVarUint32(body, pos+n) // typeidx
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l
		_, l, err = readVarUint32(body, pos+n) // tableidx
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x1A, 0x1B: // drop, select
		// no immediate

	case 0x1C: // select t*
		count, l, err := readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l + int(count) // one byte per valtype

	case 0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26: // local/global get/set/tee, table.get/set
		_, l, err := readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E: // loads/stores
		_, l, err := readVarUint32(body, pos+n) // align
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l
		_, l, err = readVarUint32(body, pos+n) // offset
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x3F, 0x40: // memory.size, memory.grow
		_, l, err := readVarUint32(body, pos+n) // reserved memidx
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x41: // i32.const
		_, l, err := readVarInt32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x42: // i64.const
		_, l, err := readVarInt64(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l

	case 0x43: // f32.const
		n += 4

	case 0x44: // f64.const
		n += 8

	case opPrefixFC:
		sub, l, err := readVarUint32(body, pos+n)
		if err != nil {
			return decoded{}, &MalformedModuleError{Reason: err.Error()}
		}
		n += l
		extra, err := fcImmLen(body, pos+n, sub)
		if err != nil {
			return decoded{}, err
		}
		n += extra
		return decoded{op: cost.OpFC(sub), totalLen: n}, nil

	default:
		if opcode >= 0x45 && opcode <= 0xC4 {
			// comparisons, i32/i64/f32/f64 arithmetic, conversions, sign
			// extension — none carry immediates.
		} else {
			return decoded{}, &UnsupportedFeatureError{Opcode: opcode, Detail: "unknown instruction encoding"}
		}
	}

	d := decoded{op: cost.OpSingle(opcode), totalLen: n}
	switch opcode {
	case opBlock, opLoop, opIf:
		d.opensNew = true
	case opElse, opEnd:
		d.closesOld = true
	}
	return d, nil
}

// blockTypeLen returns the length in bytes of a blocktype immediate: either
// the single-byte empty/valtype form, or a signed LEB128 type index.
func blockTypeLen(body []byte, pos int) (int, error) {
	if pos >= len(body) {
		return 0, &MalformedModuleError{Reason: "truncated blocktype"}
	}
	b := body[pos]
	switch b {
	case 0x40, 0x7F, 0x7E, 0x7D, 0x7C, 0x70, 0x6F:
		return 1, nil
	default:
		_, l, err := readVarInt32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: "bad blocktype: " + err.Error()}
		}
		return l, nil
	}
}

// fcImmLen returns the immediate length (beyond the sub-opcode already
// consumed) for the bulk-memory/table family of 0xFC-prefixed instructions
// this transform understands (sub-opcodes 0-17). Reference-types table.grow
// (15), table.size (16), table.fill (17) take one tableidx each; the
// truncating conversions (0-7) take none.
func fcImmLen(body []byte, pos int, sub uint32) (int, error) {
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // i32/i64.trunc_sat_f32/f64_s/u
		return 0, nil
	case 8: // memory.init dataidx, memidx
		_, l1, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		_, l2, err := readVarUint32(body, pos+l1)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l1 + l2, nil
	case 9: // data.drop dataidx
		_, l, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l, nil
	case 10: // memory.copy dst, src
		_, l1, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		_, l2, err := readVarUint32(body, pos+l1)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l1 + l2, nil
	case 11: // memory.fill memidx
		_, l, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l, nil
	case 12: // table.init elemidx, tableidx
		_, l1, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		_, l2, err := readVarUint32(body, pos+l1)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l1 + l2, nil
	case 13: // elem.drop elemidx
		_, l, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l, nil
	case 14: // table.copy dsttable, srctable
		_, l1, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		_, l2, err := readVarUint32(body, pos+l1)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l1 + l2, nil
	case 15, 16, 17: // table.grow, table.size, table.fill — tableidx
		_, l, err := readVarUint32(body, pos)
		if err != nil {
			return 0, &MalformedModuleError{Reason: err.Error()}
		}
		return l, nil
	default:
		return 0, &UnsupportedFeatureError{Opcode: opPrefixFC, Detail: "unknown 0xFC sub-opcode"}
	}
}
