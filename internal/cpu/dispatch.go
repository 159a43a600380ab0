package cpu

import (
	"math"
	"math/bits"

	"github.com/csx64/csx64-go/internal/csxerr"
)

// dispatchTable is the CPU's 256-entry opcode table: a fixed array of
// function values indexed by the raw opcode byte, per the idiom of
// expressing the source's function-pointer table as Go function values.
// Handlers return false when they have already called Terminate/Exit, true
// to continue ticking.
var dispatchTable [256]func(*State) bool

func init() {
	dispatchTable[OpMov] = execBinary(OpMov, false)
	dispatchTable[OpAdd] = execBinary(OpAdd, false)
	dispatchTable[OpSub] = execBinary(OpSub, false)
	dispatchTable[OpAnd] = execBinary(OpAnd, false)
	dispatchTable[OpOr] = execBinary(OpOr, false)
	dispatchTable[OpXor] = execBinary(OpXor, false)
	dispatchTable[OpCmp] = execBinary(OpCmp, true)
	dispatchTable[OpTest] = execBinary(OpTest, true)

	dispatchTable[OpInc] = execUnary(opInc)
	dispatchTable[OpDec] = execUnary(opDec)
	dispatchTable[OpNeg] = execUnary(opNeg)
	dispatchTable[OpNot] = execUnary(opNot)

	dispatchTable[OpMul] = execMul
	dispatchTable[OpDiv] = execDiv

	dispatchTable[OpShl] = execShift(opShl)
	dispatchTable[OpShr] = execShift(opShr)
	dispatchTable[OpSar] = execShift(opSar)
	dispatchTable[OpRol] = execShift(opRol)
	dispatchTable[OpRor] = execShift(opRor)
	dispatchTable[OpRcl] = execShift(opRcl)
	dispatchTable[OpRcr] = execShift(opRcr)

	dispatchTable[OpJmp] = execJmp
	dispatchTable[OpJcc] = execJcc
	dispatchTable[OpCall] = execCall
	dispatchTable[OpRet] = execRet
	dispatchTable[OpLoop] = execLoop
	dispatchTable[OpLoopcc] = execLoopcc

	dispatchTable[OpPush] = execPush
	dispatchTable[OpPop] = execPop

	dispatchTable[OpSetcc] = execSetcc
	dispatchTable[OpCmovcc] = execCmovcc

	dispatchTable[OpMovs] = execMovs
	dispatchTable[OpStos] = execStos
	dispatchTable[OpLods] = execLods
	dispatchTable[OpCmps] = execCmps
	dispatchTable[OpScas] = execScas

	dispatchTable[OpFld] = execFld
	dispatchTable[OpFstp] = execFstp
	dispatchTable[OpFaddp] = execFaddp
	dispatchTable[OpFsub] = execFsub
	dispatchTable[OpFmul] = execFmul
	dispatchTable[OpFdiv] = execFdiv
	dispatchTable[OpFcom] = execFcom
	dispatchTable[OpFinit] = execFinit

	dispatchTable[OpVaddps] = execVaddps
	dispatchTable[OpVsubps] = execVsubps
	dispatchTable[OpVmulps] = execVmulps
	dispatchTable[OpVdivps] = execVdivps
	dispatchTable[OpVcmpeqps] = execVcmpeqps

	dispatchTable[OpSyscall] = execSyscall
	dispatchTable[OpHlt] = execHlt
	dispatchTable[OpIdle] = execIdle
	dispatchTable[OpDebug] = execDebug
}

// --- fetch helpers: read from memory at RIP, advancing RIP, terminating on
// out-of-bounds access. ---

func fetchN(s *State, n int) (uint64, bool) {
	val, err := s.Mem.Read(s.RIP, uint64(n))
	if err != csxerr.None {
		s.Terminate(err)
		return 0, false
	}
	s.RIP += uint64(n)
	return val, true
}

func fetchByte(s *State) (uint8, bool) {
	v, ok := fetchN(s, 1)
	return uint8(v), ok
}

func fetchSize(s *State, size Sizecode) (uint64, bool) {
	return fetchN(s, size.Bytes())
}

func fetchAddr(s *State) (uint64, bool) {
	return fetchN(s, 8)
}

// operandByte layout: bit7 mem, bit6 imm, bits5-4 size, bits3-0 reg.
type operandByte struct {
	mem  bool
	imm  bool
	size Sizecode
	reg  int
}

func fetchOperandByte(s *State) (operandByte, bool) {
	b, ok := fetchByte(s)
	if !ok {
		return operandByte{}, false
	}
	return operandByte{
		mem:  b&0x80 != 0,
		imm:  b&0x40 != 0,
		size: Sizecode((b >> 4) & 0x3),
		reg:  int(b & 0xF),
	}, true
}

// readDest reads the current value of the destination operand described by
// ob, returning its address (if memory, for the later write-back) too.
func readDest(s *State, ob operandByte) (val uint64, addr uint64, isMem bool, ok bool) {
	if ob.mem {
		a, ok := fetchAddr(s)
		if !ok {
			return 0, 0, true, false
		}
		v, err := s.Mem.Read(a, uint64(ob.size.Bytes()))
		if err != csxerr.None {
			s.Terminate(err)
			return 0, 0, true, false
		}
		return v, a, true, true
	}
	return s.GP.Get(ob.reg, ob.size), 0, false, true
}

func writeDest(s *State, ob operandByte, addr uint64, isMem bool, val uint64) bool {
	if isMem {
		if err := s.Mem.Write(addr, uint64(ob.size.Bytes()), val); err != csxerr.None {
			s.Terminate(err)
			return false
		}
		return true
	}
	s.GP.Set(ob.reg, ob.size, val)
	return true
}

// readSrc reads the source operand following a destination operand: an
// immediate of ob.size bytes if ob.imm, else a one-byte register index of
// the same size.
func readSrc(s *State, ob operandByte) (uint64, bool) {
	if ob.imm {
		return fetchSize(s, ob.size)
	}
	r, ok := fetchByte(s)
	if !ok {
		return 0, false
	}
	return s.GP.Get(int(r), ob.size), true
}

// --- binary R/RM/M/I family: ADD, SUB, AND, OR, XOR, MOV, CMP, TEST. ---

func execBinary(opcode int, discardResult bool) func(*State) bool {
	return func(s *State) bool {
		ob, ok := fetchOperandByte(s)
		if !ok {
			return false
		}
		dst, addr, isMem, ok := readDest(s, ob)
		if !ok {
			return false
		}
		src, ok := readSrc(s, ob)
		if !ok {
			return false
		}

		result := applyBinaryOp(s, opcode, dst, src, ob.size)

		if !discardResult {
			if !writeDest(s, ob, addr, isMem, result) {
				return false
			}
		}
		return true
	}
}

// applyBinaryOp performs the arithmetic/logic for opcode, updating flags as
// a side effect (MOV leaves flags untouched).
func applyBinaryOp(s *State, opcode int, dst, src uint64, size Sizecode) uint64 {
	switch opcode {
	case OpMov:
		return src
	case OpAdd:
		return s.Flags.UpdateAdd(dst, src, size)
	case OpSub, OpCmp:
		return s.Flags.UpdateSub(dst, src, size)
	case OpAnd, OpTest:
		r := Truncate(dst&src, size)
		s.Flags.UpdateLogic(r, size)
		return r
	case OpOr:
		r := Truncate(dst|src, size)
		s.Flags.UpdateLogic(r, size)
		return r
	case OpXor:
		r := Truncate(dst^src, size)
		s.Flags.UpdateLogic(r, size)
		return r
	default:
		return src
	}
}

// --- unary R/M family: INC, DEC, NEG, NOT. ---

func execUnary(op func(v uint64, size Sizecode) uint64) func(*State) bool {
	return func(s *State) bool {
		ob, ok := fetchOperandByte(s)
		if !ok {
			return false
		}
		v, addr, isMem, ok := readDest(s, ob)
		if !ok {
			return false
		}
		result := op(v, ob.size)
		return writeDest(s, ob, addr, isMem, result)
	}
}

func opInc(v uint64, size Sizecode) uint64 { return Truncate(v+1, size) }
func opDec(v uint64, size Sizecode) uint64 { return Truncate(v-1, size) }
func opNeg(v uint64, size Sizecode) uint64 { return Truncate(^v+1, size) }
func opNot(v uint64, size Sizecode) uint64 { return Truncate(^v, size) }

// --- MUL, DIV: single R/M operand multiplies/divides the RDX:RAX pair,
// per the same operand-byte shape as INC/DEC/NEG/NOT but writing the wide
// result across RAX (low/quotient) and RDX (high/remainder) instead of
// back to the operand. ---

func execMul(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	v, _, _, ok := readDest(s, ob)
	if !ok {
		return false
	}
	a := s.GP.Get(RAX, ob.size)
	hiBits := uint(ob.size.Bits())
	var hi, lo uint64
	if ob.size == Size64 {
		hi, lo = bits.Mul64(a, v)
	} else {
		full := a * v
		mask := uint64(1)<<hiBits - 1
		lo = full & mask
		hi = (full >> hiBits) & mask
	}
	s.GP.Set(RAX, ob.size, lo)
	s.GP.Set(RDX, ob.size, hi)
	cf := hi != 0
	s.Flags.SetCF(cf)
	s.Flags.SetOF(cf)
	return true
}

func execDiv(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	divisor, _, _, ok := readDest(s, ob)
	if !ok {
		return false
	}
	if divisor == 0 {
		s.Terminate(csxerr.ArithmeticError)
		return false
	}

	hi := s.GP.Get(RDX, ob.size)
	lo := s.GP.Get(RAX, ob.size)
	hiBits := uint(ob.size.Bits())

	var quo, rem uint64
	if ob.size == Size64 {
		if divisor <= hi {
			s.Terminate(csxerr.ArithmeticError)
			return false
		}
		quo, rem = bits.Div64(hi, lo, divisor)
	} else {
		combined := (hi << hiBits) | lo
		quo = combined / divisor
		rem = combined % divisor
		if quo>>hiBits != 0 {
			s.Terminate(csxerr.ArithmeticError)
			return false
		}
	}
	s.GP.Set(RAX, ob.size, quo)
	s.GP.Set(RDX, ob.size, rem)
	return true
}

// --- shift/rotate family: SHL, SHR, SAR, ROL, ROR. Count is a single
// following immediate byte, masked to 6 bits (0-63). ---

func execShift(op func(s *State, v uint64, count uint, size Sizecode) uint64) func(*State) bool {
	return func(s *State) bool {
		ob, ok := fetchOperandByte(s)
		if !ok {
			return false
		}
		v, addr, isMem, ok := readDest(s, ob)
		if !ok {
			return false
		}
		countByte, ok := fetchByte(s)
		if !ok {
			return false
		}
		count := uint(countByte & 0x3F)
		result := op(s, v, count, ob.size)
		return writeDest(s, ob, addr, isMem, result)
	}
}

func opShl(s *State, v uint64, count uint, size Sizecode) uint64 {
	if count == 0 {
		return v
	}
	bits := uint(size.Bits())
	var cf bool
	if count <= bits {
		cf = (v>>(bits-count))&1 != 0
	}
	result := Truncate(v<<count, size)
	s.Flags.SetCF(cf)
	if count == 1 {
		s.Flags.SetOF((result>>(bits-1))&1 != cf2u(cf))
	}
	s.Flags.UpdateLogic(result, size)
	s.Flags.SetAF(s.RandomBits(1) != 0)
	return result
}

func cf2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func opShr(s *State, v uint64, count uint, size Sizecode) uint64 {
	if count == 0 {
		return Truncate(v, size)
	}
	trunc := Truncate(v, size)
	var cf bool
	if count >= 1 && count <= 64 {
		cf = (trunc>>(count-1))&1 != 0
	}
	result := trunc >> count
	s.Flags.SetCF(cf)
	if count == 1 {
		s.Flags.SetOF((trunc>>(size.Bits()-1))&1 != 0)
	}
	s.Flags.UpdateLogic(result, size)
	s.Flags.SetAF(s.RandomBits(1) != 0)
	return result
}

func opSar(s *State, v uint64, count uint, size Sizecode) uint64 {
	signed := int64(SignExtend(v, size))
	var cf bool
	if count >= 1 {
		shifted := Truncate(v, size)
		if count <= 64 {
			cf = (shifted>>(count-1))&1 != 0
		}
	}
	var result int64
	if count >= 64 {
		if signed < 0 {
			result = -1
		}
	} else {
		result = signed >> count
	}
	trunc := Truncate(uint64(result), size)
	s.Flags.SetCF(cf)
	if count == 1 {
		s.Flags.SetOF(false)
	}
	s.Flags.UpdateLogic(trunc, size)
	s.Flags.SetAF(s.RandomBits(1) != 0)
	return trunc
}

func opRol(s *State, v uint64, count uint, size Sizecode) uint64 {
	bits := uint(size.Bits())
	count %= bits
	trunc := Truncate(v, size)
	if count == 0 {
		s.Flags.SetCF(trunc&1 != 0)
		return trunc
	}
	result := Truncate((trunc<<count)|(trunc>>(bits-count)), size)
	s.Flags.SetCF(result&1 != 0)
	if count == 1 {
		s.Flags.SetOF((result>>(bits-1))&1 != (result & 1))
	}
	return result
}

func opRor(s *State, v uint64, count uint, size Sizecode) uint64 {
	bits := uint(size.Bits())
	count %= bits
	trunc := Truncate(v, size)
	if count == 0 {
		s.Flags.SetCF((trunc >> (bits - 1) & 1) != 0)
		return trunc
	}
	result := Truncate((trunc>>count)|(trunc<<(bits-count)), size)
	s.Flags.SetCF((result>>(bits-1))&1 != 0)
	if count == 1 {
		s.Flags.SetOF((result>>(bits-1))&1 != (result>>(bits-2))&1)
	}
	return result
}

// opRcl/opRcr rotate through the carry flag: the count-1 low bits of the
// result come from v, and the vacated high/low bit comes from the incoming
// CF, with CF updated to the bit rotated out.
func opRcl(s *State, v uint64, count uint, size Sizecode) uint64 {
	bitsN := uint(size.Bits())
	count %= bitsN + 1
	if count == 0 {
		return Truncate(v, size)
	}
	trunc := Truncate(v, size)
	cf := cf2u(s.Flags.CF())
	wide := trunc | (cf << bitsN)
	width := bitsN + 1
	result := ((wide << count) | (wide >> (width - count))) & ((uint64(1) << width) - 1)
	newCF := (result >> bitsN) & 1
	s.Flags.SetCF(newCF != 0)
	result &= (uint64(1) << bitsN) - 1
	if count == 1 {
		s.Flags.SetOF((result>>(bitsN-1))&1 != newCF)
	}
	return result
}

func opRcr(s *State, v uint64, count uint, size Sizecode) uint64 {
	bitsN := uint(size.Bits())
	count %= bitsN + 1
	if count == 0 {
		return Truncate(v, size)
	}
	trunc := Truncate(v, size)
	cf := cf2u(s.Flags.CF())
	width := bitsN + 1
	wide := trunc | (cf << bitsN)
	if count == 1 {
		s.Flags.SetOF((trunc>>(bitsN-1))&1 != cf)
	}
	result := ((wide >> count) | (wide << (width - count))) & ((uint64(1) << width) - 1)
	newCF := (result >> bitsN) & 1
	s.Flags.SetCF(newCF != 0)
	return result & ((uint64(1) << bitsN) - 1)
}

// --- control flow: JMP, Jcc, CALL, RET, LOOP. Targets are an 8-byte
// absolute address immediately following the opcode (or condition byte). ---

func execJmp(s *State) bool {
	target, ok := fetchAddr(s)
	if !ok {
		return false
	}
	s.RIP = target
	return true
}

func execJcc(s *State) bool {
	cond, ok := fetchByte(s)
	if !ok {
		return false
	}
	target, ok := fetchAddr(s)
	if !ok {
		return false
	}
	if evalCondition(s, int(cond)) {
		s.RIP = target
	}
	return true
}

func evalCondition(s *State, cond int) bool {
	f := &s.Flags
	switch cond {
	case CondZ:
		return f.ZF()
	case CondNZ:
		return !f.ZF()
	case CondS:
		return f.SF()
	case CondNS:
		return !f.SF()
	case CondP:
		return f.PF()
	case CondNP:
		return !f.PF()
	case CondO:
		return f.OF()
	case CondNO:
		return !f.OF()
	case CondC, CondB:
		return f.CF()
	case CondNC, CondAE:
		return !f.CF()
	case CondBE:
		return f.CF() || f.ZF()
	case CondA:
		return !f.CF() && !f.ZF()
	case CondL:
		return f.SF() != f.OF()
	case CondLE:
		return f.ZF() || f.SF() != f.OF()
	case CondG:
		return !f.ZF() && f.SF() == f.OF()
	case CondGE:
		return f.SF() == f.OF()
	case CondCXZ:
		return s.GP.Get(RCX, Size64) == 0
	}
	return false
}

func execCall(s *State) bool {
	target, ok := fetchAddr(s)
	if !ok {
		return false
	}
	if !checkedPush(s, s.RIP, Size64) {
		return false
	}
	s.RIP = target
	return true
}

func execRet(s *State) bool {
	v, ok := checkedPop(s, Size64)
	if !ok {
		return false
	}
	s.RIP = v
	return true
}

func execLoop(s *State) bool {
	target, ok := fetchAddr(s)
	if !ok {
		return false
	}
	rcx := s.GP.Get(RCX, Size64) - 1
	s.GP.Set(RCX, Size64, rcx)
	if rcx != 0 {
		s.RIP = target
	}
	return true
}

// execLoopcc is LOOPE/LOOPNE: decrement RCX, then branch only if RCX != 0
// AND the condition byte (CondZ/CondNZ in practice) holds.
func execLoopcc(s *State) bool {
	cond, ok := fetchByte(s)
	if !ok {
		return false
	}
	target, ok := fetchAddr(s)
	if !ok {
		return false
	}
	rcx := s.GP.Get(RCX, Size64) - 1
	s.GP.Set(RCX, Size64, rcx)
	if rcx != 0 && evalCondition(s, int(cond)) {
		s.RIP = target
	}
	return true
}

// --- stack: PUSH, POP. ---

func checkedPush(s *State, val uint64, size Sizecode) bool {
	sp := s.GP.Get(RSP, Size64) - uint64(size.Bytes())
	if sp < s.Mem.StackBarrier {
		s.Terminate(csxerr.StackOverflow)
		return false
	}
	if err := s.Mem.Write(sp, uint64(size.Bytes()), val); err != csxerr.None {
		s.Terminate(err)
		return false
	}
	s.GP.Set(RSP, Size64, sp)
	return true
}

func checkedPop(s *State, size Sizecode) (uint64, bool) {
	sp := s.GP.Get(RSP, Size64)
	v, err := s.Mem.Read(sp, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return 0, false
	}
	s.GP.Set(RSP, Size64, sp+uint64(size.Bytes()))
	return v, true
}

func execPush(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	v, _, _, ok := readDest(s, ob)
	if !ok {
		return false
	}
	return checkedPush(s, v, ob.size)
}

func execPop(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	v, ok := checkedPop(s, ob.size)
	if !ok {
		return false
	}
	s.GP.Set(ob.reg, ob.size, v)
	return true
}

// --- SETcc, CMOVcc: same operand-byte destination as the unary family,
// plus a leading condition byte. SETcc writes 0/1 into a byte-size
// destination; CMOVcc conditionally copies a full-size source into dst. ---

func execSetcc(s *State) bool {
	cond, ok := fetchByte(s)
	if !ok {
		return false
	}
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	_, addr, isMem, ok := readDest(s, ob)
	if !ok {
		return false
	}
	var v uint64
	if evalCondition(s, int(cond)) {
		v = 1
	}
	return writeDest(s, ob, addr, isMem, v)
}

func execCmovcc(s *State) bool {
	cond, ok := fetchByte(s)
	if !ok {
		return false
	}
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	_, addr, isMem, ok := readDest(s, ob)
	if !ok {
		return false
	}
	src, ok := readSrc(s, ob)
	if !ok {
		return false
	}
	if !evalCondition(s, int(cond)) {
		return true
	}
	return writeDest(s, ob, addr, isMem, src)
}

// --- string family: MOVS, STOS, LODS, CMPS, SCAS. Extension byte: bits1-0
// size, bit2 rep-present. Under rep, the RFLAGS OTRF bit selects whether the
// whole loop runs in one tick (set) or one iteration runs per tick with RIP
// rewound by 2 to retry (clear). RSI/RDI advance by size, negated when DF
// is set. ---

func execMovs(s *State) bool { return execStringOp(s, stringMovs) }
func execStos(s *State) bool { return execStringOp(s, stringStos) }
func execLods(s *State) bool { return execStringOp(s, stringLods) }
func execCmps(s *State) bool { return execStringOp(s, stringCmps) }
func execScas(s *State) bool { return execStringOp(s, stringScas) }

func execStringOp(s *State, iter func(*State, Sizecode) bool) bool {
	ext, ok := fetchByte(s)
	if !ok {
		return false
	}
	size := Sizecode(ext & 0x3)
	rep := ext&0x4 != 0

	if !rep {
		return iter(s, size)
	}

	if s.Flags.OTRF() {
		for s.GP.Get(RCX, Size64) != 0 {
			if !iter(s, size) {
				return false
			}
			s.GP.Set(RCX, Size64, s.GP.Get(RCX, Size64)-1)
		}
		return true
	}

	if s.GP.Get(RCX, Size64) == 0 {
		return true
	}
	if !iter(s, size) {
		return false
	}
	s.GP.Set(RCX, Size64, s.GP.Get(RCX, Size64)-1)
	if s.GP.Get(RCX, Size64) != 0 {
		s.RIP -= 2 // rewind opcode + extension byte to retry next tick
	}
	return true
}

func stepPtr(s *State, reg int, size Sizecode) {
	delta := uint64(size.Bytes())
	if s.Flags.DF() {
		s.GP.Set(reg, Size64, s.GP.Get(reg, Size64)-delta)
	} else {
		s.GP.Set(reg, Size64, s.GP.Get(reg, Size64)+delta)
	}
}

func stringMovs(s *State, size Sizecode) bool {
	src := s.GP.Get(RSI, Size64)
	dst := s.GP.Get(RDI, Size64)
	v, err := s.Mem.Read(src, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return false
	}
	if err := s.Mem.Write(dst, uint64(size.Bytes()), v); err != csxerr.None {
		s.Terminate(err)
		return false
	}
	stepPtr(s, RSI, size)
	stepPtr(s, RDI, size)
	return true
}

func stringStos(s *State, size Sizecode) bool {
	dst := s.GP.Get(RDI, Size64)
	if err := s.Mem.Write(dst, uint64(size.Bytes()), s.GP.Get(RAX, size)); err != csxerr.None {
		s.Terminate(err)
		return false
	}
	stepPtr(s, RDI, size)
	return true
}

func stringLods(s *State, size Sizecode) bool {
	src := s.GP.Get(RSI, Size64)
	v, err := s.Mem.Read(src, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return false
	}
	s.GP.Set(RAX, size, v)
	stepPtr(s, RSI, size)
	return true
}

func stringCmps(s *State, size Sizecode) bool {
	a := s.GP.Get(RSI, Size64)
	b := s.GP.Get(RDI, Size64)
	av, err := s.Mem.Read(a, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return false
	}
	bv, err := s.Mem.Read(b, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return false
	}
	s.Flags.UpdateSub(av, bv, size)
	stepPtr(s, RSI, size)
	stepPtr(s, RDI, size)
	return true
}

func stringScas(s *State, size Sizecode) bool {
	dst := s.GP.Get(RDI, Size64)
	v, err := s.Mem.Read(dst, uint64(size.Bytes()))
	if err != csxerr.None {
		s.Terminate(err)
		return false
	}
	s.Flags.UpdateSub(s.GP.Get(RAX, size), v, size)
	stepPtr(s, RDI, size)
	return true
}

// --- representative FPU/VPU coverage: FLD, FSTP, FADDP and a packed-float
// add, demonstrating the stack and lane semantics the wider instruction
// families in SPEC_FULL share. ---

func execFld(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	v, _, _, ok := readDest(s, ob)
	if !ok {
		return false
	}
	var f float64
	if ob.size == Size64 {
		f = i64bitsToFloat64(v)
	} else {
		f = float64(i32bitsToFloat32(uint32(v)))
	}
	if !s.FPU.Push(f) {
		s.Terminate(csxerr.FPUStackOverflow)
		return false
	}
	return true
}

func execFstp(s *State) bool {
	ob, ok := fetchOperandByte(s)
	if !ok {
		return false
	}
	var addr uint64
	if ob.mem {
		addr, ok = fetchAddr(s)
		if !ok {
			return false
		}
	}

	v, ok := s.FPU.Pop()
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	var bits uint64
	if ob.size == Size64 {
		bits = float64ToI64Bits(v)
	} else {
		bits = uint64(float32ToI32Bits(float32(v)))
	}

	if ob.mem {
		if err := s.Mem.Write(addr, uint64(ob.size.Bytes()), bits); err != csxerr.None {
			s.Terminate(err)
			return false
		}
		return true
	}
	s.GP.Set(ob.reg, ob.size, bits)
	return true
}

func execFaddp(s *State) bool {
	top, ok := s.FPU.Pop()
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	next, ok := s.FPU.ST(0)
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	s.FPU.SetST(0, next+top)
	return true
}

// execFsub/execFmul/execFdiv mirror execFaddp's pop-and-combine-into-new-ST0
// shape: FxxxP pops ST(0), combines it with the new ST(0) (old ST(1)), and
// stores the result back into ST(0).
func execFsub(s *State) bool { return execFaddpLike(s, func(next, top float64) float64 { return next - top }) }
func execFmul(s *State) bool { return execFaddpLike(s, func(next, top float64) float64 { return next * top }) }
func execFdiv(s *State) bool { return execFaddpLike(s, func(next, top float64) float64 { return next / top }) }

func execFaddpLike(s *State, combine func(next, top float64) float64) bool {
	top, ok := s.FPU.Pop()
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	next, ok := s.FPU.ST(0)
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	s.FPU.SetST(0, combine(next, top))
	return true
}

// execFcom compares ST(0) against ST(1) and reports the ordering through
// the CPU's own ZF/PF/CF flags, following the FCOMI convention of
// surfacing the FPU compare directly into RFLAGS rather than the legacy
// C0-C3 status-word bits.
func execFcom(s *State) bool {
	top, ok := s.FPU.ST(0)
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	next, ok := s.FPU.ST(1)
	if !ok {
		s.Terminate(csxerr.FPUStackUnderflow)
		return false
	}
	switch {
	case math.IsNaN(top) || math.IsNaN(next):
		s.Flags.SetZF(true)
		s.Flags.SetPF(true)
		s.Flags.SetCF(true)
	case next == top:
		s.Flags.SetZF(true)
		s.Flags.SetPF(false)
		s.Flags.SetCF(false)
	case top < next:
		s.Flags.SetZF(false)
		s.Flags.SetPF(false)
		s.Flags.SetCF(true)
	default:
		s.Flags.SetZF(false)
		s.Flags.SetPF(false)
		s.Flags.SetCF(false)
	}
	return true
}

func execFinit(s *State) bool {
	s.FPU.Init()
	return true
}

func execVaddps(s *State) bool {
	cfg, ok := fetchByte(s)
	if !ok {
		return false
	}
	dst, ok := fetchByte(s)
	if !ok {
		return false
	}
	src1, ok := fetchByte(s)
	if !ok {
		return false
	}
	src2, ok := fetchByte(s)
	if !ok {
		return false
	}
	op := ElementwiseOp{ElemSize: 4, VecSize: 16 << uint(cfg&0x3)}
	op.Apply(&s.VPU, int(dst), int(src1), int(src2), func(a, b uint64) uint64 {
		fa := i32bitsToFloat32(uint32(a))
		fb := i32bitsToFloat32(uint32(b))
		return uint64(float32ToI32Bits(fa + fb))
	})
	return true
}

// execVsubps/execVmulps/execVdivps share vaddps's [opcode][cfg][dst][src1]
// [src2] shape, varying only the per-lane float32 combinator.
func execVsubps(s *State) bool {
	return execVpackedF32(s, func(a, b float32) float32 { return a - b })
}
func execVmulps(s *State) bool {
	return execVpackedF32(s, func(a, b float32) float32 { return a * b })
}
func execVdivps(s *State) bool {
	return execVpackedF32(s, func(a, b float32) float32 { return a / b })
}

func execVpackedF32(s *State, combine func(a, b float32) float32) bool {
	cfg, ok := fetchByte(s)
	if !ok {
		return false
	}
	dst, ok := fetchByte(s)
	if !ok {
		return false
	}
	src1, ok := fetchByte(s)
	if !ok {
		return false
	}
	src2, ok := fetchByte(s)
	if !ok {
		return false
	}
	op := ElementwiseOp{ElemSize: 4, VecSize: 16 << uint(cfg&0x3)}
	op.Apply(&s.VPU, int(dst), int(src1), int(src2), func(a, b uint64) uint64 {
		fa := i32bitsToFloat32(uint32(a))
		fb := i32bitsToFloat32(uint32(b))
		return uint64(float32ToI32Bits(combine(fa, fb)))
	})
	return true
}

// execVcmpeqps is the VFCMP family's equality predicate: each lane becomes
// all-ones when src1's lane equals src2's lane, else zero, the standard
// x86 CMPPS mask-producing convention.
func execVcmpeqps(s *State) bool {
	cfg, ok := fetchByte(s)
	if !ok {
		return false
	}
	dst, ok := fetchByte(s)
	if !ok {
		return false
	}
	src1, ok := fetchByte(s)
	if !ok {
		return false
	}
	src2, ok := fetchByte(s)
	if !ok {
		return false
	}
	op := ElementwiseOp{ElemSize: 4, VecSize: 16 << uint(cfg&0x3)}
	op.Apply(&s.VPU, int(dst), int(src1), int(src2), func(a, b uint64) uint64 {
		fa := i32bitsToFloat32(uint32(a))
		fb := i32bitsToFloat32(uint32(b))
		if fa == fb {
			return 0xFFFFFFFF
		}
		return 0
	})
	return true
}

// --- system: SYSCALL, HLT, IDLE, DEBUG. ---

func execHlt(s *State) bool {
	s.Terminate(csxerr.Abort)
	return false
}

func execIdle(s *State) bool { return true }

func execDebug(s *State) bool { return true }
