package assemble

import (
	"fmt"
	"strings"

	"github.com/csx64/csx64-go/internal/cpu"
)

// instrEncoder consumes an already comma-split argument list and emits the
// instruction's bytes (opcode, operand byte(s), immediates/holes) into the
// active segment.
type instrEncoder func(a *Assembler, args []string) error

var instructionTable = buildInstructionTable()

func buildInstructionTable() map[string]instrEncoder {
	t := map[string]instrEncoder{
		"mov":  encBinary(cpu.OpMov),
		"add":  encBinary(cpu.OpAdd),
		"sub":  encBinary(cpu.OpSub),
		"and":  encBinary(cpu.OpAnd),
		"or":   encBinary(cpu.OpOr),
		"xor":  encBinary(cpu.OpXor),
		"cmp":  encBinary(cpu.OpCmp),
		"test": encBinary(cpu.OpTest),

		"inc": encUnary(cpu.OpInc),
		"dec": encUnary(cpu.OpDec),
		"neg": encUnary(cpu.OpNeg),
		"not": encUnary(cpu.OpNot),

		"mul": encUnary(cpu.OpMul),
		"div": encUnary(cpu.OpDiv),

		"shl": encShift(cpu.OpShl),
		"shr": encShift(cpu.OpShr),
		"sar": encShift(cpu.OpSar),
		"rol": encShift(cpu.OpRol),
		"ror": encShift(cpu.OpRor),
		"rcl": encShift(cpu.OpRcl),
		"rcr": encShift(cpu.OpRcr),

		"jmp":  encTarget(cpu.OpJmp),
		"call": encTarget(cpu.OpCall),
		"loop": encTarget(cpu.OpLoop),
		"ret":  encNoOperand(cpu.OpRet),

		"push": encPushPop(cpu.OpPush),
		"pop":  encPushPop(cpu.OpPop),

		"fld":   encUnary(cpu.OpFld),
		"fstp":  encUnary(cpu.OpFstp),
		"faddp": encNoOperand(cpu.OpFaddp),
		"fsubp": encNoOperand(cpu.OpFsub),
		"fmulp": encNoOperand(cpu.OpFmul),
		"fdivp": encNoOperand(cpu.OpFdiv),
		"fcom":  encNoOperand(cpu.OpFcom),
		"finit": encNoOperand(cpu.OpFinit),

		"vaddps":   encVpacked(cpu.OpVaddps),
		"vsubps":   encVpacked(cpu.OpVsubps),
		"vmulps":   encVpacked(cpu.OpVmulps),
		"vdivps":   encVpacked(cpu.OpVdivps),
		"vcmpeqps": encVpacked(cpu.OpVcmpeqps),

		"syscall": encNoOperand(cpu.OpSyscall),
		"hlt":     encNoOperand(cpu.OpHlt),
		"idle":    encNoOperand(cpu.OpIdle),
		"debug":   encNoOperand(cpu.OpDebug),
	}

	for mnemonic, cond := range conditionTable {
		c := cond
		t["j"+mnemonic] = encJcc(c)
		t["loop"+mnemonic] = encLoopcc(c)
		t["set"+mnemonic] = encSetcc(c)
		t["cmov"+mnemonic] = encCmovcc(c)
	}

	for name, so := range stringOpTable {
		op := so
		t[name] = func(a *Assembler, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%s takes no operands", name)
			}
			return a.encodeStringOp(op, false)
		}
	}

	return t
}

// conditionTable maps the Jcc mnemonic suffix (after "j") to the CPU's
// condition byte.
var conditionTable = map[string]int{
	"z": cpu.CondZ, "nz": cpu.CondNZ,
	"s": cpu.CondS, "ns": cpu.CondNS,
	"p": cpu.CondP, "np": cpu.CondNP,
	"o": cpu.CondO, "no": cpu.CondNO,
	"c": cpu.CondC, "nc": cpu.CondNC,
	"b": cpu.CondB, "be": cpu.CondBE,
	"a": cpu.CondA, "ae": cpu.CondAE,
	"l": cpu.CondL, "le": cpu.CondLE,
	"g": cpu.CondG, "ge": cpu.CondGE,
	"cxz": cpu.CondCXZ,
}

// lockableInstructions is the memory-RMW allow-list a LOCK prefix may
// precede: each reads its memory destination, modifies it, and writes it
// back, the shape LOCK's mutual-exclusion semantics target on real
// hardware. mov/cmp/test are excluded (not read-modify-write); jumps,
// string ops, and the FPU/VPU families are excluded (not memory-RMW).
var lockableInstructions = map[string]bool{
	"add": true, "sub": true, "and": true, "or": true, "xor": true,
	"inc": true, "dec": true, "neg": true, "not": true,
}

// stringOpDef pairs a string-instruction's base mnemonic with its implicit
// element width (the b/w/d/q suffix).
type stringOpDef struct {
	opcode int
	size   cpu.Sizecode
}

var stringOpTable = map[string]stringOpDef{
	"movsb": {cpu.OpMovs, cpu.Size8}, "movsw": {cpu.OpMovs, cpu.Size16}, "movsd": {cpu.OpMovs, cpu.Size32}, "movsq": {cpu.OpMovs, cpu.Size64},
	"stosb": {cpu.OpStos, cpu.Size8}, "stosw": {cpu.OpStos, cpu.Size16}, "stosd": {cpu.OpStos, cpu.Size32}, "stosq": {cpu.OpStos, cpu.Size64},
	"lodsb": {cpu.OpLods, cpu.Size8}, "lodsw": {cpu.OpLods, cpu.Size16}, "lodsd": {cpu.OpLods, cpu.Size32}, "lodsq": {cpu.OpLods, cpu.Size64},
	"cmpsb": {cpu.OpCmps, cpu.Size8}, "cmpsw": {cpu.OpCmps, cpu.Size16}, "cmpsd": {cpu.OpCmps, cpu.Size32}, "cmpsq": {cpu.OpCmps, cpu.Size64},
	"scasb": {cpu.OpScas, cpu.Size8}, "scasw": {cpu.OpScas, cpu.Size16}, "scasd": {cpu.OpScas, cpu.Size32}, "scasq": {cpu.OpScas, cpu.Size64},
}

// encodeStringOp emits a string-instruction opcode plus its extension byte
// (bits0-1 size, bit2 rep), per execStringOp's decode.
func (a *Assembler) encodeStringOp(def stringOpDef, rep bool) error {
	if err := a.emitOpcode(def.opcode); err != nil {
		return err
	}
	ext := byte(def.size)
	if rep {
		ext |= 0x4
	}
	return a.emitBytes([]byte{ext})
}

func (a *Assembler) emitOpcode(op int) error { return a.emitBytes([]byte{byte(op)}) }

func encodeOperandByte(mem, imm bool, size cpu.Sizecode, reg int) byte {
	var b byte
	if mem {
		b |= 0x80
	}
	if imm {
		b |= 0x40
	}
	b |= byte(size) << 4
	b |= byte(reg & 0xF)
	return b
}

// resolveDestOperand parses a destination argument, rejecting immediates.
func (a *Assembler) resolveDestOperand(text string) (operand, error) {
	op, err := a.parseOperand(text, -1)
	if err != nil {
		return operand{}, err
	}
	if op.kind == opImm {
		return operand{}, fmt.Errorf("%q cannot be an immediate destination", text)
	}
	return op, nil
}

// --- binary R/RM/M/I family ---

func encBinary(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("expected 2 operands, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		src, err := a.parseOperand(args[1], int(dst.size))
		if err != nil {
			return err
		}
		if src.kind == opMem {
			return fmt.Errorf("source operand cannot be memory (only one memory operand per instruction)")
		}
		if src.kind == opReg && src.size != dst.size {
			return fmt.Errorf("operand size mismatch: %s vs %s", args[0], args[1])
		}

		if err := a.emitOpcode(op); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, src.kind == opImm, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			if err := a.emitValue(dst.expr, 8); err != nil {
				return err
			}
		}
		if src.kind == opImm {
			return a.emitValue(src.expr, dst.size.Bytes())
		}
		return a.emitBytes([]byte{byte(src.reg.index)})
	}
}

// --- unary R/M family: INC/DEC/NEG/NOT, and the single-operand FLD/FSTP. ---

func encUnary(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(op); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, false, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			return a.emitValue(dst.expr, 8)
		}
		return nil
	}
}

// --- shift/rotate family: dest plus an immediate count byte. ---

func encShift(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("expected 2 operands, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		countExpr, err := a.parseExpr(args[1])
		if err != nil {
			return err
		}

		if err := a.emitOpcode(op); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, false, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			if err := a.emitValue(dst.expr, 8); err != nil {
				return err
			}
		}
		return a.emitValue(countExpr, 1)
	}
}

// --- control flow: JMP/CALL/LOOP take a single absolute-address target. ---

func encTarget(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		e, err := a.parseExpr(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(op); err != nil {
			return err
		}
		return a.emitValue(e, 8)
	}
}

func encJcc(cond int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		e, err := a.parseExpr(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(cpu.OpJcc); err != nil {
			return err
		}
		if err := a.emitBytes([]byte{byte(cond)}); err != nil {
			return err
		}
		return a.emitValue(e, 8)
	}
}

// encLoopcc is LOOPE/LOOPNE/.../LOOPCXZ: OpLoopcc, a condition byte, then the
// 8-byte target, reusing the condition table that drives Jcc.
func encLoopcc(cond int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		e, err := a.parseExpr(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(cpu.OpLoopcc); err != nil {
			return err
		}
		if err := a.emitBytes([]byte{byte(cond)}); err != nil {
			return err
		}
		return a.emitValue(e, 8)
	}
}

func encNoOperand(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("expected no operands, got %d", len(args))
		}
		return a.emitOpcode(op)
	}
}

// --- stack: PUSH/POP. ---

func encPushPop(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(op); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, false, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			return a.emitValue(dst.expr, 8)
		}
		return nil
	}
}

// --- SETcc, CMOVcc: a leading condition byte ahead of the operand-byte
// destination the unary/binary families already use. ---

func encSetcc(cond int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected 1 operand, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		if err := a.emitOpcode(cpu.OpSetcc); err != nil {
			return err
		}
		if err := a.emitBytes([]byte{byte(cond)}); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, false, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			return a.emitValue(dst.expr, 8)
		}
		return nil
	}
}

func encCmovcc(cond int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("expected 2 operands, got %d", len(args))
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return err
		}
		src, err := a.parseOperand(args[1], int(dst.size))
		if err != nil {
			return err
		}
		if src.kind != opReg {
			return fmt.Errorf("cmovcc source must be a register, got %q", args[1])
		}
		if src.size != dst.size {
			return fmt.Errorf("operand size mismatch: %s vs %s", args[0], args[1])
		}

		if err := a.emitOpcode(cpu.OpCmovcc); err != nil {
			return err
		}
		if err := a.emitBytes([]byte{byte(cond)}); err != nil {
			return err
		}
		reg := 0
		if dst.kind == opReg {
			reg = dst.reg.index
		}
		ob := encodeOperandByte(dst.kind == opMem, false, dst.size, reg)
		if err := a.emitBytes([]byte{ob}); err != nil {
			return err
		}
		if dst.kind == opMem {
			if err := a.emitValue(dst.expr, 8); err != nil {
				return err
			}
		}
		return a.emitBytes([]byte{byte(src.reg.index)})
	}
}

// --- VADDPS and its family: a representative packed-float shape, config
// byte plus three raw VPU register-index bytes, varying only the opcode. ---

func encVpacked(op int) instrEncoder {
	return func(a *Assembler, args []string) error {
		if len(args) != 3 {
			return fmt.Errorf("expected 3 operands, got %d", len(args))
		}
		regs := make([]vpuCfg, 3)
		for i, arg := range args {
			r, ok := lookupVPURegister(strings.TrimSpace(arg))
			if !ok {
				return fmt.Errorf("%q is not a vector register", arg)
			}
			regs[i] = r
		}
		if regs[0].cfg != regs[1].cfg || regs[1].cfg != regs[2].cfg {
			return fmt.Errorf("operand vector widths must match")
		}
		if err := a.emitOpcode(op); err != nil {
			return err
		}
		return a.emitBytes([]byte{regs[0].cfg, byte(regs[0].index), byte(regs[1].index), byte(regs[2].index)})
	}
}
