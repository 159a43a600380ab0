package cpu

// Op identifies the first fetched byte of an instruction. This is CSX64's
// own byte encoding, not literal x86 machine code: nothing outside this
// toolchain consumes the binary, so the assembler and CPU only need to
// agree on it with each other. See DESIGN.md for why the bit-for-bit
// layouts sketched in the design documentation are treated as structural
// guidance rather than a frozen wire contract.
const (
	OpMov = iota
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpCmp
	OpTest

	OpInc
	OpDec
	OpNeg
	OpNot

	OpMul
	OpDiv

	OpShl
	OpShr
	OpSar
	OpRol
	OpRor
	OpRcl
	OpRcr

	OpJmp
	OpJcc
	OpCall
	OpRet
	OpLoop
	OpLoopcc

	OpPush
	OpPop

	OpSetcc
	OpCmovcc

	OpMovs
	OpStos
	OpLods
	OpCmps
	OpScas

	OpFld
	OpFstp
	OpFaddp
	OpFsub
	OpFmul
	OpFdiv
	OpFcom
	OpFinit

	OpVaddps
	OpVsubps
	OpVmulps
	OpVdivps
	OpVcmpeqps

	OpSyscall
	OpHlt
	OpIdle
	OpDebug
)

// Condition codes for Jcc/SETcc/CMOVcc's extension byte, 0-17 plus the
// CXZ family at 18, per the assembler's closed enumeration.
const (
	CondZ = iota
	CondNZ
	CondS
	CondNS
	CondP
	CondNP
	CondO
	CondNO
	CondC
	CondNC
	CondB  // unsigned below (alias of C)
	CondBE
	CondA
	CondAE // unsigned above-or-equal (alias of NC)
	CondL
	CondLE
	CondG
	CondGE
	CondCXZ
)
