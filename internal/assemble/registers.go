package assemble

import "github.com/csx64/csx64-go/internal/cpu"

// regRef names a general-purpose register operand: an index into
// cpu.Registers plus the partition width the mnemonic addresses.
type regRef struct {
	index int
	size  cpu.Sizecode
}

// registerTable maps every spelled-out GP register name to its index and
// width. AH/BH/CH/DH are intentionally absent: the instruction operand byte
// has no selector bit for the high-8 alias (see DESIGN.md), so those four
// legacy names cannot be addressed by an instruction operand in this
// assembler even though cpu.Registers itself carries GetHigh8/SetHigh8.
var registerTable = buildRegisterTable()

func buildRegisterTable() map[string]regRef {
	names64 := [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	names32 := [16]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	names16 := [16]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	names8 := [16]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
		"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}

	t := make(map[string]regRef, 64)
	for i := 0; i < 16; i++ {
		t[names64[i]] = regRef{i, cpu.Size64}
		t[names32[i]] = regRef{i, cpu.Size32}
		t[names16[i]] = regRef{i, cpu.Size16}
		t[names8[i]] = regRef{i, cpu.Size8}
	}
	return t
}

func lookupRegister(name string) (regRef, bool) {
	r, ok := registerTable[name]
	return r, ok
}
