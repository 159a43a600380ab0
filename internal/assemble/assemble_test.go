package assemble

import (
	"strings"
	"testing"

	"github.com/csx64/csx64-go/internal/cpu"
	"github.com/csx64/csx64-go/internal/link"
	"github.com/csx64/csx64-go/internal/objfile"
)

func assembleString(t *testing.T, src string) *objfile.ObjectFile {
	t.Helper()
	obj, err := Assemble(strings.NewReader(src), "")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return obj
}

func TestTimesRepeatsBody(t *testing.T) {
	obj := assembleString(t, "segment .data\ntimes 4 db 0xAA\n")
	got := obj.Segments[objfile.Data]
	want := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d: %x", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestTimesIndexVaries(t *testing.T) {
	obj := assembleString(t, "segment .data\ntimes 3 db $I\n")
	got := obj.Segments[objfile.Data]
	want := []byte{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestEquBindsExpression(t *testing.T) {
	obj := assembleString(t, "FOO equ 2 + 3\nsegment .data\ndq FOO\n")
	e, ok := obj.Symbols["FOO"]
	if !ok {
		t.Fatalf("FOO not defined")
	}
	kind, msg := e.Evaluate(obj.Symbols)
	if kind != 0 { // expr.Evaluated == 0
		t.Fatalf("FOO not evaluated: %s", msg)
	}
	v, _ := e.Value()
	if v != 5 {
		t.Fatalf("FOO = %d, want 5", v)
	}
}

func TestEquBareSymbolAliasEvaluatesAndCaches(t *testing.T) {
	obj := assembleString(t, "BAR equ 9\nFOO equ BAR\nsegment .data\ndq FOO\n")
	e, ok := obj.Symbols["FOO"]
	if !ok {
		t.Fatalf("FOO not defined")
	}
	kind, msg := e.Evaluate(obj.Symbols)
	if kind != 0 { // expr.Evaluated == 0
		t.Fatalf("FOO not evaluated: %s", msg)
	}
	v, _ := e.Value()
	if v != 9 {
		t.Fatalf("FOO = %d, want 9", v)
	}
	if !e.IsEvaluated() {
		t.Fatalf("FOO's bare-symbol-alias leaf did not collapse into a resolved leaf")
	}
}

func TestLocalLabelMangling(t *testing.T) {
	obj := assembleString(t, "segment .text\nouter:\n.inner:\nnop_placeholder: hlt\n")
	if _, ok := obj.Symbols["outer.inner"]; !ok {
		names := make([]string, 0, len(obj.Symbols))
		for k := range obj.Symbols {
			names = append(names, k)
		}
		t.Fatalf("expected mangled local label %q, have %v", "outer.inner", names)
	}
}

func TestRedefinedSymbolErrors(t *testing.T) {
	_, err := Assemble(strings.NewReader("foo: hlt\nfoo: hlt\n"), "")
	if err == nil {
		t.Fatalf("expected redefinition error")
	}
}

func TestPtrdiffAtSegmentStartIsZero(t *testing.T) {
	obj := assembleString(t, "segment .text\ndq ($ - $$)\n")
	got := obj.Segments[objfile.Text]
	if len(got) != 8 {
		t.Fatalf("got %d bytes, want 8", len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0 (ptrdiff at segment start)", i, b)
		}
	}
}

func TestLinkedGlobalExtern(t *testing.T) {
	objA, err := Assemble(strings.NewReader("global foo\nsegment .data\nfoo: dq 7\n"), "")
	if err != nil {
		t.Fatalf("assemble a: %v", err)
	}
	objB, err := Assemble(strings.NewReader(
		"extern foo\nextern _start\nglobal main\nsegment .text\nmain:\nmov rax, qword [foo]\nhlt\n"), "")
	if err != nil {
		t.Fatalf("assemble b: %v", err)
	}

	exe, err := link.Link([]link.Input{
		{Name: "a.o", Object: objA},
		{Name: "b.o", Object: objB},
	}, "main")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if exe == nil {
		t.Fatalf("nil executable")
	}
}

func TestEncodeBinaryMovRegImmediate(t *testing.T) {
	obj := assembleString(t, "segment .text\nmov rax, 5\nhlt\n")
	text := obj.Segments[objfile.Text]
	if len(text) < 11 {
		t.Fatalf("text too short: %d bytes", len(text))
	}
	if text[0] != byte(cpu.OpMov) {
		t.Fatalf("opcode = %#x, want OpMov", text[0])
	}
	ob := text[1]
	if ob&0x80 != 0 {
		t.Fatalf("operand byte marks memory, want register dest")
	}
	if ob&0x40 == 0 {
		t.Fatalf("operand byte should mark immediate source")
	}
	if cpu.Sizecode((ob>>4)&0x3) != cpu.Size64 {
		t.Fatalf("size field = %d, want Size64", (ob>>4)&0x3)
	}
	if int(ob&0xF) != cpu.RAX {
		t.Fatalf("reg field = %d, want RAX", ob&0xF)
	}
}

func TestEncodeShiftCountByte(t *testing.T) {
	obj := assembleString(t, "segment .text\nshl rax, 3\nhlt\n")
	text := obj.Segments[objfile.Text]
	// opcode, operand byte, count byte, then hlt opcode.
	if len(text) != 4 {
		t.Fatalf("got %d bytes, want 4: %x", len(text), text)
	}
	if text[0] != byte(cpu.OpShl) {
		t.Fatalf("opcode = %#x, want OpShl", text[0])
	}
	if text[2] != 3 {
		t.Fatalf("count byte = %d, want 3", text[2])
	}
}

func TestEncodeStringOpExtensionByte(t *testing.T) {
	obj := assembleString(t, "segment .text\nrep movsb\n")
	text := obj.Segments[objfile.Text]
	if len(text) != 2 {
		t.Fatalf("got %d bytes, want 2: %x", len(text), text)
	}
	if text[0] != byte(cpu.OpMovs) {
		t.Fatalf("opcode = %#x, want OpMovs", text[0])
	}
	if text[1]&0x3 != byte(cpu.Size8) {
		t.Fatalf("size bits = %d, want Size8", text[1]&0x3)
	}
	if text[1]&0x4 == 0 {
		t.Fatalf("rep bit not set")
	}
}

func TestEncodeMulUnaryOperand(t *testing.T) {
	obj := assembleString(t, "segment .text\nmul rbx\nhlt\n")
	text := obj.Segments[objfile.Text]
	if len(text) != 3 {
		t.Fatalf("got %d bytes, want 3: %x", len(text), text)
	}
	if text[0] != byte(cpu.OpMul) {
		t.Fatalf("opcode = %#x, want OpMul", text[0])
	}
	if int(text[1]&0xF) != cpu.RBX {
		t.Fatalf("reg field = %d, want RBX", text[1]&0xF)
	}
}

func TestEncodeSetccConditionByte(t *testing.T) {
	obj := assembleString(t, "segment .text\nsetz al\nhlt\n")
	text := obj.Segments[objfile.Text]
	if len(text) != 4 {
		t.Fatalf("got %d bytes, want 4: %x", len(text), text)
	}
	if text[0] != byte(cpu.OpSetcc) {
		t.Fatalf("opcode = %#x, want OpSetcc", text[0])
	}
	if text[1] != byte(cpu.CondZ) {
		t.Fatalf("condition byte = %d, want CondZ", text[1])
	}
}

func TestEncodeCmovccConditionByteAndSrcReg(t *testing.T) {
	obj := assembleString(t, "segment .text\ncmovz rax, rbx\nhlt\n")
	text := obj.Segments[objfile.Text]
	if text[0] != byte(cpu.OpCmovcc) {
		t.Fatalf("opcode = %#x, want OpCmovcc", text[0])
	}
	if text[1] != byte(cpu.CondZ) {
		t.Fatalf("condition byte = %d, want CondZ", text[1])
	}
	if int(text[2]&0xF) != cpu.RAX {
		t.Fatalf("dest reg field = %d, want RAX", text[2]&0xF)
	}
	if int(text[3]) != cpu.RBX {
		t.Fatalf("src reg byte = %d, want RBX", text[3])
	}
}

func TestCmovccRejectsImmediateSource(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\ncmovz rax, 1\n"), "")
	if err == nil {
		t.Fatalf("expected an error: cmovcc source cannot be an immediate")
	}
}

func TestEncodeVsubpsConfigByteAndRegs(t *testing.T) {
	obj := assembleString(t, "segment .text\nvsubps zmm0, zmm1, zmm2\n")
	text := obj.Segments[objfile.Text]
	if len(text) != 5 {
		t.Fatalf("got %d bytes, want 5: %x", len(text), text)
	}
	if text[0] != byte(cpu.OpVsubps) {
		t.Fatalf("opcode = %#x, want OpVsubps", text[0])
	}
	if text[2] != 0 || text[3] != 1 || text[4] != 2 {
		t.Fatalf("register indices = %v, want [0 1 2]", text[2:5])
	}
}

func TestLockAcceptsMemoryRMW(t *testing.T) {
	obj := assembleString(t, "segment .text\nlock add qword [0x10], 1\nhlt\n")
	text := obj.Segments[objfile.Text]
	if len(text) == 0 || text[0] != byte(cpu.OpAdd) {
		t.Fatalf("expected OpAdd as first byte, got %x", text)
	}
	ob := text[1]
	if ob&0x80 == 0 {
		t.Fatalf("operand byte should mark memory destination")
	}
}

func TestLockRejectsNonRMWInstruction(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\nlock mov qword [0x10], 1\n"), "")
	if err == nil {
		t.Fatalf("expected an error locking a non-RMW instruction")
	}
}

func TestLockRejectsRegisterDestination(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\nlock add rax, 1\n"), "")
	if err == nil {
		t.Fatalf("expected an error locking a register destination")
	}
}

func TestAlignPadsSegment(t *testing.T) {
	obj := assembleString(t, "segment .data\ndb 1\nalign 8\ndb 2\n")
	got := obj.Segments[objfile.Data]
	if len(got) != 9 {
		t.Fatalf("got %d bytes, want 9: %x", len(got), got)
	}
	if got[8] != 2 {
		t.Fatalf("last byte = %d, want 2", got[8])
	}
}

func TestReserveBSSDoesNotEmitBytes(t *testing.T) {
	obj := assembleString(t, "segment .bss\nresq 4\n")
	if obj.BssLen != 32 {
		t.Fatalf("BssLen = %d, want 32", obj.BssLen)
	}
}

func TestStrLiteralInternsBinaryLiteral(t *testing.T) {
	obj := assembleString(t, "segment .data\nmsg: dq $str(\"hi\")\n")
	if len(obj.Literals.TopLevel) == 0 {
		t.Fatalf("expected an interned literal")
	}
}

func TestUnknownMnemonicErrors(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\nbogus rax, 1\n"), "")
	if err == nil {
		t.Fatalf("expected error for unknown mnemonic")
	}
}

func TestDuplicateSegmentErrors(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\nsegment .text\n"), "")
	if err == nil {
		t.Fatalf("expected error redeclaring a segment")
	}
}

func TestMemoryOperandRequiresSizeKeyword(t *testing.T) {
	_, err := Assemble(strings.NewReader("segment .text\nmov [rax], 1\n"), "")
	if err == nil {
		t.Fatalf("expected error: memory destination needs a size keyword with no register sibling")
	}
}
