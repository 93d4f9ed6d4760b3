package bytecode

// ConstKind tags a constant pool entry, per spec.md §6 "Constant tags".
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstNumber
	ConstString
	ConstImport
	ConstTable
	ConstClosure
	ConstVector
)

// Constant is one constant-pool entry. Only the fields matching Kind are
// meaningful.
type Constant struct {
	Kind ConstKind

	Bool    bool
	Number  float64
	StrIdx  int // 1-based index into Module.Strings; 0 means no string
	Import  uint32
	TableKeys []int // indices of constants naming this table's pre-populated keys
	ProtoIdx  int
	Vector  [4]float32
}

// Instruction is a fully decoded code-slot record, per spec.md §3
// "Instruction". D/A/B/C are sign-extended where the opcode's mode calls
// for it; E is used only by AE-mode opcodes.
type Instruction struct {
	Op Opcode

	A int32
	B int32
	C int32
	D int32
	E int32

	Aux uint32

	// K is the resolved constant for KModeAux/C/D/B; K0/K1/K2/KC for
	// KModeImport; KN is the sign/negation bit for KModeAuxB/AuxN.
	K  *Constant
	K0 *Constant
	K1 *Constant
	K2 *Constant
	KC int32
	KN bool

	// IsAuxSlot marks a placeholder code entry that holds the AUX word of
	// the preceding instruction, so that Prototype.Code keeps one entry
	// per wire code slot and PC arithmetic matches the binary exactly.
	IsAuxSlot bool
}

// Prototype is one compiled function body, immutable after loading.
type Prototype struct {
	MaxStackSize int
	NumParams    int
	NumUpvalues  int
	IsVararg     bool

	Code      []Instruction
	Constants []Constant
	Protos    []int // indices into Module.Prototypes

	LineDefined int
	DebugName   string

	LineInfoEnabled      bool
	InstructionLineInfo  []int32 // indexed by pc, valid only if LineInfoEnabled

	BytecodeID int
}

// Module is the fully linked result of loading a compiled bytecode blob.
type Module struct {
	Strings      []string // 1-based: Strings[0] is unused, index 0 means "no string"
	Prototypes   []*Prototype
	MainProtoID  int
	TypesVersion uint8
}

// MainProto returns the module's entry-point prototype.
func (m *Module) MainProto() *Prototype {
	return m.Prototypes[m.MainProtoID]
}

// String resolves a 1-based string-table index; index 0 yields "".
func (m *Module) String(idx int) string {
	if idx <= 0 || idx >= len(m.Strings) {
		return ""
	}
	return m.Strings[idx]
}
