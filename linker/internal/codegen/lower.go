package codegen

import (
	"fmt"
	"math/big"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
)

// Features gates instruction families by processor variant.
type Features struct {
	// ExtendedJumps enables jlt/jle/jslt/jsle (processor v2 and up).
	// Without it the less-than family swaps operands onto jgt/jge.
	ExtendedJumps bool
	// Jmp32 marks the 32-bit jump class as available (v3). The lowerer
	// works on 64-bit registers throughout, so this is recorded but
	// not required.
	Jmp32 bool
}

// stackLimit is the BPF frame ceiling enforced by the verifier.
const stackLimit = 512

// maxCallArgs is the number of argument registers (r1..r5).
const maxCallArgs = 5

// LineMark ties one lowered instruction offset back to a source row.
type LineMark struct {
	InsnOff uint32
	File    string
	Line    uint32
	Col     uint32
}

// Function is one lowered function before section placement.
type Function struct {
	Name   string
	Static bool
	// Section is the requested output section; empty means .text.
	Section string
	// Off is the byte offset within the section, assigned by Lower.
	Off   uint32
	Insns []Insn
	Lines []LineMark

	calls  []callPatch
	relocs []symRef
}

// callPatch marks a pseudo-call slot awaiting its target offset.
type callPatch struct {
	insnIdx int
	callee  string
}

// symRef marks an lddw slot that must load a symbol's address.
type symRef struct {
	insnIdx int
	symbol  string
}

type branchPatch struct {
	insnIdx int
	target  *llir.Block
}

// funcLowerer lowers a single function to BPF instructions.
type funcLowerer struct {
	fn    *llir.Func
	feats Features

	insns     []Insn
	slots     map[value.Value]int16 // IR value to frame offset
	phiTmp    map[*llir.InstPhi]int16
	allocaOff map[*llir.InstAlloca]int32
	blockOff  map[*llir.Block]int
	patches   []branchPatch
	calls     []callPatch
	relocs    []symRef
	lines     []LineMark
	stack     int32
}

func newFuncLowerer(fn *llir.Func, feats Features) *funcLowerer {
	return &funcLowerer{
		fn:        fn,
		feats:     feats,
		slots:     make(map[value.Value]int16),
		phiTmp:    make(map[*llir.InstPhi]int16),
		allocaOff: make(map[*llir.InstAlloca]int32),
		blockOff:  make(map[*llir.Block]int),
	}
}

func (fl *funcLowerer) errorf(format string, args ...any) error {
	return errors.Codegen(fl.fn.Name(), fmt.Sprintf(format, args...))
}

// lower compiles the function.
func (fl *funcLowerer) lower() (*Function, error) {
	if len(fl.fn.Blocks) == 0 {
		return nil, fl.errorf("cannot lower a declaration")
	}
	if len(fl.fn.Params) > maxCallArgs {
		return nil, fl.errorf("%d parameters exceed the %d argument registers", len(fl.fn.Params), maxCallArgs)
	}

	if err := fl.allocateSlots(); err != nil {
		return nil, err
	}

	// spill incoming arguments so r1..r5 are free as scratch
	for i, p := range fl.fn.Params {
		fl.emit(storeMem(sizeDW, r10, fl.slots[p], uint8(r1+i)))
	}

	for _, block := range fl.fn.Blocks {
		fl.blockOff[block] = len(fl.insns)
		for _, inst := range block.Insts {
			fl.mark(inst)
			if err := fl.lowerInst(inst); err != nil {
				return nil, err
			}
		}
		fl.mark(block.Term)
		if err := fl.lowerTerm(block); err != nil {
			return nil, err
		}
	}

	for _, p := range fl.patches {
		off, ok := fl.blockOff[p.target]
		if !ok {
			return nil, fl.errorf("branch to unlowered block")
		}
		fl.insns[p.insnIdx].Off = int16(off - p.insnIdx - 1)
	}

	return &Function{
		Name:    fl.fn.Name(),
		Static:  fl.fn.Linkage == enum.LinkageInternal || fl.fn.Linkage == enum.LinkagePrivate,
		Section: fl.fn.Section,
		Insns:   fl.insns,
		Lines:   fl.lines,
		calls:   fl.calls,
		relocs:  fl.relocs,
	}, nil
}

// allocateSlots assigns an 8-byte frame slot to every parameter and
// value-producing instruction, plus the storage behind each alloca.
func (fl *funcLowerer) allocateSlots() error {
	alloc := func() int16 {
		fl.stack += 8
		return int16(-fl.stack)
	}
	for _, p := range fl.fn.Params {
		fl.slots[p] = alloc()
	}
	for _, block := range fl.fn.Blocks {
		for _, inst := range block.Insts {
			if a, ok := inst.(*llir.InstAlloca); ok {
				size, err := fl.allocaSize(a)
				if err != nil {
					return err
				}
				fl.stack += int32(alignUp(size, 8))
				fl.allocaOff[a] = -fl.stack
			}
			if v, ok := inst.(value.Value); ok {
				if _, isStore := inst.(*llir.InstStore); !isStore {
					fl.slots[v] = alloc()
				}
			}
			// phis also get a staging slot for parallel copy-out
			if p, ok := inst.(*llir.InstPhi); ok {
				fl.phiTmp[p] = alloc()
			}
		}
	}
	if fl.stack > stackLimit {
		return fl.errorf("stack frame of %d bytes exceeds the %d byte limit", fl.stack, stackLimit)
	}
	return nil
}

func (fl *funcLowerer) emit(insns ...Insn) {
	fl.insns = append(fl.insns, insns...)
}

// mark records the source location attached to inst, if any, keyed to
// the next emitted instruction.
func (fl *funcLowerer) mark(inst any) {
	file, line, col, ok := ir.InstLocation(inst)
	if !ok || file == "" {
		return
	}
	fl.lines = append(fl.lines, LineMark{
		InsnOff: uint32(len(fl.insns)) * InsnSize,
		File:    file,
		Line:    uint32(line),
		Col:     uint32(col),
	})
}

// bitWidth returns the integer width of a value's type; pointers count
// as 64.
func bitWidth(v value.Value) uint64 {
	if t, ok := v.Type().(*types.IntType); ok {
		return t.BitSize
	}
	return 64
}

// maskTo truncates reg to the low bits in place. No-op at full width.
func (fl *funcLowerer) maskTo(reg uint8, bits uint64) {
	switch {
	case bits >= 64:
	case bits == 32:
		// mov32 zero extends
		fl.emit(Insn{Op: classALU | aluMOV | srcX, Dst: reg, Src: reg})
	default:
		shift := int32(64 - bits)
		fl.emit(alu64Imm(aluLSH, reg, shift))
		fl.emit(alu64Imm(aluRSH, reg, shift))
	}
}

// signExtend widens the low bits of reg as a signed value.
func (fl *funcLowerer) signExtend(reg uint8, bits uint64) {
	if bits >= 64 {
		return
	}
	shift := int32(64 - bits)
	fl.emit(alu64Imm(aluLSH, reg, shift))
	fl.emit(alu64Imm(aluARSH, reg, shift))
}

// loadOperand materializes v into reg, zero extended to 64 bits.
func (fl *funcLowerer) loadOperand(v value.Value, reg uint8) error {
	switch v := v.(type) {
	case *constant.Int:
		bits := bitWidth(v)
		raw := truncatedUint(bigToUint64(v.X), bits)
		if raw <= 0x7fffffff {
			fl.emit(mov64Imm(reg, int32(raw)))
		} else {
			w := ld64(reg, raw)
			fl.emit(w[0], w[1])
		}
		return nil
	case *constant.Null:
		fl.emit(mov64Imm(reg, 0))
		return nil
	case *llir.Global:
		w := ld64(reg, 0)
		fl.relocs = append(fl.relocs, symRef{insnIdx: len(fl.insns), symbol: v.Name()})
		fl.emit(w[0], w[1])
		return nil
	case *llir.Func:
		return fl.errorf("function %s used as a value", v.Name())
	}
	slot, ok := fl.slots[v]
	if !ok {
		return fl.errorf("operand %v has no frame slot", v)
	}
	fl.emit(loadMem(sizeDW, reg, r10, slot))
	return nil
}

// truncatedUint returns the zero-extended bit pattern of x at the given
// width.
func truncatedUint(x uint64, bits uint64) uint64 {
	if bits >= 64 {
		return x
	}
	return x & (1<<bits - 1)
}

// bigToUint64 returns the 64-bit bit pattern of x, two's complement for
// negative values.
func bigToUint64(x *big.Int) uint64 {
	if x.Sign() >= 0 {
		return x.Uint64()
	}
	return uint64(x.Int64())
}

func (fl *funcLowerer) storeResult(v value.Value, reg uint8) error {
	slot, ok := fl.slots[v]
	if !ok {
		return fl.errorf("result %v has no frame slot", v)
	}
	fl.emit(storeMem(sizeDW, r10, slot, reg))
	return nil
}

func (fl *funcLowerer) lowerInst(inst llir.Instruction) error {
	switch i := inst.(type) {
	case *llir.InstAdd:
		return fl.lowerBinary(i, i.X, i.Y, aluADD, false)
	case *llir.InstSub:
		return fl.lowerBinary(i, i.X, i.Y, aluSUB, false)
	case *llir.InstMul:
		return fl.lowerBinary(i, i.X, i.Y, aluMUL, false)
	case *llir.InstAnd:
		return fl.lowerBinary(i, i.X, i.Y, aluAND, false)
	case *llir.InstOr:
		return fl.lowerBinary(i, i.X, i.Y, aluOR, false)
	case *llir.InstXor:
		return fl.lowerBinary(i, i.X, i.Y, aluXOR, false)
	case *llir.InstShl:
		return fl.lowerBinary(i, i.X, i.Y, aluLSH, false)
	case *llir.InstLShr:
		return fl.lowerBinary(i, i.X, i.Y, aluRSH, false)
	case *llir.InstUDiv:
		return fl.lowerBinary(i, i.X, i.Y, aluDIV, false)
	case *llir.InstURem:
		return fl.lowerBinary(i, i.X, i.Y, aluMOD, false)
	case *llir.InstAShr:
		return fl.lowerBinary(i, i.X, i.Y, aluARSH, true)
	case *llir.InstSDiv, *llir.InstSRem:
		return fl.errorf("signed division is not available on BPF")

	case *llir.InstICmp:
		return fl.lowerICmp(i)
	case *llir.InstSelect:
		return fl.lowerSelect(i)
	case *llir.InstPhi:
		// filled in by predecessor copy-out
		return nil

	case *llir.InstLoad:
		return fl.lowerLoad(i)
	case *llir.InstStore:
		return fl.lowerStore(i)
	case *llir.InstAlloca:
		return fl.lowerAlloca(i)
	case *llir.InstGetElementPtr:
		return fl.lowerGEP(i)

	case *llir.InstCall:
		return fl.lowerCall(i)

	case *llir.InstZExt:
		return fl.lowerMove(i, i.From)
	case *llir.InstTrunc:
		if err := fl.loadOperand(i.From, r0); err != nil {
			return err
		}
		fl.maskTo(r0, bitWidth(i))
		return fl.storeResult(i, r0)
	case *llir.InstSExt:
		if err := fl.loadOperand(i.From, r0); err != nil {
			return err
		}
		fl.signExtend(r0, bitWidth(i.From))
		fl.maskTo(r0, bitWidth(i))
		return fl.storeResult(i, r0)
	case *llir.InstBitCast:
		return fl.lowerMove(i, i.From)
	case *llir.InstPtrToInt:
		return fl.lowerMove(i, i.From)
	case *llir.InstIntToPtr:
		return fl.lowerMove(i, i.From)
	}
	return fl.errorf("unsupported instruction %T", inst)
}

// lowerMove copies a value into the result slot unchanged.
func (fl *funcLowerer) lowerMove(dst value.Value, src value.Value) error {
	if err := fl.loadOperand(src, r0); err != nil {
		return err
	}
	return fl.storeResult(dst, r0)
}

// lowerBinary handles the two-operand ALU family. The result is
// re-truncated to the operation width so slots stay zero extended.
func (fl *funcLowerer) lowerBinary(res value.Value, x, y value.Value, op uint8, signed bool) error {
	bits := bitWidth(res)
	if err := fl.loadOperand(x, r0); err != nil {
		return err
	}
	if err := fl.loadOperand(y, r1); err != nil {
		return err
	}
	if signed {
		fl.signExtend(r0, bits)
	}
	fl.emit(alu64Reg(op, r0, r1))
	fl.maskTo(r0, bits)
	return fl.storeResult(res, r0)
}

// condOp maps an icmp predicate to a jump opcode, possibly swapping
// operands when the processor lacks the less-than family.
func (fl *funcLowerer) condOp(pred enum.IPred) (op uint8, swap, signed bool, err error) {
	switch pred {
	case enum.IPredEQ:
		return jmpJEQ, false, false, nil
	case enum.IPredNE:
		return jmpJNE, false, false, nil
	case enum.IPredUGT:
		return jmpJGT, false, false, nil
	case enum.IPredUGE:
		return jmpJGE, false, false, nil
	case enum.IPredSGT:
		return jmpJSGT, false, true, nil
	case enum.IPredSGE:
		return jmpJSGE, false, true, nil
	case enum.IPredULT:
		if fl.feats.ExtendedJumps {
			return jmpJLT, false, false, nil
		}
		return jmpJGT, true, false, nil
	case enum.IPredULE:
		if fl.feats.ExtendedJumps {
			return jmpJLE, false, false, nil
		}
		return jmpJGE, true, false, nil
	case enum.IPredSLT:
		if fl.feats.ExtendedJumps {
			return jmpJSLT, false, true, nil
		}
		return jmpJSGT, true, true, nil
	case enum.IPredSLE:
		if fl.feats.ExtendedJumps {
			return jmpJSLE, false, true, nil
		}
		return jmpJSGE, true, true, nil
	}
	return 0, false, false, fl.errorf("unsupported comparison predicate %v", pred)
}

func (fl *funcLowerer) lowerICmp(i *llir.InstICmp) error {
	op, swap, signed, err := fl.condOp(i.Pred)
	if err != nil {
		return err
	}
	if err := fl.loadOperand(i.X, r0); err != nil {
		return err
	}
	if err := fl.loadOperand(i.Y, r1); err != nil {
		return err
	}
	bits := bitWidth(i.X)
	if signed {
		fl.signExtend(r0, bits)
		fl.signExtend(r1, bits)
	}
	dst, src := uint8(r0), uint8(r1)
	if swap {
		dst, src = src, dst
	}
	fl.emit(mov64Imm(r2, 1))
	fl.emit(jumpReg(op, dst, src, 1))
	fl.emit(mov64Imm(r2, 0))
	return fl.storeResult(i, r2)
}

func (fl *funcLowerer) lowerSelect(i *llir.InstSelect) error {
	if err := fl.loadOperand(i.Cond, r0); err != nil {
		return err
	}
	if err := fl.loadOperand(i.ValueTrue, r1); err != nil {
		return err
	}
	if err := fl.loadOperand(i.ValueFalse, r2); err != nil {
		return err
	}
	fl.emit(jumpImm(jmpJNE, r0, 0, 1))
	fl.emit(mov64Reg(r1, r2))
	return fl.storeResult(i, r1)
}

func (fl *funcLowerer) lowerLoad(i *llir.InstLoad) error {
	size, err := sizeOf(i.ElemType)
	if err != nil {
		return fl.errorf("load: %v", err)
	}
	sz, ok := memSize(size)
	if !ok {
		return fl.errorf("load of %d byte value", size)
	}
	if err := fl.loadOperand(i.Src, r1); err != nil {
		return err
	}
	fl.emit(loadMem(sz, r0, r1, 0))
	return fl.storeResult(i, r0)
}

func (fl *funcLowerer) lowerStore(i *llir.InstStore) error {
	size, err := sizeOf(i.Src.Type())
	if err != nil {
		return fl.errorf("store: %v", err)
	}
	sz, ok := memSize(size)
	if !ok {
		return fl.errorf("store of %d byte value", size)
	}
	if err := fl.loadOperand(i.Src, r0); err != nil {
		return err
	}
	if err := fl.loadOperand(i.Dst, r1); err != nil {
		return err
	}
	fl.emit(storeMem(sz, r1, 0, r0))
	return nil
}

// allocaSize returns the byte size of an alloca's storage.
func (fl *funcLowerer) allocaSize(a *llir.InstAlloca) (uint64, error) {
	size, err := sizeOf(a.ElemType)
	if err != nil {
		return 0, fl.errorf("alloca: %v", err)
	}
	if a.NElems != nil {
		n, ok := a.NElems.(*constant.Int)
		if !ok {
			return 0, fl.errorf("alloca with dynamic element count")
		}
		size *= n.X.Uint64()
	}
	return size, nil
}

func (fl *funcLowerer) lowerAlloca(i *llir.InstAlloca) error {
	off, ok := fl.allocaOff[i]
	if !ok {
		return fl.errorf("alloca has no reserved storage")
	}
	fl.emit(mov64Reg(r0, r10))
	fl.emit(alu64Imm(aluADD, r0, off))
	return fl.storeResult(i, r0)
}

func (fl *funcLowerer) lowerGEP(i *llir.InstGetElementPtr) error {
	if err := fl.loadOperand(i.Src, r0); err != nil {
		return err
	}

	cur := i.ElemType
	for n, idx := range i.Indices {
		if n == 0 {
			// first index scales by the pointee size
			size, err := sizeOf(cur)
			if err != nil {
				return fl.errorf("gep: %v", err)
			}
			if err := fl.addScaled(idx, size); err != nil {
				return err
			}
			continue
		}
		switch t := cur.(type) {
		case *types.StructType:
			c, ok := idx.(*constant.Int)
			if !ok {
				return fl.errorf("gep struct index is not constant")
			}
			off, err := fieldOffset(t, c.X.Uint64())
			if err != nil {
				return fl.errorf("gep: %v", err)
			}
			if off != 0 {
				fl.emit(alu64Imm(aluADD, r0, int32(off)))
			}
			cur = t.Fields[c.X.Uint64()]
		case *types.ArrayType:
			size, err := sizeOf(t.ElemType)
			if err != nil {
				return fl.errorf("gep: %v", err)
			}
			if err := fl.addScaled(idx, size); err != nil {
				return err
			}
			cur = t.ElemType
		default:
			return fl.errorf("gep through non-aggregate type %v", cur)
		}
	}
	return fl.storeResult(i, r0)
}

// addScaled adds idx*size to r0, clobbering r1.
func (fl *funcLowerer) addScaled(idx value.Value, size uint64) error {
	if c, ok := idx.(*constant.Int); ok {
		total := int64(size) * c.X.Int64()
		if total < -1<<31 || total >= 1<<31 {
			return fl.errorf("gep offset %d out of range", total)
		}
		if total != 0 {
			fl.emit(alu64Imm(aluADD, r0, int32(total)))
		}
		return nil
	}
	if err := fl.loadOperand(idx, r1); err != nil {
		return err
	}
	if size != 1 {
		fl.emit(alu64Imm(aluMUL, r1, int32(size)))
	}
	fl.emit(alu64Reg(aluADD, r0, r1))
	return nil
}

func (fl *funcLowerer) lowerCall(i *llir.InstCall) error {
	if len(i.Args) > maxCallArgs {
		return fl.errorf("call with %d arguments exceeds the %d argument registers", len(i.Args), maxCallArgs)
	}
	for n, arg := range i.Args {
		if err := fl.loadOperand(arg, uint8(r1+n)); err != nil {
			return err
		}
	}

	switch callee := i.Callee.(type) {
	case *llir.Func:
		if len(callee.Blocks) == 0 {
			return fl.errorf("call to undefined function %s", callee.Name())
		}
		fl.calls = append(fl.calls, callPatch{insnIdx: len(fl.insns), callee: callee.Name()})
		fl.emit(Insn{Op: classJMP | jmpCALL, Src: pseudoCall, Imm: -1})
	case *constant.ExprIntToPtr:
		// the helper-call idiom: call through a constant address
		id, ok := callee.From.(*constant.Int)
		if !ok {
			return fl.errorf("call through non-constant address")
		}
		fl.emit(Insn{Op: classJMP | jmpCALL, Imm: int32(id.X.Int64())})
	case *llir.InstIntToPtr:
		// same idiom with the conversion as an instruction
		id, ok := callee.From.(*constant.Int)
		if !ok {
			return fl.errorf("call through non-constant address")
		}
		fl.emit(Insn{Op: classJMP | jmpCALL, Imm: int32(id.X.Int64())})
	default:
		return fl.errorf("indirect call has no static callee")
	}

	if !voidResult(i) {
		return fl.storeResult(i, r0)
	}
	return nil
}

func voidResult(call *llir.InstCall) bool {
	_, isVoid := call.Type().(*types.VoidType)
	return isVoid
}

// lowerTerm emits phi copy-out for the successors, then the terminator.
func (fl *funcLowerer) lowerTerm(block *llir.Block) error {
	if err := fl.copyOutPhis(block); err != nil {
		return err
	}

	switch t := block.Term.(type) {
	case *llir.TermRet:
		if t.X != nil {
			if err := fl.loadOperand(t.X, r0); err != nil {
				return err
			}
		}
		fl.emit(exit())
		return nil

	case *llir.TermBr:
		target, ok := t.Target.(*llir.Block)
		if !ok {
			return fl.errorf("branch to non-block target")
		}
		fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: target})
		fl.emit(jumpAlways(0))
		return nil

	case *llir.TermCondBr:
		if err := fl.loadOperand(t.Cond, r0); err != nil {
			return err
		}
		tt, ok1 := t.TargetTrue.(*llir.Block)
		tf, ok2 := t.TargetFalse.(*llir.Block)
		if !ok1 || !ok2 {
			return fl.errorf("branch to non-block target")
		}
		fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: tt})
		fl.emit(jumpImm(jmpJNE, r0, 0, 0))
		fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: tf})
		fl.emit(jumpAlways(0))
		return nil

	case *llir.TermSwitch:
		if err := fl.loadOperand(t.X, r0); err != nil {
			return err
		}
		for _, c := range t.Cases {
			cv, ok := c.X.(*constant.Int)
			if !ok {
				return fl.errorf("switch case is not an integer constant")
			}
			target, ok := c.Target.(*llir.Block)
			if !ok {
				return fl.errorf("branch to non-block target")
			}
			v := cv.X.Int64()
			if v >= -1<<31 && v < 1<<31 {
				fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: target})
				fl.emit(jumpImm(jmpJEQ, r0, int32(v), 0))
			} else {
				w := ld64(r1, uint64(v))
				fl.emit(w[0], w[1])
				fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: target})
				fl.emit(jumpReg(jmpJEQ, r0, r1, 0))
			}
		}
		def, ok := t.TargetDefault.(*llir.Block)
		if !ok {
			return fl.errorf("branch to non-block target")
		}
		fl.patches = append(fl.patches, branchPatch{insnIdx: len(fl.insns), target: def})
		fl.emit(jumpAlways(0))
		return nil

	case *llir.TermUnreachable:
		fl.emit(exit())
		return nil
	}
	return fl.errorf("unsupported terminator %T", block.Term)
}

// copyOutPhis writes this block's contribution to each successor phi
// before the terminator transfers control. The copy is parallel: one
// phi's incoming value may be another phi of the same successor, so
// every incoming value is staged in its own slot before any phi slot
// is overwritten.
func (fl *funcLowerer) copyOutPhis(block *llir.Block) error {
	var staged []*llir.InstPhi
	for _, succ := range operandBlocks(block.Term) {
		for _, inst := range succ.Insts {
			phi, ok := inst.(*llir.InstPhi)
			if !ok {
				continue
			}
			for _, inc := range phi.Incs {
				pred, ok := inc.Pred.(*llir.Block)
				if !ok || pred != block {
					continue
				}
				if err := fl.loadOperand(inc.X, r0); err != nil {
					return err
				}
				fl.emit(storeMem(sizeDW, r10, fl.phiTmp[phi], r0))
				staged = append(staged, phi)
			}
		}
	}
	for _, phi := range staged {
		fl.emit(loadMem(sizeDW, r0, r10, fl.phiTmp[phi]))
		if err := fl.storeResult(phi, r0); err != nil {
			return err
		}
	}
	return nil
}

// operandBlocks returns the distinct successor blocks of a terminator.
func operandBlocks(term llir.Terminator) []*llir.Block {
	var out []*llir.Block
	seen := make(map[*llir.Block]bool)
	add := func(v value.Value) {
		if b, ok := v.(*llir.Block); ok && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	switch t := term.(type) {
	case *llir.TermBr:
		add(t.Target)
	case *llir.TermCondBr:
		add(t.TargetTrue)
		add(t.TargetFalse)
	case *llir.TermSwitch:
		for _, c := range t.Cases {
			add(c.Target)
		}
		add(t.TargetDefault)
	}
	return out
}
