package passes

import (
	"math/big"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// ConstProp folds integer arithmetic and comparisons whose operands are
// both constant, replacing all uses of the instruction with the folded
// constant. The dead instruction itself is left for DCE; instructions
// with no remaining uses are skipped so each fold is counted once and
// the fixpoint loop terminates. Returns the number of folds performed.
func ConstProp(f *llir.Func) int {
	folded := 0
	for {
		n := constPropOnce(f)
		if n == 0 {
			return folded
		}
		folded += n
	}
}

func constPropOnce(f *llir.Func) int {
	n := 0
	uses := countUses(f)
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			v, ok := inst.(value.Value)
			if !ok || uses[v] == 0 {
				continue
			}
			c := foldInst(inst)
			if c == nil {
				continue
			}
			replaceUses(f, v, c)
			n++
		}
	}
	return n
}

func foldInst(inst llir.Instruction) constant.Constant {
	switch i := inst.(type) {
	case *llir.InstAdd:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.Add(x, y) })
	case *llir.InstSub:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.Sub(x, y) })
	case *llir.InstMul:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.Mul(x, y) })
	case *llir.InstAnd:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.And(x, y) })
	case *llir.InstOr:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.Or(x, y) })
	case *llir.InstXor:
		return foldBinary(i.X, i.Y, func(x, y *big.Int) *big.Int { return x.Xor(x, y) })
	case *llir.InstShl:
		return foldShift(i.X, i.Y, func(x *big.Int, s uint) *big.Int { return x.Lsh(x, s) })
	case *llir.InstLShr:
		return foldShift(i.X, i.Y, func(x *big.Int, s uint) *big.Int { return x.Rsh(x, s) })
	case *llir.InstAShr:
		return foldSignedShr(i.X, i.Y)
	case *llir.InstUDiv:
		return foldDiv(i.X, i.Y, false, false)
	case *llir.InstSDiv:
		return foldDiv(i.X, i.Y, true, false)
	case *llir.InstURem:
		return foldDiv(i.X, i.Y, false, true)
	case *llir.InstSRem:
		return foldDiv(i.X, i.Y, true, true)
	case *llir.InstICmp:
		return foldICmp(i)
	}
	return nil
}

func intOperand(v value.Value) (*constant.Int, bool) {
	c, ok := v.(*constant.Int)
	return c, ok
}

// truncate reduces x to the unsigned bit pattern of the given width.
func truncate(x *big.Int, bits uint64) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	mask.Sub(mask, big.NewInt(1))
	return x.And(x, mask)
}

// signedValue interprets c's bit pattern as two's complement.
func signedValue(c *constant.Int) *big.Int {
	bits := c.Typ.BitSize
	v := new(big.Int).Set(c.X)
	v = truncate(v, bits)
	half := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	if v.Cmp(half) >= 0 {
		full := new(big.Int).Lsh(big.NewInt(1), uint(bits))
		v.Sub(v, full)
	}
	return v
}

func unsignedValue(c *constant.Int) *big.Int {
	return truncate(new(big.Int).Set(c.X), c.Typ.BitSize)
}

func makeInt(typ *types.IntType, x *big.Int) *constant.Int {
	return &constant.Int{Typ: typ, X: truncate(x, typ.BitSize)}
}

func foldBinary(xv, yv value.Value, op func(x, y *big.Int) *big.Int) constant.Constant {
	x, ok := intOperand(xv)
	if !ok {
		return nil
	}
	y, ok := intOperand(yv)
	if !ok {
		return nil
	}
	res := op(unsignedValue(x), unsignedValue(y))
	return makeInt(x.Typ, res)
}

func foldShift(xv, yv value.Value, op func(x *big.Int, s uint) *big.Int) constant.Constant {
	x, ok := intOperand(xv)
	if !ok {
		return nil
	}
	y, ok := intOperand(yv)
	if !ok {
		return nil
	}
	shift := unsignedValue(y)
	if !shift.IsUint64() || shift.Uint64() >= x.Typ.BitSize {
		// shift past width is undefined; leave it alone
		return nil
	}
	res := op(unsignedValue(x), uint(shift.Uint64()))
	return makeInt(x.Typ, res)
}

func foldSignedShr(xv, yv value.Value) constant.Constant {
	x, ok := intOperand(xv)
	if !ok {
		return nil
	}
	y, ok := intOperand(yv)
	if !ok {
		return nil
	}
	shift := unsignedValue(y)
	if !shift.IsUint64() || shift.Uint64() >= x.Typ.BitSize {
		return nil
	}
	res := signedValue(x)
	res.Rsh(res, uint(shift.Uint64()))
	return makeInt(x.Typ, res)
}

func foldDiv(xv, yv value.Value, signed, rem bool) constant.Constant {
	x, ok := intOperand(xv)
	if !ok {
		return nil
	}
	y, ok := intOperand(yv)
	if !ok {
		return nil
	}
	var xb, yb *big.Int
	if signed {
		xb, yb = signedValue(x), signedValue(y)
	} else {
		xb, yb = unsignedValue(x), unsignedValue(y)
	}
	if yb.Sign() == 0 {
		// division by zero is undefined; leave it alone
		return nil
	}
	q := new(big.Int)
	r := new(big.Int)
	q.QuoRem(xb, yb, r)
	if rem {
		return makeInt(x.Typ, r)
	}
	return makeInt(x.Typ, q)
}

func foldICmp(i *llir.InstICmp) constant.Constant {
	x, ok := intOperand(i.X)
	if !ok {
		return nil
	}
	y, ok := intOperand(i.Y)
	if !ok {
		return nil
	}

	var cmp int
	switch i.Pred {
	case enum.IPredEQ, enum.IPredNE, enum.IPredUGT, enum.IPredUGE, enum.IPredULT, enum.IPredULE:
		cmp = unsignedValue(x).Cmp(unsignedValue(y))
	case enum.IPredSGT, enum.IPredSGE, enum.IPredSLT, enum.IPredSLE:
		cmp = signedValue(x).Cmp(signedValue(y))
	default:
		return nil
	}

	var res bool
	switch i.Pred {
	case enum.IPredEQ:
		res = cmp == 0
	case enum.IPredNE:
		res = cmp != 0
	case enum.IPredUGT, enum.IPredSGT:
		res = cmp > 0
	case enum.IPredUGE, enum.IPredSGE:
		res = cmp >= 0
	case enum.IPredULT, enum.IPredSLT:
		res = cmp < 0
	case enum.IPredULE, enum.IPredSLE:
		res = cmp <= 0
	}
	if res {
		return constant.NewInt(types.I1, 1)
	}
	return constant.NewInt(types.I1, 0)
}
