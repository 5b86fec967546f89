package btf

// Table is the ordered type table. IDs are 1-based; ID 0 is void and
// owns no record.
type Table struct {
	types []*Type
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a record and returns its ID.
func (t *Table) Add(typ *Type) TypeID {
	t.types = append(t.types, typ)
	return TypeID(len(t.types))
}

// ByID returns the record behind id, or nil for Void or out-of-range
// ids.
func (t *Table) ByID(id TypeID) *Type {
	if id == Void || int(id) > len(t.types) {
		return nil
	}
	return t.types[id-1]
}

// Len returns the number of records, excluding the void sentinel.
func (t *Table) Len() int {
	return len(t.types)
}

// Types returns the records in ID order.
func (t *Table) Types() []*Type {
	return t.types
}

// truncate drops every record added at or after id. Used to roll back a
// partially converted function in best-effort mode.
func (t *Table) truncate(n int) {
	t.types = t.types[:n]
}

// Dedup collapses structurally identical records onto the first
// occurrence and remaps every reference to the surviving IDs. Because a
// record's signature includes the IDs it references, merging two
// records can make their referrers identical in turn, so the pass
// repeats until it reaches a fixpoint. The returned function translates
// pre-dedup IDs held outside the table into final IDs.
func (t *Table) Dedup() func(TypeID) TypeID {
	total := func(id TypeID) TypeID { return id }

	for {
		remap := make(map[TypeID]TypeID)
		seen := make(map[string]TypeID)
		var kept []*Type

		for i, typ := range t.types {
			id := TypeID(i + 1)
			sig := typ.signature()
			if prev, ok := seen[sig]; ok {
				remap[id] = prev
				continue
			}
			kept = append(kept, typ)
			newID := TypeID(len(kept))
			seen[sig] = newID
			remap[id] = newID
		}

		changed := len(kept) != len(t.types)
		if !changed {
			for id, to := range remap {
				if id != to {
					changed = true
					break
				}
			}
		}
		if !changed {
			return total
		}

		t.types = kept
		step := func(id TypeID) TypeID {
			if id == Void {
				return Void
			}
			if to, ok := remap[id]; ok {
				return to
			}
			return id
		}
		for _, typ := range t.types {
			typ.remap(step)
		}
		prev := total
		total = func(id TypeID) TypeID { return step(prev(id)) }
	}
}

// Validate checks the table invariant: every referenced ID is strictly
// less than or equal to the record count, with 0 reserved for void.
// Returns the first dangling (referrer, reference) pair found.
func (t *Table) Validate() (TypeID, TypeID, bool) {
	limit := TypeID(len(t.types))
	var bad TypeID
	check := func(id TypeID) TypeID {
		if id > limit {
			bad = id
		}
		return id
	}
	for i, typ := range t.types {
		bad = Void
		clone := *typ
		clone.Members = append([]Member(nil), typ.Members...)
		clone.Params = append([]Param(nil), typ.Params...)
		clone.Vars = append([]VarSec(nil), typ.Vars...)
		clone.remap(check)
		if bad != Void {
			return TypeID(i + 1), bad, false
		}
	}
	return Void, Void, true
}
