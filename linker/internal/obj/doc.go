// Package obj serializes a lowered module into a relocatable ELF
// object the loader side of the toolchain consumes.
//
// The writer is deterministic: section order follows lowering order,
// symbol order is locals before globals with ties broken by insertion,
// and string tables are append-only. Linking the same inputs twice
// produces byte-identical objects.
//
// Only the section kinds the loader understands are emitted: program
// sections, data sections, the two type-info sections and their
// relocation tables, plus the symbol and string tables ELF requires.
package obj
