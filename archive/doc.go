// Package archive reads members out of Unix static archives (.a / .rlib).
//
// Only the minimal subset of the format the linker needs is implemented:
// the global "!<arch>\n" magic, the fixed 60-byte member headers, and the
// GNU extended-name table for members whose names exceed the header
// field. Symbol indexes ("/" members) are skipped; the linker resolves
// symbols itself after parsing every member.
//
// Members are yielded lazily in archive order:
//
//	r, err := archive.NewReader(data)
//	for {
//		m, err := r.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package archive
