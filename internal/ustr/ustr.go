// Package ustr holds the handful of path-name-component checks every
// directory-entry-creating routine needs: the dot/dotdot special-casing
// every Unix-like directory layer performs before touching its entry
// table.
package ustr

// Ustr is a file or directory entry name, compared byte-for-byte.
type Ustr []byte

// Isdot reports whether the name is exactly ".".
func (u Ustr) Isdot() bool {
	return len(u) == 1 && u[0] == '.'
}

// Isdotdot reports whether the name is exactly "..".
func (u Ustr) Isdotdot() bool {
	return len(u) == 2 && u[0] == '.' && u[1] == '.'
}
