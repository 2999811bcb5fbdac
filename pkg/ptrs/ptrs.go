// Package ptrs has helpers for taking the address of literals.
package ptrs

// Ptr is the "&"-operator for literals you always wanted.
func Ptr[T any](val T) *T {
	return &val
}
