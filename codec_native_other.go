//go:build !(darwin || linux) || nonative

package recorder

// NativeLibraryErrors reports why native codec libraries failed to load.
func NativeLibraryErrors() []error {
	return []error{ErrNotSupported}
}
