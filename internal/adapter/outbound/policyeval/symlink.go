package policyeval

import "path/filepath"

// evalSymlinksFunc resolves symlinks along path, failing if any
// intermediate component does not exist. Overridable in tests.
var evalSymlinksFunc = filepath.EvalSymlinks

func evalSymlinks(path string) (string, error) {
	return evalSymlinksFunc(path)
}
