// Package layers loads the fixed, preset and fallback inputs of a chain
// evaluation.
//
// Layer files may be YAML, JSON or CUE; all are normalized into the plain
// value domain of package scope. Command-line assignments such as
// "db.port=5432" become nested mappings merged over the fixed layer.
package layers
