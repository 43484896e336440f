// Package scope evaluates layered configuration written as Starlark config
// functions and literal mappings.
//
// A config function is an ordinary top-level Starlark function whose body is
// run as straight-line code against a tracking namespace:
//
//	def network(region):
//	    port = 8080
//	    hosts = [region + "-a", region + "-b"]
//
// Three layers feed every evaluation:
//
//   - fixed values are authoritative. Writes to them are reverted and
//     reported in Summary.Modified; nested mappings are protected key by key.
//   - preset values are defaults. Declared parameters are bound from them,
//     and keys the body does not set are filled in afterwards.
//   - fallback values are read-only context. A parameter missing from preset
//     is resolved from fallback; the body may still shadow it, which is
//     reported in Summary.IgnoredFallbackWrites.
//
// Entries are combined with Chain or a ChainEvaluator, which folds each
// entry's values into a running result that becomes the next entry's
// preset.
//
// Values produced by an evaluation are always plain and JSON-safe: nil,
// bool, int64, float64, string, []interface{} and map[string]interface{}.
package scope
