// Package schema validates evaluated configurations against CUE schemas.
//
// A schema file declares a #Config definition; the final configuration of
// a chain is encoded into CUE, unified with it and checked for concreteness.
// Failures are reported as a *ValidationError listing each Violation with
// its CUE path and source position.
//
//	reg := schema.NewRegistry()
//	if err := reg.RegisterFile("app", "app.cue"); err != nil {
//	    return err
//	}
//	err := reg.Validate(ctx, "app", result.Config)
//
// The registry also carries a built-in "summary" schema used to check
// persisted entry summaries, and Decode turns a CUE file into a plain
// mapping so it can serve as a configuration layer.
package schema
