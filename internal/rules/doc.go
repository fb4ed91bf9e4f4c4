// Package rules is the closed table of named input predicates that every
// contract task is validated against.
//
// A Rule is a pure function of (input, params). Rules are registered once when
// the registry is built and are never added or replaced by gameplay code; the
// process-wide table is returned by Default.
//
// # Fail Closed
//
// Validate never panics. A task that names a rule id missing from the registry
// is treated as not satisfied and a warning is logged.
//
// # Display Hints
//
// Some rules carry a DisplayHint (a regular-expression-looking string used by
// the UI to hint at what is being counted). The hint is opaque metadata: it is
// never compiled and never consulted during validation.
package rules
