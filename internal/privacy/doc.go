// Package privacy computes effective cross-user sharing permissions.
//
// Two independent policy sources feed every decision: a circle-level sharing
// policy (what a group context is willing to expose) and a per-relationship
// privacy setting (what a data owner is willing to expose to one specific
// counterpart). The effective permission for a category is the logical AND of
// the two, so neither source can ever widen the other.
//
// All functions in this package are pure; no I/O, no state.
package privacy
