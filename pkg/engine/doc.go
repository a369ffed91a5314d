// Package engine provides the section controller of an editing session.
//
// # Overview
//
// A Controller owns one configuration snapshot and is its only mutator.
// Every operation takes the controller lock, so writes are serialized and
// each accepted change is committed atomically to the store and the
// snapshot:
//
//  1. Add - create a section with a deterministic identifier and prefill
//  2. Set - validate, normalize and store one field
//  3. Rename - write the label of a section
//  4. Move - reorder a section within its type
//  5. Remove - delete a section, leaving references to it in place
//
// # Stale References
//
// Removing or disabling a section does not rewrite the sections that name
// it. Such references are reported by Dangling, ignored by Effective and
// Options, and reset to their declared default on the next write to the
// referring section.
//
// # Identifiers
//
// Singleton sections use their type name as identifier and are created when
// the controller opens. Other sections get "<prefix>_<n>" with n one past
// the highest number in use; numbers still named by stale references are
// skipped.
//
// # Remote Refresh
//
// Values held by the router (service status, domain lists, generated
// secrets, resource versions) are fetched by a Refresher in the background.
// Each task is tagged with the snapshot version it was dispatched at:
//
//	id, _ := ctrl.Refresh(ctx, engine.Request{Kind: engine.TaskServiceStatus, Name: "homeproxy"})
//	report, err := ctrl.Await(ctx)
//
// ApplyPending merges a result only while that version is current; results
// of an older version are discarded, and failed calls merge the empty value.
//
// # Error Classification
//
// Every rejected operation returns a *cfgerrors.Error whose Kind tells
// local validation failures apart from transport failures.
package engine
