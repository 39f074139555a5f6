// Package store provides the persistence layer the dispatcher runs against.
//
// Users, obligations, and template documents are owned by external systems
// and read-only here; the core writes only:
//   - slot locks (one row per user and scope)
//   - opportunistic due-date back-fills into obligation attributes
package store
