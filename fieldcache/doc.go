// Package fieldcache caches the latest value of every field seen on a subscription and
// tracks which fields changed, so that consumers can rebuild either a delta (changes since
// the last delta) or a full image.
//
// Each cached field is a cell (TypedField) of one of the cacheable wire types. A cell's
// ModState moves between NotModified, Modified and Touched:
//
//	Set(new value)           -> Modified
//	Set(same value)          Modified -> Touched, otherwise unchanged
//	Touch()                  NotModified -> Touched
//	ClearModState()          -> NotModified
//
// A cell with tracking disabled is permanently Modified and ignores state changes.
//
// Cache applies whole messages onto an ordered List of cells. Properties is a sparse,
// fid-keyed alternative whose Clear is constant time.
//
// Neither Cache nor Properties is safe for concurrent use; confine each to the dispatch
// queue of the subscription that feeds it.
package fieldcache
