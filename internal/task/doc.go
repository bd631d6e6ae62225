// Package task is the build graph execution engine.
//
// A Unit is a named asynchronous operation. Its body uses one of four completion
// protocols (explicit callback, awaitable, stream, or a blocking body returning an
// error); the protocol is fixed when the Unit is constructed and the adapter turns
// every protocol into a single settled outcome: a nil error for success or the
// failure reason.
//
// Units compose with Series and Parallel into larger Units, and a Registry maps
// task names to Units for invocation by name.
//
// Parallel never cancels children that have already started. When one child fails
// the composite settles immediately, while its siblings keep running and report
// their outcomes to the observer only.
package task
