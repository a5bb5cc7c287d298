// Package script defines reusable, host-independent command trees.
//
// A Script is a name and an ordered list of Cmd nodes. Scripts are built
// once, before a run starts, and are then shared read-only by every host
// that runs them: all execution state lives in the Context handed to each
// node, never on the Script or its Cmds.
//
// Nodes run depth-first and strictly in order for one (script, host) pair.
// Composite nodes (if, loop, invoke) hand their children back to the Walker
// that is executing them, so the dispatcher sees and traces every node and
// can move deferred nodes (sleep) off the worker pool.
//
// Summarize walks a Script without executing it and reports the signal
// names it emits and waits for, which lets a run check that every wait has
// an emitter before any host is contacted.
package script
