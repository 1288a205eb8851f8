// Package chat runs the per-provider ingestion pipelines.
//
// A Pipeline drains its provider's queue on every tick, normalizes each raw
// payload and routes the result: gifts go through the aggregator, spawn
// commands through the viewer cooldown, like counts through the milestone
// tracker, and everything else straight to the consumer Sink. Lifecycle
// markers written by the transports (connected, _disconnected, streamEnd)
// drive the connection state machine.
//
// All pipeline state is owned by one goroutine, the Runner. Other goroutines
// (HTTP handlers, main) talk to it through Runner.Connect, Runner.Disconnect
// and Runner.SetIngestion, which hand a closure to the tick loop and wait for
// its result, and read state through Runner.Status, which returns the
// snapshot published after the last tick.
package chat
