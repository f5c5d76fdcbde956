// Package trace records what the engine does: bootstrap, module
// submission, materialization of individual symbols and teardown.
//
// Tracers are leveled and scoped. A disabled tracer costs one interface
// call per event site.
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeSymbol, "materialize", 0)
//	defer span.End("")
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only failures (Point events with ScopeEngine)
//   - LevelPhase: engine lifecycle and module submission
//   - LevelDetail: per-symbol materialization
//   - LevelDebug: everything, including code placement
package trace
