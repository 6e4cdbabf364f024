// Package loop drives a single agent repeatedly, feeding each iteration's
// output into the next one until a stop condition fires, an iteration fails,
// a bound is reached or the loop is stopped.
//
// Stop conditions are plain functions over the iteration number and the
// results so far; the constructors in this package compose with AnyOf and
// AllOf:
//
//	state, err := ctrl.ExecuteLoop(ctx, "writer", core.NewAgentContext("draft a haiku"), loop.Config{
//	    MaxIterations: 5,
//	    StopWhen: loop.AnyOf(
//	        loop.KeywordStopCondition("DONE"),
//	        loop.StabilityStopCondition(2),
//	    ),
//	})
package loop
