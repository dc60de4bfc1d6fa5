// Package workflow implements the Temporal workflows that drive a generation
// round for a target.
//
// Two entry points share one evaluation path:
//
//   - SubmitPromptWorkflow streams a response, then evaluates it unless
//     evaluation was skipped or the user cancelled generation.
//   - RunEvalsWorkflow evaluates the target's current response only.
//
// Evaluation opens a round, fans JudgeEval activities out with a bounded
// parallelism, and settles items whose activities gave up through FailEval.
// There is no separate aggregation step: every settlement offers the round to
// the guarded aggregator, and the last one closes it.
//
// Workflows must stay deterministic; all I/O happens in activities.
package workflow
