// Package dispatch drains task feeds onto the robot fleet while honoring
// three independent constraints:
//   - a fleet-wide cap on concurrently running tasks
//   - one task at a time per robot, in per-robot submission order
//   - a minimum interval between admissions of each chore kind
//
// A single event loop owns every admission decision: lanes, the slot gate
// and the rate registry are only touched inside its admission/completion
// transitions, so each admission is one atomic step. Executor workers carry
// no scheduling logic; they run bodies, journal the records they produce,
// and report back to the loop.
package dispatch
