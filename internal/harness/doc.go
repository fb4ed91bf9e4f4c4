// Package harness runs scripted game scenarios against the real stores and
// controller and records a trace of every step.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	user: player-1
//	seeds: [abc123]
//	profile: { money: 100 }
//	setup:
//	  - action: Game.start
//	    args: { difficulty: medium }
//	flow:
//	  - invoke: Game.submit
//	    args: { input: "AB" }
//	    expect:
//	      case: Success
//	      result: { status: active }
//	  - invoke: Clock.advance
//	    args: { by: 90s }
//	assertions:
//	  - type: trace_contains
//	    action: Game.submit
//	    args: { input: "AB" }
//	  - type: final_state
//	    table: profile
//	    expect: { stats.contractsCompleted: 1 }
//
// # Actions
//
//   - Game.start {difficulty, duration}: begin a contract
//   - Game.submit {input}: one line typed in the session
//   - Game.status: the status summary
//   - Game.abandon: lose and clear the session
//   - Game.signOut: drop both local aggregates
//   - Clock.advance {by}: move the fake clock forward
//   - Watchdog.check: one background expiry pass
//
// Errors surface as output cases (NoSession, SessionActive, Error) rather
// than aborting the run, so scenarios can assert on them.
//
// # Assertion Types
//
//   - trace_contains: an invocation of action with matching args
//   - trace_order: actions appear in the given order
//   - trace_count: action is invoked exactly count times
//   - final_state: the stored session or profile matches expect; keys
//     may be dotted paths into nested objects
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory database, a fake clock starting at the
// scenario's start time, sequential session ids and the scenario's seeds,
// so traces are reproducible and can be compared against golden files.
package harness
