// Package deployer orchestrates a deployment of the skill backend.
//
// The lifecycle is strictly linear: build, package, existence gate, code
// update, readiness wait, configuration reconciliation, readiness wait,
// final report. The only loop back is a single bounded retry when the
// platform rejects the configuration update because the code update is
// still applying. The orchestrator updates existing functions but never
// creates new ones.
package deployer
