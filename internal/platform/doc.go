// Package platform is the boundary adapter for the cloud compute platform
// (AWS Lambda plus STS for the account lookup).
//
// It converts raw service errors into classifications the orchestrator can
// branch on: a tagged Probe result for existence checks and a typed
// ConflictError for in-progress update rejections. Nothing above this
// package inspects platform error messages.
package platform
