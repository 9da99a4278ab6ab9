// Package build runs the skill's external build step and verifies that the
// expected output directory appeared. The command is printed before running
// so deployment logs show exactly what was executed.
package build
