// Package bundle produces the deployment archive uploaded as the function's
// code. The build output is first copied into a throwaway staging directory
// so a failed run never pollutes the final archive, then zipped with the
// directory prefix preserved.
package bundle
