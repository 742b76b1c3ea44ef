// Package preflight provides readiness checks for the collection server and
// the filesystem paths signsync depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs any failure.
//   - The CLI "signsync status" command uses the same checks to display
//     service health.
package preflight
