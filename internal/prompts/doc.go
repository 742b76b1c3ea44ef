// Package prompts models the prompt collection downloaded from the server and
// the per-section recording progress kept alongside it.
//
// Collections are validated against an embedded JSON schema before they are
// accepted, so a malformed download never replaces a working prompts file.
package prompts
