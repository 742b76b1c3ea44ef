// Package server is the HTTP client for the collection server.
//
// Application endpoints are form-encoded POSTs that carry app_version and
// login_token. File transfers use the resumable blob protocol: a POST with
// X-Goog-Resumable: start opens a session, a zero-length PUT with
// "Content-Range: bytes */N" probes it, and a single ranged PUT streams the
// remaining bytes.
package server
