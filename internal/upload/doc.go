// Package upload drives one registered file through the resumable upload
// pipeline: checksum, upload link, session link, session probe, byte
// transfer, and server-side verification.
//
// Every stage persists its result in the registry before the next stage
// starts, so a crash or pause resumes at the first incomplete stage. Pauses
// are observed between chunks and surface as the Interrupted result.
package upload
