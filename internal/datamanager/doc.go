// Package datamanager owns the application state shared by the recording
// front end and the background upload cycle.
//
// A Manager holds an immutable AppState snapshot that is replaced wholesale on
// every change, plus one lock that serializes every mutating or compound
// operation. Operations that already hold the lock take a held token so they
// can only be called from code that acquired it.
//
// UploadData runs one synchronization cycle: directives first, then staged
// records in batches, then registered files through the resumable upload
// pipeline. A pause or cancellation ends the cycle with upload.Interrupted.
package datamanager
