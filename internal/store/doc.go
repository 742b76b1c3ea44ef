// Package store is the durable preference store: a SQLite database holding
// typed preference entries, staged records awaiting upload, and the registered
// file table.
//
// Every mutation goes through Edit, which runs the callback inside one
// immediate transaction so read-modify-write sequences are atomic even when
// the CLI and the daemon share the database.
package store
