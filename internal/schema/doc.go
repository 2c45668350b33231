// Package schema defines the persisted shapes of nestlog data.
//
// # Overview
//
// Every piece of state lives in a named collection stored under one Key.
// Collections hold Records: free-form JSON objects carrying an id and an
// optional owner tag (childId). Records written before multi-profile support
// have no owner tag; they are decoded once into an Owner with Tagged=false so
// that callers never have to inspect the raw JSON for the field.
//
// Profiles are the tracked children. The profile list is itself a collection
// (KeyProfiles) and the currently visible profile is a single id stored under
// KeyActiveProfile.
//
// # Wire form
//
// A tagged record:
//
//	{"id": "r-1", "childId": "5f0c...", "name": "banana", "date": "2026-01-02"}
//
// A legacy record (implicitly owned by the first profile):
//
//	{"id": "r-0", "name": "banana"}
//
// Unknown fields are preserved byte-for-byte on both Records and Profiles so
// newer clients never strip data written by older ones, and vice versa.
//
// # Design Principles
//
//   - Flat JSON objects, last-write-wins per collection
//   - The owner tag is parsed at decode time, never re-read
//   - No schema version tag; defaults are applied at read time
package schema
