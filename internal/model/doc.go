// Package model defines the records shared by the reconciler, the worker task
// set and the metadata store.
//
// # Model Tags
//
// Every audio file belongs to exactly one processing tier, named by the
// directory it lives in under the storage root:
//
//	storage/
//	  base/lecture.wav
//	  small/
//	  medium/interview.mp3
//	  large/
//
// ModelTag is the single representation of that tier. Directory names are
// case-normalised once, by ModelTagFromDir; job arguments and store columns
// always carry the canonical lowercase value.
//
// # File Status
//
// A FileRecord moves through a monotonic state machine:
//
//	uploaded -> processing -> done
//	                       -> failed
//
// FileStatus.CanTransition encodes the legal edges. DONE and FAILED are
// terminal; a file must be deleted and re-added to be processed again.
//
// # Downstream Records
//
// Transcript, Translation and Summary form an optional singly-linked chain
// below a FileRecord. Each is keyed by its parent's id and carries its own
// StageStatus.
package model
