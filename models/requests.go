package models

import (
	"time"

	"github.com/affixlabs/affix/attach"
)

// A PromotionRequest records a dispatched promotion awaiting a
// background worker. Requests are created when a cached attachment is
// persisted, and deleted by the worker that finishes them, successfully
// or not; a conflict means the attachment changed and the request is
// obsolete either way.
type PromotionRequest struct {
	ID uint32 `gorm:"primarykey"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Job is the promotion to perform.
	Job attach.Job `gorm:"serializer:json;not null"`
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"size:255;not null;default:''"`
}

// A DeletionRequest records the objects of a destroyed attachment
// awaiting background deletion, dispatched after its host record is
// gone.
type DeletionRequest struct {
	ID uint32 `gorm:"primarykey"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Job is the deletion to perform.
	Job attach.Job `gorm:"serializer:json;not null"`
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"size:255;not null;default:''"`
}
