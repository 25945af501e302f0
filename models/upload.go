package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/internal/snowflake"
)

// An Upload is a user-submitted file hosted by this server, together
// with the derivatives processed from it. The File column carries the
// attachment through its cache and store lifecycle.
type Upload struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Title        string `gorm:"size:255;not null;default:''"`
	File         Attachment
}

// Record returns the identity the attachment layer persists under.
func (u *Upload) Record() attach.Record {
	return attach.Record{Kind: "uploads", ID: u.ID.String()}
}

// Attachment is a database column holding one attachment's persisted
// state in its flattened JSON form. An empty attachment is NULL.
type Attachment struct {
	attach.Snapshot
}

func (Attachment) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "json"
	case "postgres":
		return "jsonb"
	default:
		return "TEXT"
	}
}

type Uploads struct {
	db *gorm.DB
}

func NewUploads(db *gorm.DB) *Uploads {
	return &Uploads{db: db}
}

// FindByID finds an upload by its id.
func (u *Uploads) FindByID(id snowflake.ID) (*Upload, error) {
	var upload Upload
	return &upload, u.db.Where("id = ?", id).Take(&upload).Error
}

// Create creates a new upload with an empty attachment.
func (u *Uploads) Create(title string) (*Upload, error) {
	upload := Upload{
		ID:    snowflake.Now(),
		Title: title,
	}
	return &upload, u.db.Create(&upload).Error
}

// Delete removes the upload row. The attachment's objects are the
// caller's to deal with, usually by dispatching a deletion job first.
func (u *Uploads) Delete(upload *Upload) error {
	return u.db.Delete(upload).Error
}
