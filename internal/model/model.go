package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies a family of legacy records.
type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindNote SourceKind = "note"
)

// AccessLevel represents the level of access a link grants on a document.
type AccessLevel string

const (
	AccessLevelOwner   AccessLevel = "owner"
	AccessLevelManager AccessLevel = "manager"
	AccessLevelWriter  AccessLevel = "writer"
	AccessLevelReader  AccessLevel = "reader"
)

// IsAtLeast returns true if the access level is at least the given level.
func (a AccessLevel) IsAtLeast(level AccessLevel) bool {
	return accessRank(a) >= accessRank(level)
}

// Valid reports whether a is one of the known access levels.
func (a AccessLevel) Valid() bool {
	return accessRank(a) > 0
}

func accessRank(level AccessLevel) int {
	switch level {
	case AccessLevelOwner:
		return 4
	case AccessLevelManager:
		return 3
	case AccessLevelWriter:
		return 2
	case AccessLevelReader:
		return 1
	default:
		return 0
	}
}

// Visibility controls which audience can discover a document through a link.
type Visibility string

const (
	VisibilityAllUsers      Visibility = "all-users"
	VisibilityInternalUsers Visibility = "internal-users"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityAllUsers || v == VisibilityInternalUsers
}

// User is an account that can own legacy records and documents.
type User struct {
	ID          string    `json:"id"          gorm:"primaryKey"`
	DisplayName string    `json:"displayName"`
	Active      bool      `json:"active"      gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null;autoCreateTime"`
}

func (User) TableName() string { return "users" }

// LegacyAttachment is a file-like record attached to a parent record.
type LegacyAttachment struct {
	ID          uuid.UUID `json:"id"          gorm:"primaryKey;type:uuid"`
	ParentID    uuid.UUID `json:"parentId"    gorm:"not null;type:uuid;index:idx_legacy_attachments_parent"`
	OwnerID     string    `json:"ownerId"     gorm:"not null"`
	Name        string    `json:"name"        gorm:"not null"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"-"`
	Description *string   `json:"description,omitempty"`
	IsPrivate   bool      `json:"isPrivate"   gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null;autoCreateTime"`
}

func (LegacyAttachment) TableName() string { return "legacy_attachments" }

// LegacyNote is a plain-text note attached to a parent record.
type LegacyNote struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	ParentID  uuid.UUID `json:"parentId"  gorm:"not null;type:uuid;index:idx_legacy_notes_parent"`
	OwnerID   string    `json:"ownerId"   gorm:"not null"`
	Title     string    `json:"title"     gorm:"not null"`
	Body      string    `json:"body"`
	IsPrivate bool      `json:"isPrivate" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (LegacyNote) TableName() string { return "legacy_notes" }

// SourceRecord is a read-only snapshot of a legacy record selected for conversion.
type SourceRecord struct {
	ID          uuid.UUID  `json:"id"`
	Kind        SourceKind `json:"kind"`
	ParentID    uuid.UUID  `json:"parentId"`
	OwnerID     string     `json:"ownerId"`
	OwnerActive bool       `json:"ownerActive"`
	Title       string     `json:"title"`
	Payload     []byte     `json:"-"`
	ContentType string     `json:"contentType,omitempty"`
	IsPrivate   bool       `json:"isPrivate"`
}

// Provenance records which legacy record a version was converted from.
type Provenance struct {
	RecordID uuid.UUID
	ParentID uuid.UUID
	OwnerID  string
}

// ProvenanceOf returns the provenance a version converted from r must carry.
func ProvenanceOf(r SourceRecord) Provenance {
	return Provenance{RecordID: r.ID, ParentID: r.ParentID, OwnerID: r.OwnerID}
}

// ContentDocument groups all versions of the same document.
type ContentDocument struct {
	ID              uuid.UUID `json:"id"              gorm:"primaryKey;type:uuid"`
	Title           string    `json:"title"           gorm:"not null"`
	OwnerID         string    `json:"ownerId"         gorm:"not null"`
	LatestVersionID uuid.UUID `json:"latestVersionId" gorm:"not null;type:uuid"`
	CreatedAt       time.Time `json:"createdAt"       gorm:"not null;autoCreateTime"`
}

func (ContentDocument) TableName() string { return "content_documents" }

// ContentVersion is a converted content unit. DocumentID is generated by the
// store when the version is created.
type ContentVersion struct {
	ID               uuid.UUID  `json:"id"                         gorm:"primaryKey;type:uuid"`
	DocumentID       uuid.UUID  `json:"documentId"                 gorm:"not null;type:uuid;index:idx_content_versions_document"`
	Title            string     `json:"title"                      gorm:"not null"`
	PathOnClient     string     `json:"pathOnClient,omitempty"`
	ContentType      string     `json:"contentType,omitempty"`
	Content          []byte     `json:"-"`
	OwnerID          string     `json:"ownerId"                    gorm:"not null"`
	OriginalRecordID *uuid.UUID `json:"originalRecordId,omitempty" gorm:"type:uuid;index:idx_content_versions_original_record"`
	OriginalParentID *uuid.UUID `json:"originalParentId,omitempty" gorm:"type:uuid"`
	OriginalOwnerID  *string    `json:"originalOwnerId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"                  gorm:"not null;autoCreateTime"`
}

func (ContentVersion) TableName() string { return "content_versions" }

// HasProvenance reports whether all provenance fields are stamped.
func (v ContentVersion) HasProvenance() bool {
	return v.OriginalRecordID != nil && v.OriginalParentID != nil && v.OriginalOwnerID != nil
}

// Provenance returns the stamped provenance. Only meaningful when HasProvenance is true.
func (v ContentVersion) Provenance() Provenance {
	var p Provenance
	if v.OriginalRecordID != nil {
		p.RecordID = *v.OriginalRecordID
	}
	if v.OriginalParentID != nil {
		p.ParentID = *v.OriginalParentID
	}
	if v.OriginalOwnerID != nil {
		p.OwnerID = *v.OriginalOwnerID
	}
	return p
}

// StampProvenance sets the provenance fields from p.
func (v *ContentVersion) StampProvenance(p Provenance) {
	recordID, parentID, ownerID := p.RecordID, p.ParentID, p.OwnerID
	v.OriginalRecordID = &recordID
	v.OriginalParentID = &parentID
	v.OriginalOwnerID = &ownerID
}

// ContentNote is the rich-text note wrapper. Creating one makes the store
// generate a ContentDocument and ContentVersion; VersionID references the latter.
type ContentNote struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Title     string    `json:"title"     gorm:"not null"`
	Content   []byte    `json:"-"`
	VersionID uuid.UUID `json:"versionId" gorm:"not null;type:uuid"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (ContentNote) TableName() string { return "content_notes" }

// ContentDocumentLink shares a document with another entity.
type ContentDocumentLink struct {
	ID             uuid.UUID   `json:"id"             gorm:"primaryKey;type:uuid"`
	DocumentID     uuid.UUID   `json:"documentId"     gorm:"not null;type:uuid;uniqueIndex:idx_content_document_links_pair"`
	LinkedEntityID uuid.UUID   `json:"linkedEntityId" gorm:"not null;type:uuid;uniqueIndex:idx_content_document_links_pair"`
	AccessLevel    AccessLevel `json:"accessLevel"    gorm:"not null"`
	Visibility     Visibility  `json:"visibility"     gorm:"not null"`
	CreatedAt      time.Time   `json:"createdAt"      gorm:"not null;autoCreateTime"`
}

func (ContentDocumentLink) TableName() string { return "content_document_links" }
