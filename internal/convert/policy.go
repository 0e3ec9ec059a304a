package convert

import "github.com/chirino/content-migrator/internal/model"

// ShouldLink reports whether the converted document is shared with the
// record's parent. Private records stay unlinked unless sharePrivateWithParent.
func ShouldLink(record model.SourceRecord, sharePrivateWithParent bool) bool {
	return !record.IsPrivate || sharePrivateWithParent
}

// ShouldDelete reports whether the source is removed once its conversion
// committed. There is no per-record override.
func ShouldDelete(_ model.SourceRecord, deleteUponConversion bool) bool {
	return deleteUponConversion
}

// OwnerFor returns the owner the converted version must carry. Ownership is
// always re-stamped because the store defaults it to the acting principal.
func OwnerFor(record model.SourceRecord) string {
	return record.OwnerID
}
