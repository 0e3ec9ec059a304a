// Package sqlstore implements the record store on top of GORM. It is shared by
// the postgres and sqlite store plugins.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const maxTitleLength = 255

// Options configures store-side behavior that mimics the destination platform.
type Options struct {
	// RunAsUser is stamped as owner of everything the store creates.
	RunAsUser string
	// MaxContentSize rejects larger version bodies; 0 disables the check.
	MaxContentSize int64
}

// Store implements RecordStore using GORM.
type Store struct {
	db   *gorm.DB
	opts Options
}

// New wraps an open GORM connection.
func New(db *gorm.DB, opts Options) *Store {
	if strings.TrimSpace(opts.RunAsUser) == "" {
		opts.RunAsUser = "content-migrator"
	}
	return &Store{db: db, opts: opts}
}

// DB exposes the underlying connection, mainly for seeding fixtures in tests.
func (s *Store) DB() *gorm.DB { return s.db }

// Models lists every table the store uses, in creation order.
func Models() []any {
	return []any{
		&model.User{},
		&model.LegacyAttachment{},
		&model.LegacyNote{},
		&model.ContentDocument{},
		&model.ContentVersion{},
		&model.ContentNote{},
		&model.ContentDocumentLink{},
	}
}

// AutoMigrate creates or updates all tables with GORM's migrator.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Scope ---

type scopeRow struct {
	ID          uuid.UUID
	ParentID    uuid.UUID
	OwnerID     string
	Title       string
	Payload     []byte
	ContentType string
	IsPrivate   bool
	OwnerActive bool
}

func (s *Store) QueryScope(ctx context.Context, query registrystore.ScopeQuery) ([]model.SourceRecord, *string, error) {
	if query.Restricted && len(query.ParentIDs) == 0 {
		return nil, nil, nil
	}
	if query.Limit <= 0 {
		return nil, nil, &registrystore.ValidationError{Field: "limit", Message: "must be positive"}
	}

	var tx *gorm.DB
	switch query.Kind {
	case model.SourceKindFile:
		tx = s.db.WithContext(ctx).Table("legacy_attachments AS src").
			Select("src.id, src.parent_id, src.owner_id, src.name AS title, src.body AS payload, src.content_type, src.is_private, u.active AS owner_active")
	case model.SourceKindNote:
		tx = s.db.WithContext(ctx).Table("legacy_notes AS src").
			Select("src.id, src.parent_id, src.owner_id, src.title, src.body AS payload, src.is_private, u.active AS owner_active")
	default:
		return nil, nil, &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", query.Kind)}
	}
	tx = tx.Joins("JOIN users u ON u.id = src.owner_id AND u.active = ?", true)

	if query.Restricted {
		tx = tx.Where("src.parent_id IN ?", query.ParentIDs)
	}
	if query.AfterCursor != nil {
		parentID, id, err := registrystore.DecodeCursor(*query.AfterCursor)
		if err != nil {
			return nil, nil, err
		}
		tx = tx.Where("(src.parent_id > ?) OR (src.parent_id = ? AND src.id > ?)", parentID, parentID, id)
	}
	tx = tx.Order("src.parent_id ASC, src.id ASC").Limit(query.Limit + 1)

	var rows []scopeRow
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("query scope failed: %w", err)
	}

	hasMore := len(rows) > query.Limit
	if hasMore {
		rows = rows[:query.Limit]
	}
	records := make([]model.SourceRecord, len(rows))
	for i, row := range rows {
		records[i] = model.SourceRecord{
			ID:          row.ID,
			Kind:        query.Kind,
			ParentID:    row.ParentID,
			OwnerID:     row.OwnerID,
			OwnerActive: row.OwnerActive,
			Title:       row.Title,
			Payload:     row.Payload,
			ContentType: row.ContentType,
			IsPrivate:   row.IsPrivate,
		}
	}
	var cursor *string
	if hasMore && len(records) > 0 {
		last := records[len(records)-1]
		c := registrystore.EncodeCursor(last.ParentID, last.ID)
		cursor = &c
	}
	return records, cursor, nil
}

// --- Versions ---

func (s *Store) validateContent(title string, content []byte) error {
	if strings.TrimSpace(title) == "" {
		return &registrystore.ValidationError{Field: "title", Message: "required"}
	}
	if len(title) > maxTitleLength {
		return &registrystore.ValidationError{Field: "title", Message: fmt.Sprintf("longer than %d characters", maxTitleLength)}
	}
	if s.opts.MaxContentSize > 0 && int64(len(content)) > s.opts.MaxContentSize {
		return &registrystore.ValidationError{Field: "content", Message: fmt.Sprintf("larger than %d bytes", s.opts.MaxContentSize)}
	}
	return nil
}

func (s *Store) CreateVersions(ctx context.Context, versions []model.ContentVersion) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(versions))
	var docs []model.ContentDocument
	var rows []model.ContentVersion
	for i, v := range versions {
		if err := s.validateContent(v.Title, v.Content); err != nil {
			results[i].Err = err
			continue
		}
		v.ID = uuid.New()
		v.DocumentID = uuid.New()
		v.OwnerID = s.opts.RunAsUser
		docs = append(docs, model.ContentDocument{
			ID:              v.DocumentID,
			Title:           v.Title,
			OwnerID:         s.opts.RunAsUser,
			LatestVersionID: v.ID,
		})
		rows = append(rows, v)
		results[i].ID = v.ID
	}
	if len(rows) == 0 {
		return results, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&docs).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create versions failed: %w", err)
	}
	return results, nil
}

func (s *Store) GetVersions(ctx context.Context, ids []uuid.UUID) ([]model.ContentVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var versions []model.ContentVersion
	if err := s.db.WithContext(ctx).Omit("content").Where("id IN ?", ids).Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("get versions failed: %w", err)
	}
	return versions, nil
}

func (s *Store) UpdateVersions(ctx context.Context, updates []registrystore.VersionUpdate) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(updates))
	if len(updates) == 0 {
		return results, nil
	}
	ids := make([]uuid.UUID, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	existing, err := s.GetVersions(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.ContentVersion, len(existing))
	for _, v := range existing {
		byID[v.ID] = v
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, u := range updates {
			results[i].ID = u.ID
			current, ok := byID[u.ID]
			if !ok {
				results[i].Err = &registrystore.NotFoundError{Resource: "content version", ID: u.ID.String()}
				continue
			}
			values := map[string]any{}
			if u.OwnerID != nil {
				if strings.TrimSpace(*u.OwnerID) == "" {
					results[i].Err = &registrystore.ValidationError{Field: "owner_id", Message: "required"}
					continue
				}
				values["owner_id"] = *u.OwnerID
			}
			if u.Provenance != nil {
				if current.HasProvenance() && current.Provenance() != *u.Provenance {
					results[i].Err = &registrystore.ConflictError{Message: fmt.Sprintf("content version %s already carries a different provenance", u.ID)}
					continue
				}
				values["original_record_id"] = u.Provenance.RecordID
				values["original_parent_id"] = u.Provenance.ParentID
				values["original_owner_id"] = u.Provenance.OwnerID
			}
			if len(values) == 0 {
				continue
			}
			if err := tx.Model(&model.ContentVersion{}).Where("id = ?", u.ID).Updates(values).Error; err != nil {
				return err
			}
			if owner, ok := values["owner_id"]; ok {
				if err := tx.Model(&model.ContentDocument{}).Where("id = ?", current.DocumentID).Update("owner_id", owner).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update versions failed: %w", err)
	}
	return results, nil
}

// --- Notes ---

func (s *Store) CreateNotes(ctx context.Context, notes []model.ContentNote) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(notes))
	var docs []model.ContentDocument
	var versions []model.ContentVersion
	var rows []model.ContentNote
	for i, n := range notes {
		if err := s.validateContent(n.Title, n.Content); err != nil {
			results[i].Err = err
			continue
		}
		n.ID = uuid.New()
		version := model.ContentVersion{
			ID:           uuid.New(),
			DocumentID:   uuid.New(),
			Title:        n.Title,
			PathOnClient: n.Title + ".snote",
			ContentType:  "text/html",
			Content:      n.Content,
			OwnerID:      s.opts.RunAsUser,
		}
		n.VersionID = version.ID
		docs = append(docs, model.ContentDocument{
			ID:              version.DocumentID,
			Title:           n.Title,
			OwnerID:         s.opts.RunAsUser,
			LatestVersionID: version.ID,
		})
		versions = append(versions, version)
		rows = append(rows, n)
		results[i].ID = n.ID
	}
	if len(rows) == 0 {
		return results, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&docs).Error; err != nil {
			return err
		}
		if err := tx.Create(&versions).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create notes failed: %w", err)
	}
	return results, nil
}

func (s *Store) GetNotes(ctx context.Context, ids []uuid.UUID) ([]model.ContentNote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var notes []model.ContentNote
	if err := s.db.WithContext(ctx).Omit("content").Where("id IN ?", ids).Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("get notes failed: %w", err)
	}
	return notes, nil
}

// --- Links ---

type linkKey struct {
	documentID     uuid.UUID
	linkedEntityID uuid.UUID
}

func (s *Store) CreateLinks(ctx context.Context, links []model.ContentDocumentLink) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(links))
	if len(links) == 0 {
		return results, nil
	}
	docIDs := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		docIDs = append(docIDs, l.DocumentID)
	}

	var knownDocs []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&model.ContentDocument{}).Where("id IN ?", docIDs).Pluck("id", &knownDocs).Error; err != nil {
		return nil, fmt.Errorf("create links: document lookup failed: %w", err)
	}
	docExists := make(map[uuid.UUID]bool, len(knownDocs))
	for _, id := range knownDocs {
		docExists[id] = true
	}

	var existing []model.ContentDocumentLink
	if err := s.db.WithContext(ctx).Where("document_id IN ?", docIDs).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("create links: existing link lookup failed: %w", err)
	}
	taken := make(map[linkKey]bool, len(existing))
	for _, l := range existing {
		taken[linkKey{l.DocumentID, l.LinkedEntityID}] = true
	}

	var rows []model.ContentDocumentLink
	for i, l := range links {
		key := linkKey{l.DocumentID, l.LinkedEntityID}
		switch {
		case !docExists[l.DocumentID]:
			results[i].Err = &registrystore.NotFoundError{Resource: "content document", ID: l.DocumentID.String()}
			continue
		case !l.AccessLevel.Valid() || l.AccessLevel.IsAtLeast(model.AccessLevelOwner):
			results[i].Err = &registrystore.ValidationError{Field: "access_level", Message: fmt.Sprintf("cannot grant %q through a link", l.AccessLevel)}
			continue
		case !l.Visibility.Valid():
			results[i].Err = &registrystore.ValidationError{Field: "visibility", Message: fmt.Sprintf("unknown visibility %q", l.Visibility)}
			continue
		case taken[key]:
			results[i].Err = &registrystore.ConflictError{Message: fmt.Sprintf("document %s is already linked to %s", l.DocumentID, l.LinkedEntityID)}
			continue
		}
		taken[key] = true
		l.ID = uuid.New()
		rows = append(rows, l)
		results[i].ID = l.ID
	}
	if len(rows) == 0 {
		return results, nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &registrystore.ConflictError{Message: "create links: concurrent link creation for the same document"}
		}
		return nil, fmt.Errorf("create links failed: %w", err)
	}
	return results, nil
}

// --- Sources ---

func (s *Store) DeleteSources(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(ids))
	if len(ids) == 0 {
		return results, nil
	}
	var table any
	switch kind {
	case model.SourceKindFile:
		table = &model.LegacyAttachment{}
	case model.SourceKindNote:
		table = &model.LegacyNote{}
	default:
		return nil, &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", kind)}
	}

	var found []uuid.UUID
	if err := s.db.WithContext(ctx).Model(table).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("delete sources: lookup failed: %w", err)
	}
	exists := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		exists[id] = true
	}
	for i, id := range ids {
		results[i].ID = id
		if !exists[id] {
			results[i].Err = &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
		}
	}
	if len(found) == 0 {
		return results, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", found).Delete(table).Error; err != nil {
		return nil, fmt.Errorf("delete sources failed: %w", err)
	}
	return results, nil
}

func (s *Store) FindConverted(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	var converted []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.ContentVersion{}).
		Where("original_record_id IN ?", sourceIDs).
		Distinct().
		Pluck("original_record_id", &converted).Error
	if err != nil {
		return nil, fmt.Errorf("find converted failed: %w", err)
	}
	return converted, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ registrystore.RecordStore = (*Store)(nil)
