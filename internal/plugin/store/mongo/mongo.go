package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/model"
	registrymigrate "github.com/chirino/content-migrator/internal/registry/migrate"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const maxTitleLength = 255

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return New(client, databaseName(cfg), cfg.RunAsUser, cfg.MaxContentSize), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

func databaseName(cfg *config.Config) string {
	if cfg != nil && strings.TrimSpace(cfg.MongoDatabase) != "" {
		return cfg.MongoDatabase
	}
	return "content_migrator"
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }

func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	if err := EnsureIndexes(ctx, client.Database(databaseName(cfg))); err != nil {
		return err
	}
	log.Info("MongoDB schema migration complete")
	return nil
}

// EnsureIndexes creates the collections and indexes the store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		"users": nil,
		"legacy_attachments": {
			{Keys: bson.D{{Key: "parent_id", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		"legacy_notes": {
			{Keys: bson.D{{Key: "parent_id", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		"content_documents": nil,
		"content_versions": {
			{Keys: bson.D{{Key: "document_id", Value: 1}}},
			{Keys: bson.D{{Key: "original_record_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		"content_notes": {
			{Keys: bson.D{{Key: "version_id", Value: 1}}},
		},
		"content_document_links": {
			{
				Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "linked_entity_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_link_per_entity"),
			},
		},
	}

	for name, indexes := range collections {
		// Ensure collection exists
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}
	return nil
}

// MongoStore implements RecordStore using MongoDB.
type MongoStore struct {
	client         *mongo.Client
	db             *mongo.Database
	runAsUser      string
	maxContentSize int64
}

// New wraps a connected client.
func New(client *mongo.Client, database string, runAsUser string, maxContentSize int64) *MongoStore {
	if strings.TrimSpace(runAsUser) == "" {
		runAsUser = "content-migrator"
	}
	return &MongoStore{
		client:         client,
		db:             client.Database(database),
		runAsUser:      runAsUser,
		maxContentSize: maxContentSize,
	}
}

// Database exposes the underlying database, mainly for seeding fixtures in tests.
func (s *MongoStore) Database() *mongo.Database { return s.db }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) users() *mongo.Collection       { return s.db.Collection("users") }
func (s *MongoStore) attachments() *mongo.Collection { return s.db.Collection("legacy_attachments") }
func (s *MongoStore) notes() *mongo.Collection       { return s.db.Collection("legacy_notes") }
func (s *MongoStore) documents() *mongo.Collection   { return s.db.Collection("content_documents") }
func (s *MongoStore) versions() *mongo.Collection    { return s.db.Collection("content_versions") }
func (s *MongoStore) contentNotes() *mongo.Collection {
	return s.db.Collection("content_notes")
}
func (s *MongoStore) links() *mongo.Collection { return s.db.Collection("content_document_links") }

// --- Document types ---

// UserDoc is the users collection shape.
type UserDoc struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name,omitempty"`
	Active      bool   `bson:"active"`
}

// AttachmentDoc is the legacy_attachments collection shape.
type AttachmentDoc struct {
	ID          string    `bson:"_id"`
	ParentID    string    `bson:"parent_id"`
	OwnerID     string    `bson:"owner_id"`
	Name        string    `bson:"name"`
	ContentType string    `bson:"content_type,omitempty"`
	Body        []byte    `bson:"body,omitempty"`
	IsPrivate   bool      `bson:"is_private"`
	CreatedAt   time.Time `bson:"created_at"`
	Owner       []UserDoc `bson:"owner,omitempty"`
}

// NoteDoc is the legacy_notes collection shape.
type NoteDoc struct {
	ID        string    `bson:"_id"`
	ParentID  string    `bson:"parent_id"`
	OwnerID   string    `bson:"owner_id"`
	Title     string    `bson:"title"`
	Body      string    `bson:"body,omitempty"`
	IsPrivate bool      `bson:"is_private"`
	CreatedAt time.Time `bson:"created_at"`
	Owner     []UserDoc `bson:"owner,omitempty"`
}

type documentDoc struct {
	ID              string    `bson:"_id"`
	Title           string    `bson:"title"`
	OwnerID         string    `bson:"owner_id"`
	LatestVersionID string    `bson:"latest_version_id"`
	CreatedAt       time.Time `bson:"created_at"`
}

type versionDoc struct {
	ID               string    `bson:"_id"`
	DocumentID       string    `bson:"document_id"`
	Title            string    `bson:"title"`
	PathOnClient     string    `bson:"path_on_client,omitempty"`
	ContentType      string    `bson:"content_type,omitempty"`
	Content          []byte    `bson:"content,omitempty"`
	OwnerID          string    `bson:"owner_id"`
	OriginalRecordID *string   `bson:"original_record_id,omitempty"`
	OriginalParentID *string   `bson:"original_parent_id,omitempty"`
	OriginalOwnerID  *string   `bson:"original_owner_id,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
}

type contentNoteDoc struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Content   []byte    `bson:"content,omitempty"`
	VersionID string    `bson:"version_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type linkDoc struct {
	ID             string    `bson:"_id"`
	DocumentID     string    `bson:"document_id"`
	LinkedEntityID string    `bson:"linked_entity_id"`
	AccessLevel    string    `bson:"access_level"`
	Visibility     string    `bson:"visibility"`
	CreatedAt      time.Time `bson:"created_at"`
}

func uuidToStr(id uuid.UUID) string { return id.String() }

func uuidsToStrs(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func strToUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func strPtrToUUIDPtr(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := strToUUID(*s)
	return &id
}

func (d versionDoc) toModel() model.ContentVersion {
	return model.ContentVersion{
		ID:               strToUUID(d.ID),
		DocumentID:       strToUUID(d.DocumentID),
		Title:            d.Title,
		PathOnClient:     d.PathOnClient,
		ContentType:      d.ContentType,
		OwnerID:          d.OwnerID,
		OriginalRecordID: strPtrToUUIDPtr(d.OriginalRecordID),
		OriginalParentID: strPtrToUUIDPtr(d.OriginalParentID),
		OriginalOwnerID:  d.OriginalOwnerID,
		CreatedAt:        d.CreatedAt,
	}
}

// writeErrors maps the per-index failures of an unordered bulk write. ok is
// false when err is not a bulk write failure or also carries a write concern
// error, in which case the whole call must be treated as failed.
func writeErrors(err error) (map[int]error, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		var pbwe *mongo.BulkWriteException
		if !errors.As(err, &pbwe) || pbwe == nil {
			return nil, false
		}
		bwe = *pbwe
	}
	if bwe.WriteConcernError != nil {
		return nil, false
	}
	failed := make(map[int]error, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		if mongo.IsDuplicateKeyError(we) {
			failed[we.Index] = &registrystore.ConflictError{Message: we.Message}
		} else {
			failed[we.Index] = &registrystore.ValidationError{Field: "document", Message: we.Message}
		}
	}
	return failed, true
}

// insertUnordered inserts docs and returns per-index errors for rejected ones.
func insertUnordered[T any](ctx context.Context, coll *mongo.Collection, docs []T) (map[int]error, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil, nil
	}
	failed, ok := writeErrors(err)
	if !ok {
		return nil, err
	}
	return failed, nil
}

// --- Scope ---

func (s *MongoStore) QueryScope(ctx context.Context, query registrystore.ScopeQuery) ([]model.SourceRecord, *string, error) {
	if query.Restricted && len(query.ParentIDs) == 0 {
		return nil, nil, nil
	}
	if query.Limit <= 0 {
		return nil, nil, &registrystore.ValidationError{Field: "limit", Message: "must be positive"}
	}
	var coll *mongo.Collection
	switch query.Kind {
	case model.SourceKindFile:
		coll = s.attachments()
	case model.SourceKindNote:
		coll = s.notes()
	default:
		return nil, nil, &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", query.Kind)}
	}

	match := bson.M{}
	if query.Restricted {
		match["parent_id"] = bson.M{"$in": uuidsToStrs(query.ParentIDs)}
	}
	if query.AfterCursor != nil {
		parentID, id, err := registrystore.DecodeCursor(*query.AfterCursor)
		if err != nil {
			return nil, nil, err
		}
		parent := uuidToStr(parentID)
		match["$or"] = bson.A{
			bson.M{"parent_id": bson.M{"$gt": parent}},
			bson.M{"parent_id": parent, "_id": bson.M{"$gt": uuidToStr(id)}},
		}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "parent_id", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "owner_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "owner"},
		}}},
		{{Key: "$match", Value: bson.M{"owner.active": true}}},
		{{Key: "$limit", Value: int64(query.Limit + 1)}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, nil, fmt.Errorf("query scope failed: %w", err)
	}
	defer cur.Close(ctx)

	var records []model.SourceRecord
	switch query.Kind {
	case model.SourceKindFile:
		var docs []AttachmentDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, nil, fmt.Errorf("query scope decode failed: %w", err)
		}
		for _, d := range docs {
			records = append(records, model.SourceRecord{
				ID:          strToUUID(d.ID),
				Kind:        model.SourceKindFile,
				ParentID:    strToUUID(d.ParentID),
				OwnerID:     d.OwnerID,
				OwnerActive: true,
				Title:       d.Name,
				Payload:     d.Body,
				ContentType: d.ContentType,
				IsPrivate:   d.IsPrivate,
			})
		}
	case model.SourceKindNote:
		var docs []NoteDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, nil, fmt.Errorf("query scope decode failed: %w", err)
		}
		for _, d := range docs {
			records = append(records, model.SourceRecord{
				ID:          strToUUID(d.ID),
				Kind:        model.SourceKindNote,
				ParentID:    strToUUID(d.ParentID),
				OwnerID:     d.OwnerID,
				OwnerActive: true,
				Title:       d.Title,
				Payload:     []byte(d.Body),
				IsPrivate:   d.IsPrivate,
			})
		}
	}

	hasMore := len(records) > query.Limit
	if hasMore {
		records = records[:query.Limit]
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

func (s *MongoStore) validateContent(title string, content []byte) error {
	if strings.TrimSpace(title) == "" {
		return &registrystore.ValidationError{Field: "title", Message: "required"}
	}
	if len(title) > maxTitleLength {
		return &registrystore.ValidationError{Field: "title", Message: fmt.Sprintf("longer than %d characters", maxTitleLength)}
	}
	if s.maxContentSize > 0 && int64(len(content)) > s.maxContentSize {
		return &registrystore.ValidationError{Field: "content", Message: fmt.Sprintf("larger than %d bytes", s.maxContentSize)}
	}
	return nil
}

func (s *MongoStore) CreateVersions(ctx context.Context, versions []model.ContentVersion) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(versions))
	now := time.Now().UTC()
	var docs []documentDoc
	var rows []versionDoc
	var positions []int
	for i, v := range versions {
		if err := s.validateContent(v.Title, v.Content); err != nil {
			results[i].Err = err
			continue
		}
		versionID, documentID := uuid.New(), uuid.New()
		row := versionDoc{
			ID:           uuidToStr(versionID),
			DocumentID:   uuidToStr(documentID),
			Title:        v.Title,
			PathOnClient: v.PathOnClient,
			ContentType:  v.ContentType,
			Content:      v.Content,
			OwnerID:      s.runAsUser,
			CreatedAt:    now,
		}
		if v.HasProvenance() {
			p := v.Provenance()
			recordID, parentID, ownerID := p.RecordID.String(), p.ParentID.String(), p.OwnerID
			row.OriginalRecordID, row.OriginalParentID, row.OriginalOwnerID = &recordID, &parentID, &ownerID
		}
		docs = append(docs, documentDoc{
			ID:              row.DocumentID,
			Title:           v.Title,
			OwnerID:         s.runAsUser,
			LatestVersionID: row.ID,
			CreatedAt:       now,
		})
		rows = append(rows, row)
		positions = append(positions, i)
		results[i].ID = versionID
	}
	if len(rows) == 0 {
		return results, nil
	}

	docFailures, err := insertUnordered(ctx, s.documents(), docs)
	if err != nil {
		return nil, fmt.Errorf("create versions: insert documents failed: %w", err)
	}
	var pendingRows []versionDoc
	var pendingPositions []int
	for j, row := range rows {
		if ferr, failed := docFailures[j]; failed {
			results[positions[j]] = registrystore.SaveResult{Err: ferr}
			continue
		}
		pendingRows = append(pendingRows, row)
		pendingPositions = append(pendingPositions, positions[j])
	}

	versionFailures, err := insertUnordered(ctx, s.versions(), pendingRows)
	if err != nil {
		return nil, fmt.Errorf("create versions failed: %w", err)
	}
	var orphans []string
	for j, ferr := range versionFailures {
		results[pendingPositions[j]] = registrystore.SaveResult{Err: ferr}
		orphans = append(orphans, pendingRows[j].DocumentID)
	}
	s.removeOrphanDocuments(ctx, orphans)
	return results, nil
}

func (s *MongoStore) removeOrphanDocuments(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.documents().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		log.Warn("Failed to remove orphaned content documents", "count", len(ids), "err", err)
	}
}

func (s *MongoStore) findVersionDocs(ctx context.Context, ids []uuid.UUID) ([]versionDoc, error) {
	cur, err := s.versions().Find(ctx,
		bson.M{"_id": bson.M{"$in": uuidsToStrs(ids)}},
		options.Find().SetProjection(bson.M{"content": 0}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []versionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoStore) GetVersions(ctx context.Context, ids []uuid.UUID) ([]model.ContentVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := s.findVersionDocs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get versions failed: %w", err)
	}
	versions := make([]model.ContentVersion, len(docs))
	for i, d := range docs {
		versions[i] = d.toModel()
	}
	return versions, nil
}

func (s *MongoStore) UpdateVersions(ctx context.Context, updates []registrystore.VersionUpdate) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(updates))
	if len(updates) == 0 {
		return results, nil
	}
	ids := make([]uuid.UUID, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	docs, err := s.findVersionDocs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("update versions: lookup failed: %w", err)
	}
	byID := make(map[string]model.ContentVersion, len(docs))
	for _, d := range docs {
		byID[d.ID] = d.toModel()
	}

	var versionModels []mongo.WriteModel
	var documentModels []mongo.WriteModel
	var positions []int
	for i, u := range updates {
		results[i].ID = u.ID
		current, ok := byID[uuidToStr(u.ID)]
		if !ok {
			results[i].Err = &registrystore.NotFoundError{Resource: "content version", ID: u.ID.String()}
			continue
		}
		set := bson.M{}
		if u.OwnerID != nil {
			if strings.TrimSpace(*u.OwnerID) == "" {
				results[i].Err = &registrystore.ValidationError{Field: "owner_id", Message: "required"}
				continue
			}
			set["owner_id"] = *u.OwnerID
		}
		if u.Provenance != nil {
			if current.HasProvenance() && current.Provenance() != *u.Provenance {
				results[i].Err = &registrystore.ConflictError{Message: fmt.Sprintf("content version %s already carries a different provenance", u.ID)}
				continue
			}
			set["original_record_id"] = u.Provenance.RecordID.String()
			set["original_parent_id"] = u.Provenance.ParentID.String()
			set["original_owner_id"] = u.Provenance.OwnerID
		}
		if len(set) == 0 {
			continue
		}
		versionModels = append(versionModels, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": uuidToStr(u.ID)}).
			SetUpdate(bson.M{"$set": set}))
		positions = append(positions, i)
		if owner, ok := set["owner_id"]; ok {
			documentModels = append(documentModels, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": uuidToStr(current.DocumentID)}).
				SetUpdate(bson.M{"$set": bson.M{"owner_id": owner}}))
		}
	}
	if len(versionModels) == 0 {
		return results, nil
	}
	if _, err := s.versions().BulkWrite(ctx, versionModels, options.BulkWrite().SetOrdered(false)); err != nil {
		failed, ok := writeErrors(err)
		if !ok {
			return nil, fmt.Errorf("update versions failed: %w", err)
		}
		for j, ferr := range failed {
			results[positions[j]].Err = ferr
		}
	}
	if len(documentModels) > 0 {
		if _, err := s.documents().BulkWrite(ctx, documentModels, options.BulkWrite().SetOrdered(false)); err != nil {
			log.Warn("Failed to mirror owner onto content documents", "err", err)
		}
	}
	return results, nil
}

// --- Notes ---

func (s *MongoStore) CreateNotes(ctx context.Context, notes []model.ContentNote) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(notes))
	now := time.Now().UTC()
	var docs []documentDoc
	var versionRows []versionDoc
	var noteRows []contentNoteDoc
	var positions []int
	for i, n := range notes {
		if err := s.validateContent(n.Title, n.Content); err != nil {
			results[i].Err = err
			continue
		}
		noteID, versionID, documentID := uuid.New(), uuid.New(), uuid.New()
		docs = append(docs, documentDoc{
			ID:              uuidToStr(documentID),
			Title:           n.Title,
			OwnerID:         s.runAsUser,
			LatestVersionID: uuidToStr(versionID),
			CreatedAt:       now,
		})
		versionRows = append(versionRows, versionDoc{
			ID:           uuidToStr(versionID),
			DocumentID:   uuidToStr(documentID),
			Title:        n.Title,
			PathOnClient: n.Title + ".snote",
			ContentType:  "text/html",
			Content:      n.Content,
			OwnerID:      s.runAsUser,
			CreatedAt:    now,
		})
		noteRows = append(noteRows, contentNoteDoc{
			ID:        uuidToStr(noteID),
			Title:     n.Title,
			Content:   n.Content,
			VersionID: uuidToStr(versionID),
			CreatedAt: now,
		})
		positions = append(positions, i)
		results[i].ID = noteID
	}
	if len(noteRows) == 0 {
		return results, nil
	}

	// Insert document, version and note in that order, dropping rows whose
	// predecessor was rejected.
	failed := map[int]error{}
	docFailures, err := insertUnordered(ctx, s.documents(), docs)
	if err != nil {
		return nil, fmt.Errorf("create notes: insert documents failed: %w", err)
	}
	for j, ferr := range docFailures {
		failed[j] = ferr
	}
	var pendingVersions []versionDoc
	var versionIdx []int
	for j, row := range versionRows {
		if _, bad := failed[j]; !bad {
			pendingVersions = append(pendingVersions, row)
			versionIdx = append(versionIdx, j)
		}
	}
	versionFailures, err := insertUnordered(ctx, s.versions(), pendingVersions)
	if err != nil {
		return nil, fmt.Errorf("create notes: insert versions failed: %w", err)
	}
	for k, ferr := range versionFailures {
		failed[versionIdx[k]] = ferr
	}
	var pendingNotes []contentNoteDoc
	var noteIdx []int
	for j, row := range noteRows {
		if _, bad := failed[j]; !bad {
			pendingNotes = append(pendingNotes, row)
			noteIdx = append(noteIdx, j)
		}
	}
	noteFailures, err := insertUnordered(ctx, s.contentNotes(), pendingNotes)
	if err != nil {
		return nil, fmt.Errorf("create notes failed: %w", err)
	}
	for k, ferr := range noteFailures {
		failed[noteIdx[k]] = ferr
	}

	var orphans []string
	for j, ferr := range failed {
		results[positions[j]] = registrystore.SaveResult{Err: ferr}
		orphans = append(orphans, docs[j].ID)
	}
	s.removeOrphanDocuments(ctx, orphans)
	return results, nil
}

func (s *MongoStore) GetNotes(ctx context.Context, ids []uuid.UUID) ([]model.ContentNote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.contentNotes().Find(ctx,
		bson.M{"_id": bson.M{"$in": uuidsToStrs(ids)}},
		options.Find().SetProjection(bson.M{"content": 0}),
	)
	if err != nil {
		return nil, fmt.Errorf("get notes failed: %w", err)
	}
	defer cur.Close(ctx)
	var docs []contentNoteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("get notes failed: %w", err)
	}
	notes := make([]model.ContentNote, len(docs))
	for i, d := range docs {
		notes[i] = model.ContentNote{
			ID:        strToUUID(d.ID),
			Title:     d.Title,
			VersionID: strToUUID(d.VersionID),
			CreatedAt: d.CreatedAt,
		}
	}
	return notes, nil
}

// --- Links ---

func (s *MongoStore) CreateLinks(ctx context.Context, links []model.ContentDocumentLink) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(links))
	if len(links) == 0 {
		return results, nil
	}
	docIDs := make([]string, len(links))
	for i, l := range links {
		docIDs[i] = uuidToStr(l.DocumentID)
	}
	var known []string
	if err := s.documents().Distinct(ctx, "_id", bson.M{"_id": bson.M{"$in": docIDs}}).Decode(&known); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("create links: document lookup failed: %w", err)
	}
	exists := make(map[string]bool, len(known))
	for _, id := range known {
		exists[id] = true
	}

	now := time.Now().UTC()
	var rows []linkDoc
	var positions []int
	for i, l := range links {
		switch {
		case !exists[uuidToStr(l.DocumentID)]:
			results[i].Err = &registrystore.NotFoundError{Resource: "content document", ID: l.DocumentID.String()}
			continue
		case !l.AccessLevel.Valid() || l.AccessLevel.IsAtLeast(model.AccessLevelOwner):
			results[i].Err = &registrystore.ValidationError{Field: "access_level", Message: fmt.Sprintf("cannot grant %q through a link", l.AccessLevel)}
			continue
		case !l.Visibility.Valid():
			results[i].Err = &registrystore.ValidationError{Field: "visibility", Message: fmt.Sprintf("unknown visibility %q", l.Visibility)}
			continue
		}
		id := uuid.New()
		rows = append(rows, linkDoc{
			ID:             uuidToStr(id),
			DocumentID:     uuidToStr(l.DocumentID),
			LinkedEntityID: uuidToStr(l.LinkedEntityID),
			AccessLevel:    string(l.AccessLevel),
			Visibility:     string(l.Visibility),
			CreatedAt:      now,
		})
		positions = append(positions, i)
		results[i].ID = id
	}
	failures, err := insertUnordered(ctx, s.links(), rows)
	if err != nil {
		return nil, fmt.Errorf("create links failed: %w", err)
	}
	for j, ferr := range failures {
		results[positions[j]] = registrystore.SaveResult{Err: ferr}
	}
	return results, nil
}

// --- Sources ---

func (s *MongoStore) DeleteSources(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]registrystore.SaveResult, error) {
	results := make([]registrystore.SaveResult, len(ids))
	if len(ids) == 0 {
		return results, nil
	}
	var coll *mongo.Collection
	switch kind {
	case model.SourceKindFile:
		coll = s.attachments()
	case model.SourceKindNote:
		coll = s.notes()
	default:
		return nil, &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", kind)}
	}
	var found []string
	if err := coll.Distinct(ctx, "_id", bson.M{"_id": bson.M{"$in": uuidsToStrs(ids)}}).Decode(&found); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("delete sources: lookup failed: %w", err)
	}
	exists := make(map[string]bool, len(found))
	for _, id := range found {
		exists[id] = true
	}
	for i, id := range ids {
		results[i].ID = id
		if !exists[uuidToStr(id)] {
			results[i].Err = &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
		}
	}
	if len(found) == 0 {
		return results, nil
	}
	if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": found}}); err != nil {
		return nil, fmt.Errorf("delete sources failed: %w", err)
	}
	return results, nil
}

func (s *MongoStore) FindConverted(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	var raw []string
	err := s.versions().Distinct(ctx, "original_record_id",
		bson.M{"original_record_id": bson.M{"$in": uuidsToStrs(sourceIDs)}},
	).Decode(&raw)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("find converted failed: %w", err)
	}
	converted := make([]uuid.UUID, 0, len(raw))
	for _, id := range raw {
		converted = append(converted, strToUUID(id))
	}
	return converted, nil
}

var _ registrystore.RecordStore = (*MongoStore)(nil)
