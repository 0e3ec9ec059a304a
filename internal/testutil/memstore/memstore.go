// Package memstore provides an in-memory RecordStore for engine and runner
// tests. It honors the store contract loosely on purpose: re-query results are
// shuffled, and hooks let tests reject individual records or whole calls.
package memstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
)

// Operation names used by Calls and CallErrors.
const (
	OpQueryScope     = "query_scope"
	OpCreateVersions = "create_versions"
	OpGetVersions    = "get_versions"
	OpUpdateVersions = "update_versions"
	OpCreateNotes    = "create_notes"
	OpGetNotes       = "get_notes"
	OpCreateLinks    = "create_links"
	OpDeleteSources  = "delete_sources"
	OpFindConverted  = "find_converted"
)

// Store is an in-memory RecordStore.
type Store struct {
	mu sync.Mutex

	RunAsUser string

	users        map[string]bool
	attachments  map[uuid.UUID]model.LegacyAttachment
	legacyNotes  map[uuid.UUID]model.LegacyNote
	documents    map[uuid.UUID]model.ContentDocument
	versions     map[uuid.UUID]model.ContentVersion
	contentNotes map[uuid.UUID]model.ContentNote
	links        []model.ContentDocumentLink

	// Reject, when set, is consulted per record; a non-nil error rejects it.
	// key is the title for creates, the version id for updates, the parent id
	// for links and the source id for deletes.
	Reject func(op string, key string) error
	// CallErrors fails a whole call by operation name.
	CallErrors map[string]error
	// RewriteIDs lets a test tamper with the ids a re-query returns.
	RewriteIDs func(op string, ids []uuid.UUID) []uuid.UUID

	calls         []string
	findConverted []uuid.UUID
	rng           *rand.Rand
}

// New returns an empty store.
func New() *Store {
	return &Store{
		RunAsUser:    "content-migrator",
		users:        map[string]bool{},
		attachments:  map[uuid.UUID]model.LegacyAttachment{},
		legacyNotes:  map[uuid.UUID]model.LegacyNote{},
		documents:    map[uuid.UUID]model.ContentDocument{},
		versions:     map[uuid.UUID]model.ContentVersion{},
		contentNotes: map[uuid.UUID]model.ContentNote{},
		CallErrors:   map[string]error{},
		rng:          rand.New(rand.NewPCG(1, 2)),
	}
}

// --- fixtures ---

func (s *Store) AddUser(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = active
}

func (s *Store) SetUserActive(id string, active bool) { s.AddUser(id, active) }

func (s *Store) AddAttachment(a model.LegacyAttachment) model.LegacyAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.attachments[a.ID] = a
	return a
}

func (s *Store) AddNote(n model.LegacyNote) model.LegacyNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.legacyNotes[n.ID] = n
	return n
}

// --- inspection ---

// Calls returns the operations invoked so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how often op was invoked.
func (s *Store) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// FindConvertedArgs returns the ids passed to the last FindConverted call.
func (s *Store) FindConvertedArgs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.findConverted...)
}

// Versions returns all stored versions.
func (s *Store) Versions() []model.ContentVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContentVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v)
	}
	return out
}

// VersionsFrom returns the versions whose provenance names sourceID.
func (s *Store) VersionsFrom(sourceID uuid.UUID) []model.ContentVersion {
	var out []model.ContentVersion
	for _, v := range s.Versions() {
		if v.OriginalRecordID != nil && *v.OriginalRecordID == sourceID {
			out = append(out, v)
		}
	}
	return out
}

// Document returns the document with id.
func (s *Store) Document(id uuid.UUID) (model.ContentDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	return d, ok
}

// ContentNotes returns all stored intermediate notes.
func (s *Store) ContentNotes() []model.ContentNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContentNote, 0, len(s.contentNotes))
	for _, n := range s.contentNotes {
		out = append(out, n)
	}
	return out
}

// Links returns all stored links.
func (s *Store) Links() []model.ContentDocumentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ContentDocumentLink(nil), s.links...)
}

// LinksTo returns the links of documentID.
func (s *Store) LinksTo(documentID uuid.UUID) []model.ContentDocumentLink {
	var out []model.ContentDocumentLink
	for _, l := range s.Links() {
		if l.DocumentID == documentID {
			out = append(out, l)
		}
	}
	return out
}

// HasSource reports whether the legacy record id still exists.
func (s *Store) HasSource(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, a := s.attachments[id]
	_, n := s.legacyNotes[id]
	return a || n
}

// --- RecordStore ---

func (s *Store) begin(op string) error {
	s.calls = append(s.calls, op)
	return s.CallErrors[op]
}

func (s *Store) reject(op, key string) error {
	if s.Reject == nil {
		return nil
	}
	return s.Reject(op, key)
}

func (s *Store) shuffle(op string, ids []uuid.UUID) []uuid.UUID {
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if s.RewriteIDs != nil {
		ids = s.RewriteIDs(op, ids)
	}
	return ids
}

func (s *Store) QueryScope(_ context.Context, query registrystore.ScopeQuery) ([]model.SourceRecord, *string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpQueryScope); err != nil {
		return nil, nil, err
	}
	if query.Restricted && len(query.ParentIDs) == 0 {
		return nil, nil, nil
	}
	var after string
	if query.AfterCursor != nil {
		parentID, id, err := registrystore.DecodeCursor(*query.AfterCursor)
		if err != nil {
			return nil, nil, err
		}
		after = registrystore.EncodeCursor(parentID, id)
	}
	parents := map[uuid.UUID]bool{}
	for _, p := range query.ParentIDs {
		parents[p] = true
	}

	var all []model.SourceRecord
	switch query.Kind {
	case model.SourceKindFile:
		for _, a := range s.attachments {
			all = append(all, model.SourceRecord{
				ID: a.ID, Kind: model.SourceKindFile, ParentID: a.ParentID, OwnerID: a.OwnerID,
				Title: a.Name, Payload: a.Body, ContentType: a.ContentType, IsPrivate: a.IsPrivate,
			})
		}
	case model.SourceKindNote:
		for _, n := range s.legacyNotes {
			all = append(all, model.SourceRecord{
				ID: n.ID, Kind: model.SourceKindNote, ParentID: n.ParentID, OwnerID: n.OwnerID,
				Title: n.Title, Payload: []byte(n.Body), IsPrivate: n.IsPrivate,
			})
		}
	default:
		return nil, nil, &registrystore.ValidationError{Field: "kind", Message: string(query.Kind)}
	}
	sort.Slice(all, func(i, j int) bool { return cursorOf(all[i]) < cursorOf(all[j]) })

	var out []model.SourceRecord
	for _, r := range all {
		if query.Restricted && !parents[r.ParentID] {
			continue
		}
		if !s.users[r.OwnerID] {
			continue
		}
		if query.AfterCursor != nil && cursorOf(r) <= after {
			continue
		}
		r.OwnerActive = true
		out = append(out, r)
		if len(out) > query.Limit {
			break
		}
	}
	if len(out) > query.Limit {
		out = out[:query.Limit]
		c := cursorOf(out[len(out)-1])
		return out, &c, nil
	}
	return out, nil, nil
}

func cursorOf(r model.SourceRecord) string {
	return registrystore.EncodeCursor(r.ParentID, r.ID)
}

func (s *Store) CreateVersions(_ context.Context, versions []model.ContentVersion) ([]registrystore.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateVersions); err != nil {
		return nil, err
	}
	results := make([]registrystore.SaveResult, len(versions))
	for i, v := range versions {
		if err := s.validate(OpCreateVersions, v.Title); err != nil {
			results[i].Err = err
			continue
		}
		v.ID, v.DocumentID = uuid.New(), uuid.New()
		v.OwnerID = s.RunAsUser
		v.CreatedAt = time.Now()
		s.documents[v.DocumentID] = model.ContentDocument{ID: v.DocumentID, Title: v.Title, OwnerID: s.RunAsUser, LatestVersionID: v.ID}
		s.versions[v.ID] = v
		results[i].ID = v.ID
	}
	return results, nil
}

func (s *Store) validate(op, title string) error {
	if strings.TrimSpace(title) == "" {
		return &registrystore.ValidationError{Field: "title", Message: "required"}
	}
	return s.reject(op, title)
}

func (s *Store) GetVersions(_ context.Context, ids []uuid.UUID) ([]model.ContentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGetVersions); err != nil {
		return nil, err
	}
	var found []uuid.UUID
	for _, id := range ids {
		if _, ok := s.versions[id]; ok {
			found = append(found, id)
		}
	}
	var out []model.ContentVersion
	for _, id := range s.shuffle(OpGetVersions, found) {
		v, ok := s.versions[id]
		if !ok {
			v = model.ContentVersion{ID: id, DocumentID: uuid.New()}
		}
		v.Content = nil
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) UpdateVersions(_ context.Context, updates []registrystore.VersionUpdate) ([]registrystore.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpUpdateVersions); err != nil {
		return nil, err
	}
	results := make([]registrystore.SaveResult, len(updates))
	for i, u := range updates {
		results[i].ID = u.ID
		v, ok := s.versions[u.ID]
		if !ok {
			results[i].Err = &registrystore.NotFoundError{Resource: "content version", ID: u.ID.String()}
			continue
		}
		if err := s.reject(OpUpdateVersions, u.ID.String()); err != nil {
			results[i].Err = err
			continue
		}
		if u.OwnerID != nil {
			v.OwnerID = *u.OwnerID
			if d, ok := s.documents[v.DocumentID]; ok {
				d.OwnerID = *u.OwnerID
				s.documents[v.DocumentID] = d
			}
		}
		if u.Provenance != nil {
			if v.HasProvenance() && v.Provenance() != *u.Provenance {
				results[i].Err = &registrystore.ConflictError{Message: "provenance already set"}
				continue
			}
			v.StampProvenance(*u.Provenance)
		}
		s.versions[u.ID] = v
	}
	return results, nil
}

func (s *Store) CreateNotes(_ context.Context, notes []model.ContentNote) ([]registrystore.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateNotes); err != nil {
		return nil, err
	}
	results := make([]registrystore.SaveResult, len(notes))
	for i, n := range notes {
		if err := s.validate(OpCreateNotes, n.Title); err != nil {
			results[i].Err = err
			continue
		}
		v := model.ContentVersion{
			ID:           uuid.New(),
			DocumentID:   uuid.New(),
			Title:        n.Title,
			PathOnClient: n.Title + ".snote",
			ContentType:  "text/html",
			Content:      n.Content,
			OwnerID:      s.RunAsUser,
		}
		s.documents[v.DocumentID] = model.ContentDocument{ID: v.DocumentID, Title: n.Title, OwnerID: s.RunAsUser, LatestVersionID: v.ID}
		s.versions[v.ID] = v
		n.ID = uuid.New()
		n.VersionID = v.ID
		s.contentNotes[n.ID] = n
		results[i].ID = n.ID
	}
	return results, nil
}

func (s *Store) GetNotes(_ context.Context, ids []uuid.UUID) ([]model.ContentNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGetNotes); err != nil {
		return nil, err
	}
	var found []uuid.UUID
	for _, id := range ids {
		if _, ok := s.contentNotes[id]; ok {
			found = append(found, id)
		}
	}
	var out []model.ContentNote
	for _, id := range s.shuffle(OpGetNotes, found) {
		n, ok := s.contentNotes[id]
		if !ok {
			n = model.ContentNote{ID: id, VersionID: uuid.New()}
		}
		n.Content = nil
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) CreateLinks(_ context.Context, links []model.ContentDocumentLink) ([]registrystore.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateLinks); err != nil {
		return nil, err
	}
	results := make([]registrystore.SaveResult, len(links))
	for i, l := range links {
		if _, ok := s.documents[l.DocumentID]; !ok {
			results[i].Err = &registrystore.NotFoundError{Resource: "content document", ID: l.DocumentID.String()}
			continue
		}
		if err := s.reject(OpCreateLinks, l.LinkedEntityID.String()); err != nil {
			results[i].Err = err
			continue
		}
		duplicate := false
		for _, existing := range s.links {
			if existing.DocumentID == l.DocumentID && existing.LinkedEntityID == l.LinkedEntityID {
				duplicate = true
			}
		}
		if duplicate {
			results[i].Err = &registrystore.ConflictError{Message: fmt.Sprintf("document %s already linked to %s", l.DocumentID, l.LinkedEntityID)}
			continue
		}
		l.ID = uuid.New()
		s.links = append(s.links, l)
		results[i].ID = l.ID
	}
	return results, nil
}

func (s *Store) DeleteSources(_ context.Context, kind model.SourceKind, ids []uuid.UUID) ([]registrystore.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpDeleteSources); err != nil {
		return nil, err
	}
	results := make([]registrystore.SaveResult, len(ids))
	for i, id := range ids {
		results[i].ID = id
		if err := s.reject(OpDeleteSources, id.String()); err != nil {
			results[i].Err = err
			continue
		}
		switch kind {
		case model.SourceKindFile:
			if _, ok := s.attachments[id]; !ok {
				results[i].Err = &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
				continue
			}
			delete(s.attachments, id)
		case model.SourceKindNote:
			if _, ok := s.legacyNotes[id]; !ok {
				results[i].Err = &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
				continue
			}
			delete(s.legacyNotes, id)
		}
	}
	return results, nil
}

func (s *Store) FindConverted(_ context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpFindConverted); err != nil {
		return nil, err
	}
	s.findConverted = append([]uuid.UUID(nil), sourceIDs...)
	wanted := map[uuid.UUID]bool{}
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, v := range s.versions {
		if v.OriginalRecordID == nil {
			continue
		}
		id := *v.OriginalRecordID
		if wanted[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

var _ registrystore.RecordStore = (*Store)(nil)
