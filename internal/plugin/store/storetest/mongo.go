package storetest

import (
	"context"
	"time"

	"github.com/chirino/content-migrator/internal/model"
	mongostore "github.com/chirino/content-migrator/internal/plugin/store/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoFixture seeds legacy collections of a mongo store database.
type MongoFixture struct {
	DB *mongo.Database
}

func (f MongoFixture) AddUser(ctx context.Context, id string, active bool) error {
	_, err := f.DB.Collection("users").InsertOne(ctx, mongostore.UserDoc{ID: id, Active: active})
	return err
}

func (f MongoFixture) AddAttachment(ctx context.Context, a model.LegacyAttachment) (model.LegacyAttachment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := f.DB.Collection("legacy_attachments").InsertOne(ctx, mongostore.AttachmentDoc{
		ID:          a.ID.String(),
		ParentID:    a.ParentID.String(),
		OwnerID:     a.OwnerID,
		Name:        a.Name,
		ContentType: a.ContentType,
		Body:        a.Body,
		IsPrivate:   a.IsPrivate,
		CreatedAt:   time.Now().UTC(),
	})
	return a, err
}

func (f MongoFixture) AddNote(ctx context.Context, n model.LegacyNote) (model.LegacyNote, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := f.DB.Collection("legacy_notes").InsertOne(ctx, mongostore.NoteDoc{
		ID:        n.ID.String(),
		ParentID:  n.ParentID.String(),
		OwnerID:   n.OwnerID,
		Title:     n.Title,
		Body:      n.Body,
		IsPrivate: n.IsPrivate,
		CreatedAt: time.Now().UTC(),
	})
	return n, err
}
