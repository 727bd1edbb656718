// Package firestoreroster reads the enrollment roster from a Firestore collection,
// one document per student keyed by the student id.
package firestoreroster

import (
	"context"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/trezcool/masomo-billing/core/roster"
)

type studentDoc struct {
	Name   string `firestore:"name"`
	Email  string `firestore:"email"`
	Active bool   `firestore:"active"`
}

type Provider struct {
	client     *firestore.Client
	collection string
}

var _ roster.Provider = (*Provider)(nil)

// NewClient opens a Firestore client through the firebase app of projectID.
// Default credentials are used when credentialsFile is empty.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	opts := make([]option.ClientOption, 0, 1)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initializing firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening firestore client")
	}
	return client, nil
}

func New(client *firestore.Client, collection string) *Provider {
	if collection == "" {
		collection = "students"
	}
	return &Provider{client: client, collection: collection}
}

func (p *Provider) ActiveStudents(ctx context.Context) ([]string, error) {
	iter := p.client.Collection(p.collection).Where("active", "==", true).Documents(ctx)
	defer iter.Stop()

	ids := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, roster.Unavailable(err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}

func (p *Provider) Student(ctx context.Context, id string) (roster.Student, error) {
	snap, err := p.client.Collection(p.collection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return roster.Student{}, roster.ErrStudentNotFound
	}
	if err != nil {
		return roster.Student{}, roster.Unavailable(err)
	}

	var doc studentDoc
	if err = snap.DataTo(&doc); err != nil {
		return roster.Student{}, errors.Wrapf(err, "decoding student %s", id)
	}
	return roster.Student{ID: id, Name: doc.Name, Email: doc.Email}, nil
}
