package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/proptax/calculator/api/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreRepository stores one document per address key, with superseded
// snapshots in a "scrapes" sub-collection.
type firestoreRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRepository creates a PropertyRepository backed by Firestore.
func NewFirestoreRepository(client *firestore.Client, collection string) PropertyRepository {
	return &firestoreRepository{
		client:     client,
		collection: collection,
	}
}

func (r *firestoreRepository) doc(key string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(key)
}

func (r *firestoreRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	snap, err := r.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get property %s: %w", key, err)
	}

	var entry models.CacheEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("decode property %s: %w", key, err)
	}
	entry.Key = snap.Ref.ID
	return &entry, nil
}

func (r *firestoreRepository) Upsert(ctx context.Context, key string, write models.PropertyWrite) (*models.SaveResult, error) {
	ref := r.doc(key)

	var result *models.SaveResult
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var prev *models.CacheEntry

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return fmt.Errorf("read previous: %w", err)
		default:
			var existing models.CacheEntry
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode previous: %w", err)
			}
			prev = &existing

			// Archive the raw document so fields this version does not know
			// about survive.
			versionRef := ref.Collection(VersionsCollection).Doc(newVersionID(write.Now))
			if err := tx.Set(versionRef, snap.Data()); err != nil {
				return fmt.Errorf("archive previous: %w", err)
			}
		}

		entry := buildEntry(key, prev, write)
		if err := tx.Set(ref, entry); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
		result = saveResult(entry, prev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert property %s: %w", key, err)
	}

	return result, nil
}

func (r *firestoreRepository) History(ctx context.Context, key string, limit int) ([]models.CacheEntry, error) {
	query := r.doc(key).Collection(VersionsCollection).OrderBy("scrapedAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	result := []models.CacheEntry{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate history for %s: %w", key, err)
		}
		var entry models.CacheEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, fmt.Errorf("decode version %s: %w", snap.Ref.ID, err)
		}
		entry.Key = key
		entry.VersionID = snap.Ref.ID
		result = append(result, entry)
	}
	return result, nil
}

func (r *firestoreRepository) Ping(ctx context.Context) error {
	iter := r.client.Collection(r.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == nil || err == iterator.Done {
		return nil
	}
	return fmt.Errorf("ping firestore: %w", err)
}
