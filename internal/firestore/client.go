// Package firestore builds the Firestore client used by the property cache.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/proptax/calculator/api/internal/config"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// New creates a Firestore client using credentials provided via env (base64 or
// file). Without explicit credentials it falls back to Application Default
// Credentials, or to the emulator when FIRESTORE_EMULATOR_HOST is set.
// It returns the client and a description of which credential source was used.
func New(ctx context.Context, cfg config.FirestoreConfig) (*firestore.Client, string, error) {
	var opts []option.ClientOption

	creds, source, err := cfg.CredentialsJSON()
	switch {
	case err == nil:
		opts = append(opts, option.WithCredentialsJSON(creds))
	case errors.Is(err, config.ErrNoCredentials):
		if os.Getenv("FIRESTORE_EMULATOR_HOST") != "" {
			source = "emulator"
		}
	default:
		return nil, "", err
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("init firestore client: %w", err)
	}
	return client, source, nil
}

// Ping performs a lightweight check by attempting to iterate collections.
func Ping(ctx context.Context, client *firestore.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := client.Collections(ctx)
	_, err := iter.Next()
	if err == nil || errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}
