// Package firestore stores guestbook users and messages in Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"strings"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// NewClient connects to projectID. An empty credentialsFile uses application default credentials;
// FIRESTORE_EMULATOR_HOST is honoured by the underlying client.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*fs.Client, error) {
	project := strings.TrimSpace(projectID)
	if project == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := fs.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect %s: %w", project, err)
	}
	return client, nil
}
