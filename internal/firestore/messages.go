package firestore

import (
	"context"
	"errors"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"github.com/serandev/seran-sjune/internal/messages"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MessageRepository stores messages with server-assigned timestamps.
type MessageRepository struct {
	collection *fs.CollectionRef
}

func NewMessageRepository(client *fs.Client) (*MessageRepository, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore: client required")
	}
	return &MessageRepository{collection: client.Collection(messagesCollection)}, nil
}

// AssignsIDs reports that document ids come from Firestore.
func (r *MessageRepository) AssignsIDs() bool {
	return true
}

// Insert creates the document under a Firestore-generated id unless message.ID is set.
// createdAt is set by Firestore, so the returned message carries the commit time rather
// than the caller's clock.
func (r *MessageRepository) Insert(ctx context.Context, message messages.Message) (messages.Message, error) {
	doc := r.collection.NewDoc()
	if message.ID != "" {
		doc = r.collection.Doc(message.ID)
	}
	result, err := doc.Create(ctx, map[string]interface{}{
		"userId":    message.UserID,
		"content":   message.Content,
		"ipAddress": message.IPAddress,
		"createdAt": fs.ServerTimestamp,
	})
	if err != nil {
		return messages.Message{}, err
	}
	message.ID = doc.ID
	message.CreatedAt = result.UpdateTime.UTC()
	return message, nil
}

func (r *MessageRepository) ListRecent(ctx context.Context) ([]messages.Message, error) {
	snapshots, err := r.recent().Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeMessages(snapshots)
}

func (r *MessageRepository) recent() fs.Query {
	return r.collection.OrderBy("createdAt", fs.Desc)
}

func decodeMessages(snapshots []*fs.DocumentSnapshot) ([]messages.Message, error) {
	result := make([]messages.Message, 0, len(snapshots))
	for _, snapshot := range snapshots {
		var message messages.Message
		if err := snapshot.DataTo(&message); err != nil {
			return nil, fmt.Errorf("firestore: decode message %s: %w", snapshot.Ref.ID, err)
		}
		message.ID = snapshot.Ref.ID
		result = append(result, message)
	}
	return result, nil
}

// ChangeFeed turns the query snapshot listener into messages.Change signals.
type ChangeFeed struct {
	repo   *MessageRepository
	logger *zap.Logger
}

func NewChangeFeed(repo *MessageRepository, logger *zap.Logger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeed{repo: repo, logger: logger}
}

// Watch listens until ctx ends or stop is called. The first snapshot describes the current
// state and is not forwarded; every later one is.
func (f *ChangeFeed) Watch(ctx context.Context) (<-chan messages.Change, func()) {
	watchCtx, cancel := context.WithCancel(ctx)
	iterator := f.repo.recent().Snapshots(watchCtx)
	stream := make(chan messages.Change, 1)

	go func() {
		defer close(stream)
		defer iterator.Stop()
		initial := true
		for {
			_, err := iterator.Next()
			if err != nil {
				if watchCtx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
					return
				}
				f.logger.Warn("message listener failed", zap.Error(err))
				select {
				case stream <- messages.Change{Err: err}:
				case <-watchCtx.Done():
				}
				return
			}
			if initial {
				initial = false
				continue
			}
			select {
			case stream <- messages.Change{}:
			case <-watchCtx.Done():
				return
			default:
			}
		}
	}()

	return stream, cancel
}
