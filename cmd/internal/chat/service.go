package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"campfire/cmd/internal/classify"
)

const (
	maxBodyChars = 4000

	classifyTimeout = 15 * time.Second
)

// EventPublisher relays accepted message events to out-of-process consumers.
// Publishing is best-effort; failures never affect delivery.
type EventPublisher interface {
	Publish(ctx context.Context, kind, roomKey string, payload any) error
}

// Service is the message send/edit/delete path.
//
// Writes are two-phase: the message is persisted first, then classification
// results are patched in asynchronously, so categorization latency or failure
// never blocks delivery. Classification runs only for public rooms with a
// non-empty body; personal rooms and attachment-only messages are never sent
// to the classifier.
type Service struct {
	log        *slog.Logger
	store      BackingStore
	classifier classify.Classifier
	relay      EventPublisher
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClassifier sets the categorization collaborator.
func WithClassifier(c classify.Classifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithRelay sets the outbound event publisher.
func WithRelay(p EventPublisher) ServiceOption {
	return func(s *Service) { s.relay = p }
}

// NewService constructs the send path around a BackingStore.
func NewService(log *slog.Logger, store BackingStore, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat: nil backing store")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{log: log, store: store, classifier: classify.Noop{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send validates and persists a message, then kicks off asynchronous
// enrichment. The returned Message is the persisted record, before any
// annotation lands.
func (s *Service) Send(ctx context.Context, room RoomID, author Author, body, attachmentURL string) (Message, error) {
	if room.IsZero() {
		return Message{}, errors.New("chat: missing room")
	}
	if strings.TrimSpace(author.ID) == "" {
		return Message{}, errors.New("chat: missing author")
	}
	body = strings.TrimSpace(body)
	attachmentURL = strings.TrimSpace(attachmentURL)
	if body == "" && attachmentURL == "" {
		return Message{}, errors.New("chat: message needs a body or an attachment")
	}
	if len([]rune(body)) > maxBodyChars {
		return Message{}, errors.New("chat: message too long")
	}

	msg, err := s.store.Append(ctx, AppendInput{
		Room:          room,
		Author:        author,
		Body:          body,
		AttachmentURL: attachmentURL,
	})
	if err != nil {
		return Message{}, err
	}
	metricMessagesSent.Inc()
	s.log.Info("chat.message.send", "room", room.Key(), "message_id", msg.ID, "author_id", author.ID)

	if !room.IsPersonal() && body != "" {
		go s.annotate(room, msg.ID, body)
	}
	s.publish("sent", room, msg)

	return msg, nil
}

// Edit replaces the body of an existing message.
func (s *Service) Edit(ctx context.Context, room RoomID, id, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, errors.New("chat: empty body")
	}
	if len([]rune(body)) > maxBodyChars {
		return Message{}, errors.New("chat: message too long")
	}

	msg, err := s.store.Edit(ctx, room, id, body)
	if err != nil {
		return Message{}, err
	}
	s.publish("edited", room, msg)
	return msg, nil
}

// Delete tombstones a message: it keeps its position, the body is hidden.
func (s *Service) Delete(ctx context.Context, room RoomID, id string) error {
	if err := s.store.Delete(ctx, room, id); err != nil {
		return err
	}
	s.publish("deleted", room, Message{ID: id})
	return nil
}

// Remove drops a message entirely from the room.
func (s *Service) Remove(ctx context.Context, room RoomID, id string) error {
	if err := s.store.Remove(ctx, room, id); err != nil {
		return err
	}
	s.publish("removed", room, Message{ID: id})
	return nil
}

// annotate classifies the body and patches the result onto the stored
// message. Detached from the request context: delivery already succeeded and
// enrichment must survive the sender disconnecting.
func (s *Service) annotate(room RoomID, id, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
	defer cancel()

	res, err := s.classifier.Classify(ctx, body)
	if err != nil {
		metricClassifyFailures.Inc()
		s.log.Warn("chat.classify.fail", "room", room.Key(), "message_id", id, "err", err)
		return
	}
	if res.Category == "" && res.Title == "" {
		return
	}

	if err := s.store.Annotate(ctx, room, id, res.Category, res.Title); err != nil {
		metricClassifyFailures.Inc()
		s.log.Warn("chat.annotate.fail", "room", room.Key(), "message_id", id, "err", err)
	}
}

func (s *Service) publish(kind string, room RoomID, msg Message) {
	if s.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.relay.Publish(ctx, kind, room.Key(), msg); err != nil {
		s.log.Warn("chat.relay.fail", "kind", kind, "room", room.Key(), "err", err)
	}
}
