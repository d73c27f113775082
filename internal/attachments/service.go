// Package attachments stores goal attachments in object storage with their
// metadata in Postgres.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"pdca/api/internal/logger"
	"pdca/api/internal/store"
)

var ErrTooLarge = errors.New("attachment exceeds the upload limit")

type Store interface {
	InsertAttachment(ctx context.Context, item store.Attachment) (store.Attachment, error)
	ListAttachments(ctx context.Context, goalID string) ([]store.Attachment, error)
	GetAttachment(ctx context.Context, id string) (store.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

type Service struct {
	objects  ObjectStore
	store    Store
	log      *logger.Logger
	maxBytes int64
}

func NewService(objects ObjectStore, store Store, log *logger.Logger, maxBytes int64) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{objects: objects, store: store, log: log, maxBytes: maxBytes}
}

type Upload struct {
	GoalID      string
	UserID      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload writes the object first and then its row. The object is removed
// again when the row cannot be written.
func (s *Service) Upload(ctx context.Context, in Upload) (store.Attachment, error) {
	if s.maxBytes > 0 && in.Size > s.maxBytes {
		return store.Attachment{}, ErrTooLarge
	}
	fileName := cleanFileName(in.FileName)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	key := objectKey(in.GoalID, id, fileName)
	if err := s.objects.Put(ctx, key, in.Body, in.Size, contentType); err != nil {
		return store.Attachment{}, fmt.Errorf("store attachment body: %w", err)
	}

	item, err := s.store.InsertAttachment(ctx, store.Attachment{
		ID:          id,
		GoalID:      in.GoalID,
		UserID:      in.UserID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        in.Size,
		ObjectKey:   key,
	})
	if err != nil {
		if rmErr := s.objects.Remove(ctx, key); rmErr != nil {
			s.log.Warn("remove orphaned attachment object", "key", key, "error", rmErr)
		}
		return store.Attachment{}, err
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, goalID string) ([]store.Attachment, error) {
	return s.store.ListAttachments(ctx, goalID)
}

func (s *Service) Get(ctx context.Context, id string) (store.Attachment, error) {
	return s.store.GetAttachment(ctx, id)
}

// Open returns the attachment body. The caller closes it.
func (s *Service) Open(ctx context.Context, item store.Attachment) (io.ReadCloser, error) {
	return s.objects.Get(ctx, item.ObjectKey)
}

// Delete removes the row, then the object. A failure to remove the object
// is logged and otherwise ignored.
func (s *Service) Delete(ctx context.Context, item store.Attachment) error {
	if err := s.store.DeleteAttachment(ctx, item.ID); err != nil {
		return err
	}
	if err := s.objects.Remove(ctx, item.ObjectKey); err != nil {
		s.log.Warn("remove attachment object", "attachment_id", item.ID, "key", item.ObjectKey, "error", err)
	}
	return nil
}

func objectKey(goalID, id, fileName string) string {
	return path.Join("goals", goalID, id, fileName)
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
