package services

import (
	"context"

	"github.com/google/uuid"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/repository"
	"ripple-chat/internal/storage"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

// FileService serves the attachment gallery of a conversation and issues
// presigned upload slots. Attachments themselves travel on messages; this
// service never writes message rows.
type FileService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	storage       *storage.Client
	sink          events.Sink
}

func NewFileService(
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	storageClient *storage.Client,
	sink events.Sink,
) *FileService {
	return &FileService{
		messages:      messages,
		conversations: conversations,
		storage:       storageClient,
		sink:          sink,
	}
}

type FileListPayload struct {
	ConversationID uuid.UUID           `json:"conversationId"`
	Files          []domain.Attachment `json:"files"`
}

type PresignUploadInput struct {
	ConversationID uuid.UUID `json:"conversationId"`
	FileName       string    `json:"fileName"`
	ContentType    string    `json:"contentType"`
	FileSize       int64     `json:"fileSize"`
}

type PresignUploadResult struct {
	UploadURL string            `json:"uploadUrl"`
	FileURL   string            `json:"fileUrl"`
	Headers   map[string]string `json:"headers"`
}

// List returns the non-recalled attachments of a conversation, newest
// first. Callers must be participants.
func (s *FileService) List(ctx context.Context, viewerID, conversationID uuid.UUID, limit int) (FileListPayload, error) {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, viewerID)
	if err != nil {
		return FileListPayload{}, err
	}
	if !ok {
		return FileListPayload{}, ripple_errors.ErrNotAParticipant
	}

	if limit <= 0 || limit > 200 {
		limit = 100
	}
	files, err := s.messages.ListAttachments(ctx, conversationID, limit)
	if err != nil {
		return FileListPayload{}, err
	}
	return FileListPayload{ConversationID: conversationID, Files: files}, nil
}

// PresignUpload hands the client a PUT URL for a new attachment. The
// returned fileUrl is what the client then sends inside send:message.
func (s *FileService) PresignUpload(ctx context.Context, uploaderID uuid.UUID, in PresignUploadInput) (PresignUploadResult, error) {
	if s.storage == nil {
		return PresignUploadResult{}, ripple_errors.ErrConflict
	}
	if in.FileName == "" || in.ContentType == "" {
		return PresignUploadResult{}, ripple_errors.ErrInvalidPayload
	}
	ok, err := s.conversations.IsParticipant(ctx, in.ConversationID, uploaderID)
	if err != nil {
		return PresignUploadResult{}, err
	}
	if !ok {
		return PresignUploadResult{}, ripple_errors.ErrNotAParticipant
	}

	key := storage.AttachmentKey(in.ConversationID, in.FileName)
	uploadURL, headers, err := s.storage.PresignPut(ctx, key, in.ContentType, in.FileSize)
	if err != nil {
		return PresignUploadResult{}, err
	}

	return PresignUploadResult{
		UploadURL: uploadURL,
		FileURL:   s.storage.FileURL(key),
		Headers:   headers,
	}, nil
}

// AnnounceFiles fans files:added out to a conversation after a message
// with attachments lands.
func (s *FileService) AnnounceFiles(ctx context.Context, conversationID uuid.UUID, files []domain.Attachment) {
	if len(files) == 0 {
		return
	}
	s.sink.ToConversation(ctx, conversationID, events.New(events.EventFilesAdded, FileListPayload{
		ConversationID: conversationID,
		Files:          files,
	}))
}
