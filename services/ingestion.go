package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/chunker"
	"docqa-platform/internal/config"
	"docqa-platform/internal/docproc"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/store"
	"docqa-platform/internal/telemetry"
	"docqa-platform/models"
)

// ProgressFunc receives phase updates from long running operations. The
// job handlers forward them to the side store; the sync HTTP path ignores
// them.
type ProgressFunc func(ctx context.Context, progress int, message string)

func noProgress(context.Context, int, string) {}

const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	StatusNotFound  = "not_found"
	StatusNoContext = "no_context"
	StatusNoData    = "no_data"
)

type IngestRequest struct {
	UserID   string
	Filename string
	Content  []byte
}

type IngestResult struct {
	Status      string `json:"status"`
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	ChunkCount  int    `json:"chunk_count"`
	ContentHash string `json:"content_hash"`
	Message     string `json:"message"`
}

type DeleteResult struct {
	Status        string `json:"status"`
	DocumentID    string `json:"document_id"`
	DeletedChunks int64  `json:"deleted_chunks"`
	Message       string `json:"message"`
}

type BulkDeleteResult struct {
	Status       string   `json:"status"`
	DeletedCount int      `json:"deleted_count"`
	NotFound     []string `json:"not_found,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	Message      string   `json:"message"`
}

type UserDataDeleteResult struct {
	Status           string `json:"status"`
	DeletedDocuments int64  `json:"deleted_documents"`
	DeletedChunks    int64  `json:"deleted_chunks"`
}

// IngestionService runs the upload pipeline shared by the sync route and
// the document:ingest job.
type IngestionService struct {
	store     store.Store
	retriever *retriever.Retriever
	chunker   *chunker.Chunker
	cfg       *config.Config
}

func NewIngestionService(st store.Store, r *retriever.Retriever, cfg *config.Config) *IngestionService {
	return &IngestionService{
		store:     st,
		retriever: r,
		chunker:   chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
	}
}

// Ingest extracts, deduplicates, chunks and indexes one upload. The
// relational record is written before the vector index so an interrupted
// run never leaves vectors without a document.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest, progress ProgressFunc) (*IngestResult, error) {
	if progress == nil {
		progress = noProgress
	}
	ctx, span := telemetry.Tracer("ingestion").Start(ctx, "ingestion.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("document.filename", req.Filename),
		attribute.Int("document.bytes", len(req.Content)),
	)

	res, err := s.ingest(ctx, req, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ingest.status", res.Status))
	return res, nil
}

func (s *IngestionService) ingest(ctx context.Context, req IngestRequest, progress ProgressFunc) (*IngestResult, error) {
	progress(ctx, 0, "Starting document processing")

	if err := docproc.ValidateUpload(req.Filename, int64(len(req.Content)), s.cfg.AllowedExtensions, s.cfg.MaxFileSize); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureUser(ctx, req.UserID, ""); err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	count, err := s.store.CountDocuments(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if s.cfg.MaxDocumentsPerUser > 0 && count >= int64(s.cfg.MaxDocumentsPerUser) {
		return nil, apperrors.Validation("Maximum document limit (%d) reached", s.cfg.MaxDocumentsPerUser)
	}

	progress(ctx, 25, "Processing document content")
	extracted, err := docproc.Process(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return nil, apperrors.Validation("No text content could be extracted from %s", req.Filename)
	}

	existing, err := s.store.FindDocumentByHash(ctx, req.UserID, extracted.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		return duplicateResult(existing), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(ctx, 50, "Splitting text into chunks")
	chunks := s.chunker.Split(extracted.Text)
	if len(chunks) == 0 {
		return nil, apperrors.Validation("Document produced no text chunks")
	}
	if s.cfg.MaxChunksPerDocument > 0 && len(chunks) > s.cfg.MaxChunksPerDocument {
		return nil, apperrors.Validation("Document too large. Maximum %d chunks allowed", s.cfg.MaxChunksPerDocument)
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Filename:    req.Filename,
		ContentHash: extracted.ContentHash,
		ChunkCount:  len(chunks),
		FileSize:    int64(len(req.Content)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if apperrors.IsDuplicate(err) {
			// Lost the race against a concurrent upload of the same bytes.
			existing, findErr := s.store.FindDocumentByHash(ctx, req.UserID, extracted.ContentHash)
			if findErr == nil && existing != nil {
				return duplicateResult(existing), nil
			}
			return &IngestResult{
				Status:      StatusDuplicate,
				Filename:    req.Filename,
				ContentHash: extracted.ContentHash,
				Message:     "Document with identical content already exists",
			}, nil
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		s.rollback(doc)
		return nil, err
	}

	progress(ctx, 75, "Adding chunks to vector store")
	if _, err := s.retriever.AddChunks(ctx, chunks, doc.ID, req.UserID); err != nil {
		s.rollback(doc)
		return nil, apperrors.Transient("index chunks", err)
	}

	if err := s.refreshDocumentCount(ctx, req.UserID); err != nil {
		logger.Warn("Failed to refresh document count", "user_id", req.UserID, "error", err)
	}

	progress(ctx, 100, "Document processing completed")
	logger.Info("Document ingested",
		"user_id", req.UserID,
		"document_id", doc.ID,
		"chunks", len(chunks),
		"content", extracted.Describe(),
	)

	return &IngestResult{
		Status:      StatusSuccess,
		DocumentID:  doc.ID,
		Filename:    doc.Filename,
		ChunkCount:  len(chunks),
		ContentHash: doc.ContentHash,
		Message:     fmt.Sprintf("Document processed successfully with %d chunks", len(chunks)),
	}, nil
}

// rollback removes a document whose chunks never made it into the index,
// so a retry is not mistaken for a duplicate.
func (s *IngestionService) rollback(doc *models.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.retriever.DeleteDocumentChunks(ctx, doc.ID, doc.UserID); err != nil {
		logger.Warn("Failed to remove partial chunks", "document_id", doc.ID, "error", err)
	}
	if err := s.store.DeleteDocument(ctx, doc.UserID, doc.ID); err != nil && !apperrors.IsNotFound(err) {
		logger.Error("Failed to roll back document record", "document_id", doc.ID, "error", err)
	}
}

func duplicateResult(doc *models.Document) *IngestResult {
	return &IngestResult{
		Status:      StatusDuplicate,
		DocumentID:  doc.ID,
		Filename:    doc.Filename,
		ChunkCount:  doc.ChunkCount,
		ContentHash: doc.ContentHash,
		Message:     "Document with identical content already exists",
	}
}

func (s *IngestionService) refreshDocumentCount(ctx context.Context, userID string) error {
	count, err := s.store.CountDocuments(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.SetDocumentCount(ctx, userID, int(count))
}

// DeleteDocument removes the chunks first, then the record. A missing
// document is reported in the result, not as an error.
func (s *IngestionService) DeleteDocument(ctx context.Context, userID, documentID string) (*DeleteResult, error) {
	doc, err := s.store.GetDocument(ctx, userID, documentID)
	if apperrors.IsNotFound(err) {
		return &DeleteResult{Status: StatusNotFound, DocumentID: documentID, Message: "Document not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	deleted, err := s.retriever.DeleteDocumentChunks(ctx, doc.ID, userID)
	if err != nil {
		return nil, apperrors.Transient("delete chunks", err)
	}
	if err := s.store.DeleteDocument(ctx, userID, doc.ID); err != nil && !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	if err := s.refreshDocumentCount(ctx, userID); err != nil {
		logger.Warn("Failed to refresh document count", "user_id", userID, "error", err)
	}

	logger.Info("Document deleted", "user_id", userID, "document_id", doc.ID, "chunks", deleted)
	return &DeleteResult{
		Status:        StatusSuccess,
		DocumentID:    doc.ID,
		DeletedChunks: deleted,
		Message:       fmt.Sprintf("Document %s deleted successfully", doc.Filename),
	}, nil
}

// DeleteDocuments deletes several documents, reporting progress per item.
func (s *IngestionService) DeleteDocuments(ctx context.Context, userID string, documentIDs []string, progress ProgressFunc) (*BulkDeleteResult, error) {
	if progress == nil {
		progress = noProgress
	}
	res := &BulkDeleteResult{Status: StatusSuccess}
	total := len(documentIDs)
	for i, id := range documentIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, i*100/max(total, 1), fmt.Sprintf("Deleting document %d/%d", i+1, total))

		r, err := s.DeleteDocument(ctx, userID, id)
		switch {
		case err != nil:
			logger.Warn("Bulk delete item failed", "user_id", userID, "document_id", id, "error", err)
			res.Failed = append(res.Failed, id)
		case r.Status == StatusNotFound:
			res.NotFound = append(res.NotFound, id)
		default:
			res.DeletedCount++
		}
	}
	res.Message = fmt.Sprintf("Deleted %d of %d documents", res.DeletedCount, total)
	progress(ctx, 100, res.Message)
	return res, nil
}

// DeleteAllForUser wipes every chunk and document the user owns.
func (s *IngestionService) DeleteAllForUser(ctx context.Context, userID string) (*UserDataDeleteResult, error) {
	chunks, err := s.retriever.DeleteUserData(ctx, userID)
	if err != nil {
		return nil, apperrors.Transient("delete user chunks", err)
	}
	docs, err := s.store.DeleteAllDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delete user documents: %w", err)
	}
	if err := s.store.SetDocumentCount(ctx, userID, 0); err != nil && !apperrors.IsNotFound(err) {
		logger.Warn("Failed to reset document count", "user_id", userID, "error", err)
	}
	return &UserDataDeleteResult{Status: StatusSuccess, DeletedDocuments: docs, DeletedChunks: chunks}, nil
}

func (s *IngestionService) ListDocuments(ctx context.Context, userID string) ([]models.DocumentInfo, error) {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]models.DocumentInfo, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Info())
	}
	return out, nil
}
