package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/store"
	"docqa-platform/internal/telemetry"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
)

const (
	MaxQuestionLength = 2000
	NoContextMessage  = "No relevant documents found. Please upload documents first."
)

// Stream event types, in the order a successful stream produces them.
const (
	EventStatus   = "status"
	EventContext  = "context"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

type StreamEvent struct {
	Type           string `json:"type"`
	Message        string `json:"message,omitempty"`
	Content        string `json:"content,omitempty"`
	ChunksUsed     int    `json:"chunks_used,omitempty"`
	ResponseTimeMS int64  `json:"response_time,omitempty"`
	QueryID        string `json:"query_id,omitempty"`
}

type AskRequest struct {
	UserID   string
	Question string
	// Context skips retrieval when the caller already has passages.
	Context []string
}

type AskResult struct {
	Status         string `json:"status"`
	Question       string `json:"question"`
	Answer         string `json:"answer,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	ChunksUsed     int    `json:"chunks_used"`
	QueryID        string `json:"query_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

type BatchResult struct {
	Status         string      `json:"status"`
	TotalQuestions int         `json:"total_questions"`
	Results        []AskResult `json:"results"`
	Message        string      `json:"message"`
}

type Suggestions struct {
	Status         string   `json:"status"`
	Suggestions    []string `json:"suggestions"`
	BasedOnChunks  int      `json:"based_on_chunks"`
	DocumentID     string   `json:"document_id,omitempty"`
	ContentSamples []string `json:"content_samples,omitempty"`
	Message        string   `json:"message,omitempty"`
}

type QueryAnalysis struct {
	TotalQueries      int            `json:"total_queries"`
	AvgResponseTimeMS int64          `json:"avg_response_time_ms"`
	QuestionTypes     map[string]int `json:"question_types"`
	PeakHour          *int           `json:"peak_hour"`
	QueriesPerDay     float64        `json:"queries_per_day"`
}

type QueryPatterns struct {
	Status     string         `json:"status"`
	Analysis   *QueryAnalysis `json:"analysis,omitempty"`
	PeriodDays int            `json:"period_days"`
	Message    string         `json:"message,omitempty"`
}

var suggestionTemplates = []string{
	"What is the main topic discussed in the documents?",
	"Can you summarize the key points?",
	"What are the important facts mentioned?",
	"How does this relate to [specific topic]?",
	"What conclusions can be drawn?",
}

var questionKinds = []string{"what", "how", "when", "where", "why"}

// QAService answers questions over a user's indexed documents.
type QAService struct {
	retriever *retriever.Retriever
	generator ai.Generator
	store     store.Store
	cfg       *config.Config
	now       func() time.Time
}

func NewQAService(r *retriever.Retriever, g ai.Generator, st store.Store, cfg *config.Config) *QAService {
	return &QAService{
		retriever: r,
		generator: g,
		store:     st,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validateQuestion(question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", apperrors.Validation("Question cannot be empty")
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return "", apperrors.Validation("Question too long. Maximum %d characters", MaxQuestionLength)
	}
	return question, nil
}

func (s *QAService) queryLimit() int {
	if !s.cfg.RateLimitEnabled {
		return 0
	}
	return s.cfg.MaxQueriesPerDay
}

// CheckQuota makes sure the user exists and may still ask today.
func (s *QAService) CheckQuota(ctx context.Context, userID string) error {
	if _, err := s.store.EnsureUser(ctx, userID, ""); err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	return s.store.CheckQueryQuota(ctx, userID, s.queryLimit(), s.now())
}

// AnswerQuestion is the synchronous path: retrieve the top passages,
// generate and log. With no passages the generator's insufficient
// information answer is returned and still logged.
func (s *QAService) AnswerQuestion(ctx context.Context, userID, question string) (*AskResult, error) {
	question, err := validateQuestion(question)
	if err != nil {
		return nil, err
	}
	if err := s.CheckQuota(ctx, userID); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := s.retriever.SearchSimilar(ctx, question, userID, retriever.DefaultTopK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return s.respond(ctx, userID, question, passages(results), start)
}

// Ask is the job path. Unlike AnswerQuestion it requires an existing user
// and short-circuits with a no_context result instead of generating.
func (s *QAService) Ask(ctx context.Context, req AskRequest, progress ProgressFunc) (*AskResult, error) {
	if progress == nil {
		progress = noProgress
	}
	question, err := validateQuestion(req.Question)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	progress(ctx, 0, "Searching for relevant information")
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	if err := s.store.CheckQueryQuota(ctx, req.UserID, s.queryLimit(), s.now()); err != nil {
		return nil, err
	}

	found := req.Context
	if len(found) == 0 {
		progress(ctx, 25, "Retrieving relevant chunks")
		results, err := s.retriever.SearchSimilar(ctx, question, req.UserID, retriever.DefaultTopK)
		if err != nil {
			return nil, apperrors.Transient("search chunks", err)
		}
		found = passages(results)
	}
	if len(found) == 0 {
		return &AskResult{
			Status:   StatusNoContext,
			Question: question,
			Message:  NoContextMessage,
		}, nil
	}

	progress(ctx, 50, "Generating answer")
	res, err := s.respondWithProgress(ctx, req.UserID, question, found, start, progress)
	if err != nil {
		return nil, err
	}
	progress(ctx, 100, "Answer generated successfully")
	return res, nil
}

func (s *QAService) respond(ctx context.Context, userID, question string, found []string, start time.Time) (*AskResult, error) {
	return s.respondWithProgress(ctx, userID, question, found, start, noProgress)
}

func (s *QAService) respondWithProgress(ctx context.Context, userID, question string, found []string, start time.Time, progress ProgressFunc) (*AskResult, error) {
	answer := s.generator.GenerateAnswer(ctx, question, found)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(ctx, 90, "Saving query log")
	elapsed := time.Since(start).Milliseconds()
	queryID, err := s.logQuery(ctx, userID, question, answer, elapsed, len(found))
	if err != nil {
		return nil, err
	}

	return &AskResult{
		Status:         StatusSuccess,
		Question:       question,
		Answer:         answer,
		ResponseTimeMS: elapsed,
		ChunksUsed:     len(found),
		QueryID:        queryID,
	}, nil
}

// logQuery appends the query log and bumps the user's daily counter.
func (s *QAService) logQuery(ctx context.Context, userID, question, answer string, elapsedMS int64, chunks int) (string, error) {
	entry := &models.QueryLog{
		ID:             uuid.NewString(),
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		ResponseTimeMS: elapsedMS,
		ChunksUsed:     chunks,
		CreatedAt:      s.now(),
	}
	if err := s.store.AddQueryLog(ctx, entry); err != nil {
		return "", fmt.Errorf("save query log: %w", err)
	}
	if err := s.store.RecordQuery(ctx, userID, s.now()); err != nil {
		logger.Warn("Failed to update query counter", "user_id", userID, "error", err)
	}
	return entry.ID, nil
}

func passages(results []vectorstore.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Content) != "" {
			out = append(out, r.Content)
		}
	}
	return out
}

// AnswerQuestionStream validates and checks the quota up front, then
// produces events on the returned channel until it is closed. The query
// log is written only when the stream completes.
func (s *QAService) AnswerQuestionStream(ctx context.Context, userID, question string) (<-chan StreamEvent, error) {
	question, err := validateQuestion(question)
	if err != nil {
		return nil, err
	}
	if err := s.CheckQuota(ctx, userID); err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		s.stream(ctx, userID, question, events)
	}()
	return events, nil
}

func (s *QAService) stream(ctx context.Context, userID, question string, events chan<- StreamEvent) {
	ctx, span := telemetry.Tracer("qa").Start(ctx, "qa.stream")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	emit := func(ev StreamEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	start := time.Now()
	if emit(StreamEvent{Type: EventStatus, Message: "Searching for relevant information..."}) != nil {
		return
	}

	results, err := s.retriever.SearchSimilar(ctx, question, userID, retriever.DefaultTopK)
	if err != nil {
		logger.Error("Stream retrieval failed", "user_id", userID, "error", err)
		_ = emit(StreamEvent{Type: EventError, Message: "Error retrieving documents: " + err.Error()})
		return
	}
	found := passages(results)
	if len(found) == 0 {
		_ = emit(StreamEvent{Type: EventError, Message: NoContextMessage})
		return
	}

	if emit(StreamEvent{Type: EventContext, ChunksUsed: len(found)}) != nil {
		return
	}
	if emit(StreamEvent{Type: EventStatus, Message: "Generating answer..."}) != nil {
		return
	}

	var answer strings.Builder
	_, err = s.generator.GenerateAnswerStream(ctx, question, found, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		answer.WriteString(chunk)
		return emit(StreamEvent{Type: EventContent, Content: chunk})
	})
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil {
			_ = emit(StreamEvent{Type: EventError, Message: "Error generating answer: " + err.Error()})
		}
		return
	}

	elapsed := time.Since(start).Milliseconds()
	queryID, err := s.logQuery(ctx, userID, question, answer.String(), elapsed, len(found))
	if err != nil {
		_ = emit(StreamEvent{Type: EventError, Message: err.Error()})
		return
	}
	_ = emit(StreamEvent{Type: EventComplete, ResponseTimeMS: elapsed, QueryID: queryID, ChunksUsed: len(found)})
}

// AnswerBatch answers questions one after another. A failing question is
// recorded in its result and does not stop the batch.
func (s *QAService) AnswerBatch(ctx context.Context, userID string, questions []string, progress ProgressFunc) (*BatchResult, error) {
	if progress == nil {
		progress = noProgress
	}
	if len(questions) == 0 {
		return nil, apperrors.Validation("At least one question is required")
	}

	total := len(questions)
	res := &BatchResult{Status: StatusSuccess, TotalQuestions: total, Results: make([]AskResult, 0, total)}
	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, i*100/total, fmt.Sprintf("Processing question %d of %d", i+1, total))

		r, err := s.Ask(ctx, AskRequest{UserID: userID, Question: q}, nil)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, err
			}
			res.Results = append(res.Results, AskResult{Status: "error", Question: q, Message: err.Error()})
			continue
		}
		res.Results = append(res.Results, *r)
	}
	res.Message = fmt.Sprintf("Processed %d questions successfully", total)
	progress(ctx, 100, res.Message)
	return res, nil
}

// GenerateSuggestions proposes starter questions when the user (or the
// given document) has indexed content.
func (s *QAService) GenerateSuggestions(ctx context.Context, userID, documentID string) (*Suggestions, error) {
	query, topK := "key information important facts", 5
	if documentID != "" {
		query, topK = "main topics summary overview", 3
	}

	results, err := s.retriever.SearchSimilar(ctx, query, userID, topK)
	if err != nil {
		return nil, apperrors.Transient("search chunks", err)
	}
	if documentID != "" {
		kept := results[:0]
		for _, r := range results {
			if r.Metadata.DocumentID == documentID {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) == 0 {
		return &Suggestions{
			Status:      "no_documents",
			Suggestions: []string{},
			Message:     "No documents found to generate suggestions",
		}, nil
	}

	samples := make([]string, 0, len(results))
	for _, r := range results {
		samples = append(samples, vectorstore.Preview(r.Content))
	}
	return &Suggestions{
		Status:         StatusSuccess,
		Suggestions:    append([]string(nil), suggestionTemplates[:3]...),
		BasedOnChunks:  len(results),
		DocumentID:     documentID,
		ContentSamples: samples,
	}, nil
}

// AnalyzeQueryPatterns summarises the user's questions over the last days.
func (s *QAService) AnalyzeQueryPatterns(ctx context.Context, userID string, days int) (*QueryPatterns, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)
	logs, err := s.store.ListQueryLogs(ctx, userID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	if len(logs) == 0 {
		return &QueryPatterns{
			Status:     StatusNoData,
			PeriodDays: days,
			Message:    fmt.Sprintf("No queries found in the last %d days", days),
		}, nil
	}

	analysis := &QueryAnalysis{
		TotalQueries:  len(logs),
		QuestionTypes: make(map[string]int, len(questionKinds)),
		QueriesPerDay: float64(len(logs)) / float64(days),
	}
	var totalMS int64
	hours := make(map[int]int)
	for _, l := range logs {
		totalMS += l.ResponseTimeMS
		lower := strings.ToLower(l.Question)
		for _, kind := range questionKinds {
			if strings.Contains(lower, kind) {
				analysis.QuestionTypes[kind]++
			}
		}
		hours[l.CreatedAt.UTC().Hour()]++
	}
	for _, kind := range questionKinds {
		if _, ok := analysis.QuestionTypes[kind]; !ok {
			analysis.QuestionTypes[kind] = 0
		}
	}
	analysis.AvgResponseTimeMS = totalMS / int64(len(logs))

	peak, best := -1, 0
	for h := 0; h < 24; h++ {
		if hours[h] > best {
			peak, best = h, hours[h]
		}
	}
	if peak >= 0 {
		analysis.PeakHour = &peak
	}

	return &QueryPatterns{Status: StatusSuccess, Analysis: analysis, PeriodDays: days}, nil
}

// History returns the user's latest queries oldest first.
func (s *QAService) History(ctx context.Context, userID string, limit int) ([]models.QueryLogInfo, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	logs, err := s.store.ListQueryLogs(ctx, userID, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	out := make([]models.QueryLogInfo, len(logs))
	for i := range logs {
		out[len(logs)-1-i] = logs[i].Info()
	}
	return out, nil
}

func (s *QAService) LLMInfo(ctx context.Context) ai.Info {
	return s.generator.Info(ctx)
}
