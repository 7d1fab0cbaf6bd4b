package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/docproc"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/middleware"
	"docqa-platform/services"
	"docqa-platform/utils"
)

type AskRequest struct {
	Question string   `json:"question" binding:"required"`
	Context  []string `json:"context,omitempty"`
}

type BatchAskRequest struct {
	Questions []string `json:"questions" binding:"required,min=1,max=20"`
}

type BulkDeleteRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

func SetupQARoutes(qa *gin.RouterGroup, deps Deps) {
	qa.POST("/upload", handleUpload(deps))
	qa.GET("/upload/status/:task_id", handleTaskStatus(deps, "task_id"))

	qa.POST("/ask", handleAsk(deps))
	qa.POST("/ask/stream", handleAskStream(deps))
	qa.POST("/ask/batch", handleAskBatch(deps))

	qa.GET("/documents", handleListDocuments(deps))
	qa.DELETE("/documents/:id", handleDeleteDocument(deps))
	qa.DELETE("/documents", handleBulkDelete(deps))

	qa.GET("/history", handleHistory(deps))
	qa.GET("/llm-info", handleLLMInfo(deps))
	qa.GET("/suggestions", handleSuggestions(deps))
	qa.POST("/analyze", handleAnalyze(deps))
	qa.GET("/report", handleReport(deps))
	qa.POST("/export", handleExport(deps))
}

// accepted answers 202 with the job id and where to poll it.
func accepted(c *gin.Context, taskID, message string) {
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    taskID,
		"status":     "queued",
		"message":    message,
		"status_url": "/tasks/" + taskID,
	})
}

func handleUpload(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file provided", gin.H{"field": "file"})
			return
		}
		if err := docproc.ValidateUpload(header.Filename, header.Size, deps.Config.AllowedExtensions, deps.Config.MaxFileSize); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		file, err := header.Open()
		if err != nil {
			utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
			return
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, deps.Config.MaxFileSize+1))
		if err != nil {
			utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
			return
		}

		if queryBool(c, "async") {
			taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeDocumentIngest, queue.IngestPayload{
				UserID:   userID,
				Filename: header.Filename,
				Content:  content,
			}, priority(c))
			if err != nil {
				utils.RespondWithAppError(c, err)
				return
			}
			logger.Info("Upload queued", "user_id", userID, "filename", header.Filename, "task_id", taskID)
			accepted(c, taskID, "Document queued for processing")
			return
		}

		res, err := deps.Ingestion.Ingest(c.Request.Context(), services.IngestRequest{
			UserID:   userID,
			Filename: header.Filename,
			Content:  content,
		}, nil)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleAsk(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		if !queryBool(c, "async") {
			res, err := deps.QA.AnswerQuestion(c.Request.Context(), userID, req.Question)
			if err != nil {
				utils.RespondWithAppError(c, err)
				return
			}
			c.JSON(http.StatusOK, res)
			return
		}

		// Over-quota users get a 429 here rather than a failed job.
		if err := deps.QA.CheckQuota(c.Request.Context(), userID); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		prio := priority(c)
		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeQAAnswer, queue.AnswerPayload{
			UserID:   userID,
			Question: req.Question,
			Context:  req.Context,
			Priority: prio,
		}, prio)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, "Question queued for answering")
	}
}

func handleAskStream(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		events, err := deps.QA.AnswerQuestionStream(c.Request.Context(), userID, req.Question)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		flusher, _ := c.Writer.(http.Flusher)
		for ev := range events {
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", raw); err != nil {
				logger.Debug("Stream client went away", "user_id", userID, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func handleAskBatch(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req BatchAskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if err := deps.QA.CheckQuota(c.Request.Context(), userID); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeQABatch, queue.BatchPayload{
			UserID:    userID,
			Questions: req.Questions,
		}, priority(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, fmt.Sprintf("%d questions queued", len(req.Questions)))
	}
}

func handleListDocuments(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := deps.Ingestion.ListDocuments(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
	}
}

func handleDeleteDocument(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		documentID := c.Param("id")

		if queryBool(c, "async") {
			taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeDocumentDelete, queue.DeletePayload{
				UserID:     userID,
				DocumentID: documentID,
			}, priority(c))
			if err != nil {
				utils.RespondWithAppError(c, err)
				return
			}
			accepted(c, taskID, "Document deletion queued")
			return
		}

		res, err := deps.Ingestion.DeleteDocument(c.Request.Context(), userID, documentID)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		if res.Status == services.StatusNotFound {
			utils.RespondWithNotFound(c, res.Message)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleBulkDelete always runs as a job. An empty id list removes every
// document the user owns.
func handleBulkDelete(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req BulkDeleteRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
				return
			}
		}

		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeDocumentBulkDelete, queue.BulkDeletePayload{
			UserID:      userID,
			DocumentIDs: req.DocumentIDs,
		}, priority(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, "Document deletion queued")
	}
}

func handleHistory(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := deps.QA.History(c.Request.Context(), middleware.GetUserID(c), queryInt(c, "limit", 20))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history, "total": len(history)})
	}
}

func handleLLMInfo(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.QA.LLMInfo(c.Request.Context()))
	}
}

func handleSuggestions(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := deps.QA.GenerateSuggestions(c.Request.Context(), middleware.GetUserID(c), c.Query("document_id"))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleAnalyze(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeQAAnalyze, queue.DaysPayload{
			UserID: userID,
			Days:   queryInt(c, "days", 7),
		}, priority(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, "Query analysis queued")
	}
}

// handleReport serves a cached report when one exists and otherwise
// queues its generation.
func handleReport(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		days := queryInt(c, "days", services.DefaultReportDays)

		report, err := deps.Maintenance.CachedUserReport(c.Request.Context(), userID, days)
		if err != nil {
			logger.Warn("Failed to read cached report", "user_id", userID, "error", err)
		}
		if report != nil {
			c.JSON(http.StatusOK, services.ReportResult{Status: services.StatusSuccess, Cached: true, Report: report})
			return
		}

		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeUserReport, queue.DaysPayload{
			UserID: userID,
			Days:   days,
		}, queue.PriorityNormal)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, "Report generation queued")
	}
}

func handleExport(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		taskID, err := deps.Queue.Submit(c.Request.Context(), userID, queue.TypeUserExport, queue.ExportPayload{UserID: userID}, queue.PriorityNormal)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		accepted(c, taskID, "Data export queued")
	}
}
