package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/application/service"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/internal/domain/session"
	"github.com/splitmate/receipt-splitter/internal/export"
)

// Handlers contains all HTTP request handlers.
type Handlers struct {
	sessions  *service.SessionService
	extractor port.Extractor
	exporter  *export.SettlementExporter
	logger    *zap.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(
	sessions *service.SessionService,
	extractor port.Extractor,
	exporter *export.SettlementExporter,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		sessions:  sessions,
		extractor: extractor,
		exporter:  exporter,
		logger:    logger,
	}
}

// Response is the standard JSON envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UploadResponse is the outcome of a receipt upload.
type UploadResponse struct {
	ThreadID  string   `json:"thread_id"`
	Accepted  bool     `json:"accepted"`
	Reason    string   `json:"reason,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// InterviewRequest is the body for one interview round.
type InterviewRequest struct {
	Text string `json:"text" binding:"required"`
}

// InterviewResponse is the outcome of one interview round.
type InterviewResponse struct {
	ThreadID      string                   `json:"thread_id"`
	Completed     bool                     `json:"completed"`
	Clarification string                   `json:"clarification,omitempty"`
	AttemptsUsed  int                      `json:"attempts_used"`
	Exhausted     bool                     `json:"exhausted"`
	Results       []entity.ParticipantCost `json:"results,omitempty"`
	TotalMismatch bool                     `json:"total_mismatch"`
}

// ItemView is a line item in session snapshots.
type ItemView struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// TotalsView is the receipt totals in session snapshots.
type TotalsView struct {
	Subtotal   string `json:"subtotal"`
	TaxTotal   string `json:"tax_total"`
	TipTotal   string `json:"tip_total"`
	FeesTotal  string `json:"fees_total"`
	GrandTotal string `json:"grand_total"`
}

// SessionResponse is the session snapshot.
type SessionResponse struct {
	ThreadID         string      `json:"thread_id"`
	Phase            string      `json:"phase"`
	AttemptsUsed     int         `json:"attempts_used"`
	PendingQuestions []string    `json:"pending_questions,omitempty"`
	Items            []ItemView  `json:"items,omitempty"`
	Totals           *TotalsView `json:"totals,omitempty"`
	Participants     []string    `json:"participants,omitempty"`
}

// ResultsResponse is the final allocation.
type ResultsResponse struct {
	ThreadID      string                   `json:"thread_id"`
	Results       []entity.ParticipantCost `json:"results"`
	TotalMismatch bool                     `json:"total_mismatch"`
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// UploadReceipt handles POST /api/receipts: it validates the upload, runs
// vision extraction and the quality gate, and opens an interview session on
// accept.
func (h *Handlers) UploadReceipt(c *gin.Context) {
	fileHeader, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "multipart field 'receipt' is required"})
		return
	}
	if fileHeader.Size > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{
			Success: false,
			Error:   fmt.Sprintf("upload exceeds %d byte limit", MaxUploadBytes),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "failed to read upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "failed to read upload"})
		return
	}
	if len(data) > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{
			Success: false,
			Error:   fmt.Sprintf("upload exceeds %d byte limit", MaxUploadBytes),
		})
		return
	}

	mimeType, ok := sniffUploadType(data)
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, Response{
			Success: false,
			Error:   "unsupported file type: expected JPEG, PNG, WebP, GIF, BMP, or PDF",
		})
		return
	}

	if mimeType == "application/pdf" {
		rendered, err := renderPDFPage(data)
		if err != nil {
			h.logger.Warn("Failed to render PDF upload", zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Error: "could not render PDF"})
			return
		}
		data, mimeType = rendered, "image/jpeg"
	}

	threadID := "receipt-" + uuid.New().String()

	extraction, err := h.extractor.Extract(c.Request.Context(), data, mimeType)
	if err != nil {
		h.logger.Error("Extraction failed", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "extraction failed"})
		return
	}

	gateResult, err := h.sessions.SubmitExtraction(c.Request.Context(), threadID, extraction)
	if err != nil {
		h.logger.Error("Failed to open session", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to open session"})
		return
	}

	resp := UploadResponse{
		ThreadID:  gateResult.ThreadID,
		Accepted:  gateResult.Accepted,
		Reason:    gateResult.Reason,
		Questions: gateResult.Questions,
	}
	status := http.StatusOK
	if !gateResult.Accepted {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, Response{Success: gateResult.Accepted, Data: resp})
}

// SubmitInterview handles POST /api/receipts/:id/interview.
func (h *Handlers) SubmitInterview(c *gin.Context) {
	threadID := c.Param("id")

	var req InterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "body must contain non-empty 'text'"})
		return
	}

	round, err := h.sessions.SubmitRound(c.Request.Context(), threadID, req.Text)
	if err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: InterviewResponse{
			ThreadID:      round.ThreadID,
			Completed:     round.Completed,
			Clarification: round.Clarification,
			AttemptsUsed:  round.AttemptsUsed,
			Exhausted:     round.Exhausted,
			Results:       round.Results,
			TotalMismatch: round.TotalMismatch,
		},
	})
}

// GetSession handles GET /api/receipts/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	threadID := c.Param("id")

	snap, err := h.sessions.GetSession(threadID)
	if err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}

	resp := SessionResponse{
		ThreadID:         snap.ThreadID,
		Phase:            snap.Phase.String(),
		AttemptsUsed:     snap.AttemptsUsed,
		PendingQuestions: snap.PendingQuestions,
		Participants:     snap.Participants,
	}
	for i, item := range snap.Items {
		resp.Items = append(resp.Items, ItemView{
			Index:     i,
			Name:      item.Name,
			Quantity:  item.Quantity.String(),
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		})
	}
	if len(snap.Items) > 0 {
		resp.Totals = &TotalsView{
			Subtotal:   snap.Totals.Subtotal.StringFixed(2),
			TaxTotal:   snap.Totals.TaxTotal.StringFixed(2),
			TipTotal:   snap.Totals.TipTotal.StringFixed(2),
			FeesTotal:  snap.Totals.FeesTotal.StringFixed(2),
			GrandTotal: snap.Totals.GrandTotal.StringFixed(2),
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// GetResults handles GET /api/receipts/:id/results.
func (h *Handlers) GetResults(c *gin.Context) {
	threadID := c.Param("id")

	results, mismatch, err := h.sessions.GetResults(threadID)
	if err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ResultsResponse{
			ThreadID:      threadID,
			Results:       results,
			TotalMismatch: mismatch,
		},
	})
}

// ExportSettlement handles GET /api/receipts/:id/export.
func (h *Handlers) ExportSettlement(c *gin.Context) {
	threadID := c.Param("id")

	results, mismatch, err := h.sessions.GetResults(threadID)
	if err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}
	snap, err := h.sessions.GetSession(threadID)
	if err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}

	buf, err := h.exporter.Write(threadID, snap.Totals, results, mismatch)
	if err != nil {
		h.logger.Error("Failed to build settlement export",
			zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to build export"})
		return
	}

	filename := fmt.Sprintf("settlement-%s.xlsx", threadID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		buf.Bytes())
}

// ResetSession handles POST /api/receipts/:id/reset.
func (h *Handlers) ResetSession(c *gin.Context) {
	threadID := c.Param("id")

	if err := h.sessions.Reset(c.Request.Context(), threadID); err != nil {
		h.writeServiceError(c, threadID, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"thread_id": threadID, "phase": session.PhaseUpload.String()},
	})
}

// writeServiceError maps engine errors onto HTTP status codes.
func (h *Handlers) writeServiceError(c *gin.Context, threadID string, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case errors.Is(err, service.ErrRoundInFlight),
		errors.Is(err, service.ErrNotReady),
		errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}
