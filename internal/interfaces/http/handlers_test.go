package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/allocation"
	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/application/service"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/internal/export"
	"github.com/splitmate/receipt-splitter/internal/gate"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// stubExtractor ignores the image and returns a fixed extraction.
type stubExtractor struct {
	result *port.ExtractionResult
}

func (s *stubExtractor) Extract(context.Context, []byte, string) (*port.ExtractionResult, error) {
	return s.result, nil
}

// stubInterpreter returns a fixed interpretation.
type stubInterpreter struct {
	result *port.InterpretationResult
}

func (s *stubInterpreter) Interpret(context.Context, []entity.Item, []string, string) (*port.InterpretationResult, error) {
	return s.result, nil
}

type memReceipts struct {
	mu   sync.Mutex
	data map[string]bool
}

func (m *memReceipts) SaveReceipt(_ context.Context, threadID string, _ []entity.Item, _ entity.Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[threadID] = true
	return nil
}

func (m *memReceipts) GetReceipt(_ context.Context, threadID string) ([]entity.Item, entity.Totals, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return nil, entity.Totals{}, m.data[threadID], nil
}

func (m *memReceipts) DeleteReceipt(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, threadID)
	return nil
}

type memAssignments struct{}

func (memAssignments) ReplaceAssignments(context.Context, string, []string, []entity.ItemAssignment) error {
	return nil
}

type memAudits struct{}

func (memAudits) Append(context.Context, string, entity.AuditEvent) error { return nil }
func (memAudits) ListByThread(context.Context, string) ([]entity.AuditEvent, error) {
	return nil, nil
}

func goodExtraction(t *testing.T) *port.ExtractionResult {
	t.Helper()
	burger, err := entity.NewItem("Burger", d("1"), d("12.00"), nil)
	require.NoError(t, err)
	pizza, err := entity.NewItem("Pizza", d("1"), d("18.00"), nil)
	require.NoError(t, err)
	totals, err := entity.NewTotals(d("30.00"), d("2.40"), d("6.00"), d("0.00"), d("38.40"))
	require.NoError(t, err)
	return &port.ExtractionResult{Items: []entity.Item{burger, pizza}, Totals: &totals}
}

func goodInterpretation() *port.InterpretationResult {
	return &port.InterpretationResult{
		Participants: []string{"Alice", "Bob", "Charlie"},
		Assignments: []entity.ItemAssignment{
			{ItemIndex: 0, Shares: []entity.AssignmentShare{{Participant: "Alice", Fraction: d("1")}}},
			{ItemIndex: 1, Shares: []entity.AssignmentShare{
				{Participant: "Bob", Fraction: d("0.5")},
				{Participant: "Charlie", Fraction: d("0.5")},
			}},
		},
	}
}

func testServer(t *testing.T, extraction *port.ExtractionResult, interpretation *port.InterpretationResult) *Server {
	t.Helper()
	logger := zap.NewNop()

	sessions := service.NewSessionService(
		gate.New(gate.DefaultLowConfidenceRatio, logger),
		allocation.New(allocation.DefaultMismatchTolerance, logger),
		&stubInterpreter{result: interpretation},
		&memReceipts{data: make(map[string]bool)},
		memAssignments{},
		memAudits{},
		service.Config{},
		logger,
	)

	return NewServer(
		DefaultServerConfig(),
		sessions,
		&stubExtractor{result: extraction},
		export.NewSettlementExporter(logger),
		logger,
	)
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func pngBytes() []byte {
	return append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, []byte("fake image payload")...)
}

func uploadReceipt(t *testing.T, srv *Server) string {
	t.Helper()
	body, contentType := multipartUpload(t, "receipt", "receipt.png", pngBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/receipts", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data UploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Data.Accepted)
	require.NotEmpty(t, resp.Data.ThreadID)
	return resp.Data.ThreadID
}

func TestHealthCheck(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestUploadReceipt_AcceptedFlow(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())
	threadID := uploadReceipt(t, srv)

	assert.True(t, strings.HasPrefix(threadID, "receipt-"))

	// Snapshot shows Review with the extracted items.
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/receipts/"+threadID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data SessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "REVIEW", resp.Data.Phase)
	require.Len(t, resp.Data.Items, 2)
	assert.Equal(t, "12.00", resp.Data.Items[0].UnitPrice)
	require.NotNil(t, resp.Data.Totals)
	assert.Equal(t, "38.40", resp.Data.Totals.GrandTotal)
}

func TestUploadReceipt_GateReject(t *testing.T) {
	srv := testServer(t, &port.ExtractionResult{}, goodInterpretation())

	body, contentType := multipartUpload(t, "receipt", "receipt.png", pngBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/receipts", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no items found")
}

func TestUploadReceipt_MissingFile(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadReceipt_UnsupportedType(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())

	body, contentType := multipartUpload(t, "receipt", "receipt.txt", []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/api/receipts", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestInterview_CompletesAndServesResults(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())
	threadID := uploadReceipt(t, srv)

	// Results are not ready before the interview completes.
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/receipts/"+threadID+"/results", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	reqBody := `{"text": "Alice had the burger, Bob and Charlie split the pizza"}`
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/"+threadID+"/interview", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var roundResp struct {
		Data InterviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roundResp))
	assert.True(t, roundResp.Data.Completed)
	require.Len(t, roundResp.Data.Results, 3)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/receipts/"+threadID+"/results", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "15.36")
}

func TestInterview_MissingText(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())
	threadID := uploadReceipt(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/"+threadID+"/interview", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterview_UnknownSession(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/receipt-missing/interview",
		strings.NewReader(`{"text": "hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportSettlement(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())
	threadID := uploadReceipt(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/"+threadID+"/interview",
		strings.NewReader(`{"text": "Alice burger, Bob and Charlie pizza"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/receipts/"+threadID+"/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestResetSession(t *testing.T) {
	srv := testServer(t, goodExtraction(t), goodInterpretation())
	threadID := uploadReceipt(t, srv)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/receipts/"+threadID+"/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/receipts/"+threadID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data SessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "UPLOAD", resp.Data.Phase)
	assert.Empty(t, resp.Data.Items)
}
