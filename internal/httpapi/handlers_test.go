package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/service"
	"cellstock/backend/internal/store/memory"
)

const (
	testAdminPassword = "admin-test-pass"
	testStaffPassword = "staff-test-pass"
)

type testServer struct {
	handler http.Handler
	api     *API
}

// newTestAPI wires a seeded in-memory store, a real AuthManager and a real
// Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) testServer {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", testAdminPassword)
	t.Setenv("SEED_STAFF_PASSWORD", testStaffPassword)

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{Location: time.UTC})
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, repo)
	require.NoError(t, err)

	api := New(svc, auth, Options{AllowedOrigin: "http://localhost:3000"})
	return testServer{handler: api.Handler(), api: api}
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHandleHealth(t *testing.T) {
	srv := newTestAPI(t)

	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestHandleLogin(t *testing.T) {
	srv := newTestAPI(t)

	token := srv.login(t, "admin", testAdminPassword)
	assert.NotEmpty(t, token)

	rec := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestAPI(t)

	rec := srv.do(t, http.MethodGet, "/api/v1/cells", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/cells", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCannotRunAdminOperations(t *testing.T) {
	srv := newTestAPI(t)
	staff := srv.login(t, "staff", testStaffPassword)

	rec := srv.do(t, http.MethodPost, "/api/v1/cells", staff, domain.CreateCellRequest{CellID: "Z-01", Col: "Z", Row: "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/users", staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCellLifecycle(t *testing.T) {
	srv := newTestAPI(t)
	admin := srv.login(t, "admin", testAdminPassword)

	status := 0
	rec := srv.do(t, http.MethodPost, "/api/v1/cells", admin, domain.CreateCellRequest{CellID: "Z-01", Col: "Z", Row: "1", Status: &status})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/cells", admin, domain.CreateCellRequest{CellID: "Z-01", Col: "Z", Row: "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cells/Z-01/divide", admin, domain.DivideCellRequest{Choice: "C"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cells/Z-01/divide", admin, domain.DivideCellRequest{Choice: "both"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cell domain.Cell
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cell))
	assert.Equal(t, domain.DivisionDual, cell.DivisionType)

	rec = srv.do(t, http.MethodGet, "/api/v1/cells/Z-99", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/cells?col=Z", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Cells []domain.Cell `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Cells, 1)
}

func TestImportAssignWithdrawFlow(t *testing.T) {
	srv := newTestAPI(t)
	admin := srv.login(t, "admin", testAdminPassword)
	staff := srv.login(t, "staff", testStaffPassword)

	rec := srv.do(t, http.MethodPatch, "/api/v1/cells/A-01/status", admin, map[string]any{"status": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/bills/import", staff, domain.ImportBillRequest{Items: []domain.ImportItem{
		{ProductID: "P-1001", Quantity: 12, EndDate: "2027-01-31"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var imported domain.ImportBillResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	assert.Equal(t, 1, imported.UniqueProducts)

	rec = srv.do(t, http.MethodPost, "/api/v1/bills/assign", staff, domain.AssignRequest{
		BillNumber:  imported.Bill.BillNumber,
		Assignments: []domain.Assignment{{ProductID: "P-1001", CellID: "A-01"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/bills/withdraw", staff, domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 20},
	}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["index"])

	rec = srv.do(t, http.MethodPost, "/api/v1/bills/withdraw", staff, domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 5},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var withdrawn domain.WithdrawResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withdrawn))
	assert.Equal(t, domain.BillOut, withdrawn.Bill.Type)
	assert.Equal(t, 5, withdrawn.Withdrawn)

	rec = srv.do(t, http.MethodGet, "/api/v1/cells/A-01", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cell domain.Cell
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cell))
	assert.Equal(t, 7, cell.Total)

	rec = srv.do(t, http.MethodGet, "/api/v1/dashboard/daily-items", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var daily domain.DailyCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	assert.Equal(t, 12, daily.InCount)
	assert.Equal(t, 5, daily.OutCount)

	rec = srv.do(t, http.MethodGet, "/api/v1/dashboard/latest-items?status=out", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest struct {
		Items []domain.LatestItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Len(t, latest.Items, 1)
	assert.Equal(t, 5, latest.Items[0].Amount)

	rec = srv.do(t, http.MethodGet, "/api/v1/bills?kind=import&type=in", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bills struct {
		Bills []domain.Bill `json:"bills"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bills))
	require.Len(t, bills.Bills, 1)
	assert.Equal(t, imported.Bill.BillNumber, bills.Bills[0].BillNumber)
}

func TestMoveReportsFailingIndex(t *testing.T) {
	srv := newTestAPI(t)
	admin := srv.login(t, "admin", testAdminPassword)

	for _, id := range []string{"B-01", "B-02"} {
		rec := srv.do(t, http.MethodPatch, "/api/v1/cells/"+id+"/status", admin, map[string]any{"status": 1})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := srv.do(t, http.MethodPost, "/api/v1/stock/place", admin, domain.PlaceProductRequest{
		Address: "B-01", ProductID: "P-2001", Quantity: 3, EndDate: "2027-05-01",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/stock/moves", admin, domain.MoveProductsRequest{Moves: []domain.MoveRequest{
		{Source: "B-01", Target: "B-02", ProductID: "P-2001", Quantity: 2},
		{Source: "B-01", Target: "B-02", ProductID: "P-2001", Quantity: 2},
	}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["index"])

	rec = srv.do(t, http.MethodPost, "/api/v1/stock/move", admin, domain.MoveRequest{Source: "B-01", Target: "B-02", ProductID: "P-2001", Quantity: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved domain.MoveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	require.Len(t, moved.Cells, 2)
	assert.Zero(t, moved.Cells[0].Total)
	assert.Equal(t, 3, moved.Cells[1].Total)
}

func TestValidationErrorsListFields(t *testing.T) {
	srv := newTestAPI(t)
	staff := srv.login(t, "staff", testStaffPassword)

	rec := srv.do(t, http.MethodPost, "/api/v1/bills/assign", staff, map[string]any{
		"bill_number": "12",
		"assignments": []map[string]any{{"product_id": "P-1001"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields, ok := decodeBody(t, rec)["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "len", fields["bill_number"])
	assert.Equal(t, "required", fields["assignments[0].cell_id"])
}

func TestStockReportDownload(t *testing.T) {
	srv := newTestAPI(t)
	staff := srv.login(t, "staff", testStaffPassword)

	rec := srv.do(t, http.MethodGet, "/api/v1/reports/stock.xlsx", staff, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.NotZero(t, rec.Body.Len())
}

func TestAdminManagesUsers(t *testing.T) {
	srv := newTestAPI(t)
	admin := srv.login(t, "admin", testAdminPassword)

	rec := srv.do(t, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "picker", Password: "picker-pass", Role: "staff"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "picker", Password: "picker-pass", Role: "owner"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	token := srv.login(t, "picker", "picker-pass")
	assert.NotEmpty(t, token)

	rec = srv.do(t, http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Users []domain.UserView `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users.Users, 3)
}
