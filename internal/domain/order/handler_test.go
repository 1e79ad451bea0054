package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/blobstore"
	"github.com/medclaims/claims/internal/platform/validation"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	svc.SetReportStore(blobstore.NewInMemoryStore())
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(svc), e
}

func newJSONContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id int64) {
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(id, 10))
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_CreateOrder(t *testing.T) {
	h, e := newTestHandler()
	body := `{"order_type":"inpatient","patient_name":"Wang Wu","department_name":"Orthopedics",
		"doctor_name":"Dr. Zhao","diagnosis":"Fracture","drug_amount":"300","treatment_amount":700}`
	c, rec := newJSONContext(e, http.MethodPost, body)

	if err := h.CreateOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var o Order
	json.Unmarshal(rec.Body.Bytes(), &o)
	if o.Status != StatusPending || !o.TotalAmount.Equal(dec("1000")) {
		t.Errorf("unexpected order %+v", o)
	}
}

func TestHandler_CreateOrder_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newJSONContext(e, http.MethodPost, `{"order_type":"outpatient","patient_name":"A"}`)
	expectHTTPError(t, h.CreateOrder(c), http.StatusBadRequest)

	c, _ = newJSONContext(e, http.MethodPost, `{"order_type":"dental","patient_name":"A","department_name":"d","doctor_name":"d","diagnosis":"d"}`)
	expectHTTPError(t, h.CreateOrder(c), http.StatusBadRequest)
}

func TestHandler_GetOrder(t *testing.T) {
	h, e := newTestHandler()
	o := createTestOrder(t, h.svc, "100")

	c, rec := newJSONContext(e, http.MethodGet, "")
	withID(c, o.ID)
	if err := h.GetOrder(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newJSONContext(e, http.MethodGet, "")
	withID(c, 999)
	expectHTTPError(t, h.GetOrder(c), http.StatusNotFound)

	c, _ = newJSONContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues("abc")
	expectHTTPError(t, h.GetOrder(c), http.StatusBadRequest)
}

func TestHandler_ListOrders(t *testing.T) {
	h, e := newTestHandler()
	createTestOrder(t, h.svc, "100")
	createTestOrder(t, h.svc, "200")

	req := httptest.NewRequest(http.MethodGet, "/?status=1&limit=1", nil)
	rec := httptest.NewRecorder()
	if err := h.ListOrders(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Order `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}

	req = httptest.NewRequest(http.MethodGet, "/?status=archived", nil)
	expectHTTPError(t, h.ListOrders(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	expectHTTPError(t, h.ListOrders(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodGet, "/?page_num=2&page_size=1", nil)
	rec = httptest.NewRecorder()
	if err := h.ListOrders(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var paged struct {
		Data  []Order `json:"data"`
		Page  int     `json:"page"`
		Pages int     `json:"pages"`
	}
	json.Unmarshal(rec.Body.Bytes(), &paged)
	if paged.Page != 2 || paged.Pages != 2 || len(paged.Data) != 1 {
		t.Errorf("unexpected paged response: page=%d pages=%d len=%d", paged.Page, paged.Pages, len(paged.Data))
	}
}

func TestHandler_CalculateSettlement(t *testing.T) {
	h, e := newTestHandler()
	o := createTestOrder(t, h.svc, "5000")

	c, rec := newJSONContext(e, http.MethodGet, "")
	withID(c, o.ID)
	if err := h.CalculateSettlement(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &r)
	if r["actual_reimbursement"] != "3200" {
		t.Errorf("expected actual_reimbursement 3200, got %v", r["actual_reimbursement"])
	}
	if r["reimbursement_percentage"] != "64" {
		t.Errorf("expected 64 percent, got %v", r["reimbursement_percentage"])
	}
}

func TestHandler_SubmitThenConflict(t *testing.T) {
	h, e := newTestHandler()
	o := createTestOrder(t, h.svc, "5000")

	c, rec := newJSONContext(e, http.MethodPost, "")
	withID(c, o.ID)
	if err := h.SubmitSettlement(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newJSONContext(e, http.MethodPost, "")
	withID(c, o.ID)
	expectHTTPError(t, h.CompleteSettlement(c), http.StatusConflict)
}

func TestHandler_ApproveRejectCancel(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	a := createTestOrder(t, h.svc, "5000")
	b := createTestOrder(t, h.svc, "5000")
	h.svc.SubmitSettlement(ctx, a.ID)
	h.svc.SubmitSettlement(ctx, b.ID)

	c, _ := newJSONContext(e, http.MethodPost, `{}`)
	withID(c, a.ID)
	expectHTTPError(t, h.ApproveSettlement(c), http.StatusBadRequest)

	c, rec := newJSONContext(e, http.MethodPost, `{"approval_result":"approved","approval_remark":"ok"}`)
	withID(c, a.ID)
	if err := h.ApproveSettlement(c); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newJSONContext(e, http.MethodPost, `{"reason":"incomplete"}`)
	withID(c, b.ID)
	if err := h.RejectSettlement(c); err != nil {
		t.Fatalf("reject: %v", err)
	}

	c, _ = newJSONContext(e, http.MethodPost, `{"reason":"too late"}`)
	withID(c, b.ID)
	expectHTTPError(t, h.CancelOrder(c), http.StatusConflict)
}

func TestHandler_BatchApprove(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	a := createTestOrder(t, h.svc, "5000")
	b := createTestOrder(t, h.svc, "5000")
	h.svc.SubmitSettlement(ctx, a.ID)

	body := `{"ids":[` + strconv.FormatInt(a.ID, 10) + `,` + strconv.FormatInt(b.ID, 10) + `],"approval_result":"approved"}`
	c, rec := newJSONContext(e, http.MethodPost, body)
	if err := h.BatchApprove(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rep BatchReport
	json.Unmarshal(rec.Body.Bytes(), &rep)
	if rep.AllSucceeded || rep.Succeeded != 1 || rep.Failed != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestHandler_BatchCalculate(t *testing.T) {
	h, e := newTestHandler()
	a := createTestOrder(t, h.svc, "5000")

	c, rec := newJSONContext(e, http.MethodPost, `{"ids":[`+strconv.FormatInt(a.ID, 10)+`,999]}`)
	if err := h.BatchCalculate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Results []SettlementResult `json:"results"`
		Missing int                `json:"missing"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Missing != 1 {
		t.Errorf("expected 1 result and 1 missing, got %d/%d", len(resp.Results), resp.Missing)
	}

	c, _ = newJSONContext(e, http.MethodPost, `{"ids":[]}`)
	expectHTTPError(t, h.BatchCalculate(c), http.StatusBadRequest)
}

func TestHandler_Statistics(t *testing.T) {
	h, e := newTestHandler()
	createTestOrder(t, h.svc, "100")

	req := httptest.NewRequest(http.MethodGet, "/?from=2024-01-01&to=2024-12-31", nil)
	rec := httptest.NewRecorder()
	if err := h.Statistics(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/?from=01/02/2024", nil)
	expectHTTPError(t, h.Statistics(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)
}

func TestHandler_ExportAndDownloadReport(t *testing.T) {
	h, e := newTestHandler()
	createTestOrder(t, h.svc, "100")

	c, rec := newJSONContext(e, http.MethodPost, `{"status":"pending"}`)
	if err := h.ExportReport(c); err != nil {
		t.Fatalf("export: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var info blobstore.ObjectInfo
	json.Unmarshal(rec.Body.Bytes(), &info)

	c, rec = newJSONContext(e, http.MethodGet, "")
	c.SetParamNames("name")
	c.SetParamValues(strings.TrimPrefix(info.Key, "settlement-reports/"))
	if err := h.DownloadReport(c); err != nil {
		t.Fatalf("download: %v", err)
	}
	rows := readReportRows(t, rec.Body.Bytes())
	if len(rows) != 2 || rows[0][0] != "order_no" || rows[1][4] != "100.00" {
		t.Errorf("unexpected report rows %v", rows)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != reportContentType {
		t.Errorf("expected %s, got %s", reportContentType, got)
	}

	c, _ = newJSONContext(e, http.MethodGet, "")
	c.SetParamNames("name")
	c.SetParamValues("missing.xlsx")
	expectHTTPError(t, h.DownloadReport(c), http.StatusNotFound)

	c, _ = newJSONContext(e, http.MethodGet, "")
	c.SetParamNames("name")
	c.SetParamValues("report.csv")
	expectHTTPError(t, h.DownloadReport(c), http.StatusBadRequest)
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	h, e := newTestHandler()
	o := createTestOrder(t, h.svc, "5000")
	h.svc.SubmitSettlement(context.Background(), o.ID)

	roles := "clerk"
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), "u1", []string{roles})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	approve := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+strconv.FormatInt(o.ID, 10)+"/approve",
			strings.NewReader(`{"approval_result":"approved"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := approve(); code != http.StatusForbidden {
		t.Errorf("clerk approving: expected 403, got %d", code)
	}
	roles = auth.RoleAuditor
	if code := approve(); code != http.StatusOK {
		t.Errorf("auditor approving: expected 200, got %d", code)
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrNotFound, http.StatusNotFound},
		{&StateConflictError{OrderID: 1, Operation: OpApprove, Current: StatusPaid}, http.StatusConflict},
		{ErrConcurrentUpdate, http.StatusConflict},
		{&PersistenceError{OrderID: 1, Err: ErrDuplicateNumber}, http.StatusConflict},
		{required("diagnosis"), http.StatusBadRequest},
		{&PersistenceError{OrderID: 1, Transition: OpSubmit, Err: errors.New("io")}, http.StatusInternalServerError},
		{ErrReportsDisabled, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		expectHTTPError(t, httpError(tt.err), tt.code)
	}
}
