package order

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/blobstore"
	"github.com/medclaims/claims/internal/platform/validation"
	"github.com/medclaims/claims/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClerk, auth.RoleAuditor, auth.RoleFinance))
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/orders/:id/settlement", h.CalculateSettlement)
	read.POST("/settlements/batch/calculate", h.BatchCalculate)

	clerk := api.Group("", auth.RequireRole(auth.RoleClerk))
	clerk.POST("/orders", h.CreateOrder)
	clerk.POST("/orders/:id/submit", h.SubmitSettlement)
	clerk.POST("/orders/:id/cancel", h.CancelOrder)
	clerk.POST("/settlements/batch/submit", h.BatchSubmit)

	auditor := api.Group("", auth.RequireRole(auth.RoleAuditor))
	auditor.POST("/orders/:id/approve", h.ApproveSettlement)
	auditor.POST("/orders/:id/reject", h.RejectSettlement)
	auditor.POST("/settlements/batch/approve", h.BatchApprove)

	finance := api.Group("", auth.RequireRole(auth.RoleFinance))
	finance.POST("/orders/:id/complete", h.CompleteSettlement)
	finance.POST("/settlements/reports", h.ExportReport)
	finance.GET("/settlements/reports/:name", h.DownloadReport)

	stats := api.Group("", auth.RequireRole(auth.RoleFinance, auth.RoleAuditor))
	stats.GET("/settlements/statistics", h.Statistics)
}

// httpError maps service errors onto status codes. Anything unrecognised is a 500.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrStateConflict),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrDuplicateNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrObjectNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, ErrReportsDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers that whole day.
func parseDate(field, v string, upper bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.Local)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: expected YYYY-MM-DD or RFC 3339", field))
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func parseStatusParam(v string) (Status, error) {
	if v == "" {
		return "", nil
	}
	st, err := ParseStatus(v)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return st, nil
}

// -- Orders --

func (h *Handler) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o := req.toOrder()
	if err := h.svc.CreateOrder(c.Request().Context(), o); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	st, err := parseStatusParam(c.QueryParam("status"))
	if err != nil {
		return err
	}
	f := ListFilter{Status: st, OrderType: OrderType(c.QueryParam("order_type")), Department: c.QueryParam("department")}
	if f.From, err = parseDate("from", c.QueryParam("from"), false); err != nil {
		return err
	}
	if f.To, err = parseDate("to", c.QueryParam("to"), true); err != nil {
		return err
	}
	items, total, err := h.svc.ListOrders(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Order{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Settlement --

func (h *Handler) CalculateSettlement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.CalculateSettlement(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SubmitSettlement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.SubmitSettlement(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ApproveSettlement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ApproveRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o, err := h.svc.ApproveSettlement(c.Request().Context(), id, req.ApprovalResult, req.ApprovalRemark)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) RejectSettlement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReasonRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o, err := h.svc.RejectSettlement(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CompleteSettlement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.CompleteSettlement(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReasonRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	o, err := h.svc.CancelOrder(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// -- Batch --

func (h *Handler) BatchCalculate(c echo.Context) error {
	var req BatchRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	results, err := h.svc.BatchCalculateSettlement(c.Request().Context(), req.IDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, BatchCalculateResponse{Results: results, Missing: len(req.IDs) - len(results)})
}

func (h *Handler) BatchSubmit(c echo.Context) error {
	var req BatchRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.BatchSubmitSettlement(c.Request().Context(), req.IDs))
}

func (h *Handler) BatchApprove(c echo.Context) error {
	var req BatchApproveRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.BatchApproveSettlement(c.Request().Context(), req.IDs, req.ApprovalResult, req.ApprovalRemark))
}

// -- Reporting --

func (h *Handler) Statistics(c echo.Context) error {
	from, err := parseDate("from", c.QueryParam("from"), false)
	if err != nil {
		return err
	}
	to, err := parseDate("to", c.QueryParam("to"), true)
	if err != nil {
		return err
	}
	st, err := h.svc.SettlementStatistics(c.Request().Context(), from, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ExportReport(c echo.Context) error {
	var req ReportRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	st, err := parseStatusParam(req.Status)
	if err != nil {
		return err
	}
	from, err := parseDate("from", req.From, false)
	if err != nil {
		return err
	}
	to, err := parseDate("to", req.To, true)
	if err != nil {
		return err
	}
	info, err := h.svc.ExportSettlementReport(c.Request().Context(), ListFilter{
		Status:     st,
		OrderType:  OrderType(req.OrderType),
		Department: req.Department,
		From:       from,
		To:         to,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, info)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	name := c.Param("name")
	if name == "" || name != path.Base(name) || !strings.HasSuffix(name, reportExt) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report name")
	}
	rc, info, err := h.svc.OpenSettlementReport(c.Request().Context(), name)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	c.Response().Header().Set(echo.HeaderContentType, info.ContentType)
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), rc)
	return err
}
