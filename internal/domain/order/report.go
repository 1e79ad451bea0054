package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/medclaims/claims/internal/platform/blobstore"
)

const (
	reportKeyPrefix   = "settlement-reports/"
	reportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	reportExt         = ".xlsx"
	reportSheet       = "Settlements"
	reportTimeLayout  = "2006-01-02 15:04:05"
)

var ErrReportsDisabled = errors.New("report storage is not configured")

var reportHeader = []interface{}{
	"order_no", "patient_name", "order_type", "department_name",
	"total_amount", "actual_reimbursement", "self_pay_amount",
	"status", "settlement_no", "settlement_time",
}

// SetReportStore enables ExportSettlementReport.
func (s *Service) SetReportStore(store blobstore.Store) {
	s.reports = store
}

// ExportSettlementReport writes every order matching f as an xlsx workbook and stores it.
// The date range applies to settlement time.
func (s *Service) ExportSettlementReport(ctx context.Context, f ListFilter) (*blobstore.ObjectInfo, error) {
	if s.reports == nil {
		return nil, ErrReportsDisabled
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(f.Status)}
	}

	orders, err := s.orders.ListAll(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	var buf bytes.Buffer
	if err := writeReport(&buf, orders); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	key := fmt.Sprintf("%s%s-%s%s", reportKeyPrefix, s.now().UTC().Format(numberTimeLayout), uuid.NewString()[:8], reportExt)
	info, err := s.reports.Put(ctx, key, reportContentType, buf.Bytes(), map[string]string{
		"rows":   strconv.Itoa(len(orders)),
		"status": string(f.Status),
	})
	if err != nil {
		s.log(ctx).Error().Err(err).Str("key", key).Msg("store settlement report failed")
		return nil, err
	}
	s.log(ctx).Info().Str("key", key).Int("rows", len(orders)).Int64("bytes", info.Size).Msg("settlement report exported")
	return info, nil
}

// OpenSettlementReport returns a previously exported report by file name.
func (s *Service) OpenSettlementReport(ctx context.Context, name string) (io.ReadCloser, *blobstore.ObjectInfo, error) {
	if s.reports == nil {
		return nil, nil, ErrReportsDisabled
	}
	return s.reports.Get(ctx, reportKeyPrefix+name)
}

// writeReport renders one header row plus one row per order. Money columns
// are text so the exported values match the stored decimals exactly.
func writeReport(w io.Writer, orders []*Order) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportHeader); err != nil {
		return err
	}
	for i, o := range orders {
		settled := ""
		if o.SettlementTime != nil {
			settled = o.SettlementTime.Format(reportTimeLayout)
		}
		row := []interface{}{
			o.OrderNo,
			o.PatientName,
			string(o.OrderType),
			o.DepartmentName,
			o.TotalAmount.StringFixed(2),
			nullMoney(o.ActualReimbursement.Valid, o.ActualReimbursement.Decimal.StringFixed(2)),
			nullMoney(o.SelfPayAmount.Valid, o.SelfPayAmount.Decimal.StringFixed(2)),
			string(o.Status),
			o.settlementNo(),
			settled,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(reportSheet, "A", "J", 20); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

func nullMoney(valid bool, s string) string {
	if !valid {
		return ""
	}
	return s
}
