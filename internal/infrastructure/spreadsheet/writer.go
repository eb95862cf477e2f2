package spreadsheet

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

const violationsSheet = "Violations"

var (
	userReportHeader = []interface{}{"USER_NAME", "ROLE", "TCODE_1", "TCODE_2", "RISK_FACTOR"}
	roleReportHeader = []interface{}{"ROLE", "TCODE_1", "TCODE_2", "RISK_FACTOR"}
)

// WriteUserReport serializes user-level violations to an XLSX workbook with a
// single Violations sheet.
func (p *Parser) WriteUserReport(w io.Writer, violations []sod.UserViolation) error {
	rows := make([][]interface{}, 0, len(violations))
	for _, v := range violations {
		rows = append(rows, []interface{}{v.UserName, v.Role, v.TCode1, v.TCode2, v.RiskFactor})
	}
	return writeReport(w, userReportHeader, rows)
}

// WriteRoleReport serializes role-level violations to an XLSX workbook.
func (p *Parser) WriteRoleReport(w io.Writer, violations []sod.RoleViolation) error {
	rows := make([][]interface{}, 0, len(violations))
	for _, v := range violations {
		rows = append(rows, []interface{}{v.Role, v.TCode1, v.TCode2, v.RiskFactor})
	}
	return writeReport(w, roleReportHeader, rows)
}

func writeReport(w io.Writer, header []interface{}, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), violationsSheet); err != nil {
		return derrors.NewInternalError("failed to prepare report sheet").WithCause(err)
	}
	if err := f.SetSheetRow(violationsSheet, "A1", &header); err != nil {
		return derrors.NewInternalError("failed to write report header").WithCause(err)
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return derrors.NewInternalError("failed to address report row").WithCause(err)
		}
		r := row
		if err := f.SetSheetRow(violationsSheet, cellRef, &r); err != nil {
			return derrors.NewInternalError("failed to write report row").WithCause(err)
		}
	}
	if err := f.Write(w); err != nil {
		return derrors.NewInternalError("failed to write report workbook").WithCause(err)
	}
	return nil
}

// ReportFilename builds a dated download name, e.g.
// user_level_violations_20260827.xlsx.
func ReportFilename(level string, at time.Time) string {
	return fmt.Sprintf("%s_level_violations_%s.xlsx", level, at.Format("20060102"))
}
