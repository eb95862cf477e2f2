package spreadsheet

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// Table names used in DataFormatError messages.
const (
	TableRuleBook   = "rule book"
	TableUserAccess = "user access"
)

// Accepted header spellings per canonical column. Headers are trimmed and
// upper-cased before matching, so only upper-case spellings appear here.
var (
	ruleColumns = []column{
		{name: "TCODE1", aliases: []string{"TCODE1", "TCODE_1"}},
		{name: "TCODE2", aliases: []string{"TCODE2", "TCODE_2"}},
		{name: "ASK_RISK", aliases: []string{"ASK_RISK", "RISK_FACTOR"}},
	}
	accessColumns = []column{
		{name: "USER NAME", aliases: []string{"USER NAME", "USER_NAME"}},
		{name: "ROLE", aliases: []string{"ROLE"}},
		{name: "AUTHORIZATION VALUE", aliases: []string{"AUTHORIZATION VALUE", "TCODE"}},
	}
)

type column struct {
	name    string
	aliases []string
}

// Parser reads rule book and user access tables from XLSX streams. It
// satisfies the analysis service's parser dependency.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ReadRules parses a rule book workbook. The first sheet is read; required
// columns are TCODE1, TCODE2 and ASK_RISK (RISK_FACTOR accepted). A missing
// column fails the whole read with a DataFormatError naming it.
func (p *Parser) ReadRules(r io.Reader) ([]sod.RuleEntry, error) {
	rows, err := sheetRows(r, TableRuleBook, ruleColumns)
	if err != nil {
		return nil, err
	}

	idx, err := resolveColumns(rows, TableRuleBook, ruleColumns)
	if err != nil {
		return nil, err
	}

	entries := make([]sod.RuleEntry, 0, maxInt(len(rows)-1, 0))
	for _, row := range rows[1:] {
		entries = append(entries, sod.RuleEntry{
			TCode1:     cell(row, idx[0]),
			TCode2:     cell(row, idx[1]),
			RiskFactor: cell(row, idx[2]),
		})
	}
	return entries, nil
}

// ReadAccess parses a user access workbook. Required columns are USER NAME,
// ROLE and AUTHORIZATION VALUE (TCODE accepted).
func (p *Parser) ReadAccess(r io.Reader) ([]sod.AccessEntry, error) {
	rows, err := sheetRows(r, TableUserAccess, accessColumns)
	if err != nil {
		return nil, err
	}

	idx, err := resolveColumns(rows, TableUserAccess, accessColumns)
	if err != nil {
		return nil, err
	}

	entries := make([]sod.AccessEntry, 0, maxInt(len(rows)-1, 0))
	for _, row := range rows[1:] {
		entries = append(entries, sod.AccessEntry{
			UserName: cell(row, idx[0]),
			Role:     cell(row, idx[1]),
			TCode:    cell(row, idx[2]),
		})
	}
	return entries, nil
}

// sheetRows loads the first sheet of a workbook into memory.
func sheetRows(r io.Reader, table string, cols []column) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, derrors.NewValidationError("INVALID_WORKBOOK",
			"failed to open "+table+" workbook").WithCause(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, emptyWorkbookError(table, cols)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, derrors.NewValidationError("INVALID_WORKBOOK",
			"failed to read "+table+" sheet").WithCause(err)
	}
	return rows, nil
}

// emptyWorkbookError reports a sheetless workbook as the table missing its
// first required column, so the caller sees the same error shape as a
// present-but-headerless sheet.
func emptyWorkbookError(table string, cols []column) error {
	return derrors.NewDataFormatError(table, cols[0].name)
}

// resolveColumns maps each required column onto its index in the header row.
// The header row is trimmed and upper-cased before matching.
func resolveColumns(rows [][]string, table string, cols []column) ([]int, error) {
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}

	normalized := make(map[string]int, len(header))
	for i, h := range header {
		normalized[strings.ToUpper(strings.TrimSpace(h))] = i
	}

	idx := make([]int, len(cols))
	for i, col := range cols {
		found := -1
		for _, alias := range col.aliases {
			if j, ok := normalized[alias]; ok {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, derrors.NewDataFormatError(table, col.name)
		}
		idx[i] = found
	}
	return idx, nil
}

// cell returns the value at index i, tolerating short rows: excelize drops
// trailing empty cells.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
