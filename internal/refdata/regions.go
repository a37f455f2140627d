package refdata

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/areamatch/internal/model"
)

// Column headers recognized in region sheets. Matching is case-insensitive.
var columnAliases = map[string]string{
	"city":            "city",
	"ward":            "city",
	"region":          "region",
	"region_name":     "region",
	"school_district": "school_district",
	"school":          "school_district",
	"area_codes":      "area_codes",
	"codes":           "area_codes",
}

// ReadRegions reads region mappings from a CSV or XLSX sheet. The first row
// is a header naming the city, region, school_district and area_codes
// columns; region and area_codes are required.
func ReadRegions(ctx context.Context, path, sheet string) ([]model.RegionMapping, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadRegionsCSV(ctx, f)
	case ".xlsx":
		return ReadRegionsXLSX(ctx, path, sheet)
	default:
		return nil, eris.Errorf("refdata: unsupported region sheet %s", path)
	}
}

// ReadRegionsCSV reads region mappings from CSV.
func ReadRegionsCSV(ctx context.Context, r io.Reader) ([]model.RegionMapping, error) {
	rowCh, errCh := streamCSV(ctx, r)
	return collectRegions(rowCh, errCh)
}

// ReadRegionsXLSX reads region mappings from one sheet of an XLSX file.
func ReadRegionsXLSX(ctx context.Context, path, sheet string) ([]model.RegionMapping, error) {
	rowCh, errCh := streamXLSX(ctx, path, sheet)
	return collectRegions(rowCh, errCh)
}

// rowIndex maps canonical column names to positions.
type rowIndex map[string]int

func newRowIndex(header []string) (rowIndex, error) {
	idx := make(rowIndex)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canon, ok := columnAliases[key]; ok {
			if _, dup := idx[canon]; !dup {
				idx[canon] = i
			}
		}
	}
	for _, req := range []string{"region", "area_codes"} {
		if _, ok := idx[req]; !ok {
			return nil, eris.Errorf("refdata: region sheet missing %q column", req)
		}
	}
	return idx, nil
}

func (idx rowIndex) get(row []string, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func collectRegions(rowCh <-chan []string, errCh <-chan error) ([]model.RegionMapping, error) {
	var (
		idx  rowIndex
		out  []model.RegionMapping
		line int
		err  error
	)
	for row := range rowCh {
		line++
		if err != nil {
			continue // drain
		}
		if idx == nil {
			idx, err = newRowIndex(row)
			continue
		}
		if blank(row) {
			continue
		}

		m := model.RegionMapping{
			City:           idx.get(row, "city"),
			Region:         idx.get(row, "region"),
			SchoolDistrict: idx.get(row, "school_district"),
			Codes:          ParseCodes(idx.get(row, "area_codes")),
		}
		if m.Region == "" {
			err = eris.Errorf("refdata: row %d has no region", line)
			continue
		}
		out = append(out, m)
	}
	if streamErr := <-errCh; streamErr != nil {
		return nil, streamErr
	}
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, eris.New("refdata: region sheet is empty")
	}
	return out, nil
}

// ParseCodes splits an area-code cell. Codes may be separated by '|', ',',
// '、' or whitespace; a cell without separators is split into runes when
// every rune is a symbol or enclosed character.
func ParseCodes(cell string) []model.AreaCode {
	fields := strings.FieldsFunc(cell, func(r rune) bool {
		return r == '|' || r == ',' || r == '、' || unicode.IsSpace(r)
	})

	var out []model.AreaCode
	for _, f := range fields {
		if glyphRun(f) {
			for _, r := range f {
				out = append(out, model.AreaCode(string(r)))
			}
			continue
		}
		out = append(out, model.AreaCode(f))
	}
	return out
}

// glyphRun reports whether s is two or more enclosed glyphs such as "㊶㉑".
func glyphRun(s string) bool {
	n := 0
	for _, r := range s {
		if !unicode.IsSymbol(r) && !unicode.Is(unicode.No, r) {
			return false
		}
		n++
	}
	return n > 1
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// streamCSV sends CSV records on a channel. Both channels are closed when
// reading completes.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "refdata: read csv row")
				return
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "refdata: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// streamXLSX sends the rows of one sheet on a channel.
func streamXLSX(ctx context.Context, path, sheetName string) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrapf(err, "refdata: open xlsx %s", path)
			return
		}

		var sheet *xlsx.Sheet
		switch {
		case sheetName != "":
			s, ok := f.Sheet[sheetName]
			if !ok {
				errCh <- eris.Errorf("refdata: sheet %q not found", sheetName)
				return
			}
			sheet = s
		case len(f.Sheets) > 0:
			sheet = f.Sheets[0]
		default:
			errCh <- eris.New("refdata: workbook has no sheets")
			return
		}

		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}
			select {
			case rowCh <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "refdata: xlsx cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
