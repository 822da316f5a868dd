package valuechain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	latColumns     = []string{"lat", "latitude", "y", "y_coord"}
	lonColumns     = []string{"lon", "lng", "longitude", "x", "x_coord"}
	companyColumns = []string{"company", "oem"}
	plantColumns   = []string{"plant_name", "plant"}
)

// Plant is one geolocated facility.
type Plant struct {
	Company string
	Lat     float64
	Lon     float64
}

// table is a header plus string rows, whatever the source format.
type table struct {
	path   string
	header []string
	rows   [][]string
}

func (t *table) column(candidates []string) int {
	for _, want := range candidates {
		for i, h := range t.header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	return -1
}

// plants converts rows into plants. Rows with unparseable coordinates
// are skipped.
func (t *table) plants() ([]Plant, error) {
	lat, lon := t.column(latColumns), t.column(lonColumns)
	if lat < 0 || lon < 0 {
		return nil, fmt.Errorf("%s: could not infer latitude/longitude columns from %v (accepted lat=%v, lon=%v)",
			t.path, t.header, latColumns, lonColumns)
	}
	name := t.column(companyColumns)
	if name < 0 {
		name = t.column(plantColumns)
	}

	var out []Plant
	for i, row := range t.rows {
		p := Plant{Company: fmt.Sprintf("plant_%d", i)}
		var err1, err2 error
		p.Lat, err1 = strconv.ParseFloat(strings.TrimSpace(cell(row, lat)), 64)
		p.Lon, err2 = strconv.ParseFloat(strings.TrimSpace(cell(row, lon)), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if name >= 0 {
			if v := strings.TrimSpace(cell(row, name)); v != "" {
				p.Company = v
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// LoadPlants reads a CSV or XLSX plant table. When path does not exist a
// file with the same base name and the other extension is tried.
func LoadPlants(path string) ([]Plant, error) {
	resolved, err := resolveTable(path)
	if err != nil {
		return nil, err
	}

	var t *table
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".xlsx":
		t, err = readXLSX(resolved)
	default:
		t, err = readCSV(resolved)
	}
	if err != nil {
		return nil, err
	}
	return t.plants()
}

func resolveTable(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".csv", ".xlsx"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext, nil
		}
	}
	return "", fmt.Errorf("missing plant table %s: %w", path, os.ErrNotExist)
}

func readCSV(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty table", path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &table{path: path, header: header, rows: rows}, nil
}

func readXLSX(path string) (*table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty table", path)
	}
	return &table{path: path, header: rows[0], rows: rows[1:]}, nil
}
