package renamer

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Row is one CSV record keyed by its lower-cased header names.
type Row map[string]string

var filenameColumns = []string{"filename", "file", "file_name"}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

func readCSV(fs afero.Fs, path string) ([]Row, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		h := strings.TrimPrefix(header[i], "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		row := make(Row, len(header))
		for i, v := range rec {
			if i < len(header) && header[i] != "" {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Filename returns the value of the row's filename column, if any.
func (r Row) Filename() string {
	for _, c := range filenameColumns {
		if v := r[c]; v != "" {
			return v
		}
	}
	return ""
}

type rowIndex map[string]Row

func indexRows(rows []Row) rowIndex {
	idx := make(rowIndex)
	for _, r := range rows {
		if name := r.Filename(); name != "" {
			idx[strings.ToLower(name)] = r
		}
	}
	return idx
}

func (idx rowIndex) lookup(name string) Row {
	if idx == nil {
		return nil
	}
	if r, ok := idx[strings.ToLower(name)]; ok {
		return r
	}
	// Metadata sheets often omit the extension.
	return idx[strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))]
}

func mergeFields(layers ...Row) map[string]string {
	var out map[string]string
	for _, l := range layers {
		for k, v := range l {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}
