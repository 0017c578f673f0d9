package prune

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// ReadSensitivities loads a per-reaction sensitivity profile from a CSV
// file: one row per reaction, the last field holding the scalar. A
// leading header row is skipped when it does not parse as a number.
func ReadSensitivities(path string) ([]float64, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var values []float64
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(record[len(record)-1], 64)
		if err != nil {
			if i == 0 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("row %d: failed to parse sensitivity %q: %w", i, record[len(record)-1], err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no sensitivity values in %s", path)
	}
	return values, nil
}

// ReadMask loads a 0/1 vector from a single-column CSV file.
func ReadMask(path string) ([]int, error) {
	matrix, err := ReadMatrix(path)
	if err != nil {
		return nil, err
	}

	mask := make([]int, 0, len(matrix))
	for i, row := range matrix {
		if len(row) != 1 {
			return nil, fmt.Errorf("row %d: expected a single column, got %d", i, len(row))
		}
		mask = append(mask, row[0])
	}
	return mask, nil
}

// ReadMatrix loads a 0/1 incidence matrix from a CSV file, one matrix
// row per record.
func ReadMatrix(path string) ([][]int, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var matrix [][]int
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		row := make([]int, len(record))
		for j, field := range record {
			v, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: failed to parse %q: %w", i, j, field, err)
			}
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("row %d column %d: incidence value must be 0 or 1, got %d", i, j, v)
			}
			row[j] = v
		}
		matrix = append(matrix, row)
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("no rows in %s", path)
	}
	return matrix, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}
