package prune

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestReadSensitivities(t *testing.T) {
	path := writeTestFile(t, "sens.csv", "0.9\n0.1\n0.5\n0.05\n")

	values, err := ReadSensitivities(path)
	if err != nil {
		t.Fatalf("ReadSensitivities failed: %v", err)
	}
	want := []float64{0.9, 0.1, 0.5, 0.05}
	if len(values) != len(want) {
		t.Fatalf("Got %d values, want %d", len(values), len(want))
	}
	for i, v := range values {
		if v != want[i] {
			t.Errorf("Value %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestReadSensitivitiesSkipsHeader(t *testing.T) {
	path := writeTestFile(t, "sens.csv", "reaction,sensitivity\nR1,0.9\nR2,0.1\n")

	values, err := ReadSensitivities(path)
	if err != nil {
		t.Fatalf("ReadSensitivities failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("Got %d values, want 2", len(values))
	}
	if values[0] != 0.9 || values[1] != 0.1 {
		t.Errorf("Values = %v, want [0.9 0.1]", values)
	}
}

func TestReadSensitivitiesRejectsBadRow(t *testing.T) {
	path := writeTestFile(t, "sens.csv", "0.9\nnot-a-number\n")

	if _, err := ReadSensitivities(path); err == nil {
		t.Error("Expected error for unparsable row")
	}
}

func TestReadSensitivitiesEmpty(t *testing.T) {
	path := writeTestFile(t, "sens.csv", "")

	if _, err := ReadSensitivities(path); err == nil {
		t.Error("Expected error for empty file")
	}
}

func TestReadMatrix(t *testing.T) {
	path := writeTestFile(t, "incidence.csv", "1,0,1\n0,1,0\n")

	matrix, err := ReadMatrix(path)
	if err != nil {
		t.Fatalf("ReadMatrix failed: %v", err)
	}
	if len(matrix) != 2 || len(matrix[0]) != 3 {
		t.Fatalf("Matrix shape = %dx%d, want 2x3", len(matrix), len(matrix[0]))
	}
	if matrix[0][0] != 1 || matrix[0][1] != 0 || matrix[1][1] != 1 {
		t.Errorf("Matrix = %v", matrix)
	}
}

func TestReadMatrixRejectsNonBinary(t *testing.T) {
	path := writeTestFile(t, "incidence.csv", "1,2\n")

	if _, err := ReadMatrix(path); err == nil {
		t.Error("Expected error for non-binary incidence value")
	}
}

func TestReadMask(t *testing.T) {
	path := writeTestFile(t, "mask.csv", "1\n0\n1\n")

	mask, err := ReadMask(path)
	if err != nil {
		t.Fatalf("ReadMask failed: %v", err)
	}
	want := []int{1, 0, 1}
	for i, v := range mask {
		if v != want[i] {
			t.Errorf("Mask[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestReadMaskRejectsWideRows(t *testing.T) {
	path := writeTestFile(t, "mask.csv", "1,0\n")

	if _, err := ReadMask(path); err == nil {
		t.Error("Expected error for multi-column mask")
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := ReadSensitivities(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}
