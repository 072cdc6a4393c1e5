package stats

import "testing"

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"Name", "Volume", "Runs"}
	rows := [][]string{
		{"liver", "0.5459", "12"},
		{"red_marrow", "0.212", "3"},
	}
	rightAlign := map[int]bool{1: true, 2: true}

	lines := formatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "Name        Volume  Runs" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "liver       0.5459    12" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "red_marrow   0.212     3" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestFormatTableCountsWideRunes(t *testing.T) {
	lines := formatTable([]string{"Organ", "N"}, [][]string{{"肝臓", "1"}, {"lung", "22"}}, map[int]bool{1: true})
	if lines[1] != "肝臓    1" {
		t.Fatalf("unexpected wide row: %q", lines[1])
	}
	if lines[2] != "lung   22" {
		t.Fatalf("unexpected row: %q", lines[2])
	}
}
