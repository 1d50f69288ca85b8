package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"regimen-risk/backend/internal/store"
)

var (
	drugColumns        = []string{"drug_id", "name", "type", "drug_class", "indication"}
	interactionColumns = []string{"drug1_id", "drug2_id", "severity", "description", "source"}
)

// table is a CSV file with its columns resolved by name.
type table struct {
	rows    [][]string
	columns map[string]int
}

func (t table) get(record []string, column string) string {
	idx, ok := t.columns[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// readTable reads every record. When the first row names the key column it
// is used as the header; otherwise columns are taken in the expected order.
func readTable(r io.Reader, expected []string) (table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	t := table{columns: make(map[string]int, len(expected))}
	headerProcessed := false
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		if !headerProcessed {
			headerProcessed = true
			if detectHeader(record, expected[0], t.columns) {
				continue
			}
			for idx, name := range expected {
				t.columns[name] = idx
			}
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

func detectHeader(record []string, key string, columns map[string]int) bool {
	found := false
	for idx, value := range record {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value, "\ufeff")))
		if name == key {
			found = true
		}
		if _, ok := columns[name]; !ok && name != "" {
			columns[name] = idx
		}
	}
	if !found {
		for name := range columns {
			delete(columns, name)
		}
	}
	return found
}

// parseDrugs returns drugs in first-seen order with positions starting after
// offset. Rows with a blank id and repeated ids are skipped.
func parseDrugs(r io.Reader, offset int) ([]store.Drug, int, error) {
	t, err := readTable(r, drugColumns)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[string]struct{}, len(t.rows))
	drugs := make([]store.Drug, 0, len(t.rows))
	skipped := 0
	for _, record := range t.rows {
		id := t.get(record, "drug_id")
		if id == "" {
			skipped++
			continue
		}
		if _, ok := seen[id]; ok {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		drugs = append(drugs, store.Drug{
			DrugID:     id,
			Name:       t.get(record, "name"),
			Type:       t.get(record, "type"),
			DrugClass:  t.get(record, "drug_class"),
			Indication: t.get(record, "indication"),
			Position:   offset + len(drugs) + 1,
		})
	}
	return drugs, skipped, nil
}

// parseInteractions keeps the first row for each unordered drug pair.
func parseInteractions(r io.Reader) ([]store.Interaction, int, error) {
	t, err := readTable(r, interactionColumns)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[string]struct{}, len(t.rows))
	rows := make([]store.Interaction, 0, len(t.rows))
	skipped := 0
	for _, record := range t.rows {
		row := store.Interaction{
			Drug1ID:     t.get(record, "drug1_id"),
			Drug2ID:     t.get(record, "drug2_id"),
			Severity:    t.get(record, "severity"),
			Description: t.get(record, "description"),
			Source:      t.get(record, "source"),
		}
		if row.Drug1ID == "" || row.Drug2ID == "" {
			skipped++
			continue
		}
		key := row.PairKey()
		if _, ok := seen[key]; ok {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}
