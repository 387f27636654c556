package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"sankalp/internal/models"
	"sankalp/internal/phone"
)

// ParseLeads parses a lead-import CSV. The CSV must contain a header
// row with a "Phone" column (case-insensitive). Recognized optional
// columns: FirstName, Status, Labels (comma-separated inside the cell).
// Phone numbers are normalized; rows whose number fails strict
// normalization are skipped and counted.
//
// maxRows limits how many data rows are parsed (excluding header).
func ParseLeads(r io.Reader, maxRows int) ([]models.Lead, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Field counts are checked per row so one malformed row is skipped
	// instead of aborting the import.
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, 0, err
	}

	phoneIdx, nameIdx, statusIdx, labelsIdx := -1, -1, -1, -1
	for i, h := range headers {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "phone":
			phoneIdx = i
		case "firstname", "first_name":
			nameIdx = i
		case "status":
			statusIdx = i
		case "labels":
			labelsIdx = i
		}
	}
	if phoneIdx == -1 {
		return nil, 0, errors.New("csv must contain a Phone column")
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	var (
		leads   []models.Lead
		skipped int
	)
	for len(leads) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			skipped++
			continue
		}

		normalized, err := phone.NormalizeStrict(record[phoneIdx])
		if err != nil {
			skipped++
			continue
		}

		lead := models.Lead{
			Phone:  normalized,
			Status: "lead",
			Source: "import",
		}
		if nameIdx >= 0 {
			lead.FirstName = strings.TrimSpace(record[nameIdx])
		}
		if statusIdx >= 0 {
			if s := strings.TrimSpace(record[statusIdx]); s != "" {
				lead.Status = s
			}
		}
		if labelsIdx >= 0 {
			for _, l := range strings.Split(record[labelsIdx], ",") {
				if l = strings.TrimSpace(l); l != "" {
					lead.Labels = append(lead.Labels, l)
				}
			}
		}

		leads = append(leads, lead)
	}

	if len(leads) == 0 {
		return nil, skipped, errors.New("csv must contain at least one importable row")
	}

	return leads, skipped, nil
}
