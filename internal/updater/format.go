package updater

import (
	"github.com/aduverger/zotfill/internal/ingest"
	"github.com/aduverger/zotfill/internal/metadata"
)

// FormatFields maps validated metadata onto the catalog's field names. Only
// present fields are emitted; absent ones are left untouched on the item. The
// item type is always forced to report.
func FormatFields(m *metadata.Metadata) map[string]any {
	fields := map[string]any{
		"itemType": "report",
	}
	if m.Title != nil && *m.Title != "" {
		fields["title"] = *m.Title
	}
	if len(m.Authors) > 0 {
		creators := make([]map[string]any, 0, len(m.Authors))
		for _, a := range m.Authors {
			if a.IsPerson() {
				creators = append(creators, map[string]any{
					"creatorType": "author",
					"firstName":   *a.FirstName,
					"lastName":    *a.LastName,
				})
				continue
			}
			// Denominations ("Le Préfet coordonnateur") are single-field
			// creators; the catalog renders them verbatim.
			creators = append(creators, map[string]any{
				"creatorType": "author",
				"name":        *a.Denomination,
			})
		}
		fields["creators"] = creators
	}
	if len(m.Tags) > 0 {
		tags := make([]map[string]any, 0, len(m.Tags))
		for _, t := range m.Tags {
			tags = append(tags, map[string]any{"tag": t.Tag})
		}
		fields["tags"] = tags
	}
	if m.ReportNumber != nil && *m.ReportNumber != "" {
		fields["reportNumber"] = *m.ReportNumber
	}
	if m.Institution != nil && *m.Institution != "" {
		fields["institution"] = *m.Institution
	}
	if m.Place != nil && *m.Place != "" {
		fields["place"] = *m.Place
	}
	if m.Language != nil && *m.Language != "" {
		fields["language"] = *m.Language
	}
	if m.Date != nil && *m.Date != "" {
		fields["date"] = *m.Date
	}
	return fields
}

// MergeFilenameMetadata folds scanner-filename metadata into formatted
// fields. Model-derived fields always win: the access date is only set when
// nothing else provided one, and the scan time goes into extra.
func MergeFilenameMetadata(fields map[string]any, fm *ingest.FilenameMetadata) {
	if fm == nil {
		return
	}
	if cur, _ := fields["accessDate"].(string); cur == "" {
		fields["accessDate"] = fm.AccessDate
	}
	note := "Scan time: " + fm.ScanTime
	if extra, _ := fields["extra"].(string); extra != "" {
		fields["extra"] = extra + "\n" + note
	} else {
		fields["extra"] = note
	}
}
