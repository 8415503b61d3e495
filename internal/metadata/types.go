// Package metadata turns raw document text into validated bibliographic
// metadata through a generation backend. The backend contract is best-effort:
// responses are sliced, repaired and validated rather than trusted to be
// strict JSON.
package metadata

import (
	"fmt"
	"regexp"

	"github.com/aduverger/zotfill/internal/common"
)

// Author is a variant with two mutually exclusive shapes: a person
// (lastName + firstName) or an institutional/role designation (denomination,
// e.g. "Le Préfet coordonnateur"). Exactly one shape must hold.
type Author struct {
	LastName     *string `json:"lastName"`
	FirstName    *string `json:"firstName"`
	Denomination *string `json:"denomination"`
}

// IsPerson reports whether the author carries the two-field person shape.
func (a Author) IsPerson() bool {
	return notBlank(a.LastName) && notBlank(a.FirstName)
}

// Validate enforces the shape exclusivity invariant.
func (a Author) Validate(field string) error {
	person := a.IsPerson()
	denom := notBlank(a.Denomination)
	switch {
	case person && denom:
		return &common.ValidationError{
			Field:   field,
			Value:   fmt.Sprintf("%s %s / %s", deref(a.FirstName), deref(a.LastName), deref(a.Denomination)),
			Message: "an author has either lastName+firstName or denomination, not both",
		}
	case !person && !denom:
		return &common.ValidationError{
			Field:   field,
			Value:   a,
			Message: "an author needs lastName+firstName, or a denomination",
		}
	}
	return nil
}

// Tag is a catalog keyword. The leading "./" marks operator-managed tags, so
// the value must be strictly longer than the prefix alone.
type Tag struct {
	Tag string `json:"tag"`
}

func (t Tag) Validate(field string) error {
	if len(t.Tag) <= 2 || t.Tag[:2] != "./" {
		return &common.ValidationError{
			Field:   field,
			Value:   t.Tag,
			Message: "tags must start with './' and carry a name after the prefix",
		}
	}
	return nil
}

var datePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// Metadata is the backend's parsed response. Every field is optional; what is
// present depends on what the model chose to return.
type Metadata struct {
	Title        *string  `json:"title"`
	Authors      []Author `json:"authors"`
	ReportNumber *string  `json:"reportNumber"`
	Institution  *string  `json:"institution"`
	Place        *string  `json:"place"`
	Date         *string  `json:"date"` // DD/MM/YYYY
	Language     *string  `json:"language"`
	Tags         []Tag    `json:"tags"`
}

// Validate checks every present field against the schema invariants. It does
// not trigger a new generation call; a violation surfaces as-is.
func (m *Metadata) Validate() error {
	for i, a := range m.Authors {
		if err := a.Validate(fmt.Sprintf("authors[%d]", i)); err != nil {
			return err
		}
	}
	for i, tg := range m.Tags {
		if err := tg.Validate(fmt.Sprintf("tags[%d].tag", i)); err != nil {
			return err
		}
	}
	if m.Date != nil && !datePattern.MatchString(*m.Date) {
		return &common.ValidationError{
			Field:   "date",
			Value:   *m.Date,
			Message: "date must use the DD/MM/YYYY format",
		}
	}
	return nil
}

func notBlank(s *string) bool {
	return s != nil && *s != ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
