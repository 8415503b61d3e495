package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/aduverger/zotfill/internal/common"
)

func strp(s string) *string { return &s }

func TestAuthorExclusivity(t *testing.T) {
	tests := []struct {
		name    string
		author  Author
		wantErr bool
	}{
		{"person", Author{LastName: strp("Dupont"), FirstName: strp("Jean")}, false},
		{"person with explicit null denomination", Author{LastName: strp("Dupont"), FirstName: strp("Jean"), Denomination: nil}, false},
		{"denomination only", Author{Denomination: strp("Le Préfet coordonnateur")}, false},
		{"both shapes", Author{LastName: strp("Dupont"), FirstName: strp("Jean"), Denomination: strp("Le Préfet")}, true},
		{"neither shape", Author{}, true},
		{"last name without first name", Author{LastName: strp("Dupont")}, true},
		{"empty strings count as absent", Author{LastName: strp(""), FirstName: strp(""), Denomination: strp("")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.author.Validate("authors[0]")
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestTagPrefix(t *testing.T) {
	tests := []struct {
		tag     string
		wantErr bool
	}{
		{"./admin", false},
		{"./a", false},
		{"./", true},
		{"", true},
		{"admin", true},
		{".admin", true},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			err := Tag{Tag: tt.tag}.Validate("tags[0].tag")
			if (err != nil) != tt.wantErr {
				t.Errorf("Tag(%q).Validate() error = %v, wantErr %v", tt.tag, err, tt.wantErr)
			}
		})
	}
}

func TestMetadataValidateDate(t *testing.T) {
	m := &Metadata{Date: strp("12/03/2024")}
	if err := m.Validate(); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}

	m = &Metadata{Date: strp("2024-03-12")}
	err := m.Validate()
	if err == nil {
		t.Fatal("ISO date must be rejected, the contract is DD/MM/YYYY")
	}
	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *common.ValidationError, got %T", err)
	}
	if ve.Field != "date" || !strings.Contains(err.Error(), "2024-03-12") {
		t.Errorf("error must name field and value: %v", err)
	}
}

func TestMetadataValidateNamesOffendingAuthor(t *testing.T) {
	m := &Metadata{Authors: []Author{
		{LastName: strp("Dupont"), FirstName: strp("Jean")},
		{},
	}}
	err := m.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *common.ValidationError
	if !errors.As(err, &ve) || ve.Field != "authors[1]" {
		t.Errorf("expected field authors[1], got %v", err)
	}
}
