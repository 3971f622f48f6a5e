package ccda

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Empty(t *testing.T) {
	_, err := NewParser().Parse(nil)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestParse_InvalidXML(t *testing.T) {
	_, err := NewParser().Parse([]byte("<ClinicalDocument><title>broken"))
	if err == nil {
		t.Fatal("expected error for malformed XML")
	}
}

func TestParse_WrongRoot(t *testing.T) {
	_, err := NewParser().Parse([]byte(`<Bundle xmlns="http://hl7.org/fhir"/>`))
	if err == nil {
		t.Fatal("expected error for non-CDA root element")
	}
}

func TestParse_IgnoresOtherSections(t *testing.T) {
	data := `<?xml version="1.0"?>
<ClinicalDocument xmlns="urn:hl7-org:v3">
  <title>Mixed</title>
  <effectiveTime value="202403051430"/>
  <component>
    <structuredBody>
      <component>
        <section>
          <code code="48765-2"/>
          <text><table><tbody><tr><td>Penicillin</td></tr></tbody></table></text>
        </section>
      </component>
      <component>
        <section>
          <code code="30954-2"/>
          <text><table><tbody><tr><td>Glucose</td><td>90</td></tr></tbody></table></text>
        </section>
      </component>
    </structuredBody>
  </component>
</ClinicalDocument>`

	parsed, err := NewParser().Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Title != "Mixed" {
		t.Errorf("expected title 'Mixed', got %q", parsed.Title)
	}
	if want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC); !parsed.Created.Equal(want) {
		t.Errorf("expected created %v, got %v", want, parsed.Created)
	}
	if len(parsed.NarrativeRows) != 1 || parsed.NarrativeRows[0][0] != "Glucose" {
		t.Errorf("expected only the results section row, got %v", parsed.NarrativeRows)
	}
	if len(parsed.Results) != 0 {
		t.Errorf("expected no structured results, got %d", len(parsed.Results))
	}
}

func TestParseHL7Time(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"20240305", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false},
		{"202403051430", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), false},
		{"20240305143015", time.Date(2024, 3, 5, 14, 30, 15, 0, time.UTC), false},
		{"20240305143015-0500", time.Date(2024, 3, 5, 14, 30, 15, 0, time.UTC), false},
		{"2024", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseHL7Time(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFormatParsedDate(t *testing.T) {
	if got := formatParsedDate("20240305"); got != "2024-03-05" {
		t.Errorf("expected 2024-03-05, got %s", got)
	}
	if got := formatParsedDate("2024"); got != "2024" {
		t.Errorf("expected short input unchanged, got %s", got)
	}
}
