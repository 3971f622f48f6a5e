package ccda

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyDocument is returned when Parse is given no data.
var ErrEmptyDocument = errors.New("ccda: XML data is empty")

// ParsedDocument is the summary extracted from a lab-results document.
type ParsedDocument struct {
	DocumentID    string         `json:"documentId"`
	Title         string         `json:"title"`
	Created       time.Time      `json:"created"`
	Patient       ParsedPatient  `json:"patient"`
	Organization  string         `json:"organization"`
	NarrativeRows [][]string     `json:"narrativeRows"`
	Results       []ParsedResult `json:"results"`
}

// ParsedPatient contains the patient demographics extracted from the CDA header.
type ParsedPatient struct {
	ID         string `json:"id"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	Gender     string `json:"gender"`
	DOB        string `json:"dob"`
}

// ParsedResult is one organizer/observation pair.
type ParsedResult struct {
	OrganizerID    string `json:"organizerId"`
	ObservationID  string `json:"observationId"`
	PanelCode      string `json:"panelCode"`
	Code           string `json:"code"`
	Test           string `json:"test"`
	Date           string `json:"date"`
	Value          string `json:"value"`
	Unit           string `json:"unit"`
	Interpretation string `json:"interpretation"`
	RangeLow       string `json:"rangeLow,omitempty"`
	RangeHigh      string `json:"rangeHigh,omitempty"`

	// ReferenceRanges counts referenceRange blocks on the observation.
	ReferenceRanges int `json:"referenceRanges"`
}

// Parser extracts structured data from lab-results documents. It is safe for
// concurrent use because it holds no mutable state.
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a lab-results document.
func (p *Parser) Parse(xmlData []byte) (*ParsedDocument, error) {
	if len(xmlData) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc ClinicalDocument
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		return nil, fmt.Errorf("ccda: failed to parse XML: %w", err)
	}

	result := &ParsedDocument{
		Title: doc.Title,
	}
	if doc.ID != nil {
		result.DocumentID = doc.ID.Root
	}

	if doc.EffectiveTime != nil && doc.EffectiveTime.Value != "" {
		if t, err := parseHL7Time(doc.EffectiveTime.Value); err == nil {
			result.Created = t
		}
	}

	result.Patient = p.parsePatient(&doc)
	if doc.Author != nil && doc.Author.AssignedAuthor != nil && doc.Author.AssignedAuthor.RepresentedOrganization != nil {
		result.Organization = doc.Author.AssignedAuthor.RepresentedOrganization.Name
	}

	if doc.Component != nil && doc.Component.StructuredBody != nil {
		for _, comp := range doc.Component.StructuredBody.Components {
			if comp.Section == nil || comp.Section.Code == nil || comp.Section.Code.Code != LOINCResults {
				continue
			}
			result.NarrativeRows = append(result.NarrativeRows, parseNarrativeRows(comp.Section)...)
			result.Results = append(result.Results, parseResultEntries(comp.Section)...)
		}
	}

	return result, nil
}

// parsePatient extracts patient demographics from the CDA header.
func (p *Parser) parsePatient(doc *ClinicalDocument) ParsedPatient {
	patient := ParsedPatient{}

	if doc.RecordTarget == nil || doc.RecordTarget.PatientRole == nil {
		return patient
	}
	role := doc.RecordTarget.PatientRole
	if role.ID != nil {
		patient.ID = role.ID.Root
	}
	if role.Patient == nil {
		return patient
	}

	pat := role.Patient
	if pat.Name != nil {
		patient.GivenName = pat.Name.Given
		patient.FamilyName = pat.Name.Family
	}
	if pat.AdministrativeGenderCode != nil {
		patient.Gender = pat.AdministrativeGenderCode.Code
	}
	if pat.BirthTime != nil && pat.BirthTime.Value != "" {
		patient.DOB = formatParsedDate(pat.BirthTime.Value)
	}
	return patient
}

func parseNarrativeRows(section *Section) [][]string {
	if section.Text == nil || section.Text.Table == nil || section.Text.Table.Tbody == nil {
		return nil
	}
	var rows [][]string
	for _, tr := range section.Text.Table.Tbody.Trs {
		rows = append(rows, tr.Tds)
	}
	return rows
}

func parseResultEntries(section *Section) []ParsedResult {
	var results []ParsedResult
	for _, e := range section.Entries {
		if e.Organizer == nil {
			continue
		}
		org := e.Organizer
		for _, comp := range org.Components {
			if comp.Observation == nil {
				continue
			}
			obs := comp.Observation
			r := ParsedResult{ReferenceRanges: len(obs.ReferenceRanges)}
			if org.ID != nil {
				r.OrganizerID = org.ID.Root
			}
			if org.Code != nil {
				r.PanelCode = org.Code.Code
			}
			if obs.ID != nil {
				r.ObservationID = obs.ID.Root
			}
			if obs.Code != nil {
				r.Code = obs.Code.Code
				r.Test = obs.Code.DisplayName
			}
			if obs.EffectiveTime != nil {
				r.Date = formatParsedDate(obs.EffectiveTime.Value)
			}
			if obs.Value != nil {
				r.Value = obs.Value.Value
				r.Unit = obs.Value.Unit
			}
			if obs.InterpretationCode != nil {
				r.Interpretation = obs.InterpretationCode.Code
			}
			if len(obs.ReferenceRanges) > 0 {
				if or := obs.ReferenceRanges[0].ObservationRange; or != nil && or.Value != nil {
					if or.Value.Low != nil {
						r.RangeLow = or.Value.Low.Value
					}
					if or.Value.High != nil {
						r.RangeHigh = or.Value.High.Value
					}
				}
			}
			results = append(results, r)
		}
	}
	return results
}

// parseHL7Time parses an HL7 time string into a time.Time.
func parseHL7Time(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 14: // YYYYMMDDHHmmss
		return time.Parse(hl7DateTimeLayout, s)
	case 12: // YYYYMMDDHHmm
		return time.Parse("200601021504", s)
	case 8: // YYYYMMDD
		return time.Parse(hl7DateLayout, s)
	default:
		if len(s) > 14 {
			return time.Parse(hl7DateTimeLayout, s[:14])
		}
		return time.Time{}, fmt.Errorf("ccda: unrecognized time format: %s", s)
	}
}

// formatParsedDate converts an HL7 date (YYYYMMDD) to YYYY-MM-DD.
func formatParsedDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 8 {
		return s[:4] + "-" + s[4:6] + "-" + s[6:8]
	}
	return s
}
