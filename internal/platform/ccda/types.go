package ccda

import "encoding/xml"

// CDA namespaces, OIDs and codes for lab-results documents.
const (
	// CDA namespace
	CDANamespace   = "urn:hl7-org:v3"
	XSINamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	SDTCNamespace  = "urn:hl7-org:sdtc"
	SchemaLocation = "urn:hl7-org:v3 CDA.xsd"
	StylesheetHref = "CDA.xsl"

	// Document-level identifiers
	OIDTypeID           = "2.16.840.1.113883.1.3"
	TypeIDExtension     = "POCD_HD000040"
	OIDUSRealmHeader    = "2.16.840.1.113883.10.20.22.1.1"
	OIDCCDDocument      = "2.16.840.1.113883.10.20.22.1.2"
	TemplateExtension   = "2015-08-01"
	RealmCode           = "US"
	LanguageCode        = "en-US"
	DocumentTitle       = "Lab Results Summary"
	LOINCDocumentCode   = "34133-9"
	LOINCDocumentName   = "Summarization of Episode Note"
	ConfidentialityCode = "N"

	// Results section
	OIDResultsSection = "2.16.840.1.113883.10.20.22.2.3.1"
	LOINCResults      = "30954-2"
	LOINCResultsName  = "Relevant diagnostic tests/laboratory data Narrative"
	ResultsTitle      = "Laboratory Results"

	// Entry-level template IDs
	OIDResultOrganizer   = "2.16.840.1.113883.10.20.22.4.1"
	OIDResultObservation = "2.16.840.1.113883.10.20.22.4.2"

	// DefaultLOINCCode identifies a generic laboratory panel. It codes every
	// organizer and any observation whose test code was left blank.
	DefaultLOINCCode    = "2345-7"
	DefaultLOINCDisplay = "Laboratory studies (set)"

	// Code system OIDs
	OIDLOINC           = "2.16.840.1.113883.6.1"
	OIDAdminGender     = "2.16.840.1.113883.5.1"
	OIDConfidentiality = "2.16.840.1.113883.5.25"
	OIDInterpretation  = "2.16.840.1.113883.5.83"

	// DefaultOrganization names the author and custodian when the
	// submission has no performing organization.
	DefaultOrganization = "Laboratory"

	// NotApplicable fills the narrative reference-range cell when a result
	// lacks either bound.
	NotApplicable = "N/A"
)

// PatientRecord is the demographic snapshot taken at submission time. Dates
// are kept as entered.
type PatientRecord struct {
	GivenName    string
	FamilyName   string
	BirthDate    string
	Gender       string
	DocumentDate string
	Organization string
}

// LabResultRecord is one lab result as entered. Code may be empty, in which
// case DefaultLOINCCode is used. RangeLow and RangeHigh are only honoured
// when both are present.
type LabResultRecord struct {
	Name      string
	Code      string
	Value     string
	Unit      string
	RangeLow  string
	RangeHigh string
	Date      string
}

// HasReferenceRange reports whether both reference bounds are present.
func (r LabResultRecord) HasReferenceRange() bool {
	return r.RangeLow != "" && r.RangeHigh != ""
}

// LOINCCode returns the result's test code, falling back to the default
// panel code.
func (r LabResultRecord) LOINCCode() string {
	if r.Code == "" {
		return DefaultLOINCCode
	}
	return r.Code
}

// GeneratedDocument is the assembled XML with its download filename.
type GeneratedDocument struct {
	DocumentID string
	XML        string
	Filename   string
}

// Fragment is a piece of already-escaped XML markup.
type Fragment string

// ---- Decode model used by Parser ----

// ClinicalDocument is the root element of a lab-results CDA document.
type ClinicalDocument struct {
	XMLName             xml.Name      `xml:"urn:hl7-org:v3 ClinicalDocument"`
	RealmCode           *Code         `xml:"realmCode"`
	TypeID              *TypeID       `xml:"typeId"`
	TemplateIDs         []TemplateID  `xml:"templateId"`
	ID                  *InstanceID   `xml:"id"`
	Code                *Code         `xml:"code"`
	Title               string        `xml:"title"`
	EffectiveTime       *TimeValue    `xml:"effectiveTime"`
	ConfidentialityCode *Code         `xml:"confidentialityCode"`
	LanguageCode        *Code         `xml:"languageCode"`
	RecordTarget        *RecordTarget `xml:"recordTarget"`
	Author              *Author       `xml:"author"`
	Custodian           *Custodian    `xml:"custodian"`
	Component           *Component    `xml:"component"`
}

// TypeID identifies the CDA R2 schema.
type TypeID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

// TemplateID specifies a template identifier with optional extension.
type TemplateID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

// InstanceID is a unique instance identifier.
type InstanceID struct {
	Root string `xml:"root,attr"`
}

// Code represents a coded value with optional code system.
type Code struct {
	Code           string `xml:"code,attr"`
	CodeSystem     string `xml:"codeSystem,attr"`
	CodeSystemName string `xml:"codeSystemName,attr"`
	DisplayName    string `xml:"displayName,attr"`
}

// TimeValue holds a time stamp in HL7 format (YYYYMMDD or YYYYMMDDHHmmss).
type TimeValue struct {
	Value string `xml:"value,attr"`
}

// RecordTarget holds the patient information in the CDA header.
type RecordTarget struct {
	PatientRole *PatientRole `xml:"patientRole"`
}

// PatientRole contains patient identifiers and demographics.
type PatientRole struct {
	ID      *InstanceID `xml:"id"`
	Patient *Patient    `xml:"patient"`
}

// Patient holds patient demographic data.
type Patient struct {
	Name                     *Name      `xml:"name"`
	AdministrativeGenderCode *Code      `xml:"administrativeGenderCode"`
	BirthTime                *TimeValue `xml:"birthTime"`
}

// Name represents a person's name.
type Name struct {
	Given  string `xml:"given"`
	Family string `xml:"family"`
}

// Author holds authoring information in the CDA header.
type Author struct {
	Time           *TimeValue      `xml:"time"`
	AssignedAuthor *AssignedAuthor `xml:"assignedAuthor"`
}

// AssignedAuthor identifies the author entity.
type AssignedAuthor struct {
	ID                      *InstanceID   `xml:"id"`
	RepresentedOrganization *Organization `xml:"representedOrganization"`
}

// Organization represents a healthcare organization.
type Organization struct {
	ID   *InstanceID `xml:"id"`
	Name string      `xml:"name"`
}

// Custodian holds the custodian organization in the CDA header.
type Custodian struct {
	AssignedCustodian *AssignedCustodian `xml:"assignedCustodian"`
}

// AssignedCustodian contains the custodian organization.
type AssignedCustodian struct {
	RepresentedCustodianOrganization *Organization `xml:"representedCustodianOrganization"`
}

// Component wraps the structured body of the CDA document.
type Component struct {
	StructuredBody *StructuredBody `xml:"structuredBody"`
}

// StructuredBody holds the document sections.
type StructuredBody struct {
	Components []SectionComponent `xml:"component"`
}

// SectionComponent wraps a single section.
type SectionComponent struct {
	Section *Section `xml:"section"`
}

// Section represents a CDA section with template, code, narrative, and entries.
type Section struct {
	TemplateIDs []TemplateID `xml:"templateId"`
	Code        *Code        `xml:"code"`
	Title       string       `xml:"title"`
	Text        *Narrative   `xml:"text"`
	Entries     []Entry      `xml:"entry"`
}

// Narrative holds the human-readable table for a section.
type Narrative struct {
	Table *NarrativeTable `xml:"table"`
}

// NarrativeTable is a simplified HTML table for section narratives.
type NarrativeTable struct {
	Thead *NarrativeThead `xml:"thead"`
	Tbody *NarrativeTbody `xml:"tbody"`
}

// NarrativeThead is a table header.
type NarrativeThead struct {
	Tr *NarrativeTr `xml:"tr"`
}

// NarrativeTbody is a table body.
type NarrativeTbody struct {
	Trs []NarrativeTr `xml:"tr"`
}

// NarrativeTr is a table row.
type NarrativeTr struct {
	Tds []string `xml:"td"`
	Ths []string `xml:"th"`
}

// Entry represents a CDA entry element containing clinical data.
type Entry struct {
	TypeCode  string     `xml:"typeCode,attr"`
	Organizer *Organizer `xml:"organizer"`
}

// Organizer groups the observations of one lab panel.
type Organizer struct {
	ClassCode     string               `xml:"classCode,attr"`
	MoodCode      string               `xml:"moodCode,attr"`
	TemplateIDs   []TemplateID         `xml:"templateId"`
	ID            *InstanceID          `xml:"id"`
	Code          *Code                `xml:"code"`
	StatusCode    *Code                `xml:"statusCode"`
	EffectiveTime *TimeValue           `xml:"effectiveTime"`
	Components    []OrganizerComponent `xml:"component"`
}

// OrganizerComponent wraps an observation inside an organizer.
type OrganizerComponent struct {
	Observation *ObservationEntry `xml:"observation"`
}

// ObservationEntry represents a CDA result observation.
type ObservationEntry struct {
	ClassCode          string           `xml:"classCode,attr"`
	MoodCode           string           `xml:"moodCode,attr"`
	TemplateIDs        []TemplateID     `xml:"templateId"`
	ID                 *InstanceID      `xml:"id"`
	Code               *Code            `xml:"code"`
	StatusCode         *Code            `xml:"statusCode"`
	EffectiveTime      *TimeValue       `xml:"effectiveTime"`
	Value              *Value           `xml:"value"`
	InterpretationCode *Code            `xml:"interpretationCode"`
	ReferenceRanges    []ReferenceRange `xml:"referenceRange"`
}

// Value represents a typed physical quantity.
type Value struct {
	Type  string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr"`
}

// ReferenceRange wraps the normal interval for an observation.
type ReferenceRange struct {
	ObservationRange *ObservationRange `xml:"observationRange"`
}

// ObservationRange holds an interval value.
type ObservationRange struct {
	Value *IntervalValue `xml:"value"`
}

// IntervalValue is an IVL_PQ interval.
type IntervalValue struct {
	Type string    `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
	Low  *Quantity `xml:"low"`
	High *Quantity `xml:"high"`
}

// Quantity is a bound of a physical-quantity interval.
type Quantity struct {
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr"`
}
