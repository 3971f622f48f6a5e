package ccda

import (
	"fmt"
	"strings"
)

// Assembler builds lab-results CDA documents. It holds only immutable
// configuration and its injected collaborators, so a single Assembler may be
// shared by concurrent callers as long as its IdentifierSource is safe for
// concurrent use (UUIDSource is).
type Assembler struct {
	clock      Clock
	ids        IdentifierSource
	defaultOrg string
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithClock sets the clock used for the document timestamp and for
// substituting unparseable dates.
func WithClock(c Clock) AssemblerOption {
	return func(a *Assembler) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithIdentifierSource sets the source of document node identifiers.
func WithIdentifierSource(s IdentifierSource) AssemblerOption {
	return func(a *Assembler) {
		if s != nil {
			a.ids = s
		}
	}
}

// WithDefaultOrganization sets the author/custodian name used when a
// submission names no performing organization.
func WithDefaultOrganization(name string) AssemblerOption {
	return func(a *Assembler) {
		if name != "" {
			a.defaultOrg = name
		}
	}
}

// NewAssembler creates an Assembler using the system clock and random UUIDs
// unless overridden.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		clock:      SystemClock{},
		ids:        UUIDSource{},
		defaultOrg: DefaultOrganization,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces the document for one submission. It never fails: missing
// or malformed fields degrade to empty strings, default codes, "N/A" cells,
// or a Normal interpretation.
func (a *Assembler) Assemble(patient PatientRecord, labs []LabResultRecord) GeneratedDocument {
	docID := a.ids.NewIdentifier()
	patientID := a.ids.NewIdentifier()
	timestamp := FormatDateTime(a.clock.Now(), a.clock)

	org := patient.Organization
	if org == "" {
		org = a.defaultOrg
	}
	authorID := a.ids.NewIdentifier()
	custodianID := a.ids.NewIdentifier()

	doc := joinFragments(
		buildPrologue(),
		buildHeader(docID, timestamp),
		buildRecordTarget(patientID, patient, a.clock),
		buildAuthor(authorID, timestamp, org),
		buildCustodian(custodianID, org),
		buildStructuredBody(a.buildResultsSection(labs)),
		"</ClinicalDocument>\n",
	)

	return GeneratedDocument{
		DocumentID: docID,
		XML:        string(doc),
		Filename:   DocumentFilename(patient.DocumentDate),
	}
}

// DocumentFilename returns the download name for a document dated with the
// raw, unnormalized document date.
func DocumentFilename(documentDate string) string {
	return "lab-results-" + documentDate + ".xml"
}

// ---- Block builders ----

func buildPrologue() Fragment {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, "<?xml-stylesheet type=\"text/xsl\" href=%q?>\n", StylesheetHref)
	fmt.Fprintf(&b, "<ClinicalDocument xmlns=%q xmlns:xsi=%q xmlns:sdtc=%q xsi:schemaLocation=%q>\n",
		CDANamespace, XSINamespace, SDTCNamespace, SchemaLocation)
	return Fragment(b.String())
}

// buildHeader renders the fixed document-level identification elements.
func buildHeader(docID, timestamp string) Fragment {
	var b strings.Builder
	fmt.Fprintf(&b, "  <realmCode code=%q/>\n", RealmCode)
	fmt.Fprintf(&b, "  <typeId root=%q extension=%q/>\n", OIDTypeID, TypeIDExtension)
	fmt.Fprintf(&b, "  <templateId root=%q extension=%q/>\n", OIDUSRealmHeader, TemplateExtension)
	fmt.Fprintf(&b, "  <templateId root=%q extension=%q/>\n", OIDCCDDocument, TemplateExtension)
	fmt.Fprintf(&b, "  <id root=%q/>\n", docID)
	fmt.Fprintf(&b, "  <code code=%q codeSystem=%q codeSystemName=\"LOINC\" displayName=%q/>\n",
		LOINCDocumentCode, OIDLOINC, LOINCDocumentName)
	fmt.Fprintf(&b, "  <title>%s</title>\n", DocumentTitle)
	fmt.Fprintf(&b, "  <effectiveTime value=%q/>\n", timestamp)
	fmt.Fprintf(&b, "  <confidentialityCode code=%q codeSystem=%q/>\n", ConfidentialityCode, OIDConfidentiality)
	fmt.Fprintf(&b, "  <languageCode code=%q/>\n", LanguageCode)
	return Fragment(b.String())
}

// buildRecordTarget renders the patient demographics block.
func buildRecordTarget(patientID string, p PatientRecord, clock Clock) Fragment {
	var b strings.Builder
	b.WriteString("  <recordTarget>\n")
	b.WriteString("    <patientRole>\n")
	fmt.Fprintf(&b, "      <id root=%q/>\n", patientID)
	b.WriteString("      <patient>\n")
	b.WriteString("        <name>\n")
	fmt.Fprintf(&b, "          <given>%s</given>\n", EscapeForXML(p.GivenName))
	fmt.Fprintf(&b, "          <family>%s</family>\n", EscapeForXML(p.FamilyName))
	b.WriteString("        </name>\n")
	fmt.Fprintf(&b, "        <administrativeGenderCode code=\"%s\" codeSystem=%q/>\n",
		EscapeForXML(p.Gender), OIDAdminGender)
	fmt.Fprintf(&b, "        <birthTime value=%q/>\n", FormatDate(p.BirthDate, clock))
	b.WriteString("      </patient>\n")
	b.WriteString("    </patientRole>\n")
	b.WriteString("  </recordTarget>\n")
	return Fragment(b.String())
}

func buildAuthor(authorID, timestamp, org string) Fragment {
	var b strings.Builder
	b.WriteString("  <author>\n")
	fmt.Fprintf(&b, "    <time value=%q/>\n", timestamp)
	b.WriteString("    <assignedAuthor>\n")
	fmt.Fprintf(&b, "      <id root=%q/>\n", authorID)
	b.WriteString("      <representedOrganization>\n")
	fmt.Fprintf(&b, "        <name>%s</name>\n", EscapeForXML(org))
	b.WriteString("      </representedOrganization>\n")
	b.WriteString("    </assignedAuthor>\n")
	b.WriteString("  </author>\n")
	return Fragment(b.String())
}

func buildCustodian(custodianID, org string) Fragment {
	var b strings.Builder
	b.WriteString("  <custodian>\n")
	b.WriteString("    <assignedCustodian>\n")
	b.WriteString("      <representedCustodianOrganization>\n")
	fmt.Fprintf(&b, "        <id root=%q/>\n", custodianID)
	fmt.Fprintf(&b, "        <name>%s</name>\n", EscapeForXML(org))
	b.WriteString("      </representedCustodianOrganization>\n")
	b.WriteString("    </assignedCustodian>\n")
	b.WriteString("  </custodian>\n")
	return Fragment(b.String())
}

// buildStructuredBody wraps a single section in the document body.
func buildStructuredBody(section Fragment) Fragment {
	return joinFragments(
		"  <component>\n",
		"    <structuredBody>\n",
		"      <component>\n",
		section,
		"      </component>\n",
		"    </structuredBody>\n",
		"  </component>\n",
	)
}

// buildResultsSection renders the results section. Narrative rows and
// structured entries are produced in one pass over labs, so both follow the
// input order and have the same length.
func (a *Assembler) buildResultsSection(labs []LabResultRecord) Fragment {
	rows := make([]Fragment, 0, len(labs))
	entries := make([]Fragment, 0, len(labs))
	for _, lab := range labs {
		organizerID := a.ids.NewIdentifier()
		observationID := a.ids.NewIdentifier()
		rows = append(rows, buildNarrativeRow(lab))
		entries = append(entries, buildResultEntry(lab, organizerID, observationID, a.clock))
	}

	var b strings.Builder
	b.WriteString("        <section>\n")
	fmt.Fprintf(&b, "          <templateId root=%q extension=%q/>\n", OIDResultsSection, TemplateExtension)
	fmt.Fprintf(&b, "          <code code=%q codeSystem=%q codeSystemName=\"LOINC\" displayName=%q/>\n",
		LOINCResults, OIDLOINC, LOINCResultsName)
	fmt.Fprintf(&b, "          <title>%s</title>\n", ResultsTitle)
	b.WriteString(string(buildNarrativeTable(rows)))
	b.WriteString(string(joinFragments(entries...)))
	b.WriteString("        </section>\n")
	return Fragment(b.String())
}

var narrativeHeaders = []string{"Test", "Value", "Unit", "Reference Range", "Date"}

func buildNarrativeTable(rows []Fragment) Fragment {
	var b strings.Builder
	b.WriteString("          <text>\n")
	b.WriteString("            <table border=\"1\" width=\"100%\">\n")
	b.WriteString("              <thead>\n")
	b.WriteString("                <tr>\n")
	for _, h := range narrativeHeaders {
		fmt.Fprintf(&b, "                  <th>%s</th>\n", h)
	}
	b.WriteString("                </tr>\n")
	b.WriteString("              </thead>\n")
	b.WriteString("              <tbody>\n")
	b.WriteString(string(joinFragments(rows...)))
	b.WriteString("              </tbody>\n")
	b.WriteString("            </table>\n")
	b.WriteString("          </text>\n")
	return Fragment(b.String())
}

// buildNarrativeRow renders one human-readable table row. The date cell shows
// the date as entered, not normalized.
func buildNarrativeRow(lab LabResultRecord) Fragment {
	rangeCell := NotApplicable
	if lab.HasReferenceRange() {
		rangeCell = EscapeForXML(lab.RangeLow) + " - " + EscapeForXML(lab.RangeHigh)
	}
	cells := []string{
		EscapeForXML(lab.Name),
		EscapeForXML(lab.Value),
		EscapeForXML(lab.Unit),
		rangeCell,
		EscapeForXML(lab.Date),
	}

	var b strings.Builder
	b.WriteString("                <tr>\n")
	for _, c := range cells {
		fmt.Fprintf(&b, "                  <td>%s</td>\n", c)
	}
	b.WriteString("                </tr>\n")
	return Fragment(b.String())
}

// buildResultEntry renders the structured organizer/observation pair for one
// lab result.
func buildResultEntry(lab LabResultRecord, organizerID, observationID string, clock Clock) Fragment {
	effectiveTime := FormatDate(lab.Date, clock)
	unit := EscapeForXML(lab.Unit)

	var b strings.Builder
	b.WriteString("          <entry typeCode=\"DRIV\">\n")
	b.WriteString("            <organizer classCode=\"BATTERY\" moodCode=\"EVN\">\n")
	fmt.Fprintf(&b, "              <templateId root=%q extension=%q/>\n", OIDResultOrganizer, TemplateExtension)
	fmt.Fprintf(&b, "              <id root=%q/>\n", organizerID)
	fmt.Fprintf(&b, "              <code code=%q codeSystem=%q codeSystemName=\"LOINC\" displayName=%q/>\n",
		DefaultLOINCCode, OIDLOINC, DefaultLOINCDisplay)
	b.WriteString("              <statusCode code=\"completed\"/>\n")
	fmt.Fprintf(&b, "              <effectiveTime value=%q/>\n", effectiveTime)
	b.WriteString("              <component>\n")
	b.WriteString("                <observation classCode=\"OBS\" moodCode=\"EVN\">\n")
	fmt.Fprintf(&b, "                  <templateId root=%q extension=%q/>\n", OIDResultObservation, TemplateExtension)
	fmt.Fprintf(&b, "                  <id root=%q/>\n", observationID)
	fmt.Fprintf(&b, "                  <code code=\"%s\" codeSystem=%q codeSystemName=\"LOINC\" displayName=\"%s\"/>\n",
		EscapeForXML(lab.LOINCCode()), OIDLOINC, EscapeForXML(lab.Name))
	b.WriteString("                  <statusCode code=\"completed\"/>\n")
	fmt.Fprintf(&b, "                  <effectiveTime value=%q/>\n", effectiveTime)
	fmt.Fprintf(&b, "                  <value xsi:type=\"PQ\" value=\"%s\" unit=\"%s\"/>\n",
		EscapeForXML(lab.Value), unit)
	fmt.Fprintf(&b, "                  <interpretationCode code=%q codeSystem=%q/>\n",
		string(Interpret(lab.Value, lab.RangeLow, lab.RangeHigh)), OIDInterpretation)
	if lab.HasReferenceRange() {
		b.WriteString(string(buildReferenceRange(lab.RangeLow, lab.RangeHigh, unit)))
	}
	b.WriteString("                </observation>\n")
	b.WriteString("              </component>\n")
	b.WriteString("            </organizer>\n")
	b.WriteString("          </entry>\n")
	return Fragment(b.String())
}

// buildReferenceRange renders the IVL_PQ normal interval. unit must already
// be escaped.
func buildReferenceRange(low, high, unit string) Fragment {
	var b strings.Builder
	b.WriteString("                  <referenceRange>\n")
	b.WriteString("                    <observationRange>\n")
	b.WriteString("                      <value xsi:type=\"IVL_PQ\">\n")
	fmt.Fprintf(&b, "                        <low value=\"%s\" unit=\"%s\"/>\n", EscapeForXML(low), unit)
	fmt.Fprintf(&b, "                        <high value=\"%s\" unit=\"%s\"/>\n", EscapeForXML(high), unit)
	b.WriteString("                      </value>\n")
	b.WriteString("                    </observationRange>\n")
	b.WriteString("                  </referenceRange>\n")
	return Fragment(b.String())
}

func joinFragments(parts ...Fragment) Fragment {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(string(p))
	}
	return Fragment(b.String())
}
