package grobid

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// TEI document types, covering the subset of the GROBID response we consume:
// <teiHeader> for bibliographic metadata, <body> for fulltext paragraphs, and
// <back>/<listBibl> for the bibliography.

type teiDocument struct {
	XMLName xml.Name  `xml:"TEI"`
	Header  teiHeader `xml:"teiHeader"`
	Text    teiText   `xml:"text"`
}

type teiHeader struct {
	FileDesc    fileDesc    `xml:"fileDesc"`
	ProfileDesc profileDesc `xml:"profileDesc"`
}

type fileDesc struct {
	TitleStmt  titleStmt  `xml:"titleStmt"`
	SourceDesc sourceDesc `xml:"sourceDesc"`
}

type titleStmt struct {
	Title string `xml:"title"`
}

type sourceDesc struct {
	BiblStruct biblStruct `xml:"biblStruct"`
}

type profileDesc struct {
	Abstract abstractBlock `xml:"abstract"`
}

type abstractBlock struct {
	Paragraphs []string `xml:"div>p"`
	Plain      []string `xml:"p"`
}

func (a abstractBlock) text() string {
	parts := append([]string{}, a.Paragraphs...)
	parts = append(parts, a.Plain...)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

type teiText struct {
	Body teiBody `xml:"body"`
	Back teiBack `xml:"back"`
}

type teiBody struct {
	Divs []bodyDiv `xml:"div"`
}

type bodyDiv struct {
	Head       string   `xml:"head"`
	Paragraphs []string `xml:"p"`
}

type teiBack struct {
	Divs []backDiv `xml:"div"`
}

type backDiv struct {
	Type     string       `xml:"type,attr"`
	ListBibl []biblStruct `xml:"listBibl>biblStruct"`
}

type biblStruct struct {
	Analytic analytic `xml:"analytic"`
	Monogr   monogr   `xml:"monogr"`
	Notes    []string `xml:"note"`
}

type analytic struct {
	Title   teiTitle    `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	IDNos   []idno      `xml:"idno"`
}

type monogr struct {
	Title   teiTitle    `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	Imprint imprint     `xml:"imprint"`
	IDNos   []idno      `xml:"idno"`
}

type teiTitle struct {
	Level string `xml:"level,attr"`
	Value string `xml:",chardata"`
}

type teiAuthor struct {
	PersName    persName `xml:"persName"`
	Affiliation affil    `xml:"affiliation"`
}

type persName struct {
	Forenames []string `xml:"forename"`
	Surname   string   `xml:"surname"`
}

// fullName joins forenames and surname into a display name.
func (p persName) fullName() string {
	parts := make([]string, 0, len(p.Forenames)+1)
	for _, f := range p.Forenames {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	if s := strings.TrimSpace(p.Surname); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

type affil struct {
	OrgNames []string `xml:"orgName"`
}

type imprint struct {
	Dates []teiDate `xml:"date"`
}

type teiDate struct {
	Type string `xml:"type,attr"`
	When string `xml:"when,attr"`
}

type idno struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// headerToRecord maps the TEI header to the normalized metadata schema.
func headerToRecord(doc *teiDocument) (domain.Metadata, string) {
	bibl := doc.Header.FileDesc.SourceDesc.BiblStruct

	title := strings.TrimSpace(doc.Header.FileDesc.TitleStmt.Title)
	if title == "" {
		title = strings.TrimSpace(bibl.Analytic.Title.Value)
	}

	authors := teiAuthorsToDomain(bibl.Analytic.Authors)
	if len(authors) == 0 {
		authors = teiAuthorsToDomain(bibl.Monogr.Authors)
	}

	meta := domain.Metadata{
		Title:    title,
		Authors:  authors,
		Year:     imprintYear(bibl.Monogr.Imprint),
		Journal:  strings.TrimSpace(bibl.Monogr.Title.Value),
		Abstract: doc.Header.ProfileDesc.Abstract.text(),
	}
	return meta, biblDOI(&bibl)
}

// biblToReference maps one listBibl entry to the normalized reference form.
func biblToReference(b *biblStruct) domain.Reference {
	title := strings.TrimSpace(b.Analytic.Title.Value)
	if title == "" {
		title = strings.TrimSpace(b.Monogr.Title.Value)
	}

	authors := teiAuthorsToDomain(b.Analytic.Authors)
	if len(authors) == 0 {
		authors = teiAuthorsToDomain(b.Monogr.Authors)
	}

	parsed := &domain.ParsedReference{
		Title:   title,
		Authors: authors,
		Year:    imprintYear(b.Monogr.Imprint),
		DOI:     domain.NormalizeDOI(biblDOI(b)),
		ArXivID: domain.NormalizeArXivID(biblArXiv(b)),
	}

	raw := strings.TrimSpace(strings.Join(b.Notes, " "))
	if raw == "" {
		raw = rawFromParsed(parsed)
	}
	if parsed.Title == "" && parsed.DOI == "" && len(parsed.Authors) == 0 {
		parsed = nil
	}
	return domain.Reference{RawText: raw, Parsed: parsed, Source: "grobid"}
}

func teiAuthorsToDomain(in []teiAuthor) []domain.Author {
	out := make([]domain.Author, 0, len(in))
	for _, a := range in {
		name := a.PersName.fullName()
		if name == "" {
			continue
		}
		da := domain.Author{Name: name}
		if len(a.Affiliation.OrgNames) > 0 {
			da.Affiliation = strings.TrimSpace(a.Affiliation.OrgNames[0])
		}
		out = append(out, da)
	}
	return out
}

func imprintYear(imp imprint) int {
	for _, d := range imp.Dates {
		if d.Type != "" && d.Type != "published" {
			continue
		}
		when := strings.TrimSpace(d.When)
		if len(when) >= 4 {
			if y, err := strconv.Atoi(when[:4]); err == nil {
				return y
			}
		}
	}
	return 0
}

func biblDOI(b *biblStruct) string {
	for _, id := range append(b.Analytic.IDNos, b.Monogr.IDNos...) {
		if strings.EqualFold(id.Type, "DOI") {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

func biblArXiv(b *biblStruct) string {
	for _, id := range append(b.Analytic.IDNos, b.Monogr.IDNos...) {
		if strings.EqualFold(id.Type, "arXiv") {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

func rawFromParsed(p *domain.ParsedReference) string {
	parts := make([]string, 0, 3)
	for _, a := range p.Authors {
		parts = append(parts, a.Name)
		break
	}
	if p.Title != "" {
		parts = append(parts, p.Title)
	}
	if p.Year != 0 {
		parts = append(parts, strconv.Itoa(p.Year))
	}
	return strings.Join(parts, ". ")
}

// bodyText flattens the TEI body into plain text, one section per heading.
func bodyText(doc *teiDocument) string {
	var sb strings.Builder
	for _, div := range doc.Text.Body.Divs {
		if head := strings.TrimSpace(div.Head); head != "" {
			sb.WriteString(head)
			sb.WriteString("\n")
		}
		for _, p := range div.Paragraphs {
			if p = strings.TrimSpace(p); p != "" {
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
