// Package export renders article metadata into interoperability formats
// (JATS, Dublin Core, OAI-PMH). Formatters are pure functions of the
// metadata record; the storage engine never depends on them.
package export

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/openpress/pubstore/internal/article"
)

// esc XML-escapes markup-significant characters so no metadata field is lost
// or corrupted on the way out.
func esc(s string) string {
	var b strings.Builder
	// xml.EscapeText only fails on a writer error; strings.Builder has none.
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// JATS renders a minimal JATS article header for the record.
func JATS(m *article.Metadata) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<article xmlns:xlink="http://www.w3.org/1999/xlink" article-type="research-article">` + "\n")
	b.WriteString("  <front>\n    <article-meta>\n")
	fmt.Fprintf(&b, "      <article-id pub-id-type=\"publisher-id\">%s</article-id>\n", esc(m.ID))
	if m.DOI != "" {
		fmt.Fprintf(&b, "      <article-id pub-id-type=\"doi\">%s</article-id>\n", esc(m.DOI))
	}
	fmt.Fprintf(&b, "      <title-group>\n        <article-title>%s</article-title>\n      </title-group>\n", esc(m.Title))
	if len(m.Authors) > 0 {
		b.WriteString("      <contrib-group>\n")
		for _, a := range m.Authors {
			corresp := ""
			if a.Corresponding {
				corresp = ` corresp="yes"`
			}
			fmt.Fprintf(&b, "        <contrib contrib-type=\"author\"%s>\n          <string-name>%s</string-name>\n", corresp, esc(a.Name))
			if a.Affiliation != "" {
				fmt.Fprintf(&b, "          <aff>%s</aff>\n", esc(a.Affiliation))
			}
			b.WriteString("        </contrib>\n")
		}
		b.WriteString("      </contrib-group>\n")
	}
	if m.Abstract != "" {
		fmt.Fprintf(&b, "      <abstract><p>%s</p></abstract>\n", esc(m.Abstract))
	}
	if len(m.Keywords) > 0 {
		b.WriteString("      <kwd-group>\n")
		for _, kw := range m.Keywords {
			fmt.Fprintf(&b, "        <kwd>%s</kwd>\n", esc(kw))
		}
		b.WriteString("      </kwd-group>\n")
	}
	if m.PublishedDate != nil {
		d := m.PublishedDate.UTC()
		fmt.Fprintf(&b, "      <pub-date pub-type=\"epub\"><day>%02d</day><month>%02d</month><year>%d</year></pub-date>\n",
			d.Day(), int(d.Month()), d.Year())
	}
	b.WriteString("    </article-meta>\n  </front>\n</article>\n")
	return b.String()
}

// DublinCore renders an oai_dc record body.
func DublinCore(m *article.Metadata) string {
	var b strings.Builder
	b.WriteString(`<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">` + "\n")
	fmt.Fprintf(&b, "  <dc:title>%s</dc:title>\n", esc(m.Title))
	for _, a := range m.Authors {
		fmt.Fprintf(&b, "  <dc:creator>%s</dc:creator>\n", esc(a.Name))
	}
	for _, kw := range m.Keywords {
		fmt.Fprintf(&b, "  <dc:subject>%s</dc:subject>\n", esc(kw))
	}
	if m.Abstract != "" {
		fmt.Fprintf(&b, "  <dc:description>%s</dc:description>\n", esc(m.Abstract))
	}
	if m.PublishedDate != nil {
		fmt.Fprintf(&b, "  <dc:date>%s</dc:date>\n", m.PublishedDate.UTC().Format("2006-01-02"))
	}
	if m.DOI != "" {
		fmt.Fprintf(&b, "  <dc:identifier>%s</dc:identifier>\n", esc(m.DOI))
	}
	b.WriteString("  <dc:type>Text</dc:type>\n")
	b.WriteString("</oai_dc:dc>\n")
	return b.String()
}

// OAIRecord wraps the Dublin Core body in an OAI-PMH record envelope.
// identifierPrefix is the repository's oai identifier namespace, e.g.
// "oai:press.example.org".
func OAIRecord(m *article.Metadata, identifierPrefix string) string {
	datestamp := m.UpdatedAt
	if datestamp.IsZero() {
		datestamp = time.Now().UTC()
	}
	var b strings.Builder
	b.WriteString("<record>\n  <header>\n")
	fmt.Fprintf(&b, "    <identifier>%s:%s/%s</identifier>\n", esc(identifierPrefix), esc(m.JournalID), esc(m.ID))
	fmt.Fprintf(&b, "    <datestamp>%s</datestamp>\n", datestamp.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "    <setSpec>%s</setSpec>\n", esc(m.JournalID))
	b.WriteString("  </header>\n  <metadata>\n")
	for _, line := range strings.Split(strings.TrimRight(DublinCore(m), "\n"), "\n") {
		b.WriteString("    " + line + "\n")
	}
	b.WriteString("  </metadata>\n</record>\n")
	return b.String()
}
