// Package export renders a job's final transcript to the two on-disk
// formats the CLI exposes: a plain tab-separated .txt and a minimal OOXML
// .docx, both with the same header block and numbered speaker lines.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transkriptor/internal/models"
)

// Job is the subset of a stored job exporters need; callers build this from
// repository.JobStore rather than the export package depending on it.
type Job struct {
	SourcePath  string
	SourceName  string
	CreatedAt   time.Time
	DurationSec float64
}

const (
	numberColTwips = 601
	gapColTwips    = 329
	pageWidthTwips = 11906
	sideMarginTwips = 1134
)

func textColTwips() int {
	return pageWidthTwips - (sideMarginTwips * 2) - numberColTwips - gapColTwips
}

func sourceLabel(job Job) string {
	name := strings.TrimSpace(job.SourceName)
	if name == "" {
		name = job.SourcePath
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func headerLines(job Job) []string {
	durationMin := int(job.DurationSec/60 + 0.5)
	if durationMin < 1 {
		durationMin = 1
	}
	dateStr := job.CreatedAt
	if dateStr.IsZero() {
		dateStr = time.Now()
	}
	return []string{
		fmt.Sprintf(`Navn på fil: "%s"`, sourceLabel(job)),
		fmt.Sprintf("Dato: %s", dateStr.Format("02.01.2006")),
		fmt.Sprintf("Varighed: %d minutter", durationMin),
		"",
		"Deltagere:",
		"Interviewer (I)",
		"Deltager (D)",
		"",
	}
}

type lineEntry struct {
	number  int
	speaker string
	text    string
}

func lineEntries(transcript []models.Utterance) []lineEntry {
	var entries []lineEntry
	n := 1
	for _, u := range transcript {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		speaker := u.Speaker
		if speaker == "" {
			speaker = "D"
		}
		entries = append(entries, lineEntry{number: n, speaker: speaker, text: text})
		n++
	}
	return entries
}

// WriteTxt renders the transcript as a tab-separated plain-text file:
// header block, then "<n>\t<speaker>: <text>" per non-empty utterance.
func WriteTxt(job Job, transcript []models.Utterance, outputPath string) error {
	lines := headerLines(job)
	for _, e := range lineEntries(transcript) {
		lines = append(lines, fmt.Sprintf("%d\t%s: %s", e.number, e.speaker, e.text))
	}

	body := strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return os.WriteFile(outputPath, []byte(body), 0644)
}

// WriteDocx renders the transcript as a minimal Word-compatible .docx:
// the header block as plain paragraphs, then a three-column borderless
// table (line number, gutter, "Speaker: text") with fixed twip widths.
func WriteDocx(job Job, transcript []models.Utterance, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/document.xml", buildDocumentXML(job, transcript)},
	}
	for _, p := range parts {
		if err := writeZipEntry(zw, p.name, p.content); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	_, err = io.WriteString(w, content)
	return err
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
</Relationships>`

func buildDocumentXML(job Job, transcript []models.Utterance) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`)
	b.WriteString(`<w:body>`)

	for _, line := range headerLines(job) {
		b.WriteString(paragraphXML(line, line == "Deltagere:"))
	}

	entries := lineEntries(transcript)
	if len(entries) > 0 {
		b.WriteString(tableXML(entries))
	}

	b.WriteString(`<w:sectPr>`)
	b.WriteString(sectionPageXML())
	b.WriteString(`</w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func sectionPageXML() string {
	return fmt.Sprintf(
		`<w:pgSz w:w="%d" w:h="16838"/><w:pgMar w:top="1701" w:right="%d" w:bottom="1701" w:left="%d"/>`,
		pageWidthTwips, sideMarginTwips, sideMarginTwips,
	)
}

func paragraphXML(text string, bold bool) string {
	run := escapeXML(text)
	if bold {
		return fmt.Sprintf(`<w:p><w:pPr><w:spacing w:after="0" w:before="0" w:line="240" w:lineRule="auto"/></w:pPr><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, run)
	}
	return fmt.Sprintf(`<w:p><w:pPr><w:spacing w:after="0" w:before="0" w:line="240" w:lineRule="auto"/></w:pPr><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, run)
}

func tableXML(entries []lineEntry) string {
	var b strings.Builder
	b.WriteString(`<w:tbl><w:tblPr><w:tblW w:w="0" w:type="auto"/><w:tblBorders>`)
	for _, edge := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		b.WriteString(fmt.Sprintf(`<w:%s w:val="single" w:sz="4" w:space="0" w:color="FFFFFF"/>`, edge))
	}
	b.WriteString(`</w:tblBorders><w:tblLayout w:type="fixed"/></w:tblPr>`)
	b.WriteString(fmt.Sprintf(`<w:tblGrid><w:gridCol w:w="%d"/><w:gridCol w:w="%d"/><w:gridCol w:w="%d"/></w:tblGrid>`,
		numberColTwips, gapColTwips, textColTwips()))

	for _, e := range entries {
		b.WriteString(`<w:tr><w:trPr><w:trHeight w:val="284" w:hRule="exact"/></w:trPr>`)
		b.WriteString(fmt.Sprintf(`<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr>`, numberColTwips))
		b.WriteString(fmt.Sprintf(`<w:p><w:pPr><w:jc w:val="right"/></w:pPr><w:r><w:t>%s</w:t></w:r></w:p></w:tc>`, strconv.Itoa(e.number)))
		b.WriteString(fmt.Sprintf(`<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr><w:p/></w:tc>`, gapColTwips))
		b.WriteString(fmt.Sprintf(`<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr>`, textColTwips()))
		b.WriteString(fmt.Sprintf(`<w:p><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">%s:</w:t></w:r><w:r><w:t xml:space="preserve"> %s</w:t></w:r></w:p></w:tc>`,
			escapeXML(e.speaker), escapeXML(e.text)))
		b.WriteString(`</w:tr>`)
	}
	b.WriteString(`</w:tbl>`)
	return b.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
