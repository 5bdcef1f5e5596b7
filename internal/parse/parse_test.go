package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

const slideTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>
<p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r><a:r><a:t> more</a:t></a:r></a:p><a:p><a:r><a:t>second line</a:t></a:r></a:p></p:txBody></p:sp>
<p:pic/>
</p:spTree></p:cSld></p:sld>`

// buildPPTX writes a minimal presentation whose slide order in
// presentation.xml is the reverse of the part numbering.
func buildPPTX(t *testing.T, titles ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	var ids, rels strings.Builder
	for i := range titles {
		n := len(titles) - i
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, n, n)
		write(fmt.Sprintf("ppt/slides/slide%d.xml", n), fmt.Sprintf(slideTemplate, titles[i], "body of "+titles[i]))
	}
	write("ppt/presentation.xml", `<?xml version="1.0"?><p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><p:sldIdLst>`+ids.String()+`</p:sldIdLst></p:presentation>`)
	write("ppt/_rels/presentation.xml.rels", `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`+rels.String()+`</Relationships>`)
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	pptx := buildPPTX(t, "Problem")
	cases := []struct {
		name   string
		format models.Format
		data   []byte
		max    int64
		field  string
	}{
		{"empty", models.FormatPDF, nil, 0, "file"},
		{"unsupported", models.Format("docx"), []byte("%PDF-1.7"), 0, "format"},
		{"too large", models.FormatPDF, []byte("%PDF-1.7 ......"), 8, "file"},
		{"not a pdf", models.FormatPDF, []byte("hello world"), 0, "file"},
		{"mismatch", models.FormatPDF, pptx, 0, "format"},
		{"plain zip", models.FormatPPTX, zipWith(t, "word/document.xml"), 0, "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.format, tc.data, tc.max)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Errorf("field = %s, want %s", ve.Field, tc.field)
			}
		})
	}

	ok := map[models.Format][]byte{
		models.FormatPDF:  []byte("%PDF-1.4\n..."),
		models.FormatPPTX: pptx,
		models.FormatPPT:  append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, 0, 0),
	}
	for format, data := range ok {
		if err := Validate(format, data, 0); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", format, err)
		}
	}
}

func zipWith(t *testing.T, names ...string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		if _, err := zw.Create(n); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	zw.Close()
	return buf.Bytes()
}

func TestPPTXParserFollowsPresentationOrder(t *testing.T) {
	data := buildPPTX(t, "Problem", "Team", "Ask")
	doc, err := NewRouter().Parse(context.Background(), models.FormatPPTX, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(doc.Pages))
	}
	for i, want := range []string{"Problem", "Team", "Ask"} {
		p := doc.Pages[i]
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i, p.Number)
		}
		if p.Layout.Title != want {
			t.Errorf("page %d title = %q, want %q", i+1, p.Layout.Title, want)
		}
		if !strings.Contains(p.Text, "body of "+want+" more\nsecond line") {
			t.Errorf("page %d text = %q", i+1, p.Text)
		}
		if p.Images != 1 {
			t.Errorf("page %d images = %d, want 1", i+1, p.Images)
		}
	}
	if !strings.HasPrefix(doc.RawText, "Problem") || !strings.Contains(doc.RawText, "Ask") {
		t.Errorf("raw text = %q", doc.RawText)
	}
}

func TestParseErrors(t *testing.T) {
	r := NewRouter()
	ctx := context.Background()
	var pe *models.ParseError

	if _, err := r.Parse(ctx, models.FormatPPT, []byte{0xD0, 0xCF}); !errors.As(err, &pe) {
		t.Errorf("legacy ppt: expected ParseError, got %v", err)
	}
	if _, err := r.Parse(ctx, models.FormatPPTX, []byte("PK\x03\x04 truncated")); !errors.As(err, &pe) {
		t.Errorf("corrupted pptx: expected ParseError, got %v", err)
	}
	if _, err := r.Parse(ctx, models.FormatPDF, []byte("%PDF-1.7\nthis is not really a pdf")); !errors.As(err, &pe) {
		t.Errorf("corrupted pdf: expected ParseError, got %v", err)
	}
	if _, err := r.Parse(ctx, models.FormatPPTX, zipWith(t, "ppt/presentation.xml")); !errors.As(err, &pe) {
		t.Errorf("pptx without slides: expected ParseError, got %v", err)
	}
}

func TestTextFromStream(t *testing.T) {
	stream := []byte("BT\n/F1 24 Tf\n72 712 Td\n(Our \\(big\\) market) Tj\nET\nBT\n[(Team) -250 (Slide)] TJ\nET\n")
	text, blocks := textFromStream(stream)
	if text != "Our (big) market\nTeamSlide" {
		t.Errorf("text = %q", text)
	}
	if blocks != 2 {
		t.Errorf("blocks = %d, want 2", blocks)
	}
}

// buildPDF writes an uncompressed PDF with one text line per BT..ET block
// and a cross-reference table with exact offsets.
func buildPDF(pages ...[]string) []byte {
	esc := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	font := 3 + 2*len(pages)
	var kids []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
	}
	for i, lines := range pages {
		var cs strings.Builder
		for j, l := range lines {
			fmt.Fprintf(&cs, "BT\n/F1 18 Tf\n72 %d Td\n(%s) Tj\nET\n", 720-30*j, esc.Replace(l))
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", font, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", cs.Len(), cs.String()),
		)
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestPDFParser(t *testing.T) {
	data := buildPDF(
		[]string{"Meet the Team", "Ada Lovelace - CEO, ex-Google engineer"},
		[]string{"The Ask (Seed)", "Raising $2M"},
	)
	doc, err := NewRouter().Parse(context.Background(), models.FormatPDF, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	first := doc.Pages[0]
	if first.Text != "Meet the Team\nAda Lovelace - CEO, ex-Google engineer" {
		t.Errorf("page 1 text = %q", first.Text)
	}
	if first.Layout.Title != "Meet the Team" || first.Layout.Blocks != 2 || first.Images != 0 {
		t.Errorf("page 1 = %+v", first)
	}
	if got := doc.Pages[1].Layout.Title; got != "The Ask (Seed)" {
		t.Errorf("page 2 title = %q", got)
	}
	if !strings.Contains(doc.RawText, "Ada Lovelace") || !strings.HasSuffix(doc.RawText, "Raising $2M") {
		t.Errorf("raw text = %q", doc.RawText)
	}
}
