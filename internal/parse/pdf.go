package parse

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// PDFParser reads text from page content streams with pdfcpu. Scanned pages
// come back with empty text and a non-zero image count.
type PDFParser struct{}

func (p *PDFParser) Parse(ctx context.Context, format models.Format, data []byte) (doc *models.ParsedDocument, err error) {
	// pdfcpu panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, &models.ParseError{Format: format, Reason: "pdf structure is corrupted"}
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &models.ParseError{Format: format, Reason: "pdf could not be read", Cause: err}
	}
	if pdfCtx.PageCount == 0 {
		return nil, &models.ParseError{Format: format, Reason: "pdf has no pages"}
	}

	pages := make([]models.Page, 0, pdfCtx.PageCount)
	for nr := 1; nr <= pdfCtx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, blocks := pageText(pdfCtx, nr)
		pages = append(pages, models.Page{
			Number: nr,
			Text:   text,
			Images: len(pdfcpu.ImageObjNrs(pdfCtx, nr)),
			Layout: models.PageLayout{Blocks: blocks},
		})
	}
	return assemble(pages), nil
}

func pageText(ctx *model.Context, nr int) (string, int) {
	r, err := pdfcpu.ExtractPageContent(ctx, nr)
	if err != nil || r == nil {
		return "", 0
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return "", 0
	}
	return textFromStream(data)
}

var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// textFromStream pulls string operands of the text showing operators out of
// a content stream. Each BT..ET block becomes one line.
func textFromStream(data []byte) (string, int) {
	var lines []string
	var cur strings.Builder
	blocks := 0
	flush := func() {
		if s := cleanLine(cur.String()); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
			continue
		case bytes.Equal(line, []byte("BT")):
			blocks++
		case bytes.Equal(line, []byte("ET")), bytes.Equal(line, []byte("T*")):
			flush()
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")), bytes.HasSuffix(line, []byte("'")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
		}
	}
	flush()
	return strings.Join(lines, "\n"), blocks
}

func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			val := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

func cleanLine(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !space && sb.Len() > 0 {
				sb.WriteByte(' ')
				space = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(sb.String())
}
