package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// PPTXParser reads slide text from the OOXML package in presentation order.
type PPTXParser struct{}

const presentationRels = "ppt/_rels/presentation.xml.rels"

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (p *PPTXParser) Parse(ctx context.Context, format models.Format, data []byte) (*models.ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ParseError{Format: format, Reason: "presentation archive is corrupted", Cause: err}
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	if files[presentationPart] == nil {
		return nil, &models.ParseError{Format: format, Reason: "presentation part is missing"}
	}

	order, err := slideOrder(files)
	if err != nil {
		return nil, &models.ParseError{Format: format, Reason: "slide list could not be read", Cause: err}
	}
	if len(order) == 0 {
		return nil, &models.ParseError{Format: format, Reason: "presentation has no slides"}
	}

	pages := make([]models.Page, 0, len(order))
	for i, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := files[name]
		if f == nil {
			return nil, &models.ParseError{Format: format, Reason: fmt.Sprintf("slide part %s is missing", name)}
		}
		page, err := readSlide(f)
		if err != nil {
			return nil, &models.ParseError{Format: format, Reason: fmt.Sprintf("slide %d could not be read", i+1), Cause: err}
		}
		page.Number = i + 1
		pages = append(pages, page)
	}
	return assemble(pages), nil
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// slideOrder resolves the slide id list of presentation.xml through its
// relationships. When the relationships part is absent, slides are taken in
// numeric file order.
func slideOrder(files map[string]*zip.File) ([]string, error) {
	relsFile := files[presentationRels]
	if relsFile == nil {
		return numericSlideOrder(files), nil
	}
	var rels relationships
	if err := decodePart(relsFile, &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		if strings.HasPrefix(r.Target, "/") {
			targets[r.ID] = strings.TrimPrefix(r.Target, "/")
			continue
		}
		targets[r.ID] = path.Join("ppt", r.Target)
	}

	rc, err := files[presentationPart].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	var order []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sldId" {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Local == "id" && a.Name.Space != "" {
				if target, ok := targets[a.Value]; ok {
					order = append(order, target)
				}
			}
		}
	}
	if len(order) == 0 {
		return numericSlideOrder(files), nil
	}
	return order, nil
}

func numericSlideOrder(files map[string]*zip.File) []string {
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for name := range files {
		if m := slidePartRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n, name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	out := make([]string, len(slides))
	for i, s := range slides {
		out[i] = s.name
	}
	return out
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// readSlide streams one slide part. Paragraphs become lines; text inside a
// title placeholder also becomes the page title.
func readSlide(f *zip.File) (models.Page, error) {
	rc, err := f.Open()
	if err != nil {
		return models.Page{}, err
	}
	defer rc.Close()

	var (
		page      models.Page
		lines     []string
		para      strings.Builder
		title     strings.Builder
		inText    bool
		inTitle   bool
		shapeDeep int
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.Page{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				shapeDeep++
				page.Layout.Blocks++
			case "ph":
				for _, a := range t.Attr {
					if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") && shapeDeep > 0 {
						inTitle = true
					}
				}
			case "pic":
				page.Images++
			case "t":
				inText = true
			}
		case xml.CharData:
			if inText {
				para.Write(t)
				if inTitle {
					title.Write(t)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(para.String()); s != "" {
					lines = append(lines, s)
					if inTitle && title.Len() > 0 {
						title.WriteByte(' ')
					}
				}
				para.Reset()
			case "sp":
				shapeDeep--
				inTitle = false
			}
		}
	}
	page.Text = strings.Join(lines, "\n")
	page.Layout.Title = strings.TrimSpace(title.String())
	return page, nil
}
