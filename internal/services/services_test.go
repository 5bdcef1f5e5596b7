package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/audit"
	"github.com/Lllllllleong/pitchdeckflow/internal/cache"
	"github.com/Lllllllleong/pitchdeckflow/internal/llm"
	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/output"
	"github.com/Lllllllleong/pitchdeckflow/internal/parse"
	"github.com/Lllllllleong/pitchdeckflow/internal/pipeline"
	"github.com/Lllllllleong/pitchdeckflow/internal/scheduler"
	"github.com/Lllllllleong/pitchdeckflow/internal/store"
)

type slide struct {
	title string
	lines []string
}

var acmeDeck = []slide{
	{"The Problem", []string{"Invoicing is a broken pain point for small firms."}},
	{"Our Team", []string{"Ada Lovelace - CEO, ex-Google engineer", "Alan Turing - CTO, PhD in mathematics"}},
	{"The Ask", []string{"We are raising $2.5M to fund 18 months of runway."}},
}

func buildDeck(t *testing.T, slides []slide) []byte {
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
	for i, s := range slides {
		n := i + 1
		var body strings.Builder
		for _, l := range s.lines {
			fmt.Fprintf(&body, `<a:p><a:r><a:t>%s</a:t></a:r></a:p>`, l)
		}
		write(fmt.Sprintf("ppt/slides/slide%d.xml", n), `<?xml version="1.0"?><p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`+
			`<p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr><p:txBody><a:p><a:r><a:t>`+s.title+`</a:t></a:r></a:p></p:txBody></p:sp>`+
			`<p:sp><p:txBody>`+body.String()+`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, n, n)
	}
	write("ppt/presentation.xml", `<?xml version="1.0"?><p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><p:sldIdLst>`+ids.String()+`</p:sldIdLst></p:presentation>`)
	write("ppt/_rels/presentation.xml.rels", `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`+rels.String()+`</Relationships>`)
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	svc   *DeckService
	cache *cache.Memory
	gen   *output.Generator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	c := cache.NewMemory()
	w := audit.NewWriter(audit.NewMemorySink())
	gen, err := output.NewGenerator("1.0.0")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	coord, err := pipeline.New(pipeline.Deps{
		Parser:     parse.NewRouter(),
		Classifier: llm.KeywordClassifier{},
		Extractor:  llm.PatternExtractor{},
		Summarizer: llm.ExtractiveSummarizer{},
		Cache:      c,
		Store:      st,
		Audit:      w,
		Output:     gen,
	}, pipeline.DefaultConfig(), pipeline.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	sched := scheduler.New(coord, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	var mu sync.Mutex
	n := 0
	svc := NewDeckService(DeckServiceConfig{
		Store:     st,
		Cache:     c,
		Audit:     w,
		Scheduler: sched,
		Output:    gen,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("deck-%d", n)
		},
	})
	return &testEnv{svc: svc, cache: c, gen: gen}
}

func (e *testEnv) process(t *testing.T, filename string, content []byte) *DocumentView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := e.svc.Upload(ctx, UploadRequest{Filename: filename, Content: content})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !res.Admission.Accepted {
		t.Fatalf("upload not admitted: %+v", res.Admission)
	}
	if _, err := e.svc.Await(ctx, res.Document.ID); err != nil {
		t.Fatalf("Await: %v", err)
	}
	view, err := e.svc.Document(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	return view
}

func TestUploadProcessAndExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.process(t, "acme.pptx", buildDeck(t, acmeDeck))
	if view.Status != models.StatusCompleted {
		t.Fatalf("status = %s, errorDetails = %v", view.Status, view.ErrorDetails)
	}
	if view.Format != models.FormatPPTX {
		t.Errorf("format = %s, want pptx", view.Format)
	}
	if view.OverallConfidence == nil || view.ConfidenceCategory == "" {
		t.Errorf("expected a scored document, got %+v", view.Document)
	}
	if view.CacheHit || view.ResultDocumentID != view.ID {
		t.Errorf("fresh document: cacheHit=%v resultDocumentId=%s", view.CacheHit, view.ResultDocumentID)
	}

	rec, err := env.svc.Result(ctx, view.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(rec.Information.Team) != 2 {
		t.Errorf("team size = %d, want 2", len(rec.Information.Team))
	}
	if got := rec.Information.Ask.Amount.Value; got.Kind() != models.KindCurrency || got.Money().Amount != 2500000 {
		t.Errorf("ask.amount = %v", got.Text())
	}

	data, contentType, err := env.svc.Export(ctx, view.ID, "")
	if err != nil {
		t.Fatalf("Export json: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %s", contentType)
	}
	if err := env.gen.Validate(data); err != nil {
		t.Errorf("exported json does not validate: %v", err)
	}

	data, contentType, err = env.svc.Export(ctx, view.ID, "CSV")
	if err != nil {
		t.Fatalf("Export csv: %v", err)
	}
	if !strings.HasPrefix(contentType, "text/csv") {
		t.Errorf("content type = %s", contentType)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("csv rows = %d, want header and one row", len(rows))
	}

	entries, err := env.svc.Audit(ctx, view.ID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if first := entries[0]; first.Stage != models.StageUpload || first.Status != models.AuditStarted {
		t.Errorf("first audit entry = %s/%s, want upload/started", first.Stage, first.Status)
	}
	exports := map[string]int{}
	stages := map[models.Stage]bool{}
	for _, e := range entries {
		stages[e.Stage] = true
		if e.Stage == models.StageExport {
			exports[e.Scope]++
		}
	}
	for _, s := range models.PipelineStages {
		if !stages[s] {
			t.Errorf("no audit entry for stage %s", s)
		}
	}
	if exports["json"] != 2 || exports["csv"] != 2 {
		t.Errorf("export audit entries = %v, want a pair per format", exports)
	}
}

func TestUploadRejectsInvalidFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Upload(ctx, UploadRequest{Filename: "notes.pdf", Content: []byte("hello world")})
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if res == nil || res.Document.ID == "" {
		t.Fatalf("rejected upload should still carry a document")
	}
	view, err := env.svc.Document(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if view.Status != models.StatusFailed || view.ErrorDetails == nil {
		t.Errorf("status = %s, errorDetails = %v", view.Status, view.ErrorDetails)
	}
	entries, err := env.svc.Audit(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(entries) != 2 || entries[1].Status != models.AuditFailed {
		t.Errorf("audit = %+v, want upload started and failed", entries)
	}
	if _, _, err := env.svc.Export(ctx, res.Document.ID, ExportJSON); !errors.Is(err, models.ErrResultUnavailable) {
		t.Errorf("Export of failed document: %v", err)
	}
}

func TestUploadUnknownFormat(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.Upload(context.Background(), UploadRequest{Filename: "deck.key", Content: []byte("PK")})
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Field != "format" {
		t.Fatalf("expected format ValidationError, got %v", err)
	}
	if res.Document.Format != "key" {
		t.Errorf("format = %q, want the declared extension", res.Document.Format)
	}
}

func TestLegacyPresentationFailsAtParse(t *testing.T) {
	env := newTestEnv(t)
	content := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, bytes.Repeat([]byte{0}, 64)...)

	view := env.process(t, "old.ppt", content)
	if view.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", view.Status)
	}
	if view.ErrorDetails == nil || *view.ErrorDetails == "" {
		t.Errorf("expected error details")
	}
	if env.cache.Len() != 0 {
		t.Errorf("failed documents must not be cached")
	}
}

func TestIdenticalContentReusesResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deck := buildDeck(t, acmeDeck)

	first := env.process(t, "acme.pptx", deck)
	second := env.process(t, "acme-copy.pptx", deck)
	if !second.CacheHit || second.ResultDocumentID != first.ID {
		t.Fatalf("second upload: cacheHit=%v resultDocumentId=%s, want hit on %s", second.CacheHit, second.ResultDocumentID, first.ID)
	}
	if *second.OverallConfidence != *first.OverallConfidence {
		t.Errorf("confidence differs: %v vs %v", *second.OverallConfidence, *first.OverallConfidence)
	}
	if _, _, err := env.svc.Export(ctx, second.ID, ExportJSON); err != nil {
		t.Errorf("Export of cache hit: %v", err)
	}

	if err := env.svc.InvalidateCache(ctx, first.Fingerprint); err != nil {
		t.Fatalf("InvalidateCache: %v", err)
	}
	if _, _, err := env.svc.Export(ctx, first.ID, ExportJSON); !errors.Is(err, models.ErrResultUnavailable) {
		t.Errorf("Export after invalidation: %v", err)
	}
	third := env.process(t, "acme.pptx", deck)
	if third.CacheHit || third.ResultDocumentID != third.ID {
		t.Errorf("upload after invalidation should be processed afresh, got %+v", third.Document)
	}
}

func TestExportAndCancelErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.process(t, "acme.pptx", buildDeck(t, acmeDeck))

	var ve *models.ValidationError
	if _, _, err := env.svc.Export(ctx, view.ID, "xml"); !errors.As(err, &ve) {
		t.Errorf("Export xml: %v", err)
	}
	if _, _, err := env.svc.Export(ctx, "missing", ExportJSON); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Export missing: %v", err)
	}
	if err := env.svc.Cancel(ctx, view.ID); !errors.Is(err, scheduler.ErrFinished) {
		t.Errorf("Cancel finished: %v", err)
	}
	if err := env.svc.Cancel(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Cancel missing: %v", err)
	}
	if _, err := env.svc.Audit(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Audit missing: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	a := env.process(t, "a.pptx", buildDeck(t, acmeDeck[:1]))
	time.Sleep(2 * time.Millisecond)
	b := env.process(t, "b.pptx", buildDeck(t, acmeDeck[1:]))

	views, err := env.svc.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 || views[0].ID != b.ID || views[1].ID != a.ID {
		t.Errorf("List order wrong: %+v", views)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Completion
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, c Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.err
}

func TestIngestFunction(t *testing.T) {
	deck := buildDeck(t, acmeDeck)
	objects := map[string][]byte{
		"incoming/acme.pptx": deck,
		"incoming/bad.pdf":   []byte("not a pdf"),
	}
	var fetched []string
	fetch := func(_ context.Context, bucket, name string, maxBytes int64) ([]byte, error) {
		fetched = append(fetched, name)
		data, ok := objects[name]
		if !ok {
			return nil, fmt.Errorf("object %s/%s not found", bucket, name)
		}
		return data, nil
	}

	t.Run("processes deck", func(t *testing.T) {
		env := newTestEnv(t)
		n := &recordingNotifier{}
		fn := NewIngestFunction(fetch, env.svc, nil, n, 0)
		if err := fn.Process(context.Background(), GCSEvent{Bucket: "decks", Name: "incoming/acme.pptx"}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(n.sent) != 1 {
			t.Fatalf("notifications = %d, want 1", len(n.sent))
		}
		c := n.sent[0]
		if c.Status != string(models.StatusCompleted) || c.OverallConfidence == nil || c.JSONURI != "" {
			t.Errorf("completion = %+v", c)
		}
	})

	t.Run("rejected deck is acknowledged", func(t *testing.T) {
		env := newTestEnv(t)
		n := &recordingNotifier{}
		fn := NewIngestFunction(fetch, env.svc, nil, n, 0)
		if err := fn.Process(context.Background(), GCSEvent{Bucket: "decks", Name: "incoming/bad.pdf"}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(n.sent) != 1 || n.sent[0].Status != string(models.StatusFailed) || n.sent[0].ErrorDetails == nil {
			t.Errorf("completions = %+v", n.sent)
		}
	})

	t.Run("skips other objects", func(t *testing.T) {
		env := newTestEnv(t)
		fetched = nil
		fn := NewIngestFunction(fetch, env.svc, nil, nil, 0)
		if err := fn.Process(context.Background(), GCSEvent{Bucket: "decks", Name: "incoming/readme.txt"}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(fetched) != 0 {
			t.Errorf("fetched %v for a non-deck object", fetched)
		}
	})

	t.Run("download failure is returned", func(t *testing.T) {
		env := newTestEnv(t)
		fn := NewIngestFunction(fetch, env.svc, nil, nil, 0)
		if err := fn.Process(context.Background(), GCSEvent{Bucket: "decks", Name: "incoming/missing.pdf"}); err == nil {
			t.Fatal("expected an error for a missing object")
		}
	})

	t.Run("notifier failure is returned", func(t *testing.T) {
		env := newTestEnv(t)
		n := &recordingNotifier{err: errors.New("workflow unavailable")}
		fn := NewIngestFunction(fetch, env.svc, nil, n, 0)
		if err := fn.Process(context.Background(), GCSEvent{Bucket: "decks", Name: "incoming/acme.pptx"}); err == nil {
			t.Fatal("expected the notifier error")
		}
	})
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

func TestPDFDeckYieldsTeam(t *testing.T) {
	env := newTestEnv(t)
	data := buildPDF(
		[]string{"Meet the Team", "Ada Lovelace - CEO, ex-Google engineer", "Alan Turing - CTO, PhD in mathematics"},
	)
	view := env.process(t, "team.pdf", data)
	if view.Status != models.StatusCompleted {
		t.Fatalf("status = %s, errorDetails = %v", view.Status, view.ErrorDetails)
	}
	rec, err := env.svc.Result(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if rec.PageCount != 1 {
		t.Errorf("page count = %d, want 1", rec.PageCount)
	}
	team := false
	for _, s := range rec.Sections {
		if s.Type == models.SectionTeam {
			team = true
		}
	}
	if !team {
		t.Fatalf("sections = %+v, want a team section", rec.Sections)
	}
	if len(rec.Information.Team) == 0 || rec.Information.Team[0].Name.Value.IsNull() {
		t.Fatalf("team = %+v, want a named first member", rec.Information.Team)
	}
	if got := rec.Information.Team[0].Name.Value.Str(); got != "Ada Lovelace" {
		t.Errorf("team[0].name = %q", got)
	}
}
