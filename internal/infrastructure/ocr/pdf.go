package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// A text layer shorter than this is treated as a scan and rasterized.
const (
	minNativeChars = 100
	minNativeLines = 4
)

func (e *Extractor) extractPDF(ctx context.Context, raw []byte) (string, error) {
	text, err := nativePDFText(raw)
	if err != nil {
		e.logger.Warn("pdf_text_layer_unreadable", "error", err)
	}
	if usableTextLayer(text) {
		return text, nil
	}
	e.logger.Debug("pdf_ocr_fallback", "native_chars", len(text))
	return e.ocrPDF(ctx, raw)
}

func nativePDFText(raw []byte) (text string, err error) {
	// The pdf reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return builder.String(), fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func usableTextLayer(text string) bool {
	if len(strings.TrimSpace(text)) <= minNativeChars {
		return false
	}
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	return lines >= minNativeLines
}

// ocrPDF rasterizes every page with pdftoppm and runs tesseract per page.
func (e *Extractor) ocrPDF(ctx context.Context, raw []byte) (string, error) {
	dir, err := os.MkdirTemp("", "ocr-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(in, raw, 0o600); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png", in, prefix}
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", fmt.Errorf("list rasterized pages: %w", err)
	}
	sort.Slice(pages, func(i, j int) bool { return pageNumber(pages[i]) < pageNumber(pages[j]) })

	var builder strings.Builder
	for _, page := range pages {
		text, err := e.tesseract(ctx, page)
		if err != nil {
			return "", err
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// pageNumber parses the zero-padded suffix pdftoppm appends ("page-03.png").
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(base[idx+1:])
	return n
}
