package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

type Config struct {
	Tesseract string // binary name or absolute path; "tesseract" when empty
	Pdftoppm  string // "pdftoppm" when empty
	Languages string // tesseract -l value, "hrv" when empty
	DPI       int    // rasterization DPI for scanned PDFs, 300 when zero
	PSM       int
	OEM       int
}

// Extractor turns uploaded bytes into raw text, choosing a strategy from the
// file extension.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Languages == "" {
		cfg.Languages = "hrv"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.PSM == 0 {
		cfg.PSM = 6
	}
	if cfg.OEM == 0 {
		cfg.OEM = 1
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = e.extractPDF(ctx, content)
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp":
		text, err = e.extractImage(ctx, ext, content)
	case ".html", ".htm":
		text, err = extractHTML(content)
	case ".txt", ".csv", ".xml":
		text, err = extractPlainText(filename, content)
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("unsupported file type %q", ext))
	}
	if err != nil {
		return "", err
	}
	return cleanLines(text), nil
}

func (e *Extractor) extractImage(ctx context.Context, ext string, content []byte) (string, error) {
	dir, err := os.MkdirTemp("", "ocr-img-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "source"+ext)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write temp image: %w", err)
	}
	return e.tesseract(ctx, path)
}

var reBoxNoise = regexp.MustCompile(`[│┃┆┇┊┋]+`)

func (e *Extractor) tesseract(ctx context.Context, path string) (string, error) {
	args := []string{
		path, "stdout",
		"-l", e.cfg.Languages,
		"--oem", strconv.Itoa(e.cfg.OEM),
		"--psm", strconv.Itoa(e.cfg.PSM),
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}

// cleanLines trims every line, drops blank ones and collapses consecutive
// duplicates that OCR produces for repeated headers.
func cleanLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == line {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
