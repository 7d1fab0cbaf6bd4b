package docproc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
)

// Result is the outcome of extracting text from an upload.
type Result struct {
	Text        string
	ContentHash string
	Pages       int
	Encoding    string
}

// ContentHash is the hex SHA-256 of the raw uploaded bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ValidateUpload checks the extension and size of an upload before any
// bytes are parsed.
func ValidateUpload(filename string, size int64, allowed []string, maxSize int64) error {
	if filename == "" {
		return apperrors.Validation("No file provided")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	ok := false
	for _, a := range allowed {
		if ext == a {
			ok = true
			break
		}
	}
	if !ok {
		return apperrors.Validation("File type %s not allowed. Allowed types: %s", ext, strings.Join(allowed, ", "))
	}
	if size == 0 {
		return apperrors.Validation("File is empty")
	}
	if maxSize > 0 && size > maxSize {
		return apperrors.Validation("File too large. Maximum size: %d bytes", maxSize)
	}
	return nil
}

// Process extracts plain text from a .txt or .pdf upload and hashes the
// raw bytes.
func Process(filename string, content []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		res *Result
		err error
	)
	switch ext {
	case ".txt":
		res = decodeText(content)
	case ".pdf":
		res, err = extractPDF(content)
	default:
		return nil, apperrors.Validation("Unsupported file type: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	res.ContentHash = ContentHash(content)
	return res, nil
}

// decodeText honours a byte order mark, then tries UTF-8 and falls back to
// the Windows-1252 and Latin-1 code pages.
func decodeText(content []byte) *Result {
	if enc, name, certain := charset.DetermineEncoding(content, "text/plain"); certain && name != "utf-8" {
		if decoded, err := enc.NewDecoder().Bytes(content); err == nil {
			return &Result{Text: strings.TrimPrefix(string(decoded), "\ufeff"), Encoding: name}
		}
	}

	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return &Result{Text: string(content), Encoding: "utf-8"}
	}

	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(content); err == nil {
		return &Result{Text: string(decoded), Encoding: "cp1252"}
	}

	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(content)
	return &Result{Text: string(decoded), Encoding: "latin-1"}
}

func extractPDF(content []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, apperrors.Validation("Failed to read PDF: %v", err)
	}

	pages := reader.NumPage()
	texts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract text from PDF page", "page", i, "error", err)
			continue
		}
		texts = append(texts, text)
	}

	return &Result{
		Text:     strings.Join(texts, "\n"),
		Pages:    pages,
		Encoding: "pdf",
	}, nil
}

// Describe formats a short human readable summary used in job messages.
func (r *Result) Describe() string {
	if r.Pages > 0 {
		return fmt.Sprintf("%d pages, %d characters", r.Pages, utf8.RuneCountInString(r.Text))
	}
	return fmt.Sprintf("%d characters (%s)", utf8.RuneCountInString(r.Text), r.Encoding)
}
