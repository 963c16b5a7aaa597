// Package resumetext pulls plain text out of uploaded resume files.
package resumetext

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeText = "text/plain"
)

var ErrUnsupportedType = errors.New("unsupported resume file type")

// ErrNoText is returned when a file parsed but yielded nothing readable,
// usually a scanned PDF.
var ErrNoText = errors.New("no text found in resume")

// DetectContentType resolves the resume type from the file name first and
// falls back to sniffing the leading bytes.
func DetectContentType(fileName string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return ContentTypePDF, nil
	case ".docx":
		return ContentTypeDOCX, nil
	case ".txt", ".md", ".text":
		return ContentTypeText, nil
	}

	sniffed := http.DetectContentType(data)
	switch {
	case sniffed == ContentTypePDF:
		return ContentTypePDF, nil
	case sniffed == "application/zip" && looksLikeDocx(data):
		return ContentTypeDOCX, nil
	case strings.HasPrefix(sniffed, "text/plain"):
		return ContentTypeText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, sniffed)
}

// Extension returns the file extension stored alongside an original upload.
func Extension(contentType string) string {
	switch contentType {
	case ContentTypePDF:
		return ".pdf"
	case ContentTypeDOCX:
		return ".docx"
	default:
		return ".txt"
	}
}

// ExtractText returns the normalized text of a pdf, docx or plain text resume.
func ExtractText(contentType string, data []byte) (string, error) {
	var (
		text string
		err  error
	)

	switch contentType {
	case ContentTypeText:
		text = string(data)
	case ContentTypePDF:
		text, err = extractPDFText(data)
	case ContentTypeDOCX:
		text, err = extractDocxText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractDocxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return documentXMLText(doc.Editable().GetContent())
}

// documentXMLText collects the <w:t> runs of word/document.xml, one line per
// paragraph.
func documentXMLText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))

	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read docx body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// normalize trims every line and collapses runs of blank lines. NUL bytes
// and invalid UTF-8 are dropped since Postgres text columns reject them.
func normalize(text string) string {
	text = strings.ToValidUTF8(strings.ReplaceAll(text, "\x00", ""), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Join(strings.Fields(line), " "))
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func looksLikeDocx(data []byte) bool {
	return bytes.Contains(data, []byte("word/"))
}
