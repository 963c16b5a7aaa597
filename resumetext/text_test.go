package resumetext

import (
	"archive/zip"
	"bytes"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Senior Go </w:t></w:r><w:r><w:t>Engineer</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>Skills:</w:t><w:tab/><w:t>Go, Postgres</w:t></w:r></w:p>
</w:body>
</w:document>`

const testRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

func buildDocx(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"word/document.xml":            testDocumentXML,
		"word/_rels/document.xml.rels": testRelsXML,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetectContentType(t *testing.T) {
	docx := buildDocx(t)

	tests := []struct {
		name     string
		fileName string
		data     []byte
		want     string
		wantErr  bool
	}{
		{name: "pdf by extension", fileName: "cv.PDF", data: []byte("anything"), want: ContentTypePDF},
		{name: "docx by extension", fileName: "cv.docx", data: nil, want: ContentTypeDOCX},
		{name: "markdown is text", fileName: "cv.md", data: nil, want: ContentTypeText},
		{name: "pdf by header", fileName: "upload", data: []byte("%PDF-1.7\n..."), want: ContentTypePDF},
		{name: "docx by header", fileName: "upload", data: docx, want: ContentTypeDOCX},
		{name: "text by header", fileName: "upload", data: []byte("Jane Doe\nGo developer"), want: ContentTypeText},
		{name: "image rejected", fileName: "photo.png", data: []byte("\x89PNG\r\n\x1a\n0000"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectContentType(tt.fileName, tt.data)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractText_PlainText(t *testing.T) {
	text, err := ExtractText(ContentTypeText, []byte("  Jane   Doe \r\n\r\n\r\n  Go developer  \n"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\nGo developer", text)
}

func TestExtractText_DropsNULAndInvalidUTF8(t *testing.T) {
	text, err := ExtractText(ContentTypeText, []byte("Senior engineer\x00 caf\xe9 résumé"))
	require.NoError(t, err)
	assert.Equal(t, "Senior engineer caf résumé", text)
	assert.True(t, utf8.ValidString(text))

	_, err = ExtractText(ContentTypeText, []byte("\x00\x00\xff"))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtractText_Docx(t *testing.T) {
	text, err := ExtractText(ContentTypeDOCX, buildDocx(t))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nSenior Go Engineer\n\nSkills: Go, Postgres", text)
}

func TestExtractText_Errors(t *testing.T) {
	_, err := ExtractText("image/png", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ExtractText(ContentTypeText, []byte(" \n\t\n"))
	assert.ErrorIs(t, err, ErrNoText)

	_, err = ExtractText(ContentTypePDF, []byte("not a pdf"))
	assert.Error(t, err)

	_, err = ExtractText(ContentTypeDOCX, []byte("not a zip"))
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".pdf", Extension(ContentTypePDF))
	assert.Equal(t, ".docx", Extension(ContentTypeDOCX))
	assert.Equal(t, ".txt", Extension(ContentTypeText))
}
