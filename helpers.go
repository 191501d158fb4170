package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

const (
	docxMime          = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	rewriteHeading    = "Rewritten Resume (Draft)"
	rewriteFilename   = "Rewritten_Resume.docx"
	defaultTargetRole = "Data Center Technician"
	docxBodyMarker    = "{{RESUME_BODY}}"
)

var (
	ErrNotPDF       = errors.New("resume must be a PDF")
	ErrFileTooLarge = errors.New("resume is too large")
)

// CleanText strips the markdown code fences the model sometimes wraps its
// answer in.
func CleanText(input string) string {
	clean := strings.ReplaceAll(input, "```markdown", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

func isPDF(filename string, data []byte) bool {
	if http.DetectContentType(data) == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf") && bytes.HasPrefix(data, []byte("%PDF"))
}

func extractPDFText(reader io.ReaderAt) (string, error) {
	pdfReader, err := pdf.NewReader(reader, lenReader(reader))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, _ := page.GetPlainText(nil)
		textBuilder.WriteString(text)
	}
	return textBuilder.String(), nil
}

// Utility: get reader length for PDF
func lenReader(r io.ReaderAt) int64 {
	switch v := r.(type) {
	case *bytes.Reader:
		return int64(v.Len())
	default:
		return 0
	}
}

func linkedInSearchURL(role string) string {
	return "https://www.linkedin.com/jobs/search/?keywords=" + url.QueryEscape(role)
}

// --- Word export ---

// buildResumeDocx fills a minimal Word template with the rewritten resume.
func buildResumeDocx(text string) ([]byte, error) {
	tpl, err := docxTemplate()
	if err != nil {
		return nil, fmt.Errorf("failed to build docx template: %w", err)
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(tpl), int64(len(tpl)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	editable := doc.Editable()
	// \r\n is what the docx encoder turns into line breaks.
	body := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "\r\n")
	if err := editable.Replace(docxBodyMarker, body, -1); err != nil {
		return nil, fmt.Errorf("failed to fill docx: %w", err)
	}

	var out bytes.Buffer
	if err := editable.Write(&out); err != nil {
		return nil, fmt.Errorf("failed to write docx: %w", err)
	}
	return out.Bytes(), nil
}

func docxTemplate() ([]byte, error) {
	files := []struct{ name, body string }{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`},
		{"_rels/.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`},
		{"word/_rels/document.xml.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`},
		{"word/document.xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:rPr><w:b/><w:sz w:val="40"/></w:rPr><w:t>` + rewriteHeading + `</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t xml:space="preserve">` + docxBodyMarker + `</w:t></w:r></w:p>` +
			`</w:body></w:document>`},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, f.body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- File Archive ---

// ObjectStore archives uploaded and generated files.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

type r2Store struct {
	client *s3.Client
	bucket string
}

func newR2Store(ctx context.Context, r2Config R2Config) (*r2Store, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2Config.AccessKey, r2Config.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2Config.AccountID))
	})
	return &r2Store{client: client, bucket: r2Config.Bucket}, nil
}

func (s *r2Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	return UploadToR2(ctx, s.client, s.bucket, key, contentType, data)
}

func UploadToR2(ctx context.Context, client *s3.Client, bucket, key, contentType string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}
