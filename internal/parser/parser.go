package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmtext "github.com/yuin/goldmark/text"

	"gemserve/internal/config"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text extracted from file")
)

// FileType is the lower-case extension without the dot, e.g. "pdf".
func FileType(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Supported reports whether ExtractText can read the given file type.
func Supported(fileType string) bool {
	switch fileType {
	case "txt", "md", "pdf", "docx", "pptx", "xlsx", "xlsm", "xltx", "xltm", "ods":
		return true
	}
	return false
}

// ExtractText returns the plain text content of a document.
func ExtractText(filePath string) (string, error) {
	var (
		content string
		err     error
	)
	switch ext := FileType(filePath); ext {
	case "txt":
		content, err = parseText(filePath)
	case "md":
		content, err = parseMarkdown(filePath)
	case "pdf":
		content, err = parsePDF(filePath)
	case "docx":
		content, err = parseDOCX(filePath)
	case "pptx":
		content, err = parsePPTX(filePath)
	case "xlsx":
		content, err = parseXLSX(filePath)
	case "xlsm", "xltx", "xltm":
		content, err = parseWorkbook(filePath)
	case "ods":
		content, err = parseODS(filePath)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrNoText
	}
	return content, nil
}

// ProcessFile extracts the document text and splits it into sentence-aligned chunks.
func ProcessFile(filePath string, cfg *config.RAGConfig) ([]string, error) {
	content, err := ExtractText(filePath)
	if err != nil {
		return nil, err
	}
	chunks := ChunkBySentences(content, cfg.ChunkSize, cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoText
	}
	return chunks, nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %v", err)
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %v", i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(extractTextFromXML(content, "<w:t", "</w:t>"), "\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := strings.TrimSpace(extractTextFromXML(string(data), "<a:t", "</a:t>"))
		if slideText != "" {
			text.WriteString(slideText)
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("Sheet: %s.\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

// parseWorkbook reads macro-enabled workbooks and templates.
func parseWorkbook(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("Sheet: %s.\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

// parseODS reads the OpenDocument spreadsheet body from content.xml: one line per row,
// cells separated by tabs.
func parseODS(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, file := range f.File {
		if file.Name != "content.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return odsText(rc)
	}
	return "", fmt.Errorf("failed to read ods: content.xml not found")
}

func odsText(r io.Reader) (string, error) {
	var (
		text   strings.Builder
		row    strings.Builder
		inPara bool
		cells  int
		paras  int
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read ods: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				for _, a := range t.Attr {
					if a.Name.Local == "name" {
						text.WriteString(fmt.Sprintf("Sheet: %s.\n", a.Value))
					}
				}
			case "table-row":
				row.Reset()
				cells = 0
			case "table-cell", "covered-table-cell":
				if cells > 0 {
					row.WriteByte('\t')
				}
				cells++
				paras = 0
			case "p":
				if paras > 0 {
					row.WriteByte(' ')
				}
				paras++
				inPara = true
			case "s", "line-break":
				row.WriteByte(' ')
			case "tab":
				row.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPara = false
			case "table-row":
				if line := strings.TrimRight(row.String(), "\t "); line != "" {
					text.WriteString(line)
					text.WriteString("\n")
				}
			}
		case xml.CharData:
			if inPara {
				row.Write(t)
			}
		}
	}
	return text.String(), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(bytes.ToValidUTF8(data, nil)), nil
}

// parseMarkdown drops markdown syntax and keeps the readable text, one block per line.
func parseMarkdown(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(bytes.ToValidUTF8(data, nil)), nil
}

func markdownToText(source []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gmtext.NewReader(source))

	var out bytes.Buffer
	newline := func() {
		if out.Len() > 0 && out.Bytes()[out.Len()-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				newline()
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			out.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteByte(' ')
			}
		case *ast.String:
			out.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(source))
			}
			newline()
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(out.String())
}

// extractTextFromXML concatenates the text runs of an OOXML part. Paragraph ends become newlines.
func extractTextFromXML(xmlContent, openTag, closeTag string) string {
	paraEnd := strings.Replace(closeTag, ":t>", ":p>", 1)
	var text strings.Builder
	parts := strings.Split(xmlContent, openTag)
	for i, part := range parts {
		if i == 0 || part == "" {
			continue
		}
		rest := part
		// <w:t> or <w:t xml:space="preserve">, not <w:tab/>, <w:tbl> and friends
		if part[0] == '>' || part[0] == ' ' {
			start := strings.Index(part, ">")
			endIdx := strings.Index(part, closeTag)
			if start >= 0 && endIdx > start {
				text.WriteString(part[start+1 : endIdx])
				rest = part[endIdx:]
			}
		}
		if strings.Contains(rest, paraEnd) {
			text.WriteString("\n")
		}
	}
	return text.String()
}
