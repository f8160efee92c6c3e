// Package docload 将上传的异构文件规整为统一的文档表示。
// CSV 每行一个文档，PDF 每页一个文档，纯文本整个文件一个文档。
package docload

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kart-io/logger"
	"github.com/ledongthuc/pdf"
)

// Metadata keys attached to loaded documents.
const (
	MetaSource = "source"
	MetaRow    = "row"
	MetaPage   = "page"
)

// Document is one logical unit of an uploaded file.
type Document struct {
	Content  string
	Metadata map[string]string
}

// File is an already-saved upload with its declared extension.
// The declared type comes from the request layer, not from content sniffing.
type File struct {
	// Name 客户端提交的原始文件名，作为文档来源对外展示。
	// 服务端落盘路径不出现在任何查询结果里。
	Name string
	Path string
	Type string
}

// displayName 展示名缺失时退回到路径基名。
func (f File) displayName() string {
	if f.Name != "" {
		return f.Name
	}
	return filepath.Base(f.Path)
}

// SupportedType reports whether the extension names a loadable file type.
func SupportedType(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "csv", "pdf", "txt", "text", "md":
		return true
	}
	return false
}

// Loader normalizes uploaded files into documents.
type Loader struct {
	maxFileBytes int64
}

// NewLoader creates a Loader. maxFileBytes <= 0 disables the size guard.
func NewLoader(maxFileBytes int64) *Loader {
	return &Loader{maxFileBytes: maxFileBytes}
}

// Load converts a batch of files into documents. Loading is best-effort:
// unsupported or corrupt files are skipped with a warning so one bad file
// cannot abort the rest of the batch. The second return value counts
// supported files that failed to parse, letting the caller distinguish
// "nothing uploaded" from "everything uploaded was corrupt".
func (l *Loader) Load(files []File) ([]Document, int) {
	var docs []Document
	failed := 0

	for _, f := range files {
		if !SupportedType(f.Type) {
			logger.Warnw("skipping unsupported file type",
				"filename", f.displayName(),
				"type", f.Type,
			)
			continue
		}
		if !l.sizeOK(f.Path) {
			continue
		}

		loaded, err := l.loadOne(f)
		if err != nil {
			failed++
			logger.Warnw("skipping document that failed to load",
				"filename", f.displayName(),
				"type", f.Type,
				"error", err.Error(),
			)
			continue
		}
		docs = append(docs, loaded...)
	}

	return docs, failed
}

func (l *Loader) loadOne(f File) ([]Document, error) {
	source := f.displayName()
	switch strings.ToLower(strings.TrimPrefix(f.Type, ".")) {
	case "csv":
		return loadCSV(f.Path, source)
	case "pdf":
		return loadPDF(f.Path, source)
	default:
		return loadText(f.Path, source)
	}
}

func (l *Loader) sizeOK(path string) bool {
	if l.maxFileBytes <= 0 {
		return true
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Warnw("skipping unreadable file", "path", path, "error", err.Error())
		return false
	}
	if info.Size() > l.maxFileBytes {
		logger.Warnw("skipping oversized file",
			"path", path,
			"size", info.Size(),
			"max", l.maxFileBytes,
		)
		return false
	}
	return true
}

// loadCSV 每行产出一个文档，首行作为表头。
// 每行渲染为 "列名: 值" 的多行文本，便于嵌入模型理解字段语义。
func loadCSV(path, source string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // 容忍列数不一致的行

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		// 只有表头或空文件，没有数据行
		return nil, nil
	}

	header := records[0]
	docs := make([]Document, 0, len(records)-1)

	for rowIdx, record := range records[1:] {
		var sb strings.Builder
		for i, value := range record {
			name := fmt.Sprintf("column_%d", i)
			if i < len(header) {
				name = strings.TrimSpace(header[i])
			}
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
		}

		docs = append(docs, Document{
			Content: sb.String(),
			Metadata: map[string]string{
				MetaSource: source,
				MetaRow:    strconv.Itoa(rowIdx),
			},
		})
	}

	return docs, nil
}

// loadPDF 每页产出一个文档，页码从 1 开始。
// 解析库对畸形 PDF 可能 panic，这里统一兜成错误，坏文件不拖垮批次。
func loadPDF(path, source string) (docs []Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("pdf extraction panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	docs = make([]Document, 0, totalPages)

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageText(page)
		if err != nil {
			logger.Warnw("skipping pdf page that failed to extract",
				"filename", source,
				"page", pageNum,
				"error", err.Error(),
			)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		docs = append(docs, Document{
			Content: text,
			Metadata: map[string]string{
				MetaSource: source,
				MetaPage:   strconv.Itoa(pageNum),
			},
		})
	}

	return docs, nil
}

// extractPageText 单页文本提取，页内 panic 只丢弃该页。
func extractPageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page extraction panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// loadText 整个文件作为一个文档。
func loadText(path, source string) ([]Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, nil
	}

	return []Document{{
		Content: string(content),
		Metadata: map[string]string{
			MetaSource: source,
		},
	}}, nil
}
