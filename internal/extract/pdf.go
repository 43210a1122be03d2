package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct{}

func (pdfExtractor) Name() string {
	return "pdf"
}

func (pdfExtractor) Extract(data []byte) (out string, err error) {
	// The pdf reader panics on some malformed files; map that to a plain
	// extraction error instead of taking down the ingestion goroutine.
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	total := reader.NumPage()
	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages; a partly extracted document is still
			// worth chunking.
			continue
		}
		sb.WriteString(content)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func init() {
	register(pdfExtractor{},
		[]string{"pdf"},
		[]string{"application/pdf"},
	)
}
