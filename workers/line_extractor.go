package workers

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/BaSui01/grantflow/types"
)

// LineExtractor reads "key: value" lines from plain-text documents. It stands in for a real
// document extraction service in development. Confidence is the share of non-empty lines
// that parsed, scaled into [0,1].
type LineExtractor struct{}

// ExtractDocumentFields 实现 Extractor
func (LineExtractor) ExtractDocumentFields(ctx context.Context, document []byte) (map[string]string, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if len(bytes.TrimSpace(document)) == 0 {
		return nil, 0, ExtractionError(types.KindValidation, "document is empty")
	}

	fields := make(map[string]string)
	total, parsed := 0, 0
	sc := bufio.NewScanner(bytes.NewReader(document))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		total++
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), " ", "_"))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		fields[k] = v
		parsed++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, ExtractionError(types.KindValidation, "document is not readable text").WithCause(err)
	}
	if total == 0 {
		return fields, 0, nil
	}
	return fields, float64(parsed) / float64(total), nil
}
