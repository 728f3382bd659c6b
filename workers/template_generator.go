package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/grantflow/types"
)

// TemplateGenerator renders a deterministic draft without calling a model.
// 本地开发使用，每个 section 生成一个标题段落
type TemplateGenerator struct{}

// GenerateText 实现 Generator
func (TemplateGenerator) GenerateText(ctx context.Context, prompt string, c Constraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", GenerationError(types.KindValidation, "prompt is empty")
	}

	sections := c.Sections
	if len(sections) == 0 {
		sections = []string{"Summary"}
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if c.Format == "markdown" {
			fmt.Fprintf(&b, "## %s\n\n", s)
		} else {
			fmt.Fprintf(&b, "%s\n\n", strings.ToUpper(s))
		}
		fmt.Fprintf(&b, "Draft %s based on: %s", strings.ToLower(s), firstLine(prompt))
	}

	out := b.String()
	// MaxTokens 按空白分词近似截断
	if c.MaxTokens > 0 {
		words := strings.Fields(out)
		if len(words) > c.MaxTokens {
			out = strings.Join(words[:c.MaxTokens], " ")
		}
	}
	return out, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
