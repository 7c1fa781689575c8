package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	Code     string
	Language string
}

// ExtractCodeBlocks walks the markdown AST and collects fenced code blocks.
func ExtractCodeBlocks(markdownText string) ([]CodeBlock, error) {
	var blocks []CodeBlock
	source := []byte(markdownText)

	document := goldmark.DefaultParser().Parse(
		text.NewReader(source),
	)

	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if v, ok := n.(*ast.FencedCodeBlock); ok {
			var code strings.Builder
			lines := v.Lines()
			for i := 0; i < lines.Len(); i++ {
				segment := lines.At(i)
				code.Write(segment.Value(source))
			}
			blocks = append(blocks, CodeBlock{
				Code:     code.String(),
				Language: string(v.Language(source)),
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}
