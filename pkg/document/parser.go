package document

import (
	"fmt"
	"strings"

	"github.com/collabrt/collab/pkg/crdt"
)

// OutputFormat selects an export parser's target syntax.
type OutputFormat int

const (
	Markdown OutputFormat = iota
	PlainText
)

// parseContext threads the depth counter and per-parent numbering state
// a parser needs without every block type having to recompute it.
type parseContext struct {
	depth      int
	listNumber int
}

// Parser renders one block (not its children) to text and reports
// whether its children should still be emitted by the caller.
type Parser func(txn *crdt.Txn, doc *Document, block Block, format OutputFormat, ctx parseContext) (text string, emitChildren bool)

// Registry maps a block type to the parser that renders it.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry pre-populated with the stock block
// parsers (paragraph, heading, page, numbered list, simple table).
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register("page", parsePage)
	r.Register("paragraph", parseTextBlock)
	r.Register("heading", parseTextBlock)
	r.Register("numbered_list", parseNumberedList)
	r.Register("simple_table_row", parseTableRow)
	return r
}

func (r *Registry) Register(blockType string, p Parser) {
	r.parsers[blockType] = p
}

// Export renders blockID and its descendants as Markdown or PlainText.
func (d *Document) Export(registry *Registry, blockID string, format OutputFormat) (string, error) {
	var out string
	err := d.collab.ReadTxn(func(txn *crdt.Txn) error {
		out = renderBlock(txn, d, registry, blockID, format, parseContext{depth: 0})
		return nil
	})
	return strings.TrimRight(out, "\n"), err
}

func renderBlock(txn *crdt.Txn, doc *Document, registry *Registry, blockID string, format OutputFormat, ctx parseContext) string {
	raw, ok := txn.MapGet(rootBlocks, blockID)
	if !ok {
		return ""
	}
	block, _ := blockFromMap(raw)

	parser, ok := registry.parsers[block.Type]
	if !ok {
		parser = parseTextBlock
	}
	text, emitChildren := parser(txn, doc, block, format, ctx)

	var sb strings.Builder
	sb.WriteString(text)
	if emitChildren {
		childCtx := ctx
		childCtx.depth = ctx.depth + 1
		if block.Type == "page" {
			childCtx.depth = 0
		}
		for i, childID := range childrenOf(txn, block.Children) {
			childCtx.listNumber = i + 1
			child := renderBlock(txn, doc, registry, childID, format, childCtx)
			if child == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(child)
		}
	}
	return sb.String()
}

func parsePage(txn *crdt.Txn, doc *Document, block Block, format OutputFormat, ctx parseContext) (string, bool) {
	return "", true
}

func parseTextBlock(txn *crdt.Txn, doc *Document, block Block, format OutputFormat, ctx parseContext) (string, bool) {
	if block.ExternalType != "text" || block.ExternalID == "" {
		return "", true
	}
	text := plainTextOf(txn, block.ExternalID)
	if text == "" {
		return "", true
	}
	indent := strings.Repeat("  ", ctx.depth)
	if format == Markdown && block.Type == "heading" {
		level := 1
		if lv, ok := block.Data["level"].(int); ok {
			level = lv
		}
		return indent + strings.Repeat("#", level) + " " + text, true
	}
	return indent + text, true
}

func parseNumberedList(txn *crdt.Txn, doc *Document, block Block, format OutputFormat, ctx parseContext) (string, bool) {
	text, _ := parseTextBlock(txn, doc, block, format, ctx)
	if format != Markdown {
		return text, true
	}
	indent := strings.Repeat("  ", ctx.depth)
	trimmed := strings.TrimPrefix(text, indent)
	return fmt.Sprintf("%s%d. %s", indent, ctx.listNumber, trimmed), true
}

func parseTableRow(txn *crdt.Txn, doc *Document, block Block, format OutputFormat, ctx parseContext) (string, bool) {
	var cells []string
	for _, childID := range childrenOf(txn, block.Children) {
		raw, ok := txn.MapGet(rootBlocks, childID)
		if !ok {
			continue
		}
		child, _ := blockFromMap(raw)
		if child.ExternalType == "text" && child.ExternalID != "" {
			cells = append(cells, plainTextOf(txn, child.ExternalID))
		}
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return strings.Join(cells, "\t"), false
}
