package doc

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// md is the shared goldmark instance. The parser is stateless across
// Parse calls and safe for concurrent use.
var md = goldmark.New()

// FromText parses markdown text into a document.
//
// Markdown constructs outside the storage schema (raw HTML, footnotes)
// are flattened to their text content rather than rejected, so any file
// found in a native directory can be opened.
func FromText(text string) (*Document, error) {
	src := []byte(text)
	root := md.Parser().Parse(gmtext.NewReader(src))

	d := New()
	for c := root.FirstChild(); c != nil; c = c.NextSibling() {
		if n, ok := blockFromAST(c, src); ok {
			d.Content = append(d.Content, n)
		}
	}
	return d, nil
}

// ToText renders a document as canonical markdown. The rendering is
// canonical in the sense that FromText(ToText(d)) reproduces d for any
// document previously produced by FromText.
func ToText(d *Document) (string, error) {
	if d == nil {
		return "", nil
	}

	blocks := make([]string, 0, len(d.Content))
	for _, n := range d.Content {
		b, err := renderBlock(n)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, b)
	}

	if len(blocks) == 0 {
		return "", nil
	}
	return strings.Join(blocks, "\n\n") + "\n", nil
}

func blockFromAST(n ast.Node, src []byte) (Node, bool) {
	switch v := n.(type) {
	case *ast.Heading:
		return Node{Type: TypeHeading, Level: v.Level, Content: inlinesFromAST(v, src)}, true

	case *ast.Paragraph:
		return Node{Type: TypeParagraph, Content: inlinesFromAST(v, src)}, true

	case *ast.TextBlock:
		// List items without blank lines hold bare text blocks.
		return Node{Type: TypeParagraph, Content: inlinesFromAST(v, src)}, true

	case *ast.FencedCodeBlock:
		return Node{
			Type:     TypeCodeBlock,
			Language: string(v.Language(src)),
			Text:     codeText(v, src),
		}, true

	case *ast.CodeBlock:
		return Node{Type: TypeCodeBlock, Text: codeText(v, src)}, true

	case *ast.Blockquote:
		return Node{Type: TypeBlockquote, Content: childBlocks(v, src)}, true

	case *ast.List:
		listType := TypeBulletList
		if v.IsOrdered() {
			listType = TypeOrderedList
		}
		items := make([]Node, 0, v.ChildCount())
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			items = append(items, Node{Type: TypeListItem, Content: childBlocks(c, src)})
		}
		return Node{Type: listType, Content: items}, true

	case *ast.ThematicBreak:
		return Node{Type: TypeHorizontalRule}, true
	}

	return Node{}, false
}

func childBlocks(n ast.Node, src []byte) []Node {
	var out []Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if b, ok := blockFromAST(c, src); ok {
			out = append(out, b)
		}
	}
	return out
}

// inlinesFromAST converts the inline children of a block node. Adjacent
// text runs are merged so the result is in canonical form.
func inlinesFromAST(n ast.Node, src []byte) []Node {
	var out []Node

	appendText := func(s string) {
		if s == "" {
			return
		}
		if len(out) > 0 && out[len(out)-1].Type == TypeText {
			out[len(out)-1].Text += s
			return
		}
		out = append(out, Node{Type: TypeText, Text: s})
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			appendText(string(v.Segment.Value(src)))
			if v.SoftLineBreak() {
				appendText(" ")
			}

		case *ast.String:
			appendText(string(v.Value))

		case *ast.Emphasis:
			inlineType := TypeEm
			if v.Level >= 2 {
				inlineType = TypeStrong
			}
			out = append(out, Node{Type: inlineType, Content: inlinesFromAST(v, src)})

		case *ast.CodeSpan:
			out = append(out, Node{Type: TypeCode, Text: plainText(v, src)})

		case *ast.Link:
			out = append(out, Node{
				Type:    TypeLink,
				Href:    string(v.Destination),
				Content: inlinesFromAST(v, src),
			})

		case *ast.AutoLink:
			url := string(v.URL(src))
			out = append(out, Node{
				Type:    TypeLink,
				Href:    url,
				Content: []Node{{Type: TypeText, Text: url}},
			})

		default:
			// Unsupported inline markup is flattened to its text.
			appendText(plainText(c, src))
		}
	}
	return out
}

// plainText concatenates the text content of a node's subtree.
func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
			continue
		}
		if s, ok := c.(*ast.String); ok {
			b.Write(s.Value)
			continue
		}
		b.WriteString(plainText(c, src))
	}
	return b.String()
}

func codeText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(src))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func renderBlock(n Node) (string, error) {
	switch n.Type {
	case TypeHeading:
		level := n.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + renderInlines(n.Content), nil

	case TypeParagraph:
		return escapeLeadingMarker(renderInlines(n.Content)), nil

	case TypeCodeBlock:
		var b strings.Builder
		b.WriteString("```")
		b.WriteString(n.Language)
		b.WriteString("\n")
		if n.Text != "" {
			b.WriteString(n.Text)
			b.WriteString("\n")
		}
		b.WriteString("```")
		return b.String(), nil

	case TypeBlockquote:
		inner, err := renderBlocks(n.Content)
		if err != nil {
			return "", err
		}
		return prefixLines(inner, "> ", ">"), nil

	case TypeBulletList:
		return renderList(n, func(int) string { return "- " })

	case TypeOrderedList:
		return renderList(n, func(i int) string { return fmt.Sprintf("%d. ", i+1) })

	case TypeHorizontalRule:
		return "---", nil
	}

	return "", fmt.Errorf("cannot render block of type %q as markdown", n.Type)
}

func renderBlocks(nodes []Node) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		p, err := renderBlock(n)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n"), nil
}

func renderList(list Node, marker func(int) string) (string, error) {
	items := make([]string, 0, len(list.Content))
	for i, item := range list.Content {
		inner, err := renderBlocks(item.Content)
		if err != nil {
			return "", err
		}
		m := marker(i)
		indent := strings.Repeat(" ", len(m))
		lines := strings.Split(inner, "\n")
		for j, line := range lines {
			switch {
			case j == 0:
				lines[j] = m + line
			case line == "":
				// Blank separator lines stay blank.
			default:
				lines[j] = indent + line
			}
		}
		items = append(items, strings.Join(lines, "\n"))
	}
	return strings.Join(items, "\n"), nil
}

func renderInlines(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case TypeText:
			b.WriteString(escapeText(n.Text))
		case TypeStrong:
			b.WriteString("**")
			b.WriteString(renderInlines(n.Content))
			b.WriteString("**")
		case TypeEm:
			b.WriteString("*")
			b.WriteString(renderInlines(n.Content))
			b.WriteString("*")
		case TypeCode:
			b.WriteString("`")
			b.WriteString(n.Text)
			b.WriteString("`")
		case TypeLink:
			b.WriteString("[")
			b.WriteString(renderInlines(n.Content))
			b.WriteString("](")
			b.WriteString(n.Href)
			b.WriteString(")")
		default:
			b.WriteString(n.Text)
		}
	}
	return b.String()
}

// escapeText backslash-escapes inline metacharacters so literal text
// survives a render/parse cycle unchanged. The parser strips the
// escapes back out, keeping the rendering canonical.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '`', '*', '_', '[', ']':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeLeadingMarker escapes a block marker at the start of a
// paragraph, so text that merely looks like a list item, heading, or
// quote is not reparsed as structure. Emphasis and code markers are
// already escaped inline and stay untouched here.
func escapeLeadingMarker(s string) string {
	trimmed := strings.TrimLeft(s, " ")
	if trimmed == "" {
		return s
	}
	pad := s[:len(s)-len(trimmed)]

	switch trimmed[0] {
	case '#', '>', '-', '+':
		return pad + "\\" + trimmed
	}

	// Ordered list markers: digits followed by '.' or ')'.
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
		return pad + trimmed[:i] + "\\" + trimmed[i:]
	}
	return s
}

func prefixLines(s, prefix, emptyPrefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = emptyPrefix
		} else {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
