// Package doc defines the structured document model stored in workspace
// files, together with its two serializations: canonical markdown text
// (for .md files on native backends) and raw JSON (for .json files and
// the local key-value backend).
package doc

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Block and inline node types. The model is deliberately small: it is a
// storage schema, not an editor schema.
const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeCodeBlock      = "codeBlock"
	TypeBlockquote     = "blockquote"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
	TypeHorizontalRule = "horizontalRule"
	TypeText           = "text"
	TypeStrong         = "strong"
	TypeEm             = "em"
	TypeCode           = "code"
	TypeLink           = "link"
)

// Node is a single node in a document tree.
//
// All fields are typed (no free-form attribute map) so that a document
// survives a JSON round trip byte-identical, which the backup format
// relies on.
type Node struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Level    int    `json:"level,omitempty"`
	Language string `json:"language,omitempty"`
	Href     string `json:"href,omitempty"`
	Content  []Node `json:"content,omitempty"`
}

// Document is the root of a document tree. Type is always "doc".
type Document struct {
	Type    string `json:"type"`
	Content []Node `json:"content,omitempty"`
}

// New returns an empty document.
func New() *Document {
	return &Document{Type: TypeDoc}
}

// NewText returns a document holding a single paragraph of plain text.
func NewText(text string) *Document {
	return &Document{
		Type: TypeDoc,
		Content: []Node{
			{Type: TypeParagraph, Content: []Node{{Type: TypeText, Text: text}}},
		},
	}
}

// Equal reports whether two documents are structurally identical.
// Two nils are equal; nil never equals a non-nil document.
func Equal(a, b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.normalized(), b.normalized())
}

// normalized maps empty content to nil so that documents built by hand
// and documents decoded from JSON compare equal.
func (d *Document) normalized() *Document {
	out := &Document{Type: d.Type}
	if len(d.Content) > 0 {
		out.Content = normalizeNodes(d.Content)
	}
	return out
}

func normalizeNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if len(n.Content) > 0 {
			out[i].Content = normalizeNodes(n.Content)
		} else {
			out[i].Content = nil
		}
	}
	return out
}

// ToJSON serializes the document as raw JSON.
func ToJSON(d *Document) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// FromJSON parses a raw JSON document.
func FromJSON(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if d.Type == "" {
		d.Type = TypeDoc
	}
	return &d, nil
}
