// Package query compiles command arguments into an executable plan: a query
// AST over the inverted index plus the projection, arrangement, grouping,
// and cursor options that shape the result pipeline.
package query

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/index"
)

// NodeKind discriminates query AST nodes.
type NodeKind uint8

const (
	// NodeAll matches every live document (`*`).
	NodeAll NodeKind = iota
	// NodeTerm matches documents containing a single term.
	NodeTerm
	// NodeTag matches an exact tag value (`@field:{value}`).
	NodeTag
	// NodeIntersect requires all children (space-separated terms).
	NodeIntersect
	// NodeUnion requires any child (`|`-separated groups).
	NodeUnion
)

// Node is one query AST node.
type Node struct {
	Kind     NodeKind
	Term     string
	Field    string
	Value    string
	Children []*Node
}

// Matches is a materialized evaluation result: the matched doc-id set and
// the text terms that contributed (inputs to the scorer).
type Matches struct {
	IDs   *roaring.Bitmap
	Terms []string
}

// Eval evaluates the AST against ix, materializing the matched doc-id set.
func (n *Node) Eval(ix *index.Index) *Matches {
	m := &Matches{}
	m.IDs = n.eval(ix, m)
	return m
}

func (n *Node) eval(ix *index.Index, m *Matches) *roaring.Bitmap {
	switch n.Kind {
	case NodeAll:
		return ix.AllDocs()
	case NodeTerm:
		m.Terms = append(m.Terms, n.Term)
		return ix.PostingSet(n.Term)
	case NodeTag:
		return ix.TagSet(n.Field, n.Value)
	case NodeIntersect:
		var acc *roaring.Bitmap
		for _, c := range n.Children {
			bm := c.eval(ix, m)
			if acc == nil {
				acc = bm
			} else {
				acc.And(bm)
			}
		}
		if acc == nil {
			acc = roaring.New()
		}
		return acc
	case NodeUnion:
		acc := roaring.New()
		for _, c := range n.Children {
			acc.Or(c.eval(ix, m))
		}
		return acc
	default:
		return roaring.New()
	}
}

// ParseQuery parses the query-string argument into an AST. The grammar is a
// flat boolean form: whitespace intersects, `|` unions, `*` matches all,
// `@field:{value}` matches a tag.
func ParseQuery(raw string) (*Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.NewQueryError(domain.CodeParse, "empty query")
	}
	if raw == "*" {
		return &Node{Kind: NodeAll}, nil
	}

	var unions []*Node
	for _, group := range strings.Split(raw, "|") {
		node, err := parseGroup(group)
		if err != nil {
			return nil, err
		}
		if node != nil {
			unions = append(unions, node)
		}
	}
	switch len(unions) {
	case 0:
		return nil, domain.NewQueryError(domain.CodeParse, "empty query")
	case 1:
		return unions[0], nil
	default:
		return &Node{Kind: NodeUnion, Children: unions}, nil
	}
}

func parseGroup(group string) (*Node, error) {
	var terms []*Node
	for _, tok := range strings.Fields(group) {
		node, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		terms = append(terms, node)
	}
	switch len(terms) {
	case 0:
		return nil, nil
	case 1:
		return terms[0], nil
	default:
		return &Node{Kind: NodeIntersect, Children: terms}, nil
	}
}

func parseToken(tok string) (*Node, error) {
	if strings.HasPrefix(tok, "@") {
		field, rest, ok := strings.Cut(tok[1:], ":")
		if !ok || !strings.HasPrefix(rest, "{") || !strings.HasSuffix(rest, "}") {
			return nil, domain.NewQueryError(domain.CodeParse,
				"bad tag filter %q, expected @field:{value}", tok)
		}
		return &Node{
			Kind:  NodeTag,
			Field: field,
			Value: rest[1 : len(rest)-1],
		}, nil
	}
	return &Node{Kind: NodeTerm, Term: strings.ToLower(tok)}, nil
}

// Explain renders the AST as an indented tree for FT.EXPLAIN.
func (n *Node) Explain() string {
	var sb strings.Builder
	n.explain(&sb, 0)
	return sb.String()
}

func (n *Node) explain(sb *strings.Builder, depth int) {
	pad := strings.Repeat("  ", depth)
	switch n.Kind {
	case NodeAll:
		fmt.Fprintf(sb, "%s<ALL>\n", pad)
	case NodeTerm:
		fmt.Fprintf(sb, "%s%s\n", pad, n.Term)
	case NodeTag:
		fmt.Fprintf(sb, "%sTAG:@%s {\n%s  %s\n%s}\n", pad, n.Field, pad, n.Value, pad)
	case NodeIntersect:
		fmt.Fprintf(sb, "%sINTERSECT {\n", pad)
		for _, c := range n.Children {
			c.explain(sb, depth+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	case NodeUnion:
		fmt.Fprintf(sb, "%sUNION {\n", pad)
		for _, c := range n.Children {
			c.explain(sb, depth+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	}
}
