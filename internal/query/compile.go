package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/textdex/internal/domain"
)

// Compile parses the argument vector following the index name (the query
// string and its options) into a Plan. Keywords are case-insensitive.
func Compile(args []string) (*Plan, error) {
	if len(args) == 0 {
		return nil, domain.NewQueryError(domain.CodeCompile, "query string required")
	}

	node, err := ParseQuery(args[0])
	if err != nil {
		return nil, err
	}
	plan := &Plan{Query: node}

	p := &argParser{args: args[1:]}
	for p.more() {
		kw := strings.ToUpper(p.next())
		switch kw {
		case "NOCONTENT":
			plan.NoContent = true
		case "VERBATIM":
			plan.Verbatim = true
		case "WITHSCORES":
			plan.WithScores = true
		case "WITHPAYLOADS":
			plan.WithPayloads = true
		case "WITHSORTKEYS":
			plan.WithSortKeys = true
		case "RETURN":
			if err := p.parseReturn(plan); err != nil {
				return nil, err
			}
		case "SORTBY":
			if err := p.parseSortBy(plan); err != nil {
				return nil, err
			}
		case "LIMIT":
			if err := p.parseLimit(plan); err != nil {
				return nil, err
			}
		case "GROUPBY":
			if err := p.parseGroupBy(plan); err != nil {
				return nil, err
			}
		case "REDUCE":
			if err := p.parseReduce(plan); err != nil {
				return nil, err
			}
		case "WITHCURSOR":
			plan.WithCursor = true
			if err := p.parseCursorOpts(plan); err != nil {
				return nil, err
			}
		default:
			return nil, domain.NewQueryError(domain.CodeCompile, "unknown argument `%s`", kw)
		}
	}
	return plan, nil
}

type argParser struct {
	args []string
	pos  int
}

func (p *argParser) more() bool   { return p.pos < len(p.args) }
func (p *argParser) next() string { s := p.args[p.pos]; p.pos++; return s }
func (p *argParser) peek() string { return p.args[p.pos] }

func (p *argParser) needInt(what string) (int64, error) {
	if !p.more() {
		return 0, domain.NewQueryError(domain.CodeCompile, "missing value for %s", what)
	}
	n, err := strconv.ParseInt(p.next(), 10, 64)
	if err != nil {
		return 0, domain.NewQueryError(domain.CodeCompile, "bad value for %s", what)
	}
	return n, nil
}

func (p *argParser) parseReturn(plan *Plan) error {
	n, err := p.needInt("RETURN")
	if err != nil {
		return err
	}
	if n < 0 || int64(len(p.args)-p.pos) < n {
		return domain.NewQueryError(domain.CodeCompile, "bad RETURN count")
	}
	plan.Return = make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		plan.Return = append(plan.Return, stripProperty(p.next()))
	}
	return nil
}

func (p *argParser) parseSortBy(plan *Plan) error {
	if !p.more() {
		return domain.NewQueryError(domain.CodeCompile, "missing SORTBY field")
	}
	sk := SortKey{Field: stripProperty(p.next())}
	if p.more() {
		switch strings.ToUpper(p.peek()) {
		case "ASC":
			p.next()
		case "DESC":
			p.next()
			sk.Desc = true
		}
	}
	ensureArrange(plan).SortBy = append(plan.Arrange.SortBy, sk)
	return nil
}

func (p *argParser) parseLimit(plan *Plan) error {
	off, err := p.needInt("LIMIT")
	if err != nil {
		return err
	}
	num, err := p.needInt("LIMIT")
	if err != nil {
		return err
	}
	if off < 0 || num < 0 {
		return domain.NewQueryError(domain.CodeCompile, "LIMIT values must be non-negative")
	}
	a := ensureArrange(plan)
	a.Offset = off
	a.Num = num
	return nil
}

func (p *argParser) parseGroupBy(plan *Plan) error {
	if plan.Group != nil {
		return domain.NewQueryError(domain.CodeCompile, "multiple GROUPBY steps not supported")
	}
	n, err := p.needInt("GROUPBY")
	if err != nil {
		return err
	}
	if n <= 0 || int64(len(p.args)-p.pos) < n {
		return domain.NewQueryError(domain.CodeCompile, "bad GROUPBY count")
	}
	g := &GroupStep{}
	for i := int64(0); i < n; i++ {
		g.Properties = append(g.Properties, stripProperty(p.next()))
	}
	plan.Group = g
	return nil
}

func (p *argParser) parseReduce(plan *Plan) error {
	if plan.Group == nil {
		return domain.NewQueryError(domain.CodeCompile, "REDUCE without GROUPBY")
	}
	if !p.more() {
		return domain.NewQueryError(domain.CodeCompile, "missing REDUCE function")
	}
	kind := ReducerKind(strings.ToUpper(p.next()))
	switch kind {
	case ReduceCount, ReduceSum, ReduceAvg, ReduceMin, ReduceMax:
	default:
		return domain.NewQueryError(domain.CodeCompile, "unknown reducer `%s`", string(kind))
	}
	nargs, err := p.needInt("REDUCE")
	if err != nil {
		return err
	}
	red := Reducer{Kind: kind}
	if kind == ReduceCount {
		if nargs != 0 {
			return domain.NewQueryError(domain.CodeCompile, "COUNT takes no arguments")
		}
	} else {
		if nargs != 1 || !p.more() {
			return domain.NewQueryError(domain.CodeCompile, "%s takes one property", string(kind))
		}
		red.Property = stripProperty(p.next())
	}
	if p.more() && strings.EqualFold(p.peek(), "AS") {
		p.next()
		if !p.more() {
			return domain.NewQueryError(domain.CodeCompile, "missing alias after AS")
		}
		red.Alias = p.next()
	}
	if red.Alias == "" {
		red.Alias = defaultReducerAlias(red)
	}
	plan.Group.Reducers = append(plan.Group.Reducers, red)
	return nil
}

func (p *argParser) parseCursorOpts(plan *Plan) error {
	for p.more() {
		switch strings.ToUpper(p.peek()) {
		case "COUNT":
			p.next()
			n, err := p.needInt("COUNT")
			if err != nil {
				return err
			}
			if n <= 0 {
				return domain.NewQueryError(domain.CodeCompile, "COUNT must be positive")
			}
			plan.CursorCount = int(n)
		case "MAXIDLE":
			p.next()
			n, err := p.needInt("MAXIDLE")
			if err != nil {
				return err
			}
			if n <= 0 {
				return domain.NewQueryError(domain.CodeCompile, "MAXIDLE must be positive")
			}
			plan.CursorMaxIdle = time.Duration(n) * time.Millisecond
		default:
			return nil
		}
	}
	return nil
}

func ensureArrange(plan *Plan) *ArrangeStep {
	if plan.Arrange == nil {
		plan.Arrange = &ArrangeStep{Num: -1}
	}
	return plan.Arrange
}

// stripProperty removes the `@` property sigil aggregate syntax uses.
func stripProperty(s string) string {
	return strings.TrimPrefix(s, "@")
}

func defaultReducerAlias(r Reducer) string {
	if r.Kind == ReduceCount {
		return "count"
	}
	return strings.ToLower(string(r.Kind)) + "_" + r.Property
}
