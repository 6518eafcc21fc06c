package facade

import "github.com/klppl/sitefed/internal/schema"

// SearchOptions is the Go rendering of spec.md §4.3's SearchOptions:
// either an exact-match map or a predicate tree, plus optional sort and
// fetch bound.
type SearchOptions struct {
	Exact map[string]string
	Pred  *schema.Predicate
	Sort  []schema.SortField
	Fetch int
}

func (o SearchOptions) toQuery() schema.Query {
	return schema.Query{Exact: o.Exact, Pred: o.Pred, Sort: o.Sort, Fetch: o.Fetch}
}
