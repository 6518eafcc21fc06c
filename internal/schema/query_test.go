package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicateMatches(t *testing.T) {
	fields := map[string]string{"siteAddress": "addr1", "categoryId": "cat1"}

	assert.True(t, Eq("siteAddress", "addr1").Matches(fields))
	assert.False(t, Eq("siteAddress", "addr2").Matches(fields))

	and := And(Eq("siteAddress", "addr1"), Eq("categoryId", "cat1"))
	assert.True(t, and.Matches(fields))

	and2 := And(Eq("siteAddress", "addr1"), Eq("categoryId", "nope"))
	assert.False(t, and2.Matches(fields))

	or := Or(Eq("categoryId", "nope"), Eq("categoryId", "cat1"))
	assert.True(t, or.Matches(fields))

	var nilPred *Predicate
	assert.True(t, nilPred.Matches(fields))
}

func TestQueryMatchesCombinesExactAndPredicate(t *testing.T) {
	fields := map[string]string{"siteAddress": "addr1", "categoryId": "cat1"}

	q := Query{Exact: map[string]string{"siteAddress": "addr1"}, Pred: Eq("categoryId", "cat1")}
	assert.True(t, q.Matches(fields))

	q2 := Query{Exact: map[string]string{"siteAddress": "other"}}
	assert.False(t, q2.Matches(fields))

	q3 := Query{}
	assert.True(t, q3.Matches(fields))
}
