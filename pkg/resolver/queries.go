package resolver

import (
	"fmt"
	"strings"
)

// kqlQuote renders s as a single-quoted query literal.
func kqlQuote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

type query struct {
	resourceType string
	filters      []string
}

func newQuery(resourceType string) *query {
	return &query{resourceType: resourceType}
}

func (q *query) where(field, value string) *query {
	if value != "" {
		q.filters = append(q.filters, fmt.Sprintf("| where %s =~ %s", field, kqlQuote(value)))
	}
	return q
}

func (q *query) String() string {
	lines := []string{
		"Resources",
		fmt.Sprintf("| where type =~ %s", kqlQuote(q.resourceType)),
	}
	lines = append(lines, q.filters...)
	lines = append(lines, "| project id, name, type, resourceGroup, location, extendedLocation, properties")
	return strings.Join(lines, "\n")
}
