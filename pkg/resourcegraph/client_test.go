package resourcegraph

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueryClient struct {
	pages    []armresourcegraph.ClientResourcesResponse
	failOn   int
	requests []armresourcegraph.QueryRequest
}

func (f *fakeQueryClient) Resources(ctx context.Context, query armresourcegraph.QueryRequest, options *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error) {
	f.requests = append(f.requests, query)
	idx := len(f.requests) - 1
	if f.failOn > 0 && idx+1 == f.failOn {
		return armresourcegraph.ClientResourcesResponse{}, &azcore.ResponseError{StatusCode: 503}
	}
	return f.pages[idx], nil
}

func page(token string, names ...string) armresourcegraph.ClientResourcesResponse {
	rows := make([]any, 0, len(names))
	for _, n := range names {
		rows = append(rows, map[string]any{"name": n})
	}
	resp := armresourcegraph.ClientResourcesResponse{}
	resp.Data = rows
	if token != "" {
		resp.SkipToken = to.StringPtr(token)
	}
	return resp
}

func TestQueryMergesPagesInOrder(t *testing.T) {
	fake := &fakeQueryClient{pages: []armresourcegraph.ClientResourcesResponse{
		page("t1", "a", "b"),
		page("t2", "c"),
		page("", "d"),
	}}
	client := NewClientWithQueryClient(fake, []string{"sub1", "sub2"}, logrus.New())

	result, err := client.QueryPages(context.Background(), "Resources | take 10", 2)
	require.NoError(t, err)

	var names []string
	for _, row := range result.Data {
		names = append(names, row["name"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	require.Len(t, fake.requests, 3)
	assert.Nil(t, fake.requests[0].Options.SkipToken)
	assert.Equal(t, "t1", *fake.requests[1].Options.SkipToken)
	assert.Equal(t, "t2", *fake.requests[2].Options.SkipToken)
	assert.Equal(t, int32(2), *fake.requests[0].Options.Top)
	require.Len(t, fake.requests[0].Subscriptions, 2)
	assert.Equal(t, "sub2", *fake.requests[0].Subscriptions[1])
}

func TestQueryFailsWhenAnyPageFails(t *testing.T) {
	fake := &fakeQueryClient{
		pages:  []armresourcegraph.ClientResourcesResponse{page("t1", "a"), page("", "b")},
		failOn: 2,
	}
	client := NewClientWithQueryClient(fake, []string{"sub1"}, nil)

	_, err := client.Query(context.Background(), "Resources")
	require.Error(t, err)
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, 503, respErr.StatusCode)
}

func TestQueryEmptyResult(t *testing.T) {
	fake := &fakeQueryClient{pages: []armresourcegraph.ClientResourcesResponse{{}}}
	rows, err := NewClientWithQueryClient(fake, nil, nil).Query(context.Background(), "Resources")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
