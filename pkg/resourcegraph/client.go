package resourcegraph

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/sirupsen/logrus"
)

// QueryClient is the subset of the resource graph SDK client we need.
// It exists to allow lightweight mocking in unit tests.
type QueryClient interface {
	Resources(ctx context.Context, query armresourcegraph.QueryRequest, options *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error)
}

// Querier runs a graph query and returns every row across pages.
type Querier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// QueryResult holds the concatenated rows of all pages.
type QueryResult struct {
	Data []map[string]any
}

// Client pages through the resource catalog for a fixed subscription set.
type Client struct {
	client        QueryClient
	subscriptions []string
	pageSize      int32
	logger        *logrus.Logger
}

// NewClient creates a graph client backed by the Azure SDK.
func NewClient(cred azcore.TokenCredential, options *arm.ClientOptions, subscriptions []string, logger *logrus.Logger) (*Client, error) {
	sdkClient, err := armresourcegraph.NewClient(cred, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource graph client: %w", err)
	}
	return NewClientWithQueryClient(sdkClient, subscriptions, logger), nil
}

// NewClientWithQueryClient allows injecting a QueryClient (primarily for tests).
func NewClientWithQueryClient(client QueryClient, subscriptions []string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		client:        client,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// WithPageSize sets the page size used by Query.
func (c *Client) WithPageSize(pageSize int32) *Client {
	c.pageSize = pageSize
	return c
}

// Query satisfies Querier using the client's configured page size.
func (c *Client) Query(ctx context.Context, query string) ([]map[string]any, error) {
	result, err := c.QueryPages(ctx, query, c.pageSize)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// QueryPages sends the query and re-sends it with each continuation token until exhausted,
// concatenating rows in page order. A failing page aborts the whole query.
func (c *Client) QueryPages(ctx context.Context, query string, pageSize int32) (*QueryResult, error) {
	subscriptions := make([]*string, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subscriptions = append(subscriptions, to.StringPtr(sub))
	}

	options := &armresourcegraph.QueryRequestOptions{
		ResultFormat: resultFormatPtr(armresourcegraph.ResultFormatObjectArray),
	}
	if pageSize > 0 {
		options.Top = to.Int32Ptr(pageSize)
	}

	result := &QueryResult{Data: []map[string]any{}}
	page := 0
	for {
		page++
		resp, err := c.client.Resources(ctx, armresourcegraph.QueryRequest{
			Query:         to.StringPtr(query),
			Subscriptions: subscriptions,
			Options:       options,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("resource graph query failed on page %d: %w", page, err)
		}

		rows, err := decodeRows(resp.Data)
		if err != nil {
			return nil, err
		}
		result.Data = append(result.Data, rows...)

		token := to.String(resp.SkipToken)
		if token == "" {
			break
		}
		c.logger.Debugf("Resource graph returned continuation token on page %d", page)
		next := *options
		next.SkipToken = to.StringPtr(token)
		options = &next
	}

	return result, nil
}

func decodeRows(data any) ([]map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	list, ok := data.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected resource graph payload of type %T", data)
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected resource graph row of type %T", item)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func resultFormatPtr(f armresourcegraph.ResultFormat) *armresourcegraph.ResultFormat {
	return &f
}
