package mgmt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName    = "aio-lifecycle"
	moduleVersion = "v1.0.0"

	defaultPollFrequency = 5 * time.Second
)

// ResourceAPI is the generic management-plane surface used by the lifecycle engines.
// Every write returns a Future; callers block on it to keep writes strictly ordered.
type ResourceAPI interface {
	Get(ctx context.Context, id, apiVersion string) (Resource, error)
	List(ctx context.Context, collectionID, apiVersion string) ([]Resource, error)
	BeginCreateOrUpdate(ctx context.Context, id, apiVersion string, body Resource) (Future, error)
	BeginDelete(ctx context.Context, id, apiVersion string) (Future, error)
	Update(ctx context.Context, id, apiVersion string, patch Resource) (Resource, error)
}

// ResourceClient implements ResourceAPI on the azcore ARM pipeline.
type ResourceClient struct {
	internal      *arm.Client
	pollFrequency time.Duration
}

// retryStatusCodes are the only statuses the default client replays. 4xx responses, 408 and 429
// included, surface to the caller.
var retryStatusCodes = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// NewResourceClient creates a generic resource client that retries transient server errors only.
func NewResourceClient(cred azcore.TokenCredential, options *arm.ClientOptions) (*ResourceClient, error) {
	opts := copyOptions(options)
	opts.Retry.StatusCodes = append([]int(nil), retryStatusCodes...)
	return newResourceClient(cred, opts)
}

// NewNoRetryResourceClient creates a client whose transport never retries.
// Upgrade patches go through it so ambiguous failures surface instead of being replayed.
func NewNoRetryResourceClient(cred azcore.TokenCredential, options *arm.ClientOptions) (*ResourceClient, error) {
	opts := copyOptions(options)
	opts.Retry = policy.RetryOptions{MaxRetries: -1}
	return newResourceClient(cred, opts)
}

func copyOptions(options *arm.ClientOptions) *arm.ClientOptions {
	opts := arm.ClientOptions{}
	if options != nil {
		opts = *options
	}
	return &opts
}

func newResourceClient(cred azcore.TokenCredential, options *arm.ClientOptions) (*ResourceClient, error) {
	cl, err := arm.NewClient(moduleName, moduleVersion, cred, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource client: %w", err)
	}
	return &ResourceClient{internal: cl, pollFrequency: defaultPollFrequency}, nil
}

// Get fetches a single resource.
func (c *ResourceClient) Get(ctx context.Context, id, apiVersion string) (Resource, error) {
	req, err := c.newRequest(ctx, http.MethodGet, runtime.JoinPaths(c.internal.Endpoint(), id), apiVersion)
	if err != nil {
		return nil, err
	}
	resp, err := c.internal.Pipeline().Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}
	out := Resource{}
	if err := runtime.UnmarshalAsJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", id, err)
	}
	return out, nil
}

type listPage struct {
	Value    []Resource `json:"value"`
	NextLink *string    `json:"nextLink"`
}

// List fetches a collection, following nextLink until exhausted.
func (c *ResourceClient) List(ctx context.Context, collectionID, apiVersion string) ([]Resource, error) {
	pager := runtime.NewPager(runtime.PagingHandler[listPage]{
		More: func(page listPage) bool {
			return page.NextLink != nil && *page.NextLink != ""
		},
		Fetcher: func(ctx context.Context, page *listPage) (listPage, error) {
			var req *policy.Request
			var err error
			if page == nil {
				req, err = c.newRequest(ctx, http.MethodGet, runtime.JoinPaths(c.internal.Endpoint(), collectionID), apiVersion)
			} else {
				req, err = runtime.NewRequest(ctx, http.MethodGet, *page.NextLink)
			}
			if err != nil {
				return listPage{}, err
			}
			resp, err := c.internal.Pipeline().Do(req)
			if err != nil {
				return listPage{}, err
			}
			if !runtime.HasStatusCode(resp, http.StatusOK) {
				return listPage{}, runtime.NewResponseError(resp)
			}
			var out listPage
			if err := runtime.UnmarshalAsJSON(resp, &out); err != nil {
				return listPage{}, err
			}
			return out, nil
		},
	})

	var all []Resource
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
	}
	return all, nil
}

// BeginCreateOrUpdate issues a PUT and returns a future over the long-running operation.
func (c *ResourceClient) BeginCreateOrUpdate(ctx context.Context, id, apiVersion string, body Resource) (Future, error) {
	req, err := c.newRequest(ctx, http.MethodPut, runtime.JoinPaths(c.internal.Endpoint(), id), apiVersion)
	if err != nil {
		return nil, err
	}
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return nil, err
	}
	return c.begin(req, http.StatusOK, http.StatusCreated)
}

// BeginDelete issues a DELETE and returns a future over the long-running operation.
func (c *ResourceClient) BeginDelete(ctx context.Context, id, apiVersion string) (Future, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, runtime.JoinPaths(c.internal.Endpoint(), id), apiVersion)
	if err != nil {
		return nil, err
	}
	return c.begin(req, http.StatusOK, http.StatusAccepted, http.StatusNoContent)
}

// Update issues a PATCH and waits for it to reach a terminal state.
func (c *ResourceClient) Update(ctx context.Context, id, apiVersion string, patch Resource) (Resource, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, runtime.JoinPaths(c.internal.Endpoint(), id), apiVersion)
	if err != nil {
		return nil, err
	}
	if err := runtime.MarshalAsJSON(req, patch); err != nil {
		return nil, err
	}
	future, err := c.begin(req, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	return future.WaitForTerminalState(ctx)
}

func (c *ResourceClient) begin(req *policy.Request, statusCodes ...int) (Future, error) {
	resp, err := c.internal.Pipeline().Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, statusCodes...) {
		return nil, runtime.NewResponseError(resp)
	}
	poller, err := runtime.NewPoller[Resource](resp, c.internal.Pipeline(), nil)
	if err != nil {
		return nil, err
	}
	return &pollerFuture{poller: poller, frequency: c.pollFrequency}, nil
}

func (c *ResourceClient) newRequest(ctx context.Context, method, endpoint, apiVersion string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return nil, err
	}
	query := req.Raw().URL.Query()
	query.Set("api-version", apiVersion)
	req.Raw().URL.RawQuery = query.Encode()
	req.Raw().Header["Accept"] = []string{"application/json"}
	return req, nil
}
