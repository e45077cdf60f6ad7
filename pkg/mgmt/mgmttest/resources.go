// Package mgmttest provides in-memory fakes of the management-plane clients for unit tests.
package mgmttest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	jsonpatch "github.com/evanphx/json-patch"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// HTTPError returns a real *azcore.ResponseError with the given status.
func HTTPError(status int) error {
	req, _ := http.NewRequest(http.MethodGet, "https://management.azure.com/fake", nil)
	body := fmt.Sprintf(`{"error":{"code":"Fake%d","message":"injected failure"}}`, status)
	return runtime.NewResponseError(&http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	})
}

// Call is one recorded ResourceAPI invocation.
type Call struct {
	Method      string
	ID          string
	APIVersion  string
	Body        mgmt.Resource
	Correlation mgmt.Correlation
}

// ResourceStore is a flat id-keyed resource store implementing mgmt.ResourceAPI.
// Ids compare case-insensitively; List returns direct children in insertion order.
type ResourceStore struct {
	mu        sync.Mutex
	resources map[string]mgmt.Resource
	order     []string
	failures  map[string]error
	calls     []Call
}

// NewResourceStore returns an empty store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		resources: map[string]mgmt.Resource{},
		failures:  map[string]error{},
	}
}

var _ mgmt.ResourceAPI = (*ResourceStore)(nil)

// Put seeds a resource keyed by its "id" field.
func (s *ResourceStore) Put(resources ...mgmt.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range resources {
		s.put(r.ID(), r.Clone())
	}
}

// Resource returns a copy of the stored resource.
func (s *ResourceStore) Resource(id string) (mgmt.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[key(id)]
	return r.Clone(), ok
}

// FailOn makes the next calls of method on id return err.
func (s *ResourceStore) FailOn(method, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+key(id)] = err
}

// Calls returns every recorded call, optionally filtered by method.
func (s *ResourceStore) Calls(methods ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
			}
		}
	}
	return out
}

// Writes returns every PUT, PATCH and DELETE call.
func (s *ResourceStore) Writes() []Call {
	return s.Calls(http.MethodPut, http.MethodPatch, http.MethodDelete)
}

func (s *ResourceStore) Get(ctx context.Context, id, apiVersion string) (mgmt.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, http.MethodGet, id, apiVersion, nil); err != nil {
		return nil, err
	}
	r, ok := s.resources[key(id)]
	if !ok {
		return nil, HTTPError(http.StatusNotFound)
	}
	return r.Clone(), nil
}

func (s *ResourceStore) List(ctx context.Context, collectionID, apiVersion string) ([]mgmt.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, http.MethodGet, collectionID, apiVersion, nil); err != nil {
		return nil, err
	}
	prefix := key(collectionID) + "/"
	var out []mgmt.Resource
	for _, k := range s.order {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, s.resources[k].Clone())
	}
	return out, nil
}

func (s *ResourceStore) BeginCreateOrUpdate(ctx context.Context, id, apiVersion string, body mgmt.Resource) (mgmt.Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, http.MethodPut, id, apiVersion, body); err != nil {
		return nil, err
	}
	stored := body.Clone()
	if stored == nil {
		stored = mgmt.Resource{}
	}
	stored["id"] = id
	s.put(id, stored)
	return mgmt.CompletedFuture(stored.Clone(), nil), nil
}

func (s *ResourceStore) BeginDelete(ctx context.Context, id, apiVersion string) (mgmt.Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, http.MethodDelete, id, apiVersion, nil); err != nil {
		return nil, err
	}
	k := key(id)
	delete(s.resources, k)
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return mgmt.CompletedFuture(nil, nil), nil
}

// Update applies patch with JSON merge-patch semantics.
func (s *ResourceStore) Update(ctx context.Context, id, apiVersion string, patch mgmt.Resource) (mgmt.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(ctx, http.MethodPatch, id, apiVersion, patch); err != nil {
		return nil, err
	}
	current, ok := s.resources[key(id)]
	if !ok {
		return nil, HTTPError(http.StatusNotFound)
	}
	original, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, patchDoc)
	if err != nil {
		return nil, err
	}
	updated := mgmt.Resource{}
	if err := json.Unmarshal(merged, &updated); err != nil {
		return nil, err
	}
	s.resources[key(id)] = updated
	return updated.Clone(), nil
}

func (s *ResourceStore) record(ctx context.Context, method, id, apiVersion string, body mgmt.Resource) error {
	call := Call{Method: method, ID: id, APIVersion: apiVersion, Body: body.Clone()}
	if corr, ok := mgmt.CorrelationFromContext(ctx); ok {
		call.Correlation = corr
	}
	s.calls = append(s.calls, call)
	if err, ok := s.failures[method+" "+key(id)]; ok {
		return err
	}
	return nil
}

func (s *ResourceStore) put(id string, r mgmt.Resource) {
	k := key(id)
	if _, exists := s.resources[k]; !exists {
		s.order = append(s.order, k)
	}
	s.resources[k] = r
}

func key(id string) string {
	return strings.ToLower(strings.TrimSuffix(id, "/"))
}
