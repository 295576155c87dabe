package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DatabaseClient handles PostgREST operations.
type DatabaseClient struct {
	client *Client
}

// From starts a query builder for a table.
func (d *DatabaseClient) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client:  d.client,
		table:   table,
		columns: "*",
	}
}

// RPC calls a Postgres function with the anon key.
func (d *DatabaseClient) RPC(ctx context.Context, fn string, params any) ([]byte, error) {
	return d.rpc(ctx, fn, params, "")
}

// RPCWithToken calls a Postgres function on behalf of a user.
func (d *DatabaseClient) RPCWithToken(ctx context.Context, fn string, params any, accessToken string) ([]byte, error) {
	return d.rpc(ctx, fn, params, accessToken)
}

func (d *DatabaseClient) rpc(ctx context.Context, fn string, params any, accessToken string) ([]byte, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	reqURL := d.client.restURL + "/rpc/" + fn

	var respBody []byte
	var statusCode int
	if accessToken != "" {
		respBody, statusCode, err = d.client.requestWithToken(ctx, "POST", reqURL, body, nil, accessToken)
	} else {
		respBody, statusCode, err = d.client.request(ctx, "POST", reqURL, body, nil)
	}
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	return respBody, nil
}

// =============================================================================
// Query Builder
// =============================================================================

// QueryBuilder builds and executes PostgREST queries.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	filters []string
	orders  []string
	limit   int
	single  bool
	token   string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Single expects exactly one row.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// WithToken executes the query with a user token instead of the anon key.
func (q *QueryBuilder) WithToken(accessToken string) *QueryBuilder {
	q.token = accessToken
	return q
}

// Execute runs a SELECT and returns the raw response.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) == 2 {
			params.Add(parts[0], parts[1])
		}
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.limit))
	}

	reqURL := q.client.restURL + "/" + q.table
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	headers := map[string]string{}
	if q.single {
		headers["Accept"] = "application/vnd.pgrst.object+json"
	}

	body, statusCode, err := q.request(ctx, "GET", reqURL, nil, headers)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: statusCode, Body: body}, nil
}

// ExecuteInsert runs an INSERT with the given row.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	headers := map[string]string{
		"Prefer": "return=representation",
	}

	respBody, statusCode, err := q.request(ctx, "POST", q.client.restURL+"/"+q.table, body, headers)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: statusCode, Body: respBody}, nil
}

func (q *QueryBuilder) request(ctx context.Context, method, reqURL string, body []byte, headers map[string]string) ([]byte, int, error) {
	if q.token != "" {
		return q.client.requestWithToken(ctx, method, reqURL, body, headers, q.token)
	}
	return q.client.request(ctx, method, reqURL, body, headers)
}

// Err converts a >=400 response into a typed *Error, nil otherwise.
func (r *Response) Err() error {
	if r.StatusCode >= 400 {
		return parseError(r.Body, r.StatusCode)
	}
	return nil
}
