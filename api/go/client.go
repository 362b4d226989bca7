// Package healthdesk is the HTTP client of the healthdesk API.
package healthdesk

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/aql"
	"github.com/aep/healthdesk/list"
)

type Client struct {
	Server string
	Client *http.Client
}

type ClientOption func(*Client) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = hc
		return nil
	}
}

// WithTLS trusts the server certificates signed by caPath and presents
// certPath/keyPath as client certificate when both are set.
func WithTLS(caPath, certPath, keyPath string) ClientOption {
	return func(c *Client) error {
		tc := &tls.Config{MinVersion: tls.VersionTLS12}

		if caPath != "" {
			pem, err := os.ReadFile(caPath)
			if err != nil {
				return fmt.Errorf("failed to read CA certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return fmt.Errorf("no certificates found in %s", caPath)
			}
			tc.RootCAs = pool
		}

		if certPath != "" && keyPath != "" {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return fmt.Errorf("failed to load client certificate: %w", err)
			}
			tc.Certificates = []tls.Certificate{cert}
		}

		c.Client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tc},
		}
		return nil
	}
}

func NewClient(server string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Server: strings.TrimSuffix(server, "/"),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.Server + "/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// do sends the request and decodes a JSON response into out, when out is
// not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	rsp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= 300 {
		return parseError(rsp)
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(rsp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func parseError(rsp *http.Response) error {
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	json.NewDecoder(rsp.Body).Decode(&msg)

	e := api.Error{Code: rsp.StatusCode, Message: msg.Message}
	if e.Message == "" {
		e.Message = msg.Error
	}
	if e.Message == "" {
		e.Message = http.StatusText(rsp.StatusCode)
	}
	return e
}

func kindPath(kind string, rest ...string) string {
	p := "/" + url.PathEscape(kind)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func decodeList(rsp *api.ListResponse[json.RawMessage]) (*api.ListResponse[api.Record], error) {
	out := &api.ListResponse[api.Record]{
		Kind:       rsp.Kind,
		Items:      make([]api.Record, 0, len(rsp.Items)),
		Pagination: rsp.Pagination,
	}
	for _, raw := range rsp.Items {
		rec, err := api.Decode(rsp.Kind, raw)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, rec)
	}
	return out, nil
}

// List fetches one page of q.
func (c *Client) List(ctx context.Context, q *aql.Query) (*api.ListResponse[api.Record], error) {
	var rsp api.ListResponse[json.RawMessage]
	if err := c.do(ctx, http.MethodGet, kindPath(q.Kind), q.Values(), nil, &rsp); err != nil {
		return nil, err
	}
	return decodeList(&rsp)
}

// Query fetches one page of a textual list query such as
// `(sort=year:desc) partner-mapping(region=Northern)`.
func (c *Client) Query(ctx context.Context, q string) (*api.ListResponse[api.Record], error) {
	var rsp api.ListResponse[json.RawMessage]
	if err := c.do(ctx, http.MethodGet, "/q", url.Values{"q": {q}}, nil, &rsp); err != nil {
		return nil, err
	}
	return decodeList(&rsp)
}

// All loads every record of kind, page by page. It satisfies view.Fetcher.
func (c *Client) All(ctx context.Context, kind string) ([]api.Record, error) {
	var out []api.Record
	for rec, err := range c.Records(ctx, &aql.Query{Kind: kind}) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns the typed record.
func (c *Client) Get(ctx context.Context, kind, id string) (api.Record, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, kindPath(kind, id), nil, nil, &raw); err != nil {
		return nil, err
	}
	return api.Decode(kind, raw)
}

// GetDocument returns the record as stored, without typing it.
func (c *Client) GetDocument(ctx context.Context, kind, id string) (map[string]any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, kindPath(kind, id), nil, nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) Create(ctx context.Context, kind string, doc map[string]any) (*api.MutationResult, error) {
	var res api.MutationResult
	if err := c.do(ctx, http.MethodPost, kindPath(kind), nil, doc, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Update patches a record. A "version" entry in patch makes the update
// fail with 409 when the record has moved on.
func (c *Client) Update(ctx context.Context, kind, id string, patch map[string]any) (*api.MutationResult, error) {
	var res api.MutationResult
	if err := c.do(ctx, http.MethodPatch, kindPath(kind, id), nil, patch, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Delete(ctx context.Context, kind, id string) error {
	return c.do(ctx, http.MethodDelete, kindPath(kind, id), nil, nil, nil)
}

// Export downloads the CSV of every record matching q and returns it with
// the file name the server suggested.
func (c *Client) Export(ctx context.Context, q *aql.Query) (data []byte, filename string, err error) {
	v := q.Values()
	v.Del("page")
	v.Del("pageSize")

	req, err := c.newRequest(ctx, http.MethodGet, kindPath(q.Kind, api.PathExport), v, nil)
	if err != nil {
		return nil, "", err
	}
	rsp, err := c.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= 300 {
		return nil, "", parseError(rsp)
	}

	data, err = io.ReadAll(rsp.Body)
	if err != nil {
		return nil, "", err
	}
	if _, params, err := mime.ParseMediaType(rsp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return data, filename, nil
}

// Suggest returns suggestions for q. A non-empty client mixes in that
// client's recent searches.
func (c *Client) Suggest(ctx context.Context, kind, q, client string) (*api.SuggestResponse, error) {
	v := url.Values{"q": {q}}
	if client != "" {
		v.Set("client", client)
	}
	var res api.SuggestResponse
	if err := c.do(ctx, http.MethodGet, kindPath(kind, api.PathSuggest), v, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) History(ctx context.Context, client string) (*api.HistoryResponse, error) {
	var res api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/history", url.Values{"client": {client}}, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RecordHistory(ctx context.Context, client, query string) (*api.HistoryResponse, error) {
	var res api.HistoryResponse
	body := api.HistoryRequest{Client: client, Query: query}
	if err := c.do(ctx, http.MethodPost, "/history", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ClearHistory(ctx context.Context, client string) error {
	return c.do(ctx, http.MethodDelete, "/history", url.Values{"client": {client}}, nil, nil)
}

// pageQuery returns q set to fetch page n at the largest page size.
func pageQuery(q *aql.Query, n int) *aql.Query {
	p := *q
	p.Page = n
	p.PageSize = list.MaxPageSize
	return &p
}
