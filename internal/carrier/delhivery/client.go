// Package delhivery is an HTTP client for the Delhivery shipping API.
package delhivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-orders/internal/domain/shipment"
	"github.com/xenking/kart-orders/internal/jxpath"
)

// maxBody caps how much of a carrier response is read.
const maxBody = 4 << 20

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// CancelEndpoint is one known way of cancelling a waybill.
type CancelEndpoint struct {
	Method string
	Path   string
	// Form sends the request form-encoded instead of as JSON.
	Form bool
}

// DefaultCancelEndpoints are tried in order until one succeeds.
var DefaultCancelEndpoints = []CancelEndpoint{
	{Method: http.MethodPost, Path: "/api/p/edit"},
	{Method: http.MethodPost, Path: "/api/p/edit", Form: true},
	{Method: http.MethodPost, Path: "/api/p/cancel", Form: true},
}

// Client talks to the carrier API.
type Client struct {
	base   string
	token  string
	http   *http.Client
	cancel []CancelEndpoint
}

var _ shipment.Carrier = (*Client)(nil)

// New creates a Client. The transport is instrumented with OpenTelemetry.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("carrier base url and token are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cancel: DefaultCancelEndpoints,
	}, nil
}

// Create books a shipment. The manifest is sent as form field data with
// format=json.
func (c *Client) Create(ctx context.Context, req shipment.Request) (*shipment.Response, error) {
	form := url.Values{}
	form.Set("format", "json")
	form.Set("data", string(encodeManifest(req)))

	status, body, err := c.do(ctx, http.MethodPost, "/api/cmu/create.json",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	if status/100 != 2 || rejected(body) {
		return nil, &shipment.CarrierError{StatusCode: status, Body: body}
	}
	return &shipment.Response{Raw: body}, nil
}

// Cancel cancels a waybill, trying each known endpoint until one accepts.
func (c *Client) Cancel(ctx context.Context, awb string) error {
	var lastErr error
	for _, ep := range c.cancel {
		var (
			contentType string
			payload     []byte
		)
		if ep.Form {
			contentType = "application/x-www-form-urlencoded"
			payload = []byte(url.Values{"waybill": {awb}, "cancellation": {"true"}}.Encode())
		} else {
			contentType = "application/json"
			e := jx.GetEncoder()
			e.ObjStart()
			e.FieldStart("waybill")
			e.Str(awb)
			e.FieldStart("cancellation")
			e.Str("true")
			e.ObjEnd()
			payload = append([]byte(nil), e.Bytes()...)
			jx.PutEncoder(e)
		}

		status, body, err := c.do(ctx, ep.Method, ep.Path, contentType, bytes.NewReader(payload))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			lastErr = errors.Wrapf(err, "%s %s", ep.Method, ep.Path)
			continue
		}
		if status/100 == 2 && !rejected(body) {
			return nil
		}
		lastErr = errors.Wrapf(&shipment.CarrierError{StatusCode: status, Body: body}, "%s %s", ep.Method, ep.Path)
	}
	return errors.Wrapf(lastErr, "cancel waybill: %d endpoints failed", len(c.cancel))
}

// Label fetches the shipping label. The carrier either returns the PDF
// directly or a JSON document linking to it.
func (c *Client) Label(ctx context.Context, awb string) ([]byte, error) {
	q := url.Values{"wbns": {awb}, "pdf": {"true"}}
	status, body, err := c.do(ctx, http.MethodGet, "/api/p/packing_slip?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, &shipment.CarrierError{StatusCode: status, Body: body}
	}
	if bytes.HasPrefix(body, []byte("%PDF")) {
		return body, nil
	}
	link, ok := jxpath.Lookup(body, "packages", "0", "pdf_download_link")
	if !ok {
		return nil, &shipment.CarrierError{StatusCode: status, Body: body}
	}
	status, doc, err := c.fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, &shipment.CarrierError{StatusCode: status, Body: doc}
	}
	return doc, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(req)
}

// fetch downloads an absolute URL without the API token.
func (c *Client) fetch(ctx context.Context, link string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "carrier request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read carrier response")
	}
	return resp.StatusCode, body, nil
}

// rejected reports a 2xx reply whose body still signals failure.
func rejected(body []byte) bool {
	if v, ok := jxpath.Lookup(body, "success"); ok && v == "false" {
		return true
	}
	if v, ok := jxpath.Lookup(body, "status"); ok && v == "false" {
		return true
	}
	return false
}
