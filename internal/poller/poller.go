package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"rideralert/internal/models"
)

const maxBodyBytes = 1 << 20

// idFields are checked in order; the first truthy value wins.
var idFields = []string{"id", "order_id", "orderId"}

var orderJSON = sonic.Config{UseNumber: true}.Froze()

// Client polls the remote endpoint for the currently pending order id.
type Client struct {
	base    *url.URL
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
}

// New creates a client for endpoint. Requests carry no credentials and no custom headers.
func New(endpoint string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		base:    base,
		timeout: timeout,
		client:  &http.Client{Transport: transport},
		now:     time.Now,
	}, nil
}

// URL returns the configured endpoint without the cache buster.
func (c *Client) URL() string {
	return c.base.String()
}

// Poll issues one cache-busting GET and extracts the order id from the JSON body.
// Any error returned is a *Failure.
func (c *Client) Poll(ctx context.Context) (models.OrderSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return models.OrderSignal{}, &Failure{Kind: NetworkFailure, Message: err.Error(), Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		if msg == "" {
			msg = "Network Error"
		}
		return models.OrderSignal{}, &Failure{Kind: NetworkFailure, Message: msg, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return models.OrderSignal{}, &Failure{
			Kind:       HTTPFailure,
			Message:    fmt.Sprintf("Server Error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.OrderSignal{}, &Failure{Kind: NetworkFailure, Message: err.Error(), Err: err}
	}
	return ParseSignal(body)
}

// ParseSignal extracts the order id from a status payload.
func ParseSignal(body []byte) (models.OrderSignal, error) {
	var payload map[string]any
	if err := orderJSON.Unmarshal(body, &payload); err != nil {
		return models.OrderSignal{}, &Failure{Kind: ParseFailure, Message: "Invalid JSON: " + firstLine(err.Error()), Err: err}
	}
	if payload == nil {
		return models.OrderSignal{}, &Failure{Kind: ParseFailure, Message: "Invalid JSON: expected an object"}
	}

	for _, field := range idFields {
		if id, ok := coerceID(payload[field]); ok {
			return models.OrderSignal{ID: id, Present: true}, nil
		}
	}
	return models.OrderSignal{}, nil
}

func (c *Client) requestURL() string {
	u := *c.base
	q := u.Query()
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// coerceID renders a truthy JSON value as an id. Zero, empty strings, false,
// null, objects and arrays are treated as absent.
func coerceID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		// ids must survive a round trip through the session file unchanged
		return models.CleanText(x), x != ""
	case bool:
		if x {
			return "true", true
		}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			if i == 0 {
				return "", false
			}
			return strconv.FormatInt(i, 10), true
		}
		if f, err := x.Float64(); err == nil {
			return formatFloat(f)
		}
		return x.String(), true
	case float64:
		return formatFloat(x)
	}
	return "", false
}

// firstLine drops the multi-line body excerpt sonic appends to syntax errors.
func firstLine(msg string) string {
	line, _, _ := strings.Cut(msg, "\n")
	return strings.TrimSpace(line)
}

func formatFloat(f float64) (string, bool) {
	if f == 0 || math.IsNaN(f) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}
