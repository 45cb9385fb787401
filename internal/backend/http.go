package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Options configures HTTPClient. Zero values fall back to the defaults.
type Options struct {
	BaseURL      string
	TokenizePath string
	PredictPath  string
	ModelsPath   string
	Timeout      time.Duration
	Headers      map[string]string
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:8000"
	}
	if o.TokenizePath == "" {
		o.TokenizePath = "/tokenize"
	}
	if o.PredictPath == "" {
		o.PredictPath = "/lens/execute_selected"
	}
	if o.ModelsPath == "" {
		o.ModelsPath = "/models"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
}

// HTTPClient is a JSON-over-HTTP Client.
type HTTPClient struct {
	opts Options
	do   func(*http.Request) (*http.Response, error)
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options) *HTTPClient {
	opts.defaults()
	hc := &http.Client{Timeout: opts.Timeout}
	return &HTTPClient{opts: opts, do: hc.Do}
}

func joinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *HTTPClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	url := joinURL(c.opts.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrapf(err, "build request %s", url)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.WithStack(&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", url)
	}
	return nil
}

type tokenizeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type tokenPiece struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Tokenize posts the text and returns the token pieces in order.
func (c *HTTPClient) Tokenize(ctx context.Context, text, model string) ([]string, error) {
	var resp []tokenPiece
	if err := c.call(ctx, http.MethodPost, c.opts.TokenizePath, tokenizeRequest{Text: text, Model: model}, &resp); err != nil {
		return nil, errors.Wrap(err, "tokenize")
	}
	pieces := make([]string, len(resp))
	for i, p := range resp {
		pieces[i] = p.Text
	}
	return pieces, nil
}

// Predict sends one prediction request.
func (c *HTTPClient) Predict(ctx context.Context, req PredictRequest) (Predictions, error) {
	out := Predictions{}
	if err := c.call(ctx, http.MethodPost, c.opts.PredictPath, req, &out); err != nil {
		return nil, errors.Wrap(err, "predict")
	}
	return out, nil
}

func (c *HTTPClient) Models(ctx context.Context) (ModelList, error) {
	var out ModelList
	if err := c.call(ctx, http.MethodGet, c.opts.ModelsPath, nil, &out); err != nil {
		return ModelList{}, errors.Wrap(err, "models")
	}
	return out, nil
}
