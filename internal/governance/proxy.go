package governance

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/xela07ax/meshguard-go/internal/decoder"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
	"go.uber.org/zap"
)

// ProxyRequest описывает запрос, который шлюз перешлет дальше после проверки действия.
type ProxyRequest struct {
	Method   string
	Path     string // Путь за /proxy/, ведущий слэш необязателен
	Action   string
	Resource string
	Query    url.Values
	Header   http.Header
	Body     []byte
}

// Request проверяет действие, затем пересылает запрос через /proxy/<path> как есть.
// Ответ шлюза возвращается без изменений; статусы >= 400 раскладываются декодером.
func (c *Client) Request(ctx context.Context, req ProxyRequest) (*transport.Response, error) {
	if _, err := c.EnforceResource(ctx, req.Action, req.Resource); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(infra.HeaderAction, req.Action)
	if req.Resource != "" {
		header.Set(infra.HeaderResource, req.Resource)
	}

	resp, err := c.sender.Send(ctx, &transport.Request{
		Method: method,
		Path:   infra.PathProxyPrefix + strings.TrimLeft(req.Path, "/"),
		Query:  req.Query,
		Header: header,
		Body:   req.Body,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.ErrorFromResponse(resp); err != nil {
		c.logger.Debug("proxied request failed",
			zap.String("method", method),
			zap.String("path", req.Path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, err
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, path, action string) (*transport.Response, error) {
	return c.Request(ctx, ProxyRequest{Method: http.MethodGet, Path: path, Action: action})
}

func (c *Client) Post(ctx context.Context, path, action string, body []byte) (*transport.Response, error) {
	return c.Request(ctx, ProxyRequest{Method: http.MethodPost, Path: path, Action: action, Body: body})
}

func (c *Client) Put(ctx context.Context, path, action string, body []byte) (*transport.Response, error) {
	return c.Request(ctx, ProxyRequest{Method: http.MethodPut, Path: path, Action: action, Body: body})
}

func (c *Client) Delete(ctx context.Context, path, action string) (*transport.Response, error) {
	return c.Request(ctx, ProxyRequest{Method: http.MethodDelete, Path: path, Action: action})
}
