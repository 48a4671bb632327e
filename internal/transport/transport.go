package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
)

// Request описывает один вызов шлюза. Path задается относительно базового URL и начинается с "/".
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header // Передаются как есть (proxy passthrough)
	Body   []byte
	Admin  bool // Аутентификация через X-Admin-Token вместо Bearer
	NoAuth bool // Без учетных данных и без проверки срока токена (health)
}

// Response хранит сырой ответ шлюза, тело уже вычитано.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Sender задает контракт транспорта. Его реализуют HTTPTransport и обертка надежности.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type Options struct {
	BaseURL    string
	AgentToken string
	AdminToken string
	TraceID    string        // Пустой: генерируется один на клиента
	Timeout    time.Duration // На один вызов
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPTransport ставит заголовки, применяет таймаут и раскладывает сетевые ошибки.
// Сам ничего не повторяет.
type HTTPTransport struct {
	baseURL    string
	agentToken string
	adminToken string
	agentExp   time.Time
	traceID    string
	timeout    time.Duration
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewHTTPTransport(opts Options) *HTTPTransport {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.TraceID == "" {
		opts.TraceID = NewTraceID()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = infra.DefaultGatewayURL
	}

	return &HTTPTransport{
		baseURL:    baseURL,
		agentToken: opts.AgentToken,
		adminToken: opts.AdminToken,
		agentExp:   tokenExpiry(opts.AgentToken),
		traceID:    opts.TraceID,
		timeout:    opts.Timeout,
		client:     opts.HTTPClient,
		logger:     opts.Logger.Named("transport"),
		now:        time.Now,
	}
}

// BaseURL возвращает нормализованный адрес шлюза (без завершающего слэша).
func (t *HTTPTransport) BaseURL() string { return t.baseURL }

// TraceID Trace-ID клиента по умолчанию.
func (t *HTTPTransport) TraceID() string { return t.traceID }

// HasAdminToken сообщает, можно ли выполнять админские операции.
func (t *HTTPTransport) HasAdminToken() bool { return t.adminToken != "" }

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	// 1. Fail-fast по учетным данным: в сеть не идем
	if req.Admin && t.adminToken == "" {
		return nil, domain.NewAuthenticationError("Admin token required for this operation", 0)
	}
	if !req.Admin && !req.NoAuth {
		if err := checkExpiry(t.agentExp, t.now()); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, &domain.MeshGuardError{Message: "failed to build request", Err: err}
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	t.logger.Debug("gateway call",
		zap.String("method", httpReq.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("trace_id", httpReq.Header.Get(infra.HeaderTraceID)),
		zap.Duration("took", time.Since(start)),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (t *HTTPTransport) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	// Заголовки протокола перекрывают пользовательские
	httpReq.Header.Set(infra.HeaderTraceID, resolveTraceID(ctx, t.traceID))
	switch {
	case req.NoAuth:
		// health ходит без учетных данных
	case req.Admin:
		httpReq.Header.Set(infra.HeaderAdminToken, t.adminToken)
	case t.agentToken != "":
		httpReq.Header.Set(infra.HeaderAuthorization, "Bearer "+t.agentToken)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	return httpReq, nil
}

// classify раскладывает ошибку net/http по таксономии SDK.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return &domain.MeshGuardError{Message: "request canceled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError("request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTimeoutError("request timed out", err)
	}
	return domain.NewConnectionError("failed to connect to gateway", err)
}
