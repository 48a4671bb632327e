package decoder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
)

const maxMessageLen = 512

// ErrorFromResponse переводит статус ответа в ошибку SDK. Для 2xx/3xx возвращает nil.
func ErrorFromResponse(resp *transport.Response) error {
	code := resp.StatusCode
	if code < 400 {
		return nil
	}

	msg := serverMessage(resp.Body)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		if msg == "" {
			msg = "Invalid or expired token"
		}
		return domain.NewAuthenticationError(msg, code)
	case code == http.StatusNotFound:
		if msg == "" {
			msg = "Resource not found"
		}
		return domain.NewNotFoundError(msg)
	case code == http.StatusTooManyRequests:
		if msg == "" {
			msg = "Rate limit exceeded"
		}
		return domain.NewRateLimitError(msg, retryAfter(resp.Header.Get(infra.HeaderRetryAfter), time.Now()))
	case code >= 500:
		if msg == "" {
			msg = fmt.Sprintf("Gateway error (HTTP %d)", code)
		}
		return domain.NewError(msg, code, true)
	default:
		if msg == "" {
			msg = fmt.Sprintf("Request failed (HTTP %d)", code)
		}
		return domain.NewError(msg, code, false)
	}
}

// serverMessage достает текст ошибки: поле message/error JSON-тела, иначе само тело.
func serverMessage(body []byte) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if len(envelope.Error) > 0 {
			// "error" бывает строкой или объектом {"message": ...}
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return ""
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}
	return text
}

// retryAfter понимает обе формы заголовка: секунды и HTTP-дату.
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func malformed(what string, err error) error {
	return &domain.MeshGuardError{Message: "malformed response: " + what, Err: err}
}

// checkStatus открывает все Decode*: ошибка статуса важнее формы тела.
func checkStatus(resp *transport.Response) error {
	if resp == nil {
		return malformed("empty response", nil)
	}
	return ErrorFromResponse(resp)
}
