package oauth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flowlab/oauth-playground/internal/util"
)

// Exchange is one recorded HTTP round trip with secrets redacted.
type Exchange struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	Status          int               `json:"status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
	Error           string            `json:"error,omitempty"`
}

// Recorder collects the exchanges made with a context.
type Recorder struct {
	mu        sync.Mutex
	exchanges []Exchange
}

// Exchanges returns a copy of the recorded exchanges in order.
func (r *Recorder) Exchanges() []Exchange {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Exchange, len(r.exchanges))
	copy(out, r.exchanges)
	return out
}

func (r *Recorder) add(e Exchange) {
	r.mu.Lock()
	r.exchanges = append(r.exchanges, e)
	r.mu.Unlock()
}

type recorderKey struct{}

// WithRecorder returns a context whose provider calls are recorded into rec.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recorderFrom(ctx context.Context) *Recorder {
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}

type tracingTransport struct {
	base http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := recorderFrom(req.Context())
	if rec == nil {
		return t.base.RoundTrip(req)
	}

	ex := Exchange{
		Method:         req.Method,
		URL:            redactURL(req.URL),
		RequestHeaders: redactHeaders(req.Header),
	}
	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			raw, _ := io.ReadAll(io.LimitReader(body, maxBodyBytes))
			_ = body.Close()
			ex.RequestBody = redactBody(req.Header.Get("Content-Type"), raw)
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	ex.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		ex.Error = err.Error()
		rec.add(ex)
		return nil, err
	}

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	ex.Status = resp.StatusCode
	ex.ResponseHeaders = redactHeaders(resp.Header)
	ex.ResponseBody = redactBody(resp.Header.Get("Content-Type"), raw)
	if errRead != nil {
		ex.Error = errRead.Error()
	}
	rec.add(ex)
	return resp, nil
}

func redactURL(u *url.URL) string {
	cp := *u
	cp.RawQuery = util.MaskSensitiveQuery(u.RawQuery)
	return cp.String()
}

func redactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if util.IsSensitiveKey(k) {
			out[k] = util.RedactedValue
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func redactBody(contentType string, raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return util.MaskSensitiveQuery(string(raw))
	case strings.Contains(contentType, "json"):
		return string(util.RedactSensitiveJSON(raw))
	default:
		return string(raw)
	}
}
