// transport.go — 流式 HTTP 读取器: 每个 in-flight turn 一个 reader。
package agentstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
	"github.com/ai-workbench/chat-engine/pkg/logger"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

const (
	defaultRequestTimeout = 15 * time.Second
	// SSE 行缓冲上限: 单条 data: 行超过 1MB 视为异常
	maxLineBytes = 1 << 20

	// CodeUpstreamStatus 标记 agent 后端返回非 200 的 AppError。
	CodeUpstreamStatus = "UPSTREAM_STATUS"
)

// Sink receives parsed stream events (the engine's ingestor).
type Sink interface {
	Push(ev chat.Event)
}

// Client streams one agent turn over HTTP and feeds parsed SSE events into
// the sink. One Stream call per in-flight turn; the turn context aborts it.
type Client struct {
	baseURL string
	http    *http.Client
	sink    Sink
}

// NewClient creates a streaming client. httpClient nil uses a default with
// no overall timeout (streams are long-lived; cancellation comes from ctx).
func NewClient(baseURL string, httpClient *http.Client, sink Sink) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		sink:    sink,
	}
}

// SendRequest 发起一次 turn 的请求体。
type SendRequest struct {
	SessionID string   `json:"sessionId,omitempty"`
	Message   string   `json:"message"`
	Images    []string `json:"images,omitempty"`
}

// Stream posts the user message and consumes the SSE response until done,
// error, or ctx cancellation. Malformed lines are dropped with a log entry;
// the stream continues.
func (c *Client) Stream(ctx context.Context, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(err, "agentstream.Stream", "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, "agentstream.Stream", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.ErrAborted, "agentstream.Stream", "stream aborted")
		}
		return apperrors.Wrap(err, "agentstream.Stream", "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := util.TruncateRunes(strings.TrimSpace(string(drained)), 512)
		return apperrors.WithCode(nil, "agentstream.Stream", CodeUpstreamStatus,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, detail))
	}

	return c.consume(ctx, req.SessionID, resp.Body)
}

func (c *Client) consume(ctx context.Context, sessionID string, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.ErrAborted, "agentstream.consume", "stream aborted")
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue // keepalive / comment
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			if data, ok = strings.CutPrefix(line, "data:"); !ok {
				continue // event:/id: 字段不参与本协议
			}
		}
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(data), &envelope); err != nil || envelope.Type == "" {
			// 单条畸形事件丢弃, 不中断整个流
			logger.Warn("agentstream: dropped malformed sse line",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
			continue
		}

		c.sink.Push(chat.Event{
			Type:      envelope.Type,
			SessionID: sessionID,
			Provider:  ProviderName,
			Payload:   json.RawMessage(data),
		})

		if envelope.Type == EventDone || envelope.Type == EventError {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.ErrAborted, "agentstream.consume", "stream aborted")
		}
		return apperrors.Wrap(err, "agentstream.consume", "read stream")
	}
	return nil
}

// AbortSession implements chat.AbortTransport: the side-channel request that
// stops server-side generation even when the stream reader already closed.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/chat/%s/abort", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return apperrors.Wrap(err, "agentstream.AbortSession", "build request")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.Wrap(err, "agentstream.AbortSession", "request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return apperrors.WithCode(nil, "agentstream.AbortSession", CodeUpstreamStatus,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
