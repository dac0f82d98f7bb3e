package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/completion"
	"github.com/fyrsmithlabs/answerd/internal/relay"
)

// Fixed client-facing error messages. Upstream detail is logged, never
// surfaced.
const (
	contentFilterMessage = "不適切な内容が含まれているため、回答できません。"
	rateLimitedMessage   = "利用回数の上限に達しました。しばらくしてからもう一度お試しください。"
	forbiddenMessage     = "この操作を行う権限がありません。"
	upstreamMessage      = "サーバーでエラーが発生しました。しばらくしてからもう一度お試しください。"
)

// ChatRequest is the request body for POST /api/chat. Stream defaults to
// true when omitted.
type ChatRequest struct {
	Messages []chat.Message `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming response body.
type ChatResponse struct {
	Message      chat.Message   `json:"message"`
	Context      map[string]any `json:"context"`
	SessionState any            `json:"session_state"`
	Delta        any            `json:"delta"`
}

// ErrorResponse carries the fixed client-facing message for a failed
// request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// handleChat runs the augment-and-complete flow for one chat request and
// returns either a server-sent-event stream or a single JSON body.
func (s *Server) handleChat(c echo.Context) error {
	principal, ok := currentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "リクエストの形式が正しくありません。"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "メッセージが指定されていません。"})
	}

	ctx := c.Request().Context()

	if req.Stream == nil || *req.Stream {
		augmented, stream, err := s.pipeline.RespondStream(ctx, principal, req.Messages)
		if err != nil {
			return s.chatError(c, err)
		}
		return s.relaySSE(c, augmented, stream)
	}

	_, answer, err := s.pipeline.Respond(ctx, principal, req.Messages)
	if err != nil {
		return s.chatError(c, err)
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Message: answer,
		Context: map[string]any{},
	})
}

// chatError maps a pipeline failure onto the error taxonomy. Detail goes to
// the log; the client receives a fixed message.
func (s *Server) chatError(c echo.Context, err error) error {
	s.logger.Error("chat request failed",
		zap.Error(err),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))

	switch {
	case errors.Is(err, completion.ErrContentFiltered):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: contentFilterMessage})
	case errors.Is(err, completion.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Message: rateLimitedMessage})
	case errors.Is(err, completion.ErrForbidden):
		return c.JSON(http.StatusForbidden, ErrorResponse{Message: forbiddenMessage})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: upstreamMessage})
	}
}

// relaySSE drains the completion stream into the response as server-sent
// events, flushing after every frame.
func (s *Server) relaySSE(c echo.Context, messages []chat.Message, stream completion.Stream) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	sink := func(frame relay.Frame) error {
		payload, err := encodeFrame(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			return err
		}
		if frame.Kind == relay.FrameEnd {
			if _, err := fmt.Fprint(resp, "event: end\n\n"); err != nil {
				return err
			}
		}
		flusher.Flush()
		return nil
	}

	if err := relay.Run(c.Request().Context(), messages, stream, sink, s.logger); err != nil {
		// Headers are already on the wire. Log and let the connection
		// close; the client sees a truncated event stream.
		s.logger.Warn("sse relay aborted", zap.Error(err))
	}
	return nil
}

// encodeFrame renders one relay frame as its JSON wire shape.
func encodeFrame(frame relay.Frame) ([]byte, error) {
	switch frame.Kind {
	case relay.FrameContent:
		return json.Marshal(map[string]string{"content": frame.Content})
	case relay.FrameEnd:
		return json.Marshal(map[string]any{"messages": frame.Messages})
	case relay.FrameError:
		return json.Marshal(map[string]string{"error": frame.Error})
	default:
		return nil, fmt.Errorf("unknown frame kind %d", frame.Kind)
	}
}
