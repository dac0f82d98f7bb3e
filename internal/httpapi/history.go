package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/history"
)

// SaveHistoryRequest is the request body for POST /api/history.
type SaveHistoryRequest struct {
	ID       string       `json:"id,omitempty"`
	Question chat.Message `json:"question"`
	Answer   chat.Message `json:"answer"`
}

// CheckCountResponse reports current-month usage against the monthly limit.
type CheckCountResponse struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// handleListHistory returns the user's conversation summaries, newest
// first.
func (s *Server) handleListHistory(c echo.Context) error {
	principal, ok := currentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
	}

	summaries, err := s.store.ListConversations(c.Request().Context(), principal.TenantID, principal.ObjectID)
	if err != nil {
		s.logger.Error("listing conversations failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: upstreamMessage})
	}
	if summaries == nil {
		summaries = []history.Summary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

// handleGetHistory returns one full conversation record.
func (s *Server) handleGetHistory(c echo.Context) error {
	principal, ok := currentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
	}

	conversation, err := s.store.GetConversation(c.Request().Context(), principal.TenantID, principal.ObjectID, c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "指定された履歴が見つかりません。"})
		}
		s.logger.Error("getting conversation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: upstreamMessage})
	}
	return c.JSON(http.StatusOK, conversation)
}

// handleSaveHistory persists one question/answer exchange.
func (s *Server) handleSaveHistory(c echo.Context) error {
	principal, ok := currentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
	}

	var req SaveHistoryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "リクエストの形式が正しくありません。"})
	}

	conversation, err := s.store.CreateConversation(c.Request().Context(), principal.TenantID, principal.ObjectID, req.ID, req.Question, req.Answer)
	if err != nil {
		s.logger.Error("saving conversation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: upstreamMessage})
	}
	return c.JSON(http.StatusCreated, conversation)
}

// handleCheckCount reports the user's conversation count for the current
// calendar month against the configured limit.
func (s *Server) handleCheckCount(c echo.Context) error {
	principal, ok := currentPrincipal(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
	}

	count, err := s.store.CountThisMonth(c.Request().Context(), principal.TenantID, principal.ObjectID, time.Now())
	if err != nil {
		s.logger.Error("counting conversations failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: upstreamMessage})
	}
	return c.JSON(http.StatusOK, CheckCountResponse{Count: count, Limit: s.config.Chat.UsageLimit})
}
