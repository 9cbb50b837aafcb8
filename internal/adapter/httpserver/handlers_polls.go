package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/quickpoll/internal/domain"
	apperrors "github.com/pscheid92/quickpoll/internal/platform/errors"
)

type createPollRequest struct {
	Question string             `json:"question"`
	Options  []createPollOption `json:"options"`
}

type createPollOption struct {
	Text string `json:"text"`
}

type createPollResponse struct {
	OK     bool   `json:"ok"`
	PollID int64  `json:"poll_id"`
	Token  string `json:"token"`
}

type voteRequest struct {
	OptionID *int64 `json:"option_id"`
}

type editPollRequest struct {
	Question string               `json:"question"`
	Options  []domain.OptionInput `json:"options"`
	Token    string               `json:"token"`
}

type editPollResponse struct {
	OK   bool             `json:"ok"`
	Poll *domain.PollView `json:"poll,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) registerPollRoutes() {
	limiter := newRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	s.echo.GET("/polls", s.handleListPolls)
	s.echo.GET("/polls/:id", s.handleGetPoll)
	s.echo.POST("/polls", s.handleCreatePoll, limiter)
	s.echo.POST("/polls/:id/vote", s.handleVote, limiter)
	s.echo.POST("/polls/:id/like", s.handleLike, limiter)
	s.echo.PUT("/polls/:id", s.handleEditPoll, limiter)
	s.echo.DELETE("/polls/:id", s.handleDeletePoll, limiter)
}

func (s *Server) handleListPolls(c echo.Context) error {
	polls, err := s.app.ListPolls(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list polls", err)
	}

	views := make([]domain.PollView, 0, len(polls))
	for i := range polls {
		views = append(views, polls[i].View())
	}
	return writeJSON(c, views)
}

func (s *Server) handleGetPoll(c echo.Context) error {
	pollID, err := pollIDParam(c)
	if err != nil {
		return err
	}

	poll, err := s.app.GetPoll(c.Request().Context(), pollID)
	if err != nil {
		return err
	}
	return writeJSON(c, poll.View())
}

func (s *Server) handleCreatePoll(c echo.Context) error {
	var req createPollRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	texts := make([]string, len(req.Options))
	for i, o := range req.Options {
		texts[i] = o.Text
	}

	poll, err := s.app.CreatePoll(c.Request().Context(), req.Question, texts)
	if err != nil {
		return err
	}
	return writeJSON(c, createPollResponse{OK: true, PollID: poll.ID, Token: poll.Token})
}

// handleVote takes option_id from the query string or the JSON body. The
// path poll id is not consulted; the vote lands on the option's own poll.
func (s *Server) handleVote(c echo.Context) error {
	optionID, err := optionIDFromRequest(c)
	if err != nil {
		return err
	}

	if err := s.app.Vote(c.Request().Context(), optionID); err != nil {
		return err
	}
	return writeJSON(c, okResponse{OK: true})
}

func (s *Server) handleLike(c echo.Context) error {
	pollID, err := pollIDParam(c)
	if err != nil {
		return err
	}

	if err := s.app.Like(c.Request().Context(), pollID); err != nil {
		return err
	}
	return writeJSON(c, okResponse{OK: true})
}

func (s *Server) handleEditPoll(c echo.Context) error {
	pollID, err := pollIDParam(c)
	if err != nil {
		return err
	}

	var req editPollRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Token == "" {
		req.Token = c.Request().Header.Get(tokenHeader)
	}

	poll, err := s.app.EditPoll(c.Request().Context(), pollID, req.Token, req.Question, req.Options)
	if err != nil {
		return err
	}

	resp := editPollResponse{OK: true}
	if poll != nil {
		view := poll.View()
		resp.Poll = &view
	}
	return writeJSON(c, resp)
}

func (s *Server) handleDeletePoll(c echo.Context) error {
	pollID, err := pollIDParam(c)
	if err != nil {
		return err
	}

	token := c.QueryParam("token")
	if token == "" {
		token = c.Request().Header.Get(tokenHeader)
	}

	if err := s.app.DeletePoll(c.Request().Context(), pollID, token); err != nil {
		return err
	}
	return writeJSON(c, okResponse{OK: true})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	s.websocketHandler.Serve(c.Response(), c.Request(), c.RealIP())
	return nil
}

func pollIDParam(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid poll id").WithField("id", raw)
	}
	return id, nil
}

func optionIDFromRequest(c echo.Context) (int64, error) {
	if raw := c.QueryParam("option_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, apperrors.ValidationError("invalid option_id").WithField("option_id", raw)
		}
		return id, nil
	}

	var req voteRequest
	if c.Request().ContentLength != 0 {
		if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
			return 0, apperrors.ValidationError("invalid request body")
		}
	}
	if req.OptionID == nil {
		return 0, apperrors.ValidationError("option_id is required")
	}
	return *req.OptionID, nil
}

func writeJSON(c echo.Context, body any) error {
	if err := c.JSON(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
