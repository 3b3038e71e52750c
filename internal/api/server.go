package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/registry"
	"github/chapool/hot-wallet/internal/store"
)

// Server exposes the registration endpoint plus health and metrics.
type Server struct {
	echo     *echo.Echo
	registry *registry.Service
	port     int
}

type registerRequest struct {
	AccountID  string `json:"account_id"`
	WebhookURL string `json:"webhook_url"`
}

type registerResponse struct {
	Address   string  `json:"address"`
	FundingTx *string `json:"funding_tx"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the routes.
func NewServer(reg *registry.Service, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		registry: reg,
		port:     port,
	}

	e.POST("/register", s.postRegister)
	e.GET("/health", s.getHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Int("port", s.port).Msg("Starting API server")

	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "api server failed")
}

// Handler exposes the route mux; used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Wrap(s.echo.Shutdown(ctx), "failed to shut down api server")
}

func (s *Server) postRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
	}

	result, err := s.registry.Register(c.Request().Context(), req.AccountID, req.WebhookURL)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, registerResponse{
			Address:   result.Address,
			FundingTx: result.FundingTx,
		})
	case errors.Is(err, registry.ErrInvalidWebhookURL):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_webhook_url"})
	case errors.Is(err, registry.ErrAddressConflict), errors.Is(err, store.ErrAddressConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "account_exists_different_address"})
	case errors.Is(err, registry.ErrFaucetFailed):
		log.Error().Err(err).Str("account_id", req.AccountID).Msg("Registration funding failed")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "faucet_failed"})
	default:
		log.Error().Err(err).Str("account_id", req.AccountID).Msg("Registration failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func (s *Server) getHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
