package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mygpt/store"
)

type switchModelRequest struct {
	ModelURL string `json:"model_url"`
}

// GetModel returns the inference server URL used for new requests.
func (s *APIV1Service) GetModel(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"model_url": s.Gateway.CurrentModelURL()})
}

// SwitchModel repoints the gateway at another inference server. In-flight
// streams keep their old target; the change is last-writer-wins.
func (s *APIV1Service) SwitchModel(c echo.Context) error {
	var request switchModelRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	modelURL := strings.TrimSpace(request.ModelURL)
	if modelURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model_url is required")
	}
	parsed, err := url.Parse(modelURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model_url must be an http(s) URL")
	}

	previous := s.Gateway.SwitchModel(modelURL)
	current := s.Gateway.CurrentModelURL()

	payload, err := json.Marshal(map[string]string{"previous": previous, "current": current})
	if err == nil {
		if _, eventErr := s.Store.CreateEvent(c.Request().Context(), &store.Event{
			Type:    store.EventModelSwitch,
			Payload: string(payload),
		}); eventErr != nil {
			slog.Warn("failed to record model_switch event", "error", eventErr)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"previous": previous,
		"current":  current,
	})
}
