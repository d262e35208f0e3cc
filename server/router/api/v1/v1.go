// Package v1 implements the REST and SSE surface of the chat backend.
package v1

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/mygpt/ai/gateway"
	"github.com/hrygo/mygpt/ai/llmlog"
	"github.com/hrygo/mygpt/ai/metrics"
	"github.com/hrygo/mygpt/ai/preference"
	"github.com/hrygo/mygpt/ai/prompt"
	"github.com/hrygo/mygpt/ai/tools"
	"github.com/hrygo/mygpt/internal/profile"
	"github.com/hrygo/mygpt/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store

	Gateway   *gateway.Gateway
	Assembler *prompt.Assembler
	Engine    *preference.Engine
	Tools     *tools.Registry
	Recorder  *llmlog.Recorder
	Metrics   *metrics.Exporter

	// chatLimiter bounds chat/regenerate request admission. Generous for a
	// single local user; it exists to stop runaway clients.
	chatLimiter *rate.Limiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store) (*APIV1Service, error) {
	assembler, err := prompt.Load(profile.SystemDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load base system prompt")
	}

	toolContext, err := tools.ContextFromEnv(profile.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tool context")
	}

	return &APIV1Service{
		Profile:     profile,
		Store:       store,
		Gateway:     gateway.New(gateway.ConfigFromEnv()),
		Assembler:   assembler,
		Engine:      preference.NewEngine(store),
		Tools:       tools.NewRegistry(toolContext),
		Recorder:    llmlog.NewRecorder(store, profile.Data),
		Metrics:     metrics.NewExporter(metrics.DefaultConfig()),
		chatLimiter: rate.NewLimiter(rate.Limit(50), 100),
	}, nil
}

// Register mounts all routes on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.GET("/conversations", s.ListConversations)
	e.POST("/conversations", s.CreateConversation)

	e.GET("/messages", s.ListMessages)
	e.POST("/messages", s.CreateMessage)

	e.POST("/chat", s.Chat)
	e.POST("/regenerate", s.Regenerate)

	e.GET("/preferences", s.GetPreferences)
	e.POST("/preferences/reset", s.ResetPreferences)

	e.GET("/preference-proposals", s.ListProposals)
	e.POST("/preference-proposals/:id/approve", s.ApproveProposal)
	e.POST("/preference-proposals/:id/reject", s.RejectProposal)

	e.GET("/tools", s.ListTools)
	e.POST("/tools/run", s.RunTool)

	e.GET("/model", s.GetModel)
	e.POST("/model/switch", s.SwitchModel)
}
