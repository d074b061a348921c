package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/browser"
	"github.com/Darunesh1/tds-quiz-solver/internal/jobs"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
	"github.com/Darunesh1/tds-quiz-solver/internal/solver"
)

// Run wires the service and serves HTTP until the listener fails.
func Run(addr string, cfg *config.Config) error {
	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building llm client: %w", err)
	}

	loader := browser.NewLoader(cfg.Browser.Timeout, cfg.Browser.MaxChars, cfg.Browser.Headless)

	store, err := buildStore(cfg.Jobs)
	if err != nil {
		return err
	}

	workspaceBase := filepath.Join(cfg.General.DataDir, "quiz-jobs")
	h := &Handlers{
		secret: cfg.Server.QuizSecret,
		store:  store,
		llm:    llmClient,
		logger: log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
		runChain: func(ctx context.Context, job jobs.Job, secret string) (int, error) {
			factory := solver.NewRoundFactory(solver.RoundConfig{
				JobID:         job.ID,
				Email:         job.Email,
				Secret:        secret,
				LLM:           llmClient,
				Loader:        loader,
				WorkspaceBase: workspaceBase,
				Solver:        cfg.Solver,
				Tools:         cfg.Tools,
			})
			return solver.NewChainRunner(cfg.Solver.MaxRounds, factory).Run(ctx, job.StartURL)
		},
	}

	e := newEcho(cfg)
	h.Register(e)

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func buildStore(cfg config.JobsConfig) (jobs.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return jobs.NewMemoryStore(), nil
	case "redis":
		client, err := jobs.Conn(context.Background(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		return jobs.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown jobs backend %q", cfg.Backend)
	}
}

// newEcho builds the router with recovery and a unified JSON error
// handler.
func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	if cfg == nil || cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	return e
}
