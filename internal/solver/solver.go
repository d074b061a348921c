package solver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Darunesh1/tds-quiz-solver/config"
	"github.com/Darunesh1/tds-quiz-solver/internal/browser"
	"github.com/Darunesh1/tds-quiz-solver/internal/deadline"
	"github.com/Darunesh1/tds-quiz-solver/internal/llm"
	"github.com/Darunesh1/tds-quiz-solver/internal/telemetry"
	"github.com/Darunesh1/tds-quiz-solver/internal/tools"
)

var solverTracer trace.Tracer = otel.Tracer("tds-quiz-solver/internal/solver")

// Phase is the state of one question's control loop.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseReacting   Phase = "REACTING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseDone       Phase = "DONE"
)

// Generator produces text completions. Satisfied by llm.Client.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest, d *deadline.Controller) (string, error)
}

// ToolExecutor runs tool calls. Satisfied by tools.Registry.
type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call) (string, error)
	DescribeForPrompt() string
}

// Submitter posts answers. Satisfied by SubmissionPipeline.
type Submitter interface {
	Submit(ctx context.Context, submitURL string, payload map[string]interface{}) (*SubmitResult, error)
}

// PageLoader renders question pages. Satisfied by browser.Loader.
type PageLoader interface {
	Load(ctx context.Context, pageURL, selector string) (*browser.Page, error)
}

// PlanningError reports a planning phase that produced no usable plan.
// It is fatal for the round: without a plan there is no submit target
// and nothing to react about.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// plan is the model's opening analysis of a question.
type plan struct {
	Understanding      string                 `json:"understanding"`
	SubmitURL          string                 `json:"submit_url"`
	AnswerFormat       string                 `json:"answer_format"`
	SubmissionTemplate map[string]interface{} `json:"submission_template"`
	ToolsNeeded        []string               `json:"tools_needed"`
	Plan               []string               `json:"plan"`
}

// reactStep is one iteration of the think/act loop.
type reactStep struct {
	Action            string                 `json:"action"`
	ToolName          string                 `json:"tool_name"`
	ToolArgs          map[string]interface{} `json:"tool_args"`
	Reason            string                 `json:"reason"`
	UpdatedSubmission map[string]interface{} `json:"updated_submission"`
	Explanation       string                 `json:"explanation"`
}

// QuestionSolver drives one question from page load to submission. It
// moves through PLANNING, REACTING and FINALIZING, and always produces
// exactly one submission per question, best-effort when time runs out.
type QuestionSolver struct {
	jobID  string
	email  string
	secret string

	llm       Generator
	tools     ToolExecutor
	loader    PageLoader
	submitter Submitter
	deadline  *deadline.Controller

	log      *ContextLog
	logger   *log.Logger
	phase    Phase
	template map[string]interface{}
}

// NewQuestionSolver wires one question's control loop.
func NewQuestionSolver(jobID, email, secret string, gen Generator, exec ToolExecutor, loader PageLoader, submitter Submitter, d *deadline.Controller, cfg config.SolverConfig) *QuestionSolver {
	return &QuestionSolver{
		jobID:     jobID,
		email:     email,
		secret:    secret,
		llm:       gen,
		tools:     exec,
		loader:    loader,
		submitter: submitter,
		deadline:  d,
		log:       NewContextLog(cfg.ContextMaxBytes, cfg.ContextTrimBytes),
		logger:    log.New(log.Writer(), "[SOLVER] ", log.LstdFlags),
		phase:     PhasePlanning,
		template:  make(map[string]interface{}),
	}
}

// Phase reports the solver's current phase.
func (s *QuestionSolver) Phase() Phase { return s.phase }

// SolveOne solves the question at questionURL end to end and returns
// the endpoint's verdict.
func (s *QuestionSolver) SolveOne(ctx context.Context, questionURL string) (*SubmitResult, error) {
	ctx, span := solverTracer.Start(ctx, "solver.question",
		trace.WithAttributes(attribute.String("question.url", questionURL)))
	defer span.End()

	s.deadline.Start()
	s.logger.Printf("job %s: starting question %s", s.jobID, questionURL)

	page, err := s.loader.Load(ctx, questionURL, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading question page: %w", err)
	}

	submitURL, err := s.planningPhase(ctx, questionURL, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.AddEvent("plan.complete", trace.WithAttributes(
		attribute.String("submit.url", submitURL)))

	s.phase = PhaseReacting
	finalized := s.reactLoop(ctx)

	s.phase = PhaseFinalizing
	if !finalized {
		s.forceFinalize(ctx)
	}
	s.fillDefaults(questionURL)

	result, err := s.submitter.Submit(ctx, submitURL, s.template)
	if err != nil {
		telemetry.Submissions.WithLabelValues(telemetry.VerdictFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.recordVerdict(result)

	// A rejected answer with time left and no next question gets one
	// bounded revision pass before we accept the verdict.
	if !result.Correct && result.URL == "" && !s.deadline.Expired() {
		revised, rerr := s.reviseOnce(ctx, submitURL, result)
		if rerr == nil && revised != nil {
			result = revised
			s.recordVerdict(result)
		}
	}

	s.phase = PhaseDone
	span.SetAttributes(attribute.Bool("answer.correct", result.Correct))
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

func (s *QuestionSolver) recordVerdict(result *SubmitResult) {
	if result.Correct {
		telemetry.Submissions.WithLabelValues(telemetry.VerdictCorrect).Inc()
	} else {
		telemetry.Submissions.WithLabelValues(telemetry.VerdictIncorrect).Inc()
	}
}

// planningPhase asks the model for an opening plan and returns the
// resolved submit URL. A failed or unparseable plan is fatal for the
// round: it returns a PlanningError, never retried.
func (s *QuestionSolver) planningPhase(ctx context.Context, questionURL string, page *browser.Page) (string, error) {
	prompt := planningPrompt(page.Text, page.HTML, s.tools.DescribeForPrompt(), questionURL, s.deadline.Remaining().Seconds())

	resp, err := s.llm.Generate(ctx, llm.GenerateRequest{System: systemPrompt, Prompt: prompt}, s.deadline)
	if err != nil {
		s.logger.Printf("job %s: planning failed: %v", s.jobID, err)
		return "", &PlanningError{Err: err}
	}

	var p plan
	if err := llm.Unmarshal(resp, &p); err != nil {
		s.logger.Printf("job %s: planning response not parseable: %v", s.jobID, err)
		return "", &PlanningError{Err: err}
	}
	raw, _ := json.Marshal(p)
	s.log.Append(entryPlan, truncate(string(raw), 1000))

	if p.SubmissionTemplate != nil {
		s.template = p.SubmissionTemplate
	}
	s.template["email"] = s.email
	s.template["url"] = questionURL

	submitURL := resolveSubmitURL(page.FinalURL, p.SubmitURL)
	s.logger.Printf("job %s: submit url %s, answer format %q", s.jobID, submitURL, p.AnswerFormat)
	return submitURL, nil
}

// reactLoop runs think/act iterations until the model finalizes, the
// deadline expires, or reasoning breaks down. Reports whether the model
// produced a final answer itself.
func (s *QuestionSolver) reactLoop(ctx context.Context) bool {
	for !s.deadline.Expired() {
		if ctx.Err() != nil {
			return false
		}

		prompt := reactPrompt(s.log.String(), s.tools.DescribeForPrompt(), s.template, s.deadline.Remaining().Seconds())
		resp, err := s.llm.Generate(ctx, llm.GenerateRequest{System: systemPrompt, Prompt: prompt}, s.deadline)
		if err != nil {
			if errors.Is(err, llm.ErrInsufficientTime) {
				return false
			}
			s.log.Append(entryError, fmt.Sprintf("reasoning failed: %v", err))
			return false
		}

		var step reactStep
		if err := llm.Unmarshal(resp, &step); err != nil {
			s.log.Append(entryError, "reasoning step was not valid JSON")
			return false
		}

		switch step.Action {
		case "tool":
			s.log.Append(entryThought, fmt.Sprintf("using tool %s because %s", step.ToolName, step.Reason))
			obs, err := s.tools.Execute(ctx, tools.Call{Name: step.ToolName, Args: step.ToolArgs})
			if err != nil {
				telemetry.ToolExecutions.WithLabelValues(step.ToolName, "error").Inc()
				s.log.Append(entryError, fmt.Sprintf("from %s: %v", step.ToolName, err))
			} else {
				telemetry.ToolExecutions.WithLabelValues(step.ToolName, "ok").Inc()
				s.log.Append(entryObservation, fmt.Sprintf("from %s: %s", step.ToolName, obs))
			}
		case "final":
			s.mergeSubmission(step.UpdatedSubmission)
			s.log.Append(entryFinal, fmt.Sprintf("%s, explanation=%s", renderTemplate(step.UpdatedSubmission), step.Explanation))
			return true
		default:
			s.log.Append(entryError, fmt.Sprintf("unknown action %q", step.Action))
			return false
		}
	}
	return false
}

// forceFinalize asks the model once, without tools, for its best answer
// from the accumulated context. Failures leave the template as is.
func (s *QuestionSolver) forceFinalize(ctx context.Context) {
	prompt := finalizePrompt(s.log.String(), s.template, s.deadline.Remaining().Seconds())
	resp, err := s.llm.Generate(ctx, llm.GenerateRequest{System: systemPrompt, Prompt: prompt}, s.deadline)
	if err != nil {
		s.logger.Printf("job %s: forced finalize failed: %v", s.jobID, err)
		return
	}

	var step reactStep
	if err := llm.Unmarshal(resp, &step); err != nil {
		s.logger.Printf("job %s: forced finalize response not parseable: %v", s.jobID, err)
		return
	}
	s.mergeSubmission(step.UpdatedSubmission)
	s.log.Append(entryFinal, fmt.Sprintf("forced: %s, explanation=%s", renderTemplate(step.UpdatedSubmission), step.Explanation))
}

// reviseOnce feeds a rejection back into one more react pass and
// resubmits. At most one revision happens per question, and only when
// the pass actually changed the submission: resubmitting an identical
// payload would just repeat the rejection.
func (s *QuestionSolver) reviseOnce(ctx context.Context, submitURL string, rejected *SubmitResult) (*SubmitResult, error) {
	s.logger.Printf("job %s: answer rejected (%s), attempting one revision", s.jobID, rejected.Reason)
	s.log.Append(entryObservation, fmt.Sprintf("submission was rejected: %s", rejected.Reason))

	before, _ := json.Marshal(s.template)

	s.phase = PhaseReacting
	finalized := s.reactLoop(ctx)
	s.phase = PhaseFinalizing
	if !finalized {
		s.forceFinalize(ctx)
	}

	after, _ := json.Marshal(s.template)
	if string(before) == string(after) {
		s.logger.Printf("job %s: revision produced no changes, keeping the verdict", s.jobID)
		return nil, nil
	}
	return s.submitter.Submit(ctx, submitURL, s.template)
}

func (s *QuestionSolver) mergeSubmission(updated map[string]interface{}) {
	for k, v := range updated {
		s.template[k] = v
	}
}

// fillDefaults guarantees the payload carries the required fields even
// when the model never supplied them.
func (s *QuestionSolver) fillDefaults(questionURL string) {
	if _, ok := s.template["email"]; !ok || s.template["email"] == "" {
		s.template["email"] = s.email
	}
	if _, ok := s.template["url"]; !ok || s.template["url"] == "" {
		s.template["url"] = questionURL
	}
	if v, ok := s.template["secret"]; !ok || v == "" || v == "to be filled by you when known" {
		s.template["secret"] = s.secret
	}
	if _, ok := s.template["answer"]; !ok {
		s.template["answer"] = nil
	}
}

// resolveSubmitURL turns the plan's submit target into an absolute URL,
// defaulting to /submit on the question's origin.
func resolveSubmitURL(baseURL, submitURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = &url.URL{}
	}

	submitURL = strings.TrimSpace(submitURL)
	if submitURL == "" {
		return fmt.Sprintf("%s://%s/submit", base.Scheme, base.Host)
	}
	if strings.HasPrefix(submitURL, "http://") || strings.HasPrefix(submitURL, "https://") {
		return submitURL
	}
	ref, err := url.Parse(submitURL)
	if err != nil {
		return fmt.Sprintf("%s://%s/submit", base.Scheme, base.Host)
	}
	return base.ResolveReference(ref).String()
}

// RoundSolver solves one question. Satisfied by QuestionSolver.
type RoundSolver interface {
	SolveOne(ctx context.Context, questionURL string) (*SubmitResult, error)
}

// ChainRunner walks a quiz chain: each verdict's url field points at
// the next question, and an empty url ends the chain. Every round gets
// fresh per-question state from the factory.
type ChainRunner struct {
	maxRounds int
	newRound  func(round int) RoundSolver
	logger    *log.Logger
}

// NewChainRunner builds a runner with the given round cap.
func NewChainRunner(maxRounds int, newRound func(round int) RoundSolver) *ChainRunner {
	if maxRounds <= 0 {
		maxRounds = 30
	}
	return &ChainRunner{
		maxRounds: maxRounds,
		newRound:  newRound,
		logger:    log.New(log.Writer(), "[CHAIN] ", log.LstdFlags),
	}
}

// Run solves questions starting at startURL until the chain ends, the
// round cap is reached, or a round fails. Returns the number of rounds
// completed.
func (r *ChainRunner) Run(ctx context.Context, startURL string) (int, error) {
	ctx, span := solverTracer.Start(ctx, "solver.chain",
		trace.WithAttributes(attribute.String("chain.start_url", startURL)))
	defer span.End()

	rounds := 0
	current := startURL
	for current != "" {
		if err := ctx.Err(); err != nil {
			return rounds, err
		}
		if rounds >= r.maxRounds {
			r.logger.Printf("round cap %d reached, stopping chain", r.maxRounds)
			break
		}
		rounds++
		r.logger.Printf("round %d: %s", rounds, current)

		start := time.Now()
		result, err := r.newRound(rounds).SolveOne(ctx, current)
		telemetry.RoundDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.RoundsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return rounds, fmt.Errorf("round %d: %w", rounds, err)
		}

		if result.Correct {
			telemetry.RoundsTotal.WithLabelValues("correct").Inc()
		} else {
			telemetry.RoundsTotal.WithLabelValues("incorrect").Inc()
		}
		current = result.URL
	}

	r.logger.Printf("chain complete after %d round(s)", rounds)
	span.SetAttributes(attribute.Int("chain.rounds", rounds))
	span.SetStatus(codes.Ok, "completed")
	return rounds, nil
}

// RoundConfig bundles the shared dependencies each question round
// draws on.
type RoundConfig struct {
	JobID         string
	Email         string
	Secret        string
	LLM           *llm.Client
	Loader        *browser.Loader
	WorkspaceBase string
	Solver        config.SolverConfig
	Tools         config.ToolsConfig
}

// NewRoundFactory returns a factory producing an independent
// QuestionSolver per round: fresh deadline, fresh context log, fresh
// tool registry, and a per-round workspace directory.
func NewRoundFactory(rc RoundConfig) func(round int) RoundSolver {
	return func(round int) RoundSolver {
		d := deadline.New(rc.Solver.QuestionBudget)
		workdir := filepath.Join(rc.WorkspaceBase, rc.JobID, fmt.Sprintf("q%d", round))
		registry := tools.New(rc.JobID, workdir, d, rc.Loader, rc.LLM, rc.Tools)
		pipeline := NewSubmissionPipeline(30*time.Second, rc.Solver.MaxPayloadBytes)
		return NewQuestionSolver(rc.JobID, rc.Email, rc.Secret, rc.LLM, registry, rc.Loader, pipeline, d, rc.Solver)
	}
}
