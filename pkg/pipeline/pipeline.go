package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trendfire/trendfire/pkg/boundary"
	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/export"
	"github.com/trendfire/trendfire/pkg/policy"
	"github.com/trendfire/trendfire/pkg/stores"
	"github.com/trendfire/trendfire/pkg/telemetry"
	transport "github.com/trendfire/trendfire/pkg/transports/ssh"
)

// Session is the part of *earthengine.Session the pipeline uses.
type Session interface {
	export.Submitter
	GetOperation(ctx context.Context, name string) (*earthengine.Operation, error)
}

// Pipeline runs the trend exports described by one configuration.
type Pipeline struct {
	cfg        *config.PipelineConfig
	configPath string

	connect func(ctx context.Context) (Session, error)
	loader  *boundary.Loader
	policy  export.Evaluator
	store   stores.Store
	indices *config.IndexCompiler

	policySet bool
	newID     func() string
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSession uses s instead of opening a session from the configuration.
func WithSession(s Session) Option {
	return func(p *Pipeline) {
		p.connect = func(context.Context) (Session, error) { return s, nil }
	}
}

// WithLoader replaces the boundary loader.
func WithLoader(l *boundary.Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithPolicy replaces the policy engine built from the configuration. A
// nil evaluator disables policy checks.
func WithPolicy(e export.Evaluator) Option {
	return func(p *Pipeline) {
		p.policy = e
		p.policySet = true
	}
}

// WithStore records runs and tasks in store.
func WithStore(store stores.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithConfigPath records where the configuration was read from.
func WithConfigPath(path string) Option {
	return func(p *Pipeline) { p.configPath = path }
}

// New creates a pipeline for cfg. Unless WithPolicy is given, the export
// policy engine is built from cfg.Policy.
func New(ctx context.Context, cfg *config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg: cfg,
		connect: func(ctx context.Context) (Session, error) {
			return earthengine.NewSession(ctx, earthengine.Options{
				Project:         cfg.Project,
				CredentialsFile: cfg.CredentialsFile,
			})
		},
		loader: boundary.NewLoader(
			boundary.WithFetcher("sftp", transport.NewFetcher(fetcherOptions(cfg.Boundary.SFTP))),
		),
		indices: config.NewIndexCompiler(0),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if !p.policySet && cfg.Policy.Enabled {
		engine, err := NewPolicyEngine(ctx, cfg.Policy, telemetry.FromContext(ctx).Zerolog())
		if err != nil {
			return nil, stageError("policy", err)
		}
		p.policy = engine
	}
	return p, nil
}

// NewPolicyEngine builds the export policy engine: built-in policies plus
// those under cfg.Paths, minus cfg.Disabled.
func NewPolicyEngine(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Disabled {
		if err := engine.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func fetcherOptions(cfg *config.SFTPConfig) transport.FetcherOptions {
	if cfg == nil {
		return transport.FetcherOptions{}
	}
	opts := transport.FetcherOptions{
		Port:           cfg.Port,
		PrivateKeyPath: cfg.PrivateKeyPath,
		KnownHostsPath: cfg.KnownHostsPath,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.PasswordEnv != "" {
		opts.Password = os.Getenv(cfg.PasswordEnv)
	}
	return opts
}

// Result is the outcome of Run.
type Result struct {
	RunID string        `json:"run_id" yaml:"run_id"`
	Plan  *Plan         `json:"-" yaml:"-"`
	Tasks []export.Task `json:"tasks" yaml:"tasks"`
}

// Run opens a session, loads the boundary, builds every product, checks
// all export requests against policy and then submits them in product
// order. It returns as soon as every export is acknowledged. The first
// failure aborts the run; tasks acknowledged before it are in the Result.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	runID := p.newID()
	ctx = telemetry.WithRunContext(ctx, runID, p.configPath)
	logger := telemetry.FromContext(ctx).NewComponentLogger("pipeline")

	res = &Result{RunID: runID}
	defer func() {
		telemetry.EndRunContext(ctx, len(res.Tasks), string(Classify(err)), err)
	}()

	if err := p.startRun(ctx, runID); err != nil {
		return res, err
	}
	defer func() {
		p.finishRun(ctx, runID, err)
	}()

	session, err := p.openSession(ctx)
	if err != nil {
		return res, err
	}

	plan, exporter, err := p.build(ctx, session)
	if err != nil {
		return res, err
	}
	res.Plan = plan

	stageCtx, end := telemetry.StartStage(ctx, "policy")
	err = exporter.Check(stageCtx, plan.Requests())
	end(err)
	if err != nil {
		return res, stageError("policy", err)
	}

	stageCtx, end = telemetry.StartStage(ctx, "export")
	defer func() { end(err) }()
	for _, pp := range plan.Products {
		tasks, sendErr := exporter.Send(stageCtx, pp.Requests)
		for _, task := range tasks {
			res.Tasks = append(res.Tasks, task)
			if recErr := p.recordTask(stageCtx, runID, task); recErr != nil {
				return res, recErr
			}
		}
		if sendErr != nil {
			return res, productError("export", pp.Product, sendErr)
		}
	}

	logger.WithFields(map[string]interface{}{
		"tasks":    len(res.Tasks),
		"products": len(plan.Products),
	}).Info("All export tasks submitted")
	return res, nil
}

func (p *Pipeline) openSession(ctx context.Context) (Session, error) {
	stageCtx, end := telemetry.StartStage(ctx, "session")
	session, err := p.connect(stageCtx)
	end(err)
	if err != nil {
		return nil, stageError("session", err)
	}
	return session, nil
}

func (p *Pipeline) startRun(ctx context.Context, runID string) error {
	if p.store == nil {
		return nil
	}
	err := p.store.CreateRun(ctx, &stores.Run{
		ID:         runID,
		ConfigPath: p.configPath,
		Project:    p.cfg.Project,
		Status:     stores.RunStatusRunning,
		StartedAt:  p.now(),
	})
	if err != nil {
		return stageError("ledger", fmt.Errorf("failed to record run: %w", err))
	}
	return nil
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, runErr error) {
	if p.store == nil {
		return
	}
	status := stores.RunStatusCompleted
	var msg *string
	if runErr != nil {
		status = stores.RunStatusFailed
		s := runErr.Error()
		msg = &s
	}
	// The run context may already be cancelled; the outcome is still recorded.
	if err := p.store.FinishRun(context.WithoutCancel(ctx), runID, status, msg); err != nil {
		telemetry.FromContext(ctx).WithError(err).Error("Failed to record run outcome")
	}
}

func (p *Pipeline) recordTask(ctx context.Context, runID string, task export.Task) error {
	if p.store == nil {
		return nil
	}
	err := p.store.CreateTask(context.WithoutCancel(ctx), &stores.Task{
		RequestID:   task.RequestID,
		RunID:       runID,
		Product:     string(task.Product),
		Destination: task.Destination,
		Target:      task.Target,
		Description: task.Description,
		Operation:   task.Operation,
		State:       task.State,
		SubmittedAt: task.SubmittedAt,
	})
	if err != nil {
		return productError("ledger", task.Product, fmt.Errorf("failed to record task %s: %w", task.Operation, err))
	}
	return nil
}
