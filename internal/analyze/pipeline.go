package analyze

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// Store provides the configuration reads the pipeline depends on. Lookups
// return nil (not an error) when no row matches.
type Store interface {
	GetMilestone(ctx context.Context, id int64) (*models.Milestone, error)
	GetValidatorsByMilestone(ctx context.Context, milestoneID int64) ([]models.Validator, error)
	GetCurrentSystemPrompt(ctx context.Context) (*models.SystemPrompt, error)
	GetActiveModel(ctx context.Context) (*models.Model, error)
	GetPolicyByID(ctx context.Context, id int64) (*models.Policy, error)
	GetDefaultPolicy(ctx context.Context) (*models.Policy, error)
}

// Recorder appends one audit record per request attempt. Failures must never
// surface to the caller.
type Recorder interface {
	InsertResponseStat(ctx context.Context, stat *models.ResponseStat) error
}

// Provider submits a materialized video plus a prompt to the external model
// and returns the sanitized response with the total token count, when the
// provider reports one.
type Provider interface {
	Submit(ctx context.Context, video models.MaterializedVideo, prompt, modelID string) (models.ModelResponse, *int64, error)
}

// Materializer turns a resolved source into an analyzable artifact and a
// scratch cleanup func.
type Materializer interface {
	Materialize(ctx context.Context, src models.VideoSource) (models.MaterializedVideo, func(), error)
}

// Resolver validates raw request fields into a VideoSource.
type Resolver func(upload *models.UploadSource, rawURL string) (models.VideoSource, error)

// Pipeline runs a complete analysis for one request.
type Pipeline struct {
	store        Store
	recorder     Recorder
	provider     Provider
	materializer Materializer
	resolve      Resolver
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(store Store, recorder Recorder, provider Provider, materializer Materializer, resolve Resolver) *Pipeline {
	return &Pipeline{
		store:        store,
		recorder:     recorder,
		provider:     provider,
		materializer: materializer,
		resolve:      resolve,
	}
}

// Request is one analysis attempt as received from the HTTP or queue layer.
// MilestoneID is the raw form field; it may be non-numeric.
type Request struct {
	RequestID   string
	MilestoneID string
	Upload      *models.UploadSource
	VideoURL    string
	APIKeyID    *int64
}

// Result is the caller-visible outcome of a successful analysis.
type Result struct {
	MilestoneID int64                   `json:"milestoneId"`
	Result      bool                    `json:"result"`
	Confidence  float64                 `json:"confidence"`
	Validators  []models.ValidatorCheck `json:"validators"`
	Policy      models.PolicyThreshold  `json:"policy"`
}

// Run executes one analysis attempt. Exactly one audit record is appended
// whether the attempt succeeds or fails; recording failures are logged and
// swallowed. Scratch artifacts are removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()

	stat := &models.ResponseStat{
		RequestID: req.RequestID,
		APIKeyID:  req.APIKeyID,
	}
	defer func() {
		p.record(ctx, stat, start, err)
	}()

	milestoneID, perr := parseMilestoneID(req.MilestoneID)
	if perr != nil {
		return nil, perr
	}
	stat.MilestoneID = &milestoneID

	source, serr := p.resolve(req.Upload, req.VideoURL)
	if serr != nil {
		return nil, serr
	}

	video, cleanup, merr := p.materializer.Materialize(ctx, source)
	if merr != nil {
		return nil, merr
	}
	defer cleanup()

	reads, rerr := p.lookupConfig(ctx, milestoneID)
	if rerr != nil {
		return nil, rerr
	}

	if reads.milestone == nil {
		return nil, apperr.ErrMilestoneNotFound
	}
	if len(reads.validators) == 0 || reads.prompt == nil || reads.model == nil {
		return nil, apperr.ErrConfigurationMissing
	}
	stat.SystemPromptID = &reads.prompt.ID
	stat.ModelName = &reads.model.Name

	policy, perr2 := p.effectivePolicy(ctx, reads.milestone)
	if perr2 != nil {
		return nil, perr2
	}
	stat.PolicyID = &policy.ID

	prompt := BuildPrompt(reads.prompt.Content, reads.milestone.Name, reads.validators)

	response, tokenCount, ierr := p.provider.Submit(ctx, video, prompt, reads.model.Name)
	if ierr != nil {
		return nil, ierr
	}
	stat.TotalTokenCount = tokenCount

	decision := EvaluatePolicy(response, policy.Threshold())

	total := len(decision.Validators)
	passed := 0
	for _, v := range decision.Validators {
		if v.Result {
			passed++
		}
	}
	confidencePct := int(decision.Confidence * 100)
	stat.Result = &decision.Result
	stat.ConfidencePct = &confidencePct
	stat.ValidatorsTotal = &total
	stat.ValidatorsPassed = &passed

	return &Result{
		MilestoneID: milestoneID,
		Result:      decision.Result,
		Confidence:  decision.Confidence,
		Validators:  decision.Validators,
		Policy:      policy.Threshold(),
	}, nil
}

// configReads holds the independent lookups issued concurrently for one
// request. The branches share no mutable state; each goroutine writes only
// its own field.
type configReads struct {
	milestone  *models.Milestone
	validators []models.Validator
	prompt     *models.SystemPrompt
	model      *models.Model
}

// lookupConfig runs the four independent reads in parallel and joins them.
// The first lookup error wins.
func (p *Pipeline) lookupConfig(ctx context.Context, milestoneID int64) (*configReads, error) {
	reads := &configReads{}
	errs := make([]error, 4)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		reads.milestone, errs[0] = p.store.GetMilestone(ctx, milestoneID)
	}()
	go func() {
		defer wg.Done()
		reads.validators, errs[1] = p.store.GetValidatorsByMilestone(ctx, milestoneID)
	}()
	go func() {
		defer wg.Done()
		reads.prompt, errs[2] = p.store.GetCurrentSystemPrompt(ctx)
	}()
	go func() {
		defer wg.Done()
		reads.model, errs[3] = p.store.GetActiveModel(ctx)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return reads, nil
}

// effectivePolicy resolves a milestone's policy: its own when set, otherwise
// the single default. No resolvable policy is fatal for the request.
func (p *Pipeline) effectivePolicy(ctx context.Context, milestone *models.Milestone) (*models.Policy, error) {
	var policy *models.Policy
	var err error
	if milestone.PolicyID != nil {
		policy, err = p.store.GetPolicyByID(ctx, *milestone.PolicyID)
	} else {
		policy, err = p.store.GetDefaultPolicy(ctx)
	}
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, apperr.ErrConfigurationMissing
	}
	return policy, nil
}

// record fills the outcome fields and appends the audit row. Called exactly
// once per Run.
func (p *Pipeline) record(_ context.Context, stat *models.ResponseStat, start time.Time, runErr error) {
	stat.ProcessingTimeMs = time.Since(start).Milliseconds()

	// Detached from the request context so a canceled caller still gets its
	// attempt audited.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if runErr == nil {
		stat.Status = models.StatusSuccess
		stat.HTTPStatus = 200
	} else {
		e := apperr.Classify(runErr)
		stat.Status = models.StatusError
		stat.HTTPStatus = e.HTTPStatus
		code := e.Code
		stat.ErrorCode = &code
	}

	if err := p.recorder.InsertResponseStat(ctx, stat); err != nil {
		log.Printf("[Pipeline] WARNING: failed to record invocation stat for request %s: %v", stat.RequestID, err)
	}
}

func parseMilestoneID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperr.ErrInvalidMilestoneID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.ErrInvalidMilestoneID.WithCause(err)
	}
	return id, nil
}
