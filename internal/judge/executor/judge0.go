package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "ojeval/pkg/errors"

	"github.com/zeromicro/go-zero/rest/httpc"
)

// Judge0Config configures the submit-then-poll adapter.
type Judge0Config struct {
	BaseURL      string
	AuthToken    string
	PollInterval time.Duration
	MaxPolls     int
	RPCTimeout   time.Duration
	Catalog      Catalog
}

// Judge0Adapter submits one job per test case and polls it until it leaves
// the queue. Test cases are processed one after another.
type Judge0Adapter struct {
	cfg  Judge0Config
	base string
}

// NewJudge0Adapter validates cfg and fills defaults.
func NewJudge0Adapter(cfg Judge0Config) (*Judge0Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, pkgerrors.New(pkgerrors.ExecutorNotConfigured).WithMessage("judge0 base url is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	return &Judge0Adapter{cfg: cfg, base: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

func (a *Judge0Adapter) Name() string { return "judge0" }

type judge0Submission struct {
	Token        string  `header:"X-Auth-Token"`
	SourceCode   string  `json:"source_code"`
	LanguageID   int     `json:"language_id"`
	Stdin        string  `json:"stdin"`
	CPUTimeLimit float64 `json:"cpu_time_limit"`
	WallLimit    float64 `json:"wall_time_limit"`
	MemoryLimit  int     `json:"memory_limit"`
}

type judge0Auth struct {
	Token string `header:"X-Auth-Token"`
}

type judge0Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type judge0Job struct {
	Token         string       `json:"token"`
	Status        judge0Status `json:"status"`
	Stdout        *string      `json:"stdout"`
	Stderr        *string      `json:"stderr"`
	CompileOutput *string      `json:"compile_output"`
	Message       *string      `json:"message"`
	Time          *string      `json:"time"`
	Memory        *int64       `json:"memory"`
}

func (a *Judge0Adapter) Execute(ctx context.Context, req Request) ([]Result, error) {
	spec, err := a.cfg.Catalog.Lookup(req.Language)
	if err != nil {
		return nil, err
	}
	if spec.Judge0ID == 0 {
		return nil, pkgerrors.Newf(pkgerrors.ExecutorNotConfigured, "no judge0 language id for %s", req.Language)
	}

	memoryKB := (req.Limits.MemoryLimitMB + spec.ExtraMemoryMB) * 1024
	results := make([]Result, len(req.TestCases))
	for i, tc := range req.TestCases {
		index := req.IndexOf(i)
		job, err := a.runOne(ctx, judge0Submission{
			Token:        a.cfg.AuthToken,
			SourceCode:   req.Code,
			LanguageID:   spec.Judge0ID,
			Stdin:        tc.Input,
			CPUTimeLimit: req.Limits.TimeLimitSec,
			WallLimit:    2*req.Limits.TimeLimitSec + 1,
			MemoryLimit:  memoryKB,
		})
		if err != nil {
			results[i] = Result{TestCaseIndex: index, RawStatus: RawInternalError, Fault: err}
			continue
		}
		results[i] = job.toResult(index)
	}
	return results, nil
}

func (a *Judge0Adapter) runOne(ctx context.Context, sub judge0Submission) (*judge0Job, error) {
	var created judge0Job
	if err := a.call(ctx, http.MethodPost, a.base+"/submissions?base64_encoded=false&wait=false", sub, &created); err != nil {
		return nil, err
	}
	if created.Token == "" {
		return nil, pkgerrors.ExecutorFault(nil, "judge0 returned no submission token")
	}

	jobURL := a.base + "/submissions/" + url.PathEscape(created.Token) + "?base64_encoded=false"
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < a.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrapf(ctx.Err(), pkgerrors.ExecutorTimeout, "judge0 poll cancelled")
		case <-ticker.C:
		}
		var job judge0Job
		if err := a.call(ctx, http.MethodGet, jobURL, judge0Auth{Token: a.cfg.AuthToken}, &job); err != nil {
			return nil, err
		}
		if RawStatus(job.Status.ID) > RawProcessing {
			return &job, nil
		}
	}
	return nil, pkgerrors.Newf(pkgerrors.ExecutorTimeout, "judge0 submission %s still queued after %d polls", created.Token, a.cfg.MaxPolls)
}

func (a *Judge0Adapter) call(ctx context.Context, method, target string, data any, out *judge0Job) error {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RPCTimeout)
	defer cancel()

	resp, err := httpc.Do(callCtx, method, target, data)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return pkgerrors.Wrapf(err, pkgerrors.ExecutorTimeout, "judge0 %s exceeded %s", method, a.cfg.RPCTimeout)
		}
		return pkgerrors.ExecutorFault(err, "judge0 %s failed", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.ExecutorFault(fmt.Errorf("status %d", resp.StatusCode), "judge0 %s rejected", method)
	}
	// Judge0 sends explicit nulls, so decode with encoding/json.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.ExecutorFault(nil, "judge0 response: %v", err)
	}
	return nil
}

func (j *judge0Job) toResult(index int) Result {
	res := Result{
		TestCaseIndex: index,
		RawStatus:     RawStatus(j.Status.ID),
		ActualOutput:  deref(j.Stdout),
		Stderr:        firstNonEmpty(deref(j.Stderr), deref(j.Message)),
		CompileOutput: deref(j.CompileOutput),
	}
	if j.Time != nil {
		if sec, err := strconv.ParseFloat(*j.Time, 64); err == nil {
			res.ExecutionTimeMs = int64Ptr(int64(sec * 1000))
		}
	}
	if j.Memory != nil {
		res.MemoryUsageKB = int64Ptr(*j.Memory)
	}
	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
