package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"github.com/criyle/go-judge/pb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	defaultRPCTimeout     = 30 * time.Second
	defaultOutputLimit    = 64 << 20
	defaultCompileOutput  = 64 << 10
	defaultProcLimit      = 50
	defaultCompileCPUTime = 10 * time.Second
	defaultCompileMemory  = 512 << 20
)

// ExecClient is the part of pb.ExecutorClient the adapter uses.
type ExecClient interface {
	Exec(ctx context.Context, in *pb.Request, opts ...grpc.CallOption) (*pb.Response, error)
	FileDelete(ctx context.Context, in *pb.FileID, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

// GoJudgeConfig configures the parallel go-judge adapter.
type GoJudgeConfig struct {
	Addr       string
	Token      string
	RPCTimeout time.Duration
	Catalog    Catalog
	// OutputLimitBytes caps collected stdout/stderr per run.
	OutputLimitBytes int64
	ProcLimit        uint64
	Env              []string
}

// GoJudgeAdapter compiles once, then issues one Exec call per test case
// concurrently and waits for all of them.
type GoJudgeAdapter struct {
	client ExecClient
	conn   *grpc.ClientConn
	cfg    GoJudgeConfig
}

// NewGoJudgeAdapter dials the go-judge gRPC endpoint.
func NewGoJudgeAdapter(cfg GoJudgeConfig) (*GoJudgeAdapter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("go-judge addr is required")
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(newTokenAuth(cfg.Token)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial go-judge: %w", err)
	}
	adapter := NewGoJudgeAdapterWithClient(pb.NewExecutorClient(conn), cfg)
	adapter.conn = conn
	return adapter, nil
}

// NewGoJudgeAdapterWithClient builds the adapter over an existing client.
func NewGoJudgeAdapterWithClient(client ExecClient, cfg GoJudgeConfig) *GoJudgeAdapter {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = defaultOutputLimit
	}
	if cfg.ProcLimit == 0 {
		cfg.ProcLimit = defaultProcLimit
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if len(cfg.Env) == 0 {
		cfg.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=/w"}
	}
	return &GoJudgeAdapter{client: client, cfg: cfg}
}

func (a *GoJudgeAdapter) Name() string { return "gojudge" }

// Close releases the gRPC connection when the adapter owns it.
func (a *GoJudgeAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *GoJudgeAdapter) Execute(ctx context.Context, req Request) ([]Result, error) {
	spec, err := a.cfg.Catalog.Lookup(req.Language)
	if err != nil {
		return nil, err
	}
	runArgs, err := spec.RunArgs()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ExecutorNotConfigured, "run command for %s", req.Language)
	}

	copyIn := map[string]*pb.Request_File{spec.SourceFile: memoryFile([]byte(req.Code))}
	if spec.Compiled() {
		artifactID, compileOutput, err := a.compile(ctx, spec, req.Code)
		if err != nil {
			return faultResults(req, err), nil
		}
		if artifactID == "" {
			out := make([]Result, len(req.TestCases))
			for i := range out {
				out[i] = Result{TestCaseIndex: req.IndexOf(i), RawStatus: RawCompileError, CompileOutput: compileOutput}
			}
			return out, nil
		}
		defer a.deleteFile(artifactID)
		copyIn = map[string]*pb.Request_File{spec.Artifact: cachedFile(artifactID)}
	}

	memoryMB := req.Limits.MemoryLimitMB + spec.ExtraMemoryMB
	results := make([]Result, len(req.TestCases))
	var g errgroup.Group
	for i, tc := range req.TestCases {
		i, tc := i, tc
		g.Go(func() error {
			results[i] = a.run(ctx, req.IndexOf(i), runArgs, copyIn, tc.Input, req.Limits.TimeLimitSec, memoryMB)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// compile returns the cached artifact id, or "" plus diagnostics when
// compilation failed. err is only set for executor faults.
func (a *GoJudgeAdapter) compile(ctx context.Context, spec LanguageSpec, code string) (string, string, error) {
	args, err := spec.CompileArgs()
	if err != nil {
		return "", "", pkgerrors.Wrapf(err, pkgerrors.ExecutorNotConfigured, "compile command")
	}
	cmd := pb.Request_CmdType_builder{
		Args: args,
		Env:  a.cfg.Env,
		Files: []*pb.Request_File{
			memoryFile(nil),
			pipeCollector("stdout", defaultCompileOutput),
			pipeCollector("stderr", defaultCompileOutput),
		},
		CpuTimeLimit:   uint64(defaultCompileCPUTime),
		ClockTimeLimit: uint64(2 * defaultCompileCPUTime),
		MemoryLimit:    defaultCompileMemory,
		ProcLimit:      a.cfg.ProcLimit,
		CopyIn:         map[string]*pb.Request_File{spec.SourceFile: memoryFile([]byte(code))},
		CopyOutCached: []*pb.Request_CmdCopyOutFile{
			pb.Request_CmdCopyOutFile_builder{Name: spec.Artifact}.Build(),
		},
	}.Build()
	res, err := a.exec(ctx, cmd)
	if err != nil {
		return "", "", err
	}
	files := res.GetFiles()
	diagnostics := strings.TrimSpace(string(files["stderr"]) + "\n" + string(files["stdout"]))
	if res.GetStatus() != pb.Response_Result_Accepted {
		if diagnostics == "" {
			diagnostics = res.GetError()
		}
		return "", diagnostics, nil
	}
	id := res.GetFileIDs()[spec.Artifact]
	if id == "" {
		return "", "", pkgerrors.ExecutorFault(nil, "compile produced no %s", spec.Artifact)
	}
	return id, diagnostics, nil
}

func (a *GoJudgeAdapter) run(ctx context.Context, index int, args []string, copyIn map[string]*pb.Request_File, input string, timeLimitSec float64, memoryMB int) Result {
	cpu := time.Duration(timeLimitSec * float64(time.Second))
	cmd := pb.Request_CmdType_builder{
		Args: args,
		Env:  a.cfg.Env,
		Files: []*pb.Request_File{
			memoryFile([]byte(input)),
			pipeCollector("stdout", a.cfg.OutputLimitBytes),
			pipeCollector("stderr", defaultCompileOutput),
		},
		CpuTimeLimit:   uint64(cpu),
		ClockTimeLimit: uint64(2*cpu + time.Second),
		MemoryLimit:    uint64(memoryMB) << 20,
		StackLimit:     uint64(memoryMB) << 20,
		ProcLimit:      a.cfg.ProcLimit,
		CopyIn:         copyIn,
	}.Build()
	res, err := a.exec(ctx, cmd)
	if err != nil {
		return Result{TestCaseIndex: index, RawStatus: RawInternalError, Fault: err}
	}
	files := res.GetFiles()
	return Result{
		TestCaseIndex:   index,
		ActualOutput:    string(files["stdout"]),
		RawStatus:       translateGoJudgeStatus(res.GetStatus(), res.GetExitStatus()),
		ExecutionTimeMs: int64Ptr(int64(res.GetTime() / uint64(time.Millisecond))),
		MemoryUsageKB:   int64Ptr(int64(res.GetMemory() >> 10)),
		Stderr:          firstNonEmpty(string(files["stderr"]), res.GetError()),
	}
}

func (a *GoJudgeAdapter) exec(ctx context.Context, cmd *pb.Request_CmdType) (*pb.Response_Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RPCTimeout)
	defer cancel()

	resp, err := a.client.Exec(callCtx, pb.Request_builder{Cmd: []*pb.Request_CmdType{cmd}}.Build())
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, pkgerrors.Wrapf(err, pkgerrors.ExecutorTimeout, "go-judge exec exceeded %s", a.cfg.RPCTimeout)
		}
		return nil, pkgerrors.ExecutorFault(err, "go-judge exec failed")
	}
	if msg := resp.GetError(); msg != "" {
		return nil, pkgerrors.ExecutorFault(nil, "go-judge error: %s", msg)
	}
	results := resp.GetResults()
	if len(results) != 1 || results[0] == nil {
		return nil, pkgerrors.ExecutorFault(nil, "go-judge returned %d results for 1 command", len(results))
	}
	return results[0], nil
}

func (a *GoJudgeAdapter) deleteFile(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.client.FileDelete(ctx, pb.FileID_builder{FileID: id}.Build()); err != nil {
		logger.Warn(ctx, "delete cached artifact failed", zap.String("file_id", id), zap.Error(err))
	}
}

func translateGoJudgeStatus(status pb.Response_Result_StatusType, exitStatus int32) RawStatus {
	switch status {
	case pb.Response_Result_Accepted:
		return RawAccepted
	case pb.Response_Result_WrongAnswer:
		return RawWrongAnswer
	case pb.Response_Result_MemoryLimitExceeded:
		return RawMemoryLimit
	case pb.Response_Result_TimeLimitExceeded:
		return RawTimeLimit
	case pb.Response_Result_OutputLimitExceeded:
		return RawSIGXFSZ
	case pb.Response_Result_FileError, pb.Response_Result_DangerousSyscall:
		return RawRuntimeOther
	case pb.Response_Result_NonZeroExitStatus:
		return RawNZEC
	case pb.Response_Result_Signalled:
		switch exitStatus {
		case 11:
			return RawSIGSEGV
		case 8:
			return RawSIGFPE
		case 6:
			return RawSIGABRT
		case 25:
			return RawSIGXFSZ
		}
		return RawRuntimeOther
	}
	return RawInternalError
}

func memoryFile(content []byte) *pb.Request_File {
	return pb.Request_File_builder{Memory: pb.Request_MemoryFile_builder{Content: content}.Build()}.Build()
}

func cachedFile(id string) *pb.Request_File {
	return pb.Request_File_builder{Cached: pb.Request_CachedFile_builder{FileID: id}.Build()}.Build()
}

func pipeCollector(name string, max int64) *pb.Request_File {
	return pb.Request_File_builder{Pipe: pb.Request_PipeCollector_builder{Name: name, Max: max}.Build()}.Build()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type tokenAuth struct {
	token string
}

func newTokenAuth(token string) credentials.PerRPCCredentials {
	return &tokenAuth{token: token}
}

func (t *tokenAuth) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + t.token}, nil
}

func (*tokenAuth) RequireTransportSecurity() bool {
	return false
}
