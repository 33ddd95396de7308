package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ojeval/internal/judge/executor"
	"ojeval/internal/judge/model"
	pkgerrors "ojeval/pkg/errors"

	"github.com/criyle/go-judge/pb"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

type fakeExecClient struct {
	mu         sync.Mutex
	compiles   int
	runs       int
	deleted    []string
	runCmds    []*pb.Request_CmdType
	compileErr string
	failInput  string
}

func reply(r pb.Response_Result_builder) *pb.Response {
	return pb.Response_builder{Results: []*pb.Response_Result{r.Build()}}.Build()
}

func (f *fakeExecClient) Exec(ctx context.Context, in *pb.Request, _ ...grpc.CallOption) (*pb.Response, error) {
	cmd := in.GetCmd()[0]
	f.mu.Lock()
	defer f.mu.Unlock()

	if out := cmd.GetCopyOutCached(); len(out) > 0 {
		f.compiles++
		if f.compileErr != "" {
			return reply(pb.Response_Result_builder{
				Status:     pb.Response_Result_NonZeroExitStatus,
				ExitStatus: 1,
				Files:      map[string][]byte{"stderr": []byte(f.compileErr)},
			}), nil
		}
		return reply(pb.Response_Result_builder{
			Status:  pb.Response_Result_Accepted,
			FileIDs: map[string]string{out[0].GetName(): "artifact-1"},
		}), nil
	}

	f.runs++
	f.runCmds = append(f.runCmds, cmd)
	stdin := string(cmd.GetFiles()[0].GetMemory().GetContent())
	if f.failInput != "" && stdin == f.failInput {
		return nil, errors.New("connection reset")
	}
	return reply(pb.Response_Result_builder{
		Status: pb.Response_Result_Accepted,
		Time:   uint64(12 * time.Millisecond),
		Memory: 2048 << 10,
		Files:  map[string][]byte{"stdout": []byte(stdin)},
	}), nil
}

func (f *fakeExecClient) FileDelete(ctx context.Context, in *pb.FileID, _ ...grpc.CallOption) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, in.GetFileID())
	return &emptypb.Empty{}, nil
}

func cases(inputs ...string) []model.TestCase {
	out := make([]model.TestCase, len(inputs))
	for i, in := range inputs {
		out[i] = model.TestCase{Input: in, ExpectedOutput: in, Points: 1}
	}
	return out
}

func TestGoJudgeAdapterCompilesOnce(t *testing.T) {
	t.Parallel()
	client := &fakeExecClient{}
	adapter := executor.NewGoJudgeAdapterWithClient(client, executor.GoJudgeConfig{})

	results, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "int main(){}",
		Language:  model.LanguageCPP,
		TestCases: cases("1", "2", "3"),
		Indexes:   []int{4, 5, 6},
		Limits:    model.Limits{TimeLimitSec: 1, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if client.compiles != 1 || client.runs != 3 {
		t.Fatalf("expected 1 compile and 3 runs, got %d and %d", client.compiles, client.runs)
	}
	for i, res := range results {
		if res.TestCaseIndex != 4+i {
			t.Fatalf("result %d has index %d", i, res.TestCaseIndex)
		}
		if res.RawStatus != executor.RawAccepted || res.ActualOutput != cases("1", "2", "3")[i].Input {
			t.Fatalf("unexpected result %+v", res)
		}
		if res.ExecutionTimeMs == nil || *res.ExecutionTimeMs != 12 || *res.MemoryUsageKB != 2048 {
			t.Fatalf("unexpected usage %+v", res)
		}
	}
	if len(client.deleted) != 1 || client.deleted[0] != "artifact-1" {
		t.Fatalf("expected cached artifact cleanup, got %v", client.deleted)
	}
}

func TestGoJudgeAdapterRunRequest(t *testing.T) {
	t.Parallel()
	client := &fakeExecClient{}
	adapter := executor.NewGoJudgeAdapterWithClient(client, executor.GoJudgeConfig{OutputLimitBytes: 1 << 10})

	_, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "int main(){}",
		Language:  model.LanguageCPP,
		TestCases: cases("7"),
		Limits:    model.Limits{TimeLimitSec: 1.5, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(client.runCmds) != 1 {
		t.Fatalf("expected one run command, got %d", len(client.runCmds))
	}
	cmd := client.runCmds[0]
	if got := time.Duration(cmd.GetCpuTimeLimit()); got != 1500*time.Millisecond {
		t.Fatalf("cpu limit = %s", got)
	}
	if cmd.GetMemoryLimit() < 64<<20 {
		t.Fatalf("memory limit = %d", cmd.GetMemoryLimit())
	}
	stdout := cmd.GetFiles()[1].GetPipe()
	if stdout.GetName() != "stdout" || stdout.GetMax() != 1<<10 {
		t.Fatalf("stdout collector = %v", stdout)
	}
	for name, f := range cmd.GetCopyIn() {
		if f.GetCached().GetFileID() != "artifact-1" {
			t.Fatalf("run copies %s from %v, want cached artifact", name, f)
		}
	}
}

func TestGoJudgeAdapterCompileError(t *testing.T) {
	t.Parallel()
	client := &fakeExecClient{compileErr: "main.c:1: error"}
	adapter := executor.NewGoJudgeAdapterWithClient(client, executor.GoJudgeConfig{})

	results, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "int main(",
		Language:  model.LanguageC,
		TestCases: cases("a", "b"),
		Limits:    model.Limits{TimeLimitSec: 1, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if client.runs != 0 {
		t.Fatalf("runs must not start after a failed compile")
	}
	for _, res := range results {
		if res.RawStatus != executor.RawCompileError || !strings.Contains(res.CompileOutput, "error") {
			t.Fatalf("unexpected result %+v", res)
		}
	}
}

func TestGoJudgeAdapterRecordsPerTestFault(t *testing.T) {
	t.Parallel()
	client := &fakeExecClient{failInput: "boom"}
	adapter := executor.NewGoJudgeAdapterWithClient(client, executor.GoJudgeConfig{})

	results, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "print(input())",
		Language:  model.LanguagePython,
		TestCases: cases("ok", "boom", "ok"),
		Limits:    model.Limits{TimeLimitSec: 1, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[1].Fault == nil || !pkgerrors.Is(results[1].Fault, pkgerrors.ExecutorUnavailable) {
		t.Fatalf("expected executor fault on test 1, got %+v", results[1])
	}
	if results[0].Fault != nil || results[2].Fault != nil {
		t.Fatalf("faults must stay on the failing test")
	}
}

func TestRawStatusDomain(t *testing.T) {
	tests := []struct {
		raw     executor.RawStatus
		want    model.TestStatus
		decided bool
	}{
		{executor.RawAccepted, "", false},
		{executor.RawWrongAnswer, "", false},
		{executor.RawCompileError, model.TestCompileError, true},
		{executor.RawTimeLimit, model.TestTLE, true},
		{executor.RawMemoryLimit, model.TestMLE, true},
		{executor.RawSIGSEGV, model.TestRuntimeError, true},
		{executor.RawNZEC, model.TestRuntimeError, true},
		{executor.RawInternalError, model.TestRuntimeError, true},
		{executor.RawProcessing, model.TestRuntimeError, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw.String(), func(t *testing.T) {
			got, ok := tt.raw.Domain()
			if got != tt.want || ok != tt.decided {
				t.Errorf("Domain() = %q,%v want %q,%v", got, ok, tt.want, tt.decided)
			}
		})
	}
}

func TestJudge0AdapterPollsUntilDone(t *testing.T) {
	t.Parallel()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/submissions":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["language_id"] != float64(71) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"token":"tok-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/submissions/tok-1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"status":{"id":2,"description":"Processing"},"stdout":null}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":{"id":3,"description":"Accepted"},"stdout":"42\n","time":"0.015","memory":3100}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter, err := executor.NewJudge0Adapter(executor.Judge0Config{
		BaseURL:      srv.URL,
		AuthToken:    "secret",
		PollInterval: 5 * time.Millisecond,
		MaxPolls:     10,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	results, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "print(42)",
		Language:  model.LanguagePython,
		TestCases: cases(""),
		Limits:    model.Limits{TimeLimitSec: 1, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	res := results[0]
	if res.Fault != nil || res.RawStatus != executor.RawAccepted || res.ActualOutput != "42\n" {
		t.Fatalf("unexpected result %+v", res)
	}
	if *res.ExecutionTimeMs != 15 || *res.MemoryUsageKB != 3100 {
		t.Fatalf("unexpected usage %+v", res)
	}
}

func TestJudge0AdapterFaultOnServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter, _ := executor.NewJudge0Adapter(executor.Judge0Config{BaseURL: srv.URL})
	results, err := adapter.Execute(context.Background(), executor.Request{
		Code:      "print(1)",
		Language:  model.LanguagePython,
		TestCases: cases("", ""),
		Limits:    model.Limits{TimeLimitSec: 1, MemoryLimitMB: 64},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, res := range results {
		if res.Fault == nil {
			t.Fatalf("expected fault, got %+v", res)
		}
	}
}

func TestOfflineAdapter(t *testing.T) {
	t.Parallel()
	adapter := executor.NewOfflineAdapter()
	limits := model.Limits{TimeLimitSec: 2, MemoryLimitMB: 64}
	tcs := []model.TestCase{{Input: "1 2", ExpectedOutput: "3"}}

	tests := []struct {
		name   string
		code   string
		status executor.RawStatus
		output string
	}{
		{"echoes expected", "a, b = map(int, input().split())\nprint(a + b)", executor.RawAccepted, "3"},
		{"no output call", "x = input()", executor.RawAccepted, ""},
		{"ignores input", "print(3)", executor.RawAccepted, ""},
		{"unbalanced", "print((1)", executor.RawCompileError, ""},
		{"endless", "x = input()\nwhile True:\n    pass\nprint(x)", executor.RawTimeLimit, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := executor.Request{Code: tt.code, Language: model.LanguagePython, TestCases: tcs, Limits: limits}
			first, err := adapter.Execute(context.Background(), req)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			again, _ := adapter.Execute(context.Background(), req)
			if first[0].RawStatus != tt.status || first[0].ActualOutput != tt.output {
				t.Fatalf("unexpected result %+v", first[0])
			}
			if tt.status != executor.RawCompileError && *first[0].ExecutionTimeMs != *again[0].ExecutionTimeMs {
				t.Fatalf("offline timing must be deterministic")
			}
		})
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := executor.New(executor.Config{Kind: "docker"}); !pkgerrors.Is(err, pkgerrors.ExecutorNotConfigured) {
		t.Fatalf("expected ExecutorNotConfigured, got %v", err)
	}
	adapter, err := executor.New(executor.Config{Kind: executor.KindOffline})
	if err != nil || adapter.Name() != "offline" {
		t.Fatalf("expected offline adapter, got %v %v", adapter, err)
	}
}
