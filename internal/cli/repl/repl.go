package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"ojeval/internal/cli/command"
	httpclient "ojeval/internal/cli/http"
	"ojeval/internal/cli/state"
	"ojeval/internal/notify"

	"github.com/google/shlex"
)

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	poller     *notify.Poller
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool

	mu           sync.Mutex
	saveMu       sync.Mutex
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, poller *notify.Poller, commands map[string]command.Command, tokenState *state.TokenState, statePath string, prettyJSON bool) *Session {
	return NewWithWriter(client, poller, commands, tokenState, statePath, prettyJSON, os.Stdout)
}

// NewWithWriter is New with output sent to w.
func NewWithWriter(client *httpclient.Client, poller *notify.Poller, commands map[string]command.Command, tokenState *state.TokenState, statePath string, prettyJSON bool, w io.Writer) *Session {
	if tokenState.Watching == nil {
		tokenState.Watching = make(map[string]int64)
	}
	return &Session{
		client:       client,
		commands:     commands,
		poller:       poller,
		tokenState:   tokenState,
		statePath:    statePath,
		prettyJSON:   prettyJSON,
		outputWriter: bufio.NewWriter(w),
	}
}

// Run reads commands from in until exit or EOF.
func (s *Session) Run(ctx context.Context, in io.Reader) {
	defer s.poller.Close()
	s.resume()

	reader := bufio.NewReader(in)
	for {
		s.prompt()
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, reader, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

// resume restarts background polls saved by an earlier session.
func (s *Session) resume() {
	for id, generation := range s.watching() {
		s.printLine("resuming watch of %s (generation %d)", id, generation)
		s.poller.Continue(id, generation, s.onDone(id))
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	if line == "clear token" {
		s.mu.Lock()
		s.tokenState.AccessToken = ""
		s.mu.Unlock()
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear token failed: %v", err)
			return true
		}
		s.printLine("token cleared")
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.mu.Lock()
		s.tokenState.AccessToken = parts[1]
		s.tokenState.SavedAt = time.Now().UTC()
		s.mu.Unlock()
		if err := s.saveState(); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		token := s.Token()
		if token == "" {
			s.printLine("token: <empty>")
			return
		}
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("tokenStatePath: %s", s.statePath)
	case "watching":
		watching := s.watching()
		if len(watching) == 0 {
			s.printLine("no background watches")
			return
		}
		ids := make([]string, 0, len(watching))
		for id := range watching {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			line := fmt.Sprintf("%s generation %d", id, watching[id])
			if snap, ok := s.poller.Last(id); ok {
				line += fmt.Sprintf(" last=%s", snap.Status)
			}
			s.printLine("%s", line)
		}
	default:
		s.printLine("usage: show token|config|watching")
	}
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenState.AccessToken
}

func (s *Session) handleCommand(ctx context.Context, reader *bufio.Reader, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			// A bare argument is the id.
			params.Set("id", token)
			continue
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	if params.Get("code_file") != "" && params.Get("code") == "" {
		params.Set("code", "_file_")
	}
	if err := s.promptMissing(reader, &cmd, params); err != nil {
		return err
	}

	if cmd.Watch {
		return s.watch(ctx, params.Get("id"), 0)
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)

	if cmd.Service != "submission" || (cmd.Action != "create" && cmd.Action != "rerun") {
		return nil
	}
	var started struct {
		ID           string `json:"id"`
		SubmissionID string `json:"submissionId"`
		Generation   int64  `json:"generation"`
	}
	if err := httpclient.Decode(resp, &started); err != nil {
		return nil
	}
	id := started.ID
	if id == "" {
		id = started.SubmissionID
	}
	if cmd.Action == "rerun" {
		// The previous run's background poll must not report over the new one.
		s.poller.Supersede(id, started.Generation)
		s.forget(id, started.Generation)
	}
	if command.WantsWatch(cmd, params) {
		return s.watch(ctx, id, started.Generation)
	}
	return nil
}

// watch follows one run in the foreground and hands off to a background
// poll when the foreground budget runs out.
func (s *Session) watch(ctx context.Context, id string, generation int64) error {
	if generation == 0 {
		snap, err := s.client.FetchStatus(ctx, id)
		if err != nil {
			return err
		}
		generation = snap.Generation
	}
	// Recorded before polling so a fast background finish can clear it.
	s.mu.Lock()
	s.tokenState.Watching[id] = generation
	s.mu.Unlock()
	snap, done, err := s.poller.Watch(ctx, id, generation, s.onDone(id))
	if err != nil || done {
		s.forget(id, generation)
	}
	if err != nil {
		return err
	}
	if done {
		s.printSnapshot(snap)
		return nil
	}
	_ = s.saveState()
	s.printLine("%s is still %s; watching in the background", id, snap.Status)
	return nil
}

func (s *Session) onDone(id string) func(notify.Snapshot) {
	return func(snap notify.Snapshot) {
		s.forget(id, snap.Generation)
		s.printLine("")
		s.printSnapshot(snap)
		s.prompt()
	}
}

func (s *Session) forget(id string, generation int64) {
	s.mu.Lock()
	gen, ok := s.tokenState.Watching[id]
	if ok && gen <= generation {
		delete(s.tokenState.Watching, id)
	}
	s.mu.Unlock()
	if ok {
		_ = s.saveState()
	}
}

func (s *Session) watching() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.tokenState.Watching))
	for id, gen := range s.tokenState.Watching {
		out[id] = gen
	}
	return out
}

func (s *Session) saveState() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	st := *s.tokenState
	st.Watching = make(map[string]int64, len(s.tokenState.Watching))
	for id, gen := range s.tokenState.Watching {
		st.Watching[id] = gen
	}
	s.mu.Unlock()
	return state.Save(s.statePath, st)
}

func (s *Session) promptMissing(reader *bufio.Reader, cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(reader, field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(reader *bufio.Reader, prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) printSnapshot(snap notify.Snapshot) {
	s.printLine("%s [gen %d] %s score=%d %s", snap.SubmissionID, snap.Generation, snap.Status, snap.Score, snap.StatusMessage)
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s) request=%s", resp.StatusCode, resp.Duration, resp.RequestID)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw any
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config|watching | clear token")
	s.printLine("examples:")
	s.printLine("  submission create problem=p1 lang=python file=./main.py watch=true")
	s.printLine("  submission watch <id>")
	s.printLine("  submission rerun <id> watch=true")
	s.printLine("  submission report <id> gen=1")
	s.printLine("  contest leaderboard <contest_id> limit=20")
}

func (s *Session) prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.outputWriter.WriteString("ojeval> ")
	_ = s.outputWriter.Flush()
}

func (s *Session) printLine(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
