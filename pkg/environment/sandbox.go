package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ExecResult is the outcome of one sandboxed code execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Sandbox executes code in isolation from the runner process. Run must
// report an execution that exceeded timeout through TimedOut.
type Sandbox interface {
	Run(ctx context.Context, code string, timeout time.Duration) (ExecResult, error)
	Close() error
}

// ProcessSandbox pipes code into a local interpreter started in a private
// temporary directory.
type ProcessSandbox struct {
	// Command is the interpreter invocation; code is written to its stdin.
	Command []string
	TempDir string

	dir  string
	once sync.Once
	err  error
}

func NewProcessSandbox(command ...string) *ProcessSandbox {
	if len(command) == 0 {
		command = []string{"python3", "-"}
	}
	return &ProcessSandbox{Command: command}
}

func (s *ProcessSandbox) Run(ctx context.Context, code string, timeout time.Duration) (ExecResult, error) {
	s.once.Do(func() {
		s.dir, s.err = os.MkdirTemp(s.TempDir, "agentgym_code_")
	})
	if s.err != nil {
		return ExecResult{}, s.err
	}
	res, err := runProcess(ctx, s.dir, timeout, []byte(code), s.Command[0], s.Command[1:]...)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult(res), nil
}

func (s *ProcessSandbox) Close() error {
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	return os.RemoveAll(dir)
}

// HTTPSandbox talks to a remote code runner exposing POST /run_code.
type HTTPSandbox struct {
	URL      string
	Language string
	Client   *http.Client
}

func NewHTTPSandbox(url string, client *http.Client) *HTTPSandbox {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSandbox{URL: strings.TrimRight(url, "/"), Language: "python", Client: client}
}

type runCodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	// RunTimeout is in seconds.
	RunTimeout float64 `json:"run_timeout,omitempty"`
}

type runCodeResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RunResult *struct {
		Status        string  `json:"status"`
		Stdout        string  `json:"stdout"`
		Stderr        string  `json:"stderr"`
		ExecutionTime float64 `json:"execution_time"`
		ReturnCode    *int    `json:"return_code"`
	} `json:"run_result"`
}

func (s *HTTPSandbox) Run(ctx context.Context, code string, timeout time.Duration) (ExecResult, error) {
	body, err := json.Marshal(runCodeRequest{Code: code, Language: s.Language, RunTimeout: timeout.Seconds()})
	if err != nil {
		return ExecResult{}, err
	}

	reqCtx := ctx
	if timeout > 0 {
		// leave the remote runner time to report its own timeout
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout+5*time.Second)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.URL+"/run_code", bytes.NewReader(body))
	if err != nil {
		return ExecResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return ExecResult{TimedOut: true, ExitCode: -1, Duration: time.Since(start)}, nil
		}
		return ExecResult{}, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes*4))
	if err != nil {
		return ExecResult{}, fmt.Errorf("reading sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ExecResult{}, fmt.Errorf("sandbox API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out runCodeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ExecResult{}, fmt.Errorf("decoding sandbox response: %w", err)
	}
	if out.RunResult == nil {
		if out.Status == "Success" {
			return ExecResult{Duration: time.Since(start)}, nil
		}
		return ExecResult{}, fmt.Errorf("execution failed: %s", out.Message)
	}

	rr := out.RunResult
	res := ExecResult{
		Stdout:   rr.Stdout,
		Stderr:   rr.Stderr,
		Duration: time.Duration(rr.ExecutionTime * float64(time.Second)),
		TimedOut: rr.Status == "TimeLimitExceeded",
	}
	switch {
	case res.TimedOut:
		res.ExitCode = -1
	case rr.ReturnCode != nil:
		res.ExitCode = *rr.ReturnCode
	case out.Status != "Success":
		res.ExitCode = 1
	}
	return res, nil
}

func (s *HTTPSandbox) Close() error {
	return nil
}
