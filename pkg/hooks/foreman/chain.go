package foreman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/towncrier"
	"github.com/entrhq/forge-hooks/pkg/logging"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// ChainName is the registry name of the command chain recorder.
const ChainName = "command_chain_context"

// ChainStateFile is the chain state location relative to a project.
const ChainStateFile = ".forge/chain_state.json"

var timeNow = time.Now

// GenericCommand is recorded for tasks that were not started by a slash
// command.
const GenericCommand = "task"

// ChainEntry is one completed command.
type ChainEntry struct {
	TaskID         string   `json:"taskId,omitempty"`
	Command        string   `json:"command"`
	Target         string   `json:"target,omitempty"`
	Subject        string   `json:"subject"`
	CompletedAt    string   `json:"completedAt"`
	ContextLoaded  []string `json:"contextLoaded"`
	MemoryAccessed []string `json:"memoryAccessed"`
	SkillsInvoked  []string `json:"skillsInvoked"`
}

// ChainState is the execution context shared by the commands of one
// session, so a later command can build on what an earlier one loaded.
type ChainState struct {
	SessionID      string       `json:"sessionId"`
	StartedAt      string       `json:"startedAt"`
	UpdatedAt      string       `json:"updatedAt"`
	CommandHistory []ChainEntry `json:"commandHistory"`
}

// Chain records each completed task in the project's chain state. A task
// from a new session starts a fresh chain. It never blocks completion.
type Chain struct {
	logger *logging.Logger
}

// NewChain creates the hook.
func NewChain(logger *logging.Logger) *Chain {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{logger: logger}
}

// Name implements hook.Handler.
func (c *Chain) Name() string { return ChainName }

// Handle implements hook.Handler.
func (c *Chain) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	sc := req.SessionContext
	if sc.Cwd == "" {
		return hook.Allow(), nil
	}
	path := filepath.Join(sc.Cwd, ChainStateFile)
	now := timeNow().UTC().Format("2006-01-02T15:04:05Z")

	state, err := LoadChainState(path)
	if err != nil {
		c.logger.Warnf("chain state unreadable, starting over: %v", err)
	}
	if state == nil || state.SessionID != sc.SessionID {
		state = &ChainState{SessionID: sc.SessionID, StartedAt: now}
	}

	subject := extraString(sc.Extra, "task_subject", "taskSubject")
	command, target := parseSubject(subject)
	entry := ChainEntry{
		TaskID:         extraString(sc.Extra, "task_id", "taskId"),
		Command:        command,
		Target:         target,
		Subject:        subject,
		CompletedAt:    now,
		ContextLoaded:  []string{},
		MemoryAccessed: []string{},
		SkillsInvoked:  []string{},
	}
	if sc.TranscriptPath != "" {
		if data, err := os.ReadFile(sc.TranscriptPath); err == nil {
			refs := towncrier.ScanRefs(string(data))
			entry.ContextLoaded = refs.Context
			entry.MemoryAccessed = refs.Memory
			entry.SkillsInvoked = refs.Skills
		} else if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warnf("read transcript: %v", err)
		}
	}

	state.CommandHistory = append(state.CommandHistory, entry)
	state.UpdatedAt = now
	if err := saveChainState(path, state); err != nil {
		c.logger.Errorf("%v", err)
	}
	return hook.Allow(), nil
}

// LoadChainState reads the chain state at path. A missing file yields nil
// and no error.
func LoadChainState(path string) (*ChainState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("foreman: read chain state: %w", err)
	}
	var s ChainState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("foreman: decode chain state: %w", err)
	}
	return &s, nil
}

func saveChainState(path string, s *ChainState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("foreman: encode chain state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("foreman: create chain state dir: %w", err)
	}
	if err := memory.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("foreman: write chain state: %w", err)
	}
	return nil
}

// parseSubject splits "/analyze my-project" into its command and target.
// Subjects that are not slash commands are GenericCommand.
func parseSubject(subject string) (command, target string) {
	subject = strings.TrimSpace(subject)
	rest, ok := strings.CutPrefix(subject, "/")
	if !ok || rest == "" {
		return GenericCommand, ""
	}
	command, target, _ = strings.Cut(rest, " ")
	return command, strings.TrimSpace(target)
}

func extraString(extra map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := extra[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
