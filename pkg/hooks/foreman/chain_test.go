package foreman

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooktest"
)

func taskCompleted(env *hooktest.Env, session, taskID, subject, transcript string) *hook.Request {
	req := env.Request("", nil)
	req.SessionContext.Event = hook.EventTaskCompleted
	req.SessionContext.SessionID = session
	req.SessionContext.TranscriptPath = transcript
	req.SessionContext.Extra = map[string]any{"task_id": taskID, "task_subject": subject}
	return req
}

func loadState(t *testing.T, env *hooktest.Env) *ChainState {
	t.Helper()
	s, err := LoadChainState(env.Path(ChainStateFile))
	require.NoError(t, err)
	require.NotNil(t, s, "chain state was not written")
	return s
}

func TestChainRecordsCommands(t *testing.T) {
	old := timeNow
	timeNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { timeNow = old })

	env := hooktest.NewEnv(t)
	r := hooktest.NewRunner(hooktest.Handler(NewChain(nil)))

	for i, subject := range []string{"/analyze my-project", "/implement feature-x", "fix the login bug"} {
		res := r.Run(t, taskCompleted(env, "session-001", fmt.Sprintf("task-%03d", i+1), subject, ""))
		require.True(t, res.IsAllow(), res.String())
	}

	s := loadState(t, env)
	assert.Equal(t, "session-001", s.SessionID)
	assert.Equal(t, "2026-03-01T12:00:00Z", s.StartedAt)
	require.Len(t, s.CommandHistory, 3)
	assert.Equal(t, "analyze", s.CommandHistory[0].Command)
	assert.Equal(t, "my-project", s.CommandHistory[0].Target)
	assert.Equal(t, "task-001", s.CommandHistory[0].TaskID)
	assert.Equal(t, "implement", s.CommandHistory[1].Command)
	assert.Equal(t, GenericCommand, s.CommandHistory[2].Command)
	assert.Equal(t, "fix the login bug", s.CommandHistory[2].Subject)

	raw := env.ReadFile(ChainStateFile)
	assert.Contains(t, raw, `"contextLoaded": []`, "empty lists are not null")
}

func TestChainNewSessionStartsOver(t *testing.T) {
	env := hooktest.NewEnv(t)
	r := hooktest.NewRunner(hooktest.Handler(NewChain(nil)))

	r.Run(t, taskCompleted(env, "session-001", "task-001", "/analyze my-project", ""))
	r.Run(t, taskCompleted(env, "session-002", "task-002", "/implement feature", ""))

	s := loadState(t, env)
	assert.Equal(t, "session-002", s.SessionID)
	require.Len(t, s.CommandHistory, 1)
	assert.Equal(t, "implement", s.CommandHistory[0].Command)
}

func TestChainCapturesTranscriptRefs(t *testing.T) {
	env := hooktest.NewEnv(t)
	transcript := env.CreateFile("transcript.txt",
		"Tool: Read context/python/frameworks.md\n"+
			"Tool: Read context/engineering/best_practices.md\n"+
			"Tool: Read skills/analyze/SKILL.md\n"+
			"Tool: Edit memory/skills/analyze/my-project/notes.md\n")

	res := hooktest.NewRunner(hooktest.Handler(NewChain(nil))).Run(t,
		taskCompleted(env, "s", "task-001", "/analyze my-project", transcript))
	require.True(t, res.IsAllow())

	e := loadState(t, env).CommandHistory[0]
	assert.Equal(t, []string{"context/python/frameworks.md", "context/engineering/best_practices.md"}, e.ContextLoaded)
	assert.Equal(t, []string{"analyze"}, e.SkillsInvoked)
	assert.Equal(t, []string{"memory/skills/analyze/my-project/notes.md"}, e.MemoryAccessed)
}

func TestChainNeverBlocks(t *testing.T) {
	env := hooktest.NewEnv(t)
	r := hooktest.NewRunner(hooktest.Handler(NewChain(nil)))

	noCwd := taskCompleted(env, "s", "task-001", "/analyze test", "")
	noCwd.SessionContext.Cwd = ""
	assert.True(t, r.Run(t, noCwd).IsAllow())

	// A corrupt state file is replaced rather than blocking the task.
	env.CreateFile(ChainStateFile, "{not json")
	assert.True(t, r.Run(t, taskCompleted(env, "s", "task-002", "/test proj", "")).IsAllow())
	assert.Len(t, loadState(t, env).CommandHistory, 1)

	_, err := os.Stat(env.Path(ChainStateFile))
	assert.NoError(t, err)
}

func TestParseSubject(t *testing.T) {
	tests := []struct{ in, command, target string }{
		{"/analyze my-project", "analyze", "my-project"},
		{"/test", "test", ""},
		{"  /implement  feature x ", "implement", "feature x"},
		{"fix the bug", GenericCommand, ""},
		{"/", GenericCommand, ""},
		{"", GenericCommand, ""},
	}
	for _, tt := range tests {
		command, target := parseSubject(tt.in)
		assert.Equal(t, tt.command, command, tt.in)
		assert.Equal(t, tt.target, target, tt.in)
	}
}
