package hook

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{
		"toolName": "Write",
		"toolInput": {"path": "/etc/passwd", "content": "x"},
		"sessionContext": {"sessionId": "s-1", "cwd": "/work", "transcriptId": "t-9"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Write", req.ToolName)
	assert.Equal(t, "/etc/passwd", req.FilePath())
	assert.Equal(t, "s-1", req.SessionContext.SessionID)
	assert.Equal(t, "/work", req.Cwd())
	assert.Equal(t, "t-9", req.SessionContext.Extra["transcriptId"])
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"malformed", `{"toolName": `},
		{"wrong type", `{"toolName": 42}`},
		{"input not object", `{"toolName": "Bash", "toolInput": "ls"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.input))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "decode request", perr.Op)
		})
	}
}

func TestDecodeRequest_TooLarge(t *testing.T) {
	big := `{"toolName":"Write","toolInput":{"content":"` + strings.Repeat("a", MaxPayloadBytes) + `"}}`
	_, err := DecodeRequest(strings.NewReader(big))

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Msg, "exceeds")
}

func TestDecodeDecision(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Verdict
		wantErr bool
	}{
		{"allow", `{"verdict":"allow"}`, VerdictAllow, false},
		{"deny with reason", `{"verdict":"deny","reason":"outside the project directory"}`, VerdictDeny, false},
		{"warn with input", `{"verdict":"warn","reason":"pii","modifiedInput":{"content":"[REDACTED:email]"}}`, VerdictWarn, false},
		{"unknown verdict", `{"verdict":"maybe"}`, "", true},
		{"deny without reason", `{"verdict":"deny"}`, "", true},
		{"warn blank reason", `{"verdict":"warn","reason":"   "}`, "", true},
		{"not json", `allow`, "", true},
		{"empty", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DecodeDecision([]byte(tt.input))
			if tt.wantErr {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Verdict)
		})
	}
}

func TestReconcile(t *testing.T) {
	assert.NoError(t, Reconcile(Allow(), ExitAllow))
	assert.NoError(t, Reconcile(Deny("no"), ExitDeny))
	assert.NoError(t, Reconcile(Warn("hm"), ExitWarn))

	var perr *ProtocolError
	assert.ErrorAs(t, Reconcile(Allow(), ExitDeny), &perr)
	assert.ErrorAs(t, Reconcile(Deny("no"), ExitAllow), &perr)
	assert.ErrorAs(t, Reconcile(Allow(), 7), &perr)
	assert.ErrorAs(t, Reconcile(nil, ExitAllow), &perr)
}

func TestExitCodeRoundTrip(t *testing.T) {
	for _, v := range []Verdict{VerdictAllow, VerdictDeny, VerdictWarn} {
		got, ok := VerdictForExit(ExitCode(v))
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}
	assert.Equal(t, ExitFault, ExitCode("bogus"))
}

func TestRun(t *testing.T) {
	deny := HandlerFunc{HookName: "deny-all", Fn: func(_ context.Context, req *Request) (*Decision, error) {
		return Deny("%s blocked", req.ToolName), nil
	}}

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), deny, strings.NewReader(`{"toolName":"Bash","toolInput":{"command":"ls"}}`), &stdout, &stderr)

	assert.Equal(t, ExitDeny, code)
	d, err := DecodeDecision(stdout.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Bash blocked", d.Reason)
	assert.NoError(t, Reconcile(d, code))
}

func TestRun_Faults(t *testing.T) {
	tests := []struct {
		name  string
		h     Handler
		input string
	}{
		{
			name:  "bad request",
			h:     HandlerFunc{HookName: "ok", Fn: func(context.Context, *Request) (*Decision, error) { return Allow(), nil }},
			input: `not json`,
		},
		{
			name:  "handler error",
			h:     HandlerFunc{HookName: "err", Fn: func(context.Context, *Request) (*Decision, error) { return nil, errors.New("boom") }},
			input: `{}`,
		},
		{
			name:  "handler panic",
			h:     HandlerFunc{HookName: "panic", Fn: func(context.Context, *Request) (*Decision, error) { panic("kaboom") }},
			input: `{}`,
		},
		{
			name:  "invalid decision",
			h:     HandlerFunc{HookName: "bad", Fn: func(context.Context, *Request) (*Decision, error) { return &Decision{Verdict: VerdictDeny}, nil }},
			input: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := Run(context.Background(), tt.h, strings.NewReader(tt.input), &stdout, &stderr)
			assert.Equal(t, ExitFault, code)
			assert.Empty(t, stdout.String())
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRequestClone(t *testing.T) {
	req := &Request{
		ToolName:  "Edit",
		ToolInput: map[string]any{"path": "a.md", "edits": []any{map[string]any{"old": "x"}}},
	}
	c := req.Clone()
	c.ToolInput["path"] = "b.md"
	c.ToolInput["edits"].([]any)[0].(map[string]any)["old"] = "y"

	assert.Equal(t, "a.md", req.ToolInput["path"])
	assert.Equal(t, "x", req.ToolInput["edits"].([]any)[0].(map[string]any)["old"])
}

func TestEventValid(t *testing.T) {
	assert.True(t, EventSessionEnd.Valid())
	assert.False(t, Event("PostCommit").Valid())
}
