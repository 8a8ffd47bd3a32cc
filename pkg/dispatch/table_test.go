package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

func names(regs []Registration) []string {
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.ID())
	}
	return out
}

func TestTableResolveOrdersByCategory(t *testing.T) {
	tbl, err := NewTable(TableSpec{Hooks: map[hook.Event][]MatcherBlock{
		hook.EventPreToolUse: {
			{Category: CategoryTownCrier, Matcher: "*", Hooks: []HookSpec{{Name: "crier"}}},
			{Category: CategoryForeman, Matcher: "Write|Edit", Hooks: []HookSpec{{Name: "foreman_a"}, {Name: "foreman_b"}}},
			{Category: CategoryShield, Matcher: "Bash", Hooks: []HookSpec{{Name: "git"}}},
			{Category: CategoryShield, Matcher: "", Hooks: []HookSpec{{Name: "sandbox"}}},
			{Category: CategoryChronicle, Matcher: "Write", Hooks: []HookSpec{{Name: "freshness"}}},
		},
	}}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"sandbox", "freshness", "foreman_a", "foreman_b", "crier"},
		names(tbl.Resolve(hook.EventPreToolUse, "Write")))
	assert.Equal(t, []string{"git", "sandbox", "crier"},
		names(tbl.Resolve(hook.EventPreToolUse, "Bash")))
	assert.Empty(t, tbl.Resolve(hook.EventStop, "Bash"))
	assert.Equal(t, 6, tbl.Len())
	assert.Equal(t, []hook.Event{hook.EventPreToolUse}, tbl.Events())
	assert.Len(t, tbl.Registrations(hook.EventPreToolUse), 6)
}

func TestTableKeepsDeclarationOrderInLargeBlocks(t *testing.T) {
	big := make([]HookSpec, 1002)
	for i := range big {
		big[i] = HookSpec{Name: fmt.Sprintf("h%d", i)}
	}
	tbl, err := NewTable(TableSpec{Hooks: map[hook.Event][]MatcherBlock{
		hook.EventStop: {
			{Category: CategoryTownCrier, Hooks: big},
			{Category: CategoryTownCrier, Hooks: []HookSpec{{Name: "after"}}},
		},
	}}, time.Second)
	require.NoError(t, err)

	got := names(tbl.Resolve(hook.EventStop, ""))
	require.Len(t, got, 1003)
	assert.Equal(t, "h0", got[0])
	assert.Equal(t, []string{"h1000", "h1001", "after"}, got[1000:])
}

func TestTableGlobMatchers(t *testing.T) {
	tbl, err := NewTable(TableSpec{Hooks: map[hook.Event][]MatcherBlock{
		hook.EventPreToolUse: {
			{Category: CategoryShield, Matcher: "mcp__*", Hooks: []HookSpec{{Name: "mcp"}}},
			{Category: CategoryShield, Matcher: "{Read,Grep}", Hooks: []HookSpec{{Name: "readers"}}},
		},
	}}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"mcp"}, names(tbl.Resolve(hook.EventPreToolUse, "mcp__github__create_issue")))
	assert.Equal(t, []string{"readers"}, names(tbl.Resolve(hook.EventPreToolUse, "Grep")))
	assert.Empty(t, tbl.Resolve(hook.EventPreToolUse, "Write"))
}

func TestTableTimeouts(t *testing.T) {
	tbl, err := NewTable(TableSpec{Hooks: map[hook.Event][]MatcherBlock{
		hook.EventStop: {{Category: CategoryTownCrier, Hooks: []HookSpec{{Name: "a"}, {Name: "b", Timeout: 3}}}},
	}}, 0)
	require.NoError(t, err)

	regs := tbl.Resolve(hook.EventStop, "")
	require.Len(t, regs, 2)
	assert.Equal(t, DefaultTimeout, regs[0].Timeout)
	assert.Equal(t, 3*time.Second, regs[1].Timeout)
}

func TestTableResolvesRelativeCommands(t *testing.T) {
	tbl, err := NewTable(TableSpec{
		BaseDir: "/opt/forge/hooks",
		Hooks: map[hook.Event][]MatcherBlock{
			hook.EventPreToolUse: {{Category: CategoryShield, Hooks: []HookSpec{
				{Command: "scripts/guard.sh --strict"},
				{Command: "/usr/local/bin/abs.sh"},
				{Command: "forge-hooks run pii_redactor"},
			}}},
		},
	}, time.Second)
	require.NoError(t, err)

	regs := tbl.Resolve(hook.EventPreToolUse, "Bash")
	require.Len(t, regs, 3)
	assert.Equal(t, "/opt/forge/hooks/scripts/guard.sh --strict", regs[0].Command)
	assert.Equal(t, "guard.sh", regs[0].ID())
	assert.Equal(t, "/usr/local/bin/abs.sh", regs[1].Command)
	assert.Equal(t, "forge-hooks run pii_redactor", regs[2].Command)
	assert.False(t, regs[2].InProcess())
}

func TestTableRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec TableSpec
	}{
		{"unknown event", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			"BeforeLunch": {{Category: CategoryShield, Hooks: []HookSpec{{Name: "x"}}}},
		}}},
		{"unknown category", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			hook.EventStop: {{Category: "janitor", Hooks: []HookSpec{{Name: "x"}}}},
		}}},
		{"name and command", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			hook.EventStop: {{Category: CategoryShield, Hooks: []HookSpec{{Name: "x", Command: "y"}}}},
		}}},
		{"neither name nor command", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			hook.EventStop: {{Category: CategoryShield, Hooks: []HookSpec{{}}}},
		}}},
		{"negative timeout", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			hook.EventStop: {{Category: CategoryShield, Hooks: []HookSpec{{Name: "x", Timeout: -1}}}},
		}}},
		{"bad glob", TableSpec{Hooks: map[hook.Event][]MatcherBlock{
			hook.EventStop: {{Category: CategoryShield, Matcher: "[", Hooks: []HookSpec{{Name: "x"}}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.spec, time.Second)
			assert.Error(t, err)
		})
	}
}

func TestCategoryRank(t *testing.T) {
	assert.Less(t, CategoryShield.Rank(), CategoryChronicle.Rank())
	assert.Less(t, CategoryChronicle.Rank(), CategoryForeman.Rank())
	assert.Less(t, CategoryForeman.Rank(), CategoryTownCrier.Rank())
	assert.Equal(t, -1, Category("other").Rank())
}
