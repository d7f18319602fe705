package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/governance"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/resolver"
	"github.com/rahul/toolflow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActions_UseTools(t *testing.T) {
	hist := history.NewStore()
	hist.StoreExecution("42", "github", "list issues", []history.ToolResult{
		{Tool: "GITHUB_LIST_ISSUES", Result: map[string]any{"successful": true}},
	})
	runner := &fakeRunner{texts: []string{"first", "second"}}
	a := &Actions{Workflow: runner, History: hist, RecentExecutions: 3}

	out := &collector{}
	require.NoError(t, a.UseTools(context.Background(), Turn{ChatID: "42", Input: "do it", ConversationContext: "Recent conversation:\nUser: hi"}, out.emit))

	assert.Equal(t, []string{"first", "second"}, out.texts)
	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "42", req.EntityID)
	assert.Equal(t, "do it", req.Text)
	assert.Contains(t, req.ConversationContext, "User: hi")
	assert.Contains(t, req.ConversationContext, "- github: list issues (1 results)")
}

func TestActions_UseToolsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"not connected", &workflow.ToolkitNotConnectedError{Toolkits: []string{"notion", "jira"}}, "notion, jira"},
		{"no apps", workflow.ErrNoConnectedApps, "don't have any connected toolkits"},
		{"extraction", workflow.ErrExtractionFailed, "rephrase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Actions{Workflow: &fakeRunner{err: tc.err}}
			out := &collector{}
			require.NoError(t, a.UseTools(context.Background(), Turn{ChatID: "1"}, out.emit))
			require.Len(t, out.texts, 1)
			assert.Contains(t, out.texts[0], tc.want)
		})
	}

	boom := errors.New("boom")
	a := &Actions{Workflow: &fakeRunner{err: boom}}
	assert.ErrorIs(t, a.UseTools(context.Background(), Turn{}, (&collector{}).emit), boom)
}

func TestActions_SingleUserModeRejectsConnectionChanges(t *testing.T) {
	svc := &fakeService{}
	a := &Actions{Service: svc, Gen: &fakeGenerator{}}
	out := &collector{}

	require.NoError(t, a.Connect(context.Background(), Turn{Input: "connect github"}, out.emit))
	require.NoError(t, a.Disconnect(context.Background(), Turn{Input: "disconnect github"}, out.emit))

	assert.Equal(t, []string{singleUserNotice, singleUserNotice}, out.texts)
	assert.Empty(t, svc.initiated)
	assert.Empty(t, svc.deleted)
}

func TestActions_ConnectFromAllowList(t *testing.T) {
	policy := governance.NewToolkitPolicy()
	policy.AllowOnly([]string{"linear", "slack"})
	svc := &fakeService{
		multiUser:   true,
		redirect:    "https://auth.example/x",
		connections: []composio.Connection{connection("c1", "linear", composio.StatusInitiated)},
	}
	gen := &fakeGenerator{
		objects: map[string]string{"Select the toolkit matching": `{"selectedToolkit": "Linear", "confidence": "high"}`},
		text:    "Open https://auth.example/x to finish connecting Linear.",
	}
	a := &Actions{Service: svc, Gen: gen, Policy: policy}

	out := &collector{}
	require.NoError(t, a.Connect(context.Background(), Turn{ChatID: "7", Input: "hook up linear"}, out.emit))

	assert.Equal(t, []string{"c1"}, svc.deleted)
	assert.Equal(t, []string{"linear"}, svc.initiated)
	assert.Equal(t, []string{gen.text}, out.texts)
}

func TestActions_ConnectFallsBackWhenReplyDropsLink(t *testing.T) {
	policy := governance.NewToolkitPolicy()
	policy.AllowOnly([]string{"linear"})
	svc := &fakeService{multiUser: true, redirect: "https://auth.example/x"}
	gen := &fakeGenerator{
		objects: map[string]string{"Select the toolkit matching": `{"selectedToolkit": "linear", "confidence": "medium"}`},
		text:    "All set, just follow the link.",
	}
	a := &Actions{Service: svc, Gen: gen, Policy: policy}

	out := &collector{}
	require.NoError(t, a.Connect(context.Background(), Turn{ChatID: "7", Input: "connect linear"}, out.emit))
	assert.Equal(t, []string{"Open this link to connect linear: https://auth.example/x"}, out.texts)
}

func TestActions_ConnectAlreadyActive(t *testing.T) {
	svc := &fakeService{
		multiUser:   true,
		connections: []composio.Connection{connection("c1", "github", composio.StatusActive)},
	}
	gen := &fakeGenerator{objects: map[string]string{"Extract the name of the app": `{"toolkit": "GitHub"}`}}
	a := &Actions{Service: svc, Gen: gen}

	out := &collector{}
	require.NoError(t, a.Connect(context.Background(), Turn{ChatID: "7", Input: "connect github"}, out.emit))
	assert.Equal(t, []string{"github is already connected."}, out.texts)
	assert.Empty(t, svc.initiated)
	assert.Empty(t, svc.deleted)
}

func TestActions_ConnectResolvesThroughCache(t *testing.T) {
	svc := &fakeService{multiUser: true, toolkits: []string{"googlecalendar", "github"}, redirect: "https://auth.example/gc"}
	gen := &fakeGenerator{objects: map[string]string{"Extract the name of the app": `{"toolkit": "Google Calendar"}`}}
	res := resolver.New()
	a := &Actions{Service: svc, Gen: gen, Resolver: res}

	for i := 0; i < 2; i++ {
		require.NoError(t, a.Connect(context.Background(), Turn{ChatID: "7", Input: "connect google calendar"}, (&collector{}).emit))
	}

	assert.Equal(t, []string{"googlecalendar", "googlecalendar"}, svc.initiated)
	assert.Len(t, svc.retrieved, 1)
	m, ok := res.GetMapping("google calendar")
	require.True(t, ok)
	assert.Equal(t, "googlecalendar", m.ResolvedToolkit)
	assert.Equal(t, resolver.ConfidenceHigh, m.Confidence)
}

func TestActions_ConnectDeniedByPolicy(t *testing.T) {
	policy := governance.NewToolkitPolicy()
	policy.DenyToolkit("gmail")
	svc := &fakeService{multiUser: true}
	gen := &fakeGenerator{objects: map[string]string{"Extract the name of the app": `{"toolkit": "gmail"}`}}
	a := &Actions{Service: svc, Gen: gen, Policy: policy}

	out := &collector{}
	require.NoError(t, a.Connect(context.Background(), Turn{ChatID: "7", Input: "connect gmail"}, out.emit))
	require.Len(t, out.texts, 1)
	assert.Contains(t, out.texts[0], "restricted")
	assert.Empty(t, svc.initiated)
}

func TestActions_Disconnect(t *testing.T) {
	hist := history.NewStore()
	hist.StoreExecution("7", "github", "list repos", []history.ToolResult{
		{Tool: "GITHUB_LIST_REPOS", Result: map[string]any{"successful": true}},
	})
	svc := &fakeService{
		multiUser: true,
		connections: []composio.Connection{
			connection("c1", "github", composio.StatusActive),
			connection("c2", "github", composio.StatusFailed),
			connection("c3", "slack", composio.StatusActive),
		},
	}
	gen := &fakeGenerator{objects: map[string]string{"Extract the name of the app": `{"toolkit": "github"}`}}
	a := &Actions{Service: svc, Gen: gen, History: hist}

	out := &collector{}
	require.NoError(t, a.Disconnect(context.Background(), Turn{ChatID: "7", Input: "remove github"}, out.emit))

	assert.Equal(t, []string{"c1", "c2"}, svc.deleted)
	assert.Equal(t, []string{"Disconnected github (2 of 2 connections removed)."}, out.texts)
	assert.Empty(t, hist.ToolkitExecutions("7", "github"))
}

func TestActions_DisconnectNothingConnected(t *testing.T) {
	svc := &fakeService{multiUser: true}
	gen := &fakeGenerator{objects: map[string]string{"Extract the name of the app": `{"toolkit": "notion"}`}}
	a := &Actions{Service: svc, Gen: gen}

	out := &collector{}
	require.NoError(t, a.Disconnect(context.Background(), Turn{ChatID: "7", Input: "remove notion"}, out.emit))
	assert.Equal(t, []string{"notion isn't connected."}, out.texts)
}

func TestActions_ListConnected(t *testing.T) {
	svc := &fakeService{connections: []composio.Connection{
		connection("c1", "slack", composio.StatusActive),
		connection("c2", "github", composio.StatusActive),
		connection("c3", "notion", composio.StatusInitiated),
	}}
	a := &Actions{Service: svc}

	out := &collector{}
	require.NoError(t, a.ListConnected(context.Background(), Turn{ChatID: "7"}, out.emit))
	assert.Equal(t, []string{"Connected toolkits:\n- github\n- slack"}, out.texts)

	out = &collector{}
	require.NoError(t, (&Actions{Service: &fakeService{}}).ListConnected(context.Background(), Turn{}, out.emit))
	assert.Equal(t, []string{"No toolkits are connected yet."}, out.texts)
}

func TestActions_Browse(t *testing.T) {
	policy := governance.NewToolkitPolicy()
	policy.DenyToolkit("gmail")
	svc := &fakeService{toolkits: []string{"github", "gmail", "slack"}}
	gen := &fakeGenerator{objects: map[string]string{"Extract the toolkit category": `{"category": ""}`}}
	res := resolver.New()
	a := &Actions{Service: svc, Gen: gen, Policy: policy, Resolver: res}

	out := &collector{}
	require.NoError(t, a.Browse(context.Background(), Turn{ChatID: "7", Input: "what apps can I use?"}, out.emit))

	assert.Equal(t, []string{"Available toolkits:\n- github\n- slack"}, out.texts)
	assert.ElementsMatch(t, []string{"github", "gmail", "slack"}, res.AvailableToolkits())
}

func TestActions_BrowseCategory(t *testing.T) {
	svc := &fakeService{toolkits: []string{"jira", "linear"}}
	gen := &fakeGenerator{objects: map[string]string{"Extract the toolkit category": `{"category": "project management"}`}}
	a := &Actions{Service: svc, Gen: gen}

	out := &collector{}
	require.NoError(t, a.Browse(context.Background(), Turn{ChatID: "7", Input: "project tools?"}, out.emit))

	assert.Equal(t, []string{"project management"}, svc.retrieved)
	assert.Equal(t, []string{"Toolkits for project management:\n- jira\n- linear"}, out.texts)
}
