// Package issues is the scenario catalog for GitHub shaped issue APIs.
package issues

import (
	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/scenario"
)

// Target is the default target and session name of the catalog.
const Target = "issues"

// Schema names registered by Schemas.
const (
	SchemaIssue      = "issue"
	SchemaRepository = "repository"
)

// TitlePrefix starts every generated issue title.
const TitlePrefix = "[Bug] report - "

// Schemas returns the fixture schemas the catalog's scenarios reference.
func Schemas() []fixture.Schema {
	return []fixture.Schema{
		{Name: SchemaIssue, Fields: []fixture.Field{
			{Name: "title", Kind: fixture.KindTitle, Prefix: TitlePrefix, Max: 6},
			{Name: "body", Kind: fixture.KindSentence, Min: 3, Max: 8},
		}},
		{Name: SchemaRepository, Fields: []fixture.Field{
			{Name: "name", Kind: fixture.KindTitle, Prefix: "contractkit-", Layout: "20060102-150405", Max: 8},
			{Name: "description", Kind: fixture.KindSentence, Min: 3, Max: 6},
			{Name: "private", Kind: fixture.KindConst, Value: false},
		}},
	}
}

const issuesURL = "/repos/{{owner}}/{{repo}}/issues"

func createIssue() scenario.Step {
	return scenario.Step{
		Name:    "create issue",
		Auth:    Target,
		Request: scenario.Request{Method: "POST", URL: issuesURL, Body: "{{fixture.issue}}"},
		Capture: map[string]string{"number": "$.number"},
		Expect: &scenario.Expect{
			Status: 201,
			Fields: []string{"$.id", "$.number"},
			Subset: map[string]any{"$": "{{fixture.issue}}"},
			Body:   map[string]any{"$.state": "open"},
		},
	}
}

// Scenarios returns the issues catalog. Repository coordinates come from the
// target variables "owner" and "repo". The repository lifecycle scenario is
// disabled by default because it needs a token allowed to create and delete
// repositories.
func Scenarios() []*scenario.Scenario {
	return []*scenario.Scenario{
		{
			Name:        "issues-create-and-get",
			Description: "a created issue is listed and reads back by number",
			Target:      Target,
			Tags:        []string{"issues", "crud", "smoke"},
			Fixtures:    map[string]string{"issue": SchemaIssue},
			Steps: []scenario.Step{
				createIssue(),
				{
					Name:    "list issues",
					Auth:    Target,
					Request: scenario.Request{Method: "GET", URL: issuesURL},
					Expect: &scenario.Expect{
						Status: 200,
						Contains: []scenario.Membership{{Path: "$", Item: map[string]any{
							"title": "{{fixture.issue.title}}",
							"body":  "{{fixture.issue.body}}",
						}}},
					},
				},
				{
					Name:    "get issue",
					Auth:    Target,
					Request: scenario.Request{Method: "GET", URL: issuesURL + "/{{number}}"},
					Expect: &scenario.Expect{
						Status: 200,
						Body: map[string]any{
							"$.number": "{{number}}",
							"$.title":  "{{fixture.issue.title}}",
							"$.body":   "{{fixture.issue.body}}",
						},
					},
				},
			},
		},
		{
			Name:        "issues-close",
			Description: "closing an issue moves it to the closed list",
			Target:      Target,
			Tags:        []string{"issues", "crud"},
			Fixtures:    map[string]string{"issue": SchemaIssue},
			Steps: []scenario.Step{
				createIssue(),
				{
					Name:    "close issue",
					Auth:    Target,
					Request: scenario.Request{Method: "PATCH", URL: issuesURL + "/{{number}}", Body: map[string]any{"state": "closed"}},
					Expect: &scenario.Expect{
						Status: 200,
						Fields: []string{"$.closed_at"},
						Body:   map[string]any{"$.state": "closed", "$.number": "{{number}}"},
					},
				},
				{
					Name: "list closed issues",
					Auth: Target,
					Request: scenario.Request{
						Method: "GET",
						URL:    issuesURL,
						Query:  map[string]string{"state": "closed"},
					},
					Expect: &scenario.Expect{
						Status:   200,
						Contains: []scenario.Membership{{Path: "$", Item: map[string]any{"number": "{{number}}"}}},
					},
				},
			},
		},
		{
			Name:        "issues-repository-lifecycle",
			Description: "a repository can be created, read and deleted",
			Target:      Target,
			Tags:        []string{"issues", "repository"},
			Disabled:    true,
			Fixtures:    map[string]string{"repository": SchemaRepository},
			Steps: []scenario.Step{
				{
					Name:    "create repository",
					Auth:    Target,
					Request: scenario.Request{Method: "POST", URL: "/user/repos", Body: "{{fixture.repository}}"},
					Capture: map[string]string{"full_name": "$.full_name"},
					Expect: &scenario.Expect{
						Status: 201,
						Body:   map[string]any{"$.name": "{{fixture.repository.name}}"},
					},
				},
				{
					Name:    "get repository",
					Auth:    Target,
					Request: scenario.Request{Method: "GET", URL: "/repos/{{full_name}}"},
					Expect:  &scenario.Expect{Status: 200, Body: map[string]any{"$.full_name": "{{full_name}}"}},
				},
				{
					Name:    "delete repository",
					Auth:    Target,
					Request: scenario.Request{Method: "DELETE", URL: "/repos/{{full_name}}"},
					Expect:  &scenario.Expect{Status: 204},
				},
				{
					Name:    "get deleted repository",
					Auth:    Target,
					Request: scenario.Request{Method: "GET", URL: "/repos/{{full_name}}"},
					Expect:  &scenario.Expect{Status: 404},
				},
			},
		},
	}
}
