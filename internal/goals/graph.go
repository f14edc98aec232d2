// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"golang.org/x/oauth2"
)

const goalsOperation = "SdmGoalsByGoalSetIdAndUniqueName"

const goalsByGoalSetIDAndUniqueName = `query SdmGoalsByGoalSetIdAndUniqueName($goalSetId: [String], $uniqueName: [String]) {
  SdmGoal(goalSetId: $goalSetId, uniqueName: $uniqueName, _first: 1) {
    name
    uniqueName
    goalSetId
    environment
    state
    description
    descriptions { planned requested inProcess completed failed canceled waitingForApproval stopped }
    phase
    url
    externalKey
    sha
    branch
    repo { name owner providerId }
    version
    ts
    retryFeasible
    data
    registration
    fulfillment { method name registration }
    preConditions { environment name uniqueName }
    provenance { name registration version correlationId ts userId channelId }
  }
}`

type goalsResponse struct {
	SdmGoal []Goal `json:"SdmGoal"`
}

// GraphFinder queries goals from the workspace GraphQL endpoint, authorized
// with the API key of the status notification.
type GraphFinder struct {
	client   *http.Client
	endpoint string
}

// NewGraphFinder creates a finder for endpoint, the team-less GraphQL URL.
// timeout bounds each query unless client already carries a timeout.
func NewGraphFinder(client *http.Client, endpoint string, timeout time.Duration) *GraphFinder {
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 && timeout > 0 {
		c := *client
		c.Timeout = timeout
		client = &c
	}
	return &GraphFinder{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

// Timeout reports the per-query timeout.
func (f *GraphFinder) Timeout() time.Duration {
	return f.client.Timeout
}

func (f *GraphFinder) graph(ctx context.Context, s Session) *graphql.Client {
	client := f.client
	if s.APIKey != "" {
		// oauth2.NewClient keeps the base client's transport and timeout.
		base := context.WithValue(ctx, oauth2.HTTPClient, f.client)
		client = oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.APIKey}))
	}
	endpoint := f.endpoint + "/" + url.PathEscape(s.WorkspaceID)
	return graphql.NewClient(endpoint, client).WithRequestModifier(func(r *http.Request) {
		r.Header.Set("Cache-Control", "no-cache")
	})
}

func (f *GraphFinder) FindGoal(ctx context.Context, s Session, goalSetID, uniqueName string) (*Goal, error) {
	vars := map[string]interface{}{
		"goalSetId":  []string{goalSetID},
		"uniqueName": []string{uniqueName},
	}
	data, err := f.graph(ctx, s).ExecRaw(ctx, goalsByGoalSetIDAndUniqueName, vars, graphql.OperationName(goalsOperation))
	if err != nil {
		return nil, fmt.Errorf("goal query failed: %w", err)
	}

	var out goalsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode goal query response: %w", err)
	}
	if len(out.SdmGoal) == 0 {
		return nil, nil
	}
	return &out.SdmGoal[0], nil
}
