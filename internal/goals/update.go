// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/noldarim/goalbridge/internal/publisher"
)

// GoalRootType is the ingestion root type of goal records.
const GoalRootType = "SdmGoal"

// PublishingUpdater stores goal transitions by publishing the updated goal
// record as a custom ingestion event.
type PublishingUpdater struct {
	topic publisher.Topic
	now   func() time.Time
}

// NewPublishingUpdater creates an updater publishing to topic.
func NewPublishingUpdater(topic publisher.Topic) *PublishingUpdater {
	return &PublishingUpdater{topic: topic, now: time.Now}
}

func (u *PublishingUpdater) UpdateGoal(ctx context.Context, gc Context, goal *Goal, up Update) error {
	ts := u.now().UnixMilli()

	updated := *goal
	updated.State = up.State
	updated.Description = up.Description
	updated.Version = goal.Version + 1
	updated.Ts = ts
	updated.Provenance = append([]Provenance{{
		Name:          gc.Operation,
		Registration:  gc.Name,
		Version:       gc.Version,
		CorrelationID: gc.CorrelationID,
		Ts:            ts,
	}}, goal.Provenance...)

	// Goal updates travel as event-origin messages of the notification.
	origin := &protocol.EventInvocation{
		Extensions: protocol.EventExtensions{
			OperationName: gc.Operation,
			TeamID:        gc.WorkspaceID,
			TeamName:      gc.WorkspaceID,
			CorrelationID: gc.NotificationID,
		},
	}

	client := publisher.ForRequest(u.topic, origin)
	if err := client.Publish(ctx, &updated, protocol.CustomEventDestination(GoalRootType)); err != nil {
		return fmt.Errorf("failed to update goal %s: %w", goal.UniqueName, err)
	}
	return nil
}
