// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/noldarim/goalbridge/internal/logger"
	"google.golang.org/api/option"
)

// PubSubTopic publishes to a Google Cloud Pub/Sub topic.
type PubSubTopic struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubTopic connects with application default credentials, or to the
// emulator named by PUBSUB_EMULATOR_HOST. endpoint overrides the service
// address when set. topic may be a short name or a full
// "projects/<p>/topics/<t>" resource name.
func NewPubSubTopic(ctx context.Context, endpoint, project, topic string) (*PubSubTopic, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return NewPubSubTopicWithOptions(ctx, project, topic, opts...)
}

// NewPubSubTopicWithOptions is NewPubSubTopic with explicit client options.
func NewPubSubTopicWithOptions(ctx context.Context, project, topic string, opts ...option.ClientOption) (*PubSubTopic, error) {
	project, id, err := topicName(project, topic)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSubTopic{client: client, topic: client.Topic(id)}, nil
}

func topicName(project, topic string) (string, string, error) {
	if topic == "" {
		return "", "", errors.New("pubsub topic is required")
	}
	if rest, ok := strings.CutPrefix(topic, "projects/"); ok {
		p, id, ok := strings.Cut(rest, "/topics/")
		if !ok || p == "" || id == "" {
			return "", "", fmt.Errorf("invalid pubsub topic name %q", topic)
		}
		return p, id, nil
	}
	if project == "" {
		return "", "", errors.New("pubsub project is required for short topic names")
	}
	return project, topic, nil
}

// Publish implements Topic. It returns once the server acknowledged data.
func (t *PubSubTopic) Publish(ctx context.Context, data []byte) error {
	serverID, err := t.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return fmt.Errorf("pubsub publish to %s failed: %w", t.topic, err)
	}
	logger.Ctx(ctx, getLog()).Debug().Str("server_id", serverID).Msg("Published to pub/sub")
	return nil
}

// Close flushes pending messages and closes the client.
func (t *PubSubTopic) Close() error {
	t.topic.Stop()
	return t.client.Close()
}

// LogTopic writes messages to the publisher log instead of a transport.
// Used by the one-shot CLI and for local runs without credentials.
type LogTopic struct{}

// Publish implements Topic.
func (LogTopic) Publish(ctx context.Context, data []byte) error {
	logger.Ctx(ctx, getLog()).Info().RawJSON("message", data).Msg("Outbound message")
	return nil
}
