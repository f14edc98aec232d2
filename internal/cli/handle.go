// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/spf13/cobra"
)

func newHandleCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "handle [file]",
		Short: "Run one transport envelope through the bridge",
		Long: `Reads a transport envelope ({"data": "<base64>", "attributes": {...}}) or a
push delivery ({"message": {...}}) from file, or stdin when no file is given,
and processes it once.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return handle(cmd.Context(), *configPath, in)
		},
	}
}

func handle(ctx context.Context, configPath string, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := readEnvelope(in)
	if err != nil {
		return err
	}

	cfg, cleanup, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Bridge.Handle(ctx, env)
}

// readEnvelope accepts a bare envelope or one wrapped in a push delivery.
func readEnvelope(in io.Reader) (protocol.Envelope, error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("failed to read envelope: %w", err)
	}

	var push struct {
		Message *protocol.Envelope `json:"message"`
	}
	if err := json.Unmarshal(raw, &push); err != nil {
		return protocol.Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if push.Message != nil {
		return *push.Message, nil
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}
