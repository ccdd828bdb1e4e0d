// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLattice/pkg/ux"
	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
)

// resolveCheckpoint accepts a UUID or "latest".
func resolveCheckpoint(ctx context.Context, store *checkpoint.Store, ref string) (checkpoint.Metadata, error) {
	if strings.EqualFold(ref, "latest") {
		return store.Latest(ctx)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return checkpoint.Metadata{}, fmt.Errorf("checkpoint reference %q is neither a UUID nor \"latest\"", ref)
	}
	return store.Metadata(ctx, id)
}

func newCheckpointCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "Manage stored lattice checkpoints",
	}
	cmd.AddCommand(
		newCheckpointListCmd(c),
		newCheckpointCreateCmd(c),
		newCheckpointVerifyCmd(c),
		newCheckpointExportCmd(c),
		newCheckpointUploadCmd(c),
		newCheckpointDeleteCmd(c),
		newCheckpointPruneCmd(c),
	)
	return cmd
}

func storeOnly() runtimeOptions { return runtimeOptions{Store: true} }

func newCheckpointListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				all, err := rt.store.List(ctx)
				if err != nil {
					return err
				}
				out := c.printer(cmd)
				if len(all) == 0 {
					out.Info("no checkpoints")
					return nil
				}
				rows := make([][]string, 0, len(all))
				for _, m := range all {
					label := m.Label
					if label == "" {
						label = "-"
					}
					rows = append(rows, []string{
						m.ID.String(), label, m.CreatedAt.Format(time.RFC3339),
						strconv.FormatInt(m.Generation, 10), strconv.Itoa(m.Cells),
						strconv.FormatInt(m.CompressedSize, 10), fmt.Sprintf("%.2f", m.CompressionRatio()),
					})
				}
				out.Title("Checkpoints")
				return out.Table([]string{"ID", "LABEL", "CREATED", "GENERATION", "CELLS", "SIZE", "RATIO"}, rows)
			})
		},
	}
}

func newCheckpointCreateCmd(c *cli) *cobra.Command {
	var (
		label  string
		cycles int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Run the engine for --cycles and store a checkpoint of the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.withRuntime(ctx, runtimeOptions{Engine: true}, func(ctx context.Context, rt *runtime) error {
				rt.engine.SetRate(0, 1)
				if cycles > 0 {
					if err := rt.engine.Run(ctx, cycles); err != nil {
						return err
					}
				}
				cp, err := checkpoint.Capture(label, rt.layer, rt.mapping)
				if err != nil {
					return err
				}
				meta, err := rt.store.Save(ctx, cp)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), meta.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "free-form label")
	cmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "cycles to run before capturing")
	return cmd
}

func newCheckpointVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify ID|latest",
		Short: "Check a checkpoint's hash and that it fits the configured lattice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				meta, err := rt.restore(ctx, args[0])
				if err != nil {
					return err
				}
				c.printer(cmd).Success("%s verified: %d cells, %d columns, input %d, hash %s",
					meta.ID, meta.Cells, meta.Columns, meta.InputSize, meta.ContentHash)
				return nil
			})
		},
	}
}

func newCheckpointExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export ID|latest",
		Short: "Write a checkpoint's gzip payload to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				meta, err := resolveCheckpoint(ctx, rt.store, args[0])
				if err != nil {
					return err
				}
				_, data, err := rt.store.LoadRaw(ctx, meta.ID)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = meta.ID.String() + ".json.gz"
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				c.printer(cmd).Success("wrote %s (%d bytes)", path, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; defaults to <id>.json.gz")
	return cmd
}

func newCheckpointUploadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload ID|latest",
		Short: "Copy a checkpoint to the configured Cloud Storage bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.GCS.Enabled {
				return fmt.Errorf("gcs upload is disabled; set gcs.enabled and gcs.bucket")
			}
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				meta, err := resolveCheckpoint(ctx, rt.store, args[0])
				if err != nil {
					return err
				}
				_, data, err := rt.store.LoadRaw(ctx, meta.ID)
				if err != nil {
					return err
				}
				up, err := checkpoint.NewGCSUploader(ctx, rt.cfg.GCS.Bucket, rt.cfg.GCS.Prefix, rt.cfg.GCS.CredentialsFile, rt.log)
				if err != nil {
					return err
				}
				defer up.Close()
				return upload(ctx, c.printer(cmd), up, meta, data)
			})
		},
	}
}

func upload(ctx context.Context, out *ux.Printer, up checkpoint.Uploader, meta checkpoint.Metadata, data []byte) error {
	object, err := up.Upload(ctx, meta, data)
	if err != nil {
		return err
	}
	out.Success("uploaded %s to %s", meta.ID, object)
	return nil
}

func newCheckpointDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid checkpoint id %q: %w", args[0], err)
			}
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				return rt.store.Delete(ctx, id)
			})
		},
	}
}

func newCheckpointPruneCmd(c *cli) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest --keep checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = c.cfg.Storage.KeepCheckpoints
			}
			return c.withRuntime(cmd.Context(), storeOnly(), func(ctx context.Context, rt *runtime) error {
				n, err := rt.store.Prune(ctx, keep)
				if err != nil {
					return err
				}
				c.printer(cmd).Success("removed %d checkpoints", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "checkpoints to keep; defaults to storage.keep_checkpoints")
	return cmd
}
