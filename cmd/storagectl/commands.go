// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
	"github.com/fawa-io/roomdesign/pkg/storage"
)

const defaultTimeout = 5 * time.Minute

var errNeedsS3 = errors.New("this command requires the s3 storage backend")

type app struct {
	configFile string
	useLocal   bool
	timeout    time.Duration
	newBackend func(cfg config.StorageConfig) (storage.Backend, error)
}

func newApp() *app {
	return &app{newBackend: func(cfg config.StorageConfig) (storage.Backend, error) {
		return storage.New(cfg, afero.NewOsFs())
	}, timeout: defaultTimeout}
}

// backend loads configuration and builds the configured backend.
func (a *app) backend() (storage.Backend, error) {
	v := viper.New()
	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/roomdesign/")
	}
	if a.useLocal {
		v.Set("storage.useLocal", true)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if lv, err := fwlog.ParseLevel(cfg.LogLevel); err == nil {
		fwlog.SetLevel(lv)
	}
	return a.newBackend(cfg.Storage)
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) s3Backend() (*storage.S3Backend, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	s3b, ok := b.(*storage.S3Backend)
	if !ok {
		return nil, errNeedsS3
	}
	return s3b, nil
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "storagectl",
		Short:         "Administer the room redesign artifact store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().BoolVar(&a.useLocal, "local", false, "use the local filesystem backend")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", defaultTimeout, "overall deadline for the command")

	root.AddCommand(
		newProvisionCommand(a),
		newCheckCommand(a),
		newStatsCommand(a),
		newListCommand(a),
		newRemoveCommand(a),
		newPurgeCommand(a),
		newCopyCommand(a),
	)
	return root
}

func newProvisionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the bucket and apply public-read policy, CORS and versioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s3b, err := a.s3Backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			report, err := s3b.Provision(ctx)
			if report != nil {
				printJSON(cmd, report)
			}
			if err != nil {
				return fmt.Errorf("provisioning failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s is ready: %s\n", report.Bucket, s3b.PublicURL("{key}"))
			return nil
		},
	}
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			switch b := b.(type) {
			case *storage.S3Backend:
				if err := b.CheckConnection(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK: bucket %s (region %s)\n", b.Bucket(), b.Region())
			case *storage.LocalBackend:
				fmt.Fprintf(cmd.OutOrStdout(), "OK: local storage at %s\n", b.Root())
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", b.Kind())
			}
			return nil
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored objects and their total size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			st, err := b.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backend: %s\nTotal files: %d\nTotal size: %.2f MB\n",
				b.Kind(), st.Count, float64(st.TotalBytes)/(1024*1024))
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls [PREFIX]",
		Short: "List keys under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			keys, err := b.List(ctx, prefix, limit)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum number of keys, 0 for all")
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Delete one object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			removed, err := b.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Not found: %s\n", args[0])
			}
			return nil
		},
	}
}

func newPurgeCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge PREFIX",
		Short: "Delete every object under a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("refusing to purge an empty prefix")
			}
			if !yes {
				return fmt.Errorf("purging %q is irreversible; pass --yes to confirm", args[0])
			}
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			n, err := b.DeletePrefix(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d files with prefix %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	return cmd
}

func newCopyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cp SRC DST",
		Short: "Copy an object to a new key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			ok, err := b.Copy(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("source not found: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fwlog.Warnf("Failed to print result: %v", err)
	}
}
