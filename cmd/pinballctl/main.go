// pinballctl is the operator CLI of the token master: raw queries, signal
// management, instance archival, and archive retention.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pinterest/pinball/internal/storage/sqlite"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/client"
	"github.com/pinterest/pinball/pkg/parser"
	"github.com/pinterest/pinball/pkg/workflow"
)

var masterAddr string

func main() {
	root := &cobra.Command{
		Use:           "pinballctl",
		Short:         "Operate a pinball token master",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&masterAddr, "master", "localhost:8090", "master gRPC address")

	root.AddCommand(queryCmd())
	root.AddCommand(groupCmd())
	root.AddCommand(signalCmd())
	root.AddCommand(archiveCmd())
	root.AddCommand(registerCmd())
	root.AddCommand(retentionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.Dial(masterAddr)
}

func queryCmd() *cobra.Command {
	var prefix string
	var max int32
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List tokens under a name prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Query(cmd.Context(), &api.QueryRequest{Queries: []*api.Query{
				{NamePrefix: prefix, MaxTokens: max},
			}})
			if err != nil {
				return err
			}
			for _, t := range resp.Lists[0].Tokens {
				fmt.Printf("%s\tversion=%d owner=%q expiration=%d priority=%g\n",
					t.Name, t.Version, t.Owner, t.ExpirationTime, t.Priority)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "/", "name prefix")
	cmd.Flags().Int32Var(&max, "max", 0, "cap on returned tokens, 0 for all")
	return cmd
}

func groupCmd() *cobra.Command {
	var prefix, suffix string
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Count tokens under a prefix, grouped by the next level",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Group(cmd.Context(), &api.GroupRequest{
				NamePrefix:  prefix,
				GroupSuffix: suffix,
			})
			if err != nil {
				return err
			}
			groups := make([]string, 0, len(resp.Counts))
			for g := range resp.Counts {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			for _, g := range groups {
				fmt.Printf("%s%s\t%d\n", prefix, g, resp.Counts[g])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "/workflow/", "name prefix")
	cmd.Flags().StringVar(&suffix, "suffix", "/", "group suffix")
	return cmd
}

func signalCmd() *cobra.Command {
	var wf, inst, action string
	var generation int64
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Manage DRAIN, ABORT, ARCHIVE, and EXIT signals",
	}
	set := &cobra.Command{
		Use:   "set",
		Short: "Post a signal at the chosen scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			sig, err := workflow.NewSignaller(cmd.Context(), c, wf, inst)
			if err != nil {
				return err
			}
			if action == workflow.SignalExit && generation > 0 {
				return sig.SetActionWithAttributes(cmd.Context(), action,
					map[string]int64{workflow.AttrGeneration: generation})
			}
			return sig.SetAction(cmd.Context(), action)
		},
	}
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a signal at the chosen scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			sig, err := workflow.NewSignaller(cmd.Context(), c, wf, inst)
			if err != nil {
				return err
			}
			return sig.RemoveAction(cmd.Context(), action)
		},
	}
	for _, sub := range []*cobra.Command{set, remove} {
		sub.Flags().StringVar(&wf, "workflow", "", "workflow scope, empty for top level")
		sub.Flags().StringVar(&inst, "instance", "", "instance scope")
		sub.Flags().StringVar(&action, "action", "", "DRAIN, ABORT, ARCHIVE, or EXIT")
		_ = sub.MarkFlagRequired("action")
		cmd.AddCommand(sub)
	}
	set.Flags().Int64Var(&generation, "generation", 0, "generation attribute for EXIT signals")
	return cmd
}

func archiveCmd() *cobra.Command {
	var wf, inst string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Atomically move a workflow instance to the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			prefix := workflow.Name{Workflow: wf, Instance: inst}.InstancePrefix()
			resp, err := c.Query(cmd.Context(), &api.QueryRequest{Queries: []*api.Query{
				{NamePrefix: prefix},
			}})
			if err != nil {
				return err
			}
			tokens := resp.Lists[0].Tokens
			if len(tokens) == 0 {
				return fmt.Errorf("no live tokens under %s", prefix)
			}
			if _, err := c.Archive(cmd.Context(), &api.ArchiveRequest{Tokens: tokens}); err != nil {
				return err
			}
			fmt.Printf("archived %d tokens of %s/%s\n", len(tokens), wf, inst)
			return nil
		},
	}
	cmd.Flags().StringVar(&wf, "workflow", "", "workflow name")
	cmd.Flags().StringVar(&inst, "instance", "", "instance id")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func registerCmd() *cobra.Command {
	var workflowsPath string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Install schedule tokens from a workflow definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			p, err := parser.Load(workflowsPath)
			if err != nil {
				return err
			}
			tokens, err := p.ScheduleTokens(time.Now())
			if err != nil {
				return err
			}
			for _, t := range tokens {
				if _, err := c.Modify(cmd.Context(), &api.ModifyRequest{Updates: []*api.Token{t}}); err != nil {
					fmt.Printf("skipping %s: %s\n", t.Name, err)
					continue
				}
				fmt.Printf("registered %s\n", t.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowsPath, "workflows", "workflows.yaml", "workflow definition file")
	return cmd
}

func retentionCmd() *cobra.Command {
	var storePath, prefix string
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete archived tokens past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := sqlite.Open(ctx, sqlite.Config{Path: storePath})
			if err != nil {
				return err
			}
			defer store.Close()
			tokens, err := store.ReadArchivedTokens(ctx, prefix)
			if err != nil {
				return err
			}
			cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
			names := make([]string, 0)
			for _, t := range tokens {
				if versionTime(t.Version).Unix() < cutoff {
					names = append(names, t.Name)
				}
			}
			if len(names) == 0 {
				fmt.Println("nothing to delete")
				return nil
			}
			if err := store.DeleteArchivedTokens(ctx, names); err != nil {
				return err
			}
			fmt.Printf("deleted %d archived tokens\n", len(names))
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "pinball.db", "sqlite store path")
	cmd.Flags().StringVar(&prefix, "prefix", api.ArchivePrefix, "archived name prefix")
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "retention window")
	return cmd
}

// versionTime recovers the wall clock embedded in a snowflake version.
func versionTime(version int64) time.Time {
	const snowflakeEpochMillis = 1288834974657
	millis := (version >> 22) + snowflakeEpochMillis
	return time.UnixMilli(millis)
}
