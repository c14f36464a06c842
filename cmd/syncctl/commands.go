package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres"
	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/service"
	"github.com/spf13/cobra"
)

const commandTimeout = 30 * time.Second

// session holds what every subcommand needs; close releases the pool.
type session struct {
	db      *postgres.DB
	service *service.SyncService
}

func (s *session) close() {
	s.db.Close()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &session{
		db:      db,
		service: service.NewSyncService(postgres.NewWorkItemRepository(db), logger),
	}, nil
}

func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func enqueueCmd() *cobra.Command {
	var kind, participantID string

	cmd := &cobra.Command{
		Use:   "enqueue [subject-id]",
		Short: "Queue a subject for synchronization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				item, created, err := s.service.Enqueue(ctx, service.EnqueueCommand{
					SubjectID:     args[0],
					Kind:          kind,
					ParticipantID: participantID,
				})
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintln(cmd.ErrOrStderr(), "subject already has an active work item")
				}
				return printItems(cmd, item)
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Subject kind (consent, account, balance, transaction)")
	cmd.Flags().StringVarP(&participantID, "participant", "p", "", "Upstream participant ID")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("participant")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [work-item-id]",
		Short: "Show one work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				item, err := s.service.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printItems(cmd, item)
			})
		},
	}
}

func failedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List work items that exhausted their retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				items, err := s.service.ListFailed(ctx, limit)
				if err != nil {
					return err
				}
				return printItems(cmd, items...)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results")
	return cmd
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [work-item-id]",
		Short: "Give a FAILED work item a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				item, err := s.service.Requeue(ctx, args[0])
				if err != nil {
					return err
				}
				return printItems(cmd, item)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", path, err)
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if _, err := s.db.Pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("apply migration %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "db/migrations/001_init.up.sql", "Migration file")
	return cmd
}

func printItems(cmd *cobra.Command, items ...*domain.WorkItem) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	return writeTable(cmd.OutOrStdout(), items)
}

func writeTable(out io.Writer, items []*domain.WorkItem) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBJECT\tKIND\tPARTICIPANT\tSTATUS\tRETRIES\tNEXT RETRY\tERROR")
	for _, item := range items {
		next := "-"
		if item.NextRetryAt != nil {
			next = item.NextRetryAt.Format(time.RFC3339)
		}
		errMsg := "-"
		if item.ErrorMessage != nil {
			errMsg = *item.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ID, item.SubjectID, item.Kind, item.UpstreamParticipantID,
			item.Status, item.RetryCount, next, errMsg)
	}
	return tw.Flush()
}
