package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/orchestrator"
	"github.com/JakeFAU/content-collector/internal/server"
	"github.com/JakeFAU/content-collector/internal/sourcefile"
)

const closeTimeout = 10 * time.Second

func newCollectCmd() *cobra.Command {
	var (
		sourcesPath string
		taskID      string
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect a task's sources once and print progress as NDJSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			file, err := sourcefile.Load(sourcesPath)
			if err != nil {
				return err
			}
			task := taskID
			if task == "" {
				task = file.TaskID
			}
			if task == "" {
				return errors.New("task id is required: pass --task or set task_id in the source file")
			}
			for i := range file.Sources {
				file.Sources[i].TaskID = task
			}

			ctx := cmd.Context()
			// One-shot runs expose no /metrics, so keep them off the default registry.
			app, err := buildApp(ctx, rt.cfg, rt.logger, server.WithRegisterer(prometheus.NewRegistry()))
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
				defer cancel()
				app.Close(closeCtx)
			}()

			if err := app.Sources().ReplaceForTask(ctx, task, file.Sources); err != nil {
				return fmt.Errorf("save sources: %w", err)
			}
			res, err := app.Collect(ctx, orchestrator.Request{TaskID: task, Sources: file.Sources}, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			rt.logger.Info("collection finished",
				zap.String("task_id", task),
				zap.Stringer("run_id", res.RunID),
				zap.Int("items", res.Total),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourcesPath, "sources", "", "YAML file listing the task's sources")
	cmd.Flags().StringVar(&taskID, "task", "", "task id (overrides task_id in the source file)")
	_ = cmd.MarkFlagRequired("sources")
	return cmd
}
