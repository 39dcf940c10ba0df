package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/services"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Maintain pipeline runs",
	}
	cmd.AddCommand(newBindCmd(a))
	cmd.AddCommand(newPostProcessingCmd(a))
	return cmd
}

func newBindCmd(a *app) *cobra.Command {
	var runUUID, remoteUUID string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind a run that never reached the workflow engine to its remote id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !identity.Valid(runUUID) {
				return fmt.Errorf("--run must be a 32 character hex identifier")
			}
			if !identity.Valid(remoteUUID) {
				return fmt.Errorf("--remote must be a 32 character hex identifier")
			}
			runs, err := a.runs(cmd.Context())
			if err != nil {
				return err
			}
			if err := runs.BindRemote(cmd.Context(), runUUID, remoteUUID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s bound to %s\n", runUUID, remoteUUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runUUID, "run", "", "local run id")
	cmd.Flags().StringVar(&remoteUUID, "remote", "", "workflow engine run id")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("remote")
	return cmd
}

func newPostProcessingCmd(a *app) *cobra.Command {
	var runUUID string
	var req services.PostProcessingRequest
	var metadata string
	cmd := &cobra.Command{
		Use:   "post-processing",
		Short: "Move a run's post-processing to a new state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !identity.Valid(runUUID) {
				return fmt.Errorf("--run must be a 32 character hex identifier")
			}
			if metadata != "" {
				if !json.Valid([]byte(metadata)) {
					return errors.New("--metadata must be valid JSON")
				}
				req.Metadata = json.RawMessage(metadata)
			}
			runs, err := a.runs(cmd.Context())
			if err != nil {
				return err
			}
			view, err := runs.AdvanceRunPostProcessing(cmd.Context(), runUUID, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s post-processing is %s\n", runUUID, view.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&runUUID, "run", "", "local run id")
	cmd.Flags().StringVar(&req.State, "state", "", "pending, in_progress, complete or failed")
	cmd.Flags().StringVar(&req.Message, "message", "", "note stored with the transition")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON document stored with the transition")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}
