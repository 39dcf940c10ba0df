package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipeline-proxy/internal/identity"
)

func newIdentityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect local and remote identifiers",
	}
	cmd.AddCommand(newResolveCmd(a))
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	var kindName, org, local, remote string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the identifier bound to a local or remote id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := identity.ParseKind(kindName)
			if err != nil {
				return err
			}
			if (local == "") == (remote == "") {
				return errors.New("pass exactly one of --local and --remote")
			}
			if org != "" && !identity.Valid(org) {
				return errors.New("--organization must be a 32 character hex identifier")
			}
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			mapper := identity.NewMapper(store)

			if local != "" {
				remote, err = mapper.ResolveRemote(cmd.Context(), org, kind, local)
			} else {
				local, err = mapper.ResolveLocal(cmd.Context(), org, kind, remote)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s local=%s remote=%s\n", kind, local, remote)
			return nil
		},
	}
	cmd.Flags().StringVar(&kindName, "kind", "", "pipeline or run")
	cmd.Flags().StringVar(&org, "organization", "", "only resolve ids owned by this organization")
	cmd.Flags().StringVar(&local, "local", "", "local id")
	cmd.Flags().StringVar(&remote, "remote", "", "remote id")
	_ = cmd.MarkFlagRequired("kind")
	cmd.MarkFlagsMutuallyExclusive("local", "remote")
	return cmd
}
