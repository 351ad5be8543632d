package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/carlosprados/keeper/internal/locator"
	"github.com/spf13/cobra"
)

func newCandidatesCmd(c func() *client) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Show discovered Java runtimes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Found  *locator.Candidate `json:"found"`
				Likely []string           `json:"likely"`
			}
			path := "/v1/runtime/candidates"
			if full {
				path += "?full=true"
			}
			if _, err := c().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f := resp.Found; f != nil {
				version := "unknown"
				if f.Version != nil {
					version = f.Version.String()
				}
				fmt.Fprintf(out, "found: %s (version %s, via %s)\n", f.Home, version, f.Source)
			} else {
				fmt.Fprintln(out, "found: none")
			}
			for _, h := range resp.Likely {
				fmt.Fprintf(out, "  %s\n", h)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run the exhaustive scan when quick discovery finds nothing")
	return cmd
}

func newAuthorizeCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <runtime-home>",
		Short: "Authorize a Java runtime and retry pending starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			var resp struct {
				Exe string `json:"exe"`
			}
			if _, err := c().do(cmd.Context(), http.MethodPost, "/v1/runtime/authorize", map[string]string{"home": home}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "authorized %s\n", resp.Exe)
			return nil
		},
	}
}
