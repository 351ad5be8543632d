package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newActionCmd(c func() *client, use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <server>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Pending bool   `json:"pending"`
				Error   string `json:"error"`
			}
			code, err := c().do(cmd.Context(), http.MethodPost, "/v1/servers/"+url.PathEscape(args[0])+":"+action, nil, &resp)
			if err != nil {
				return err
			}
			if code == http.StatusAccepted && resp.Pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is waiting for runtime authorization: %s\n", args[0], resp.Error)
				fmt.Fprintln(cmd.OutOrStdout(), "run `keeperctl candidates` and `keeperctl authorize <home>`")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newSendCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "send <server> <line...>",
		Short: "Write a line to the server console",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"text": strings.Join(args[1:], " ")}
			if _, err := c().do(cmd.Context(), http.MethodPost, "/v1/servers/"+url.PathEscape(args[0])+"/input", body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newGrantCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <server> <dir>",
		Short: "Grant a server access to its workspace directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			var resp struct {
				Grant string `json:"grant"`
				Path  string `json:"path"`
			}
			if _, err := c().do(cmd.Context(), http.MethodPost, "/v1/servers/"+url.PathEscape(args[0])+":grant", map[string]string{"dir": dir}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s (%s)\n", resp.Path, resp.Grant)
			return nil
		},
	}
}
