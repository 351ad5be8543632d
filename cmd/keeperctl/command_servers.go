package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/carlosprados/keeper/internal/store"
	"github.com/spf13/cobra"
)

func newServersCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List servers and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []store.ServerInfo
			if _, err := c().do(cmd.Context(), http.MethodGet, "/v1/servers", nil, &list); err != nil {
				return err
			}
			printServers(cmd, list)
			return nil
		},
	}
}

func printServers(cmd *cobra.Command, list []store.ServerInfo) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPID\tUPTIME\tRESTARTS\tCPU%\tRSS MiB")
	for _, s := range list {
		state := s.State
		switch {
		case s.Pending:
			state += " (runtime pending)"
		case s.ForceAvailable:
			state += " (force-stop available)"
		}
		pid, uptime, cpu, rss := "-", "-", "-", "-"
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
			uptime = time.Since(s.StartedAt).Truncate(time.Second).String()
		}
		if m := s.Metrics; m != nil {
			cpu = strconv.FormatFloat(m.CPUPercent, 'f', 1, 64)
			rss = strconv.FormatUint(m.RSSBytes>>20, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, state, pid, uptime, s.Restarts, cpu, rss)
	}
	_ = tw.Flush()
}

func newLogsCmd(c func() *client) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Print captured console output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Lines []string `json:"lines"`
			}
			path := "/v1/servers/" + url.PathEscape(args[0]) + "/logs?tail=" + strconv.Itoa(tail)
			if _, err := c().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			for _, l := range resp.Lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 100, "number of lines, 0 for all")
	return cmd
}
