package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ice-blockchain/go-tarantool-client"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Ping a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			start := time.Now()
			if _, err := lb.Do(ctx, tarantool.NewPingRequest()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", time.Since(start))
			return nil
		},
	}

	callCmd = &cobra.Command{
		Use:   "call <function> [args...]",
		Short: "Call a stored function, numeric arguments are sent as numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			req := tarantool.NewCallRequest(args[0]).Args(parseArgs(args[1:]))
			resp, err := lb.Do(ctx, req)
			if err != nil {
				return err
			}
			data, err := resp.Decode()
			if err != nil {
				return err
			}
			for _, item := range data {
				fmt.Fprintf(cmd.OutOrStdout(), "%v\n", item)
			}
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Probe every node and print its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			for range lb.Status() {
				conn, err := lb.Pick(ctx)
				if err != nil {
					break
				}
				conn.Release()
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDR\tHEALTH\tCONNS\tERROR")
			for _, st := range lb.Status() {
				lastErr := ""
				if st.LastError != nil {
					lastErr = st.LastError.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					st.Name, st.Addr, st.Health, st.Pool.Total, st.Pool.MaxSize, lastErr)
			}
			return w.Flush()
		},
	}
)

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
}

func parseArgs(args []string) []interface{} {
	parsed := make([]interface{}, 0, len(args))
	for _, arg := range args {
		if i, err := strconv.ParseInt(arg, 10, 64); err == nil {
			parsed = append(parsed, i)
		} else if f, err := strconv.ParseFloat(arg, 64); err == nil {
			parsed = append(parsed, f)
		} else {
			parsed = append(parsed, arg)
		}
	}
	return parsed
}
