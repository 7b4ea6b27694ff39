package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/replicated"
	"github.com/zeusync/spacesync/internal/core/space"
	"github.com/zeusync/spacesync/internal/injector"
	"github.com/zeusync/spacesync/pkg/concurrent"
	"github.com/zeusync/spacesync/sdk/go/client"
)

type report struct {
	Client   models.ClientID
	Leader   models.ClientID
	IsLeader bool
	Entities int
	Members  int
}

func simulateCmd() *cobra.Command {
	var (
		url       string
		transport string
		spaceID   string
		clients   int
		ticks     int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run logical clients against a relay and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			app, err := injector.InitializeApp(path)
			if err != nil {
				return err
			}
			cfg := app.Config.Client
			if url != "" {
				cfg.URL = url
			}
			if transport != "" {
				cfg.Transport = transport
			}
			if clients <= 0 {
				return errors.New("--clients must be positive")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ids := make([]int, clients)
			for i := range ids {
				ids[i] = i
			}
			sims, err := concurrent.Map(ctx, ids, 0, func(ctx context.Context, i int) (*client.Client, error) {
				c, err := client.Dial(ctx, cfg, spaceID, fmt.Sprintf("sim-%d", i),
					client.WithLogger(app.Logger),
					client.WithMetrics(app.Metrics),
				)
				if err != nil {
					return nil, err
				}
				avatar := c.Connection().CreateAvatar(fmt.Sprintf("avatar-%d", i), models.DefaultTransform())
				avatar.SetPosition(replicated.Vector3{X: float64(i)})
				return c, nil
			})
			if err != nil {
				return err
			}
			defer func() {
				_ = concurrent.ForEach(context.WithoutCancel(ctx), sims, 0, func(ctx context.Context, c *client.Client) error {
					return c.Close(ctx)
				})
			}()

			err = concurrent.ForEach(ctx, sims, 0, func(ctx context.Context, c *client.Client) error {
				return c.Run(ctx, ticks)
			})
			if err != nil {
				return err
			}

			reports := make([]report, 0, len(sims))
			for _, c := range sims {
				c.Tick(ctx)
				reports = append(reports, summarize(c.Connection()))
			}
			printReports(cmd, reports)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "relay address, ws://host:port/ws or host:port for QUIC")
	cmd.Flags().StringVar(&transport, "transport", "", "websocket or quic (overrides config)")
	cmd.Flags().StringVar(&spaceID, "space", "simulation", "space to join")
	cmd.Flags().IntVar(&clients, "clients", 4, "number of clients")
	cmd.Flags().IntVar(&ticks, "ticks", 100, "ticks each client runs")

	return cmd
}

func summarize(c *space.Connection) report {
	leader, _ := c.Leader()
	return report{
		Client:   c.ClientID(),
		Leader:   leader,
		IsLeader: c.IsLeader(),
		Entities: c.EntityCount(),
		Members:  len(c.Members()),
	}
}

func printReports(cmd *cobra.Command, reports []report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tLEADER\tIS LEADER\tENTITIES\tMEMBERS")
	leaders := 0
	for _, r := range reports {
		if r.IsLeader {
			leaders++
		}
		fmt.Fprintf(w, "%d\t%d\t%t\t%d\t%d\n", r.Client, r.Leader, r.IsLeader, r.Entities, r.Members)
	}
	_ = w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d clients, %d leader(s)\n", len(reports), leaders)
}
