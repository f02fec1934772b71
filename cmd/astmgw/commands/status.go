package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/astmgw/gateway/internal/config"
	"github.com/astmgw/gateway/pkg/store"
)

var statusRecent int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured instruments and their order backlog",
	Long: `Display every configured instrument together with its order queue
state from the gateway database: pending, processing, delivered, and
failed order counts. With --recent N, the N most recent inbound messages
per instrument are listed as well.

Examples:
  # Show instrument status
  astmgw status

  # Include the last 5 inbound messages per instrument
  astmgw status --recent 5`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRecent, "recent", 0, "Also list the N most recent inbound messages per instrument")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile(), nil)
	if err != nil {
		return err
	}

	st, err := store.Open(store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Instrument", "Port", "Driver", "Enabled", "Keep-Alive", "Pending", "Processing", "Success", "Failed"})

	for _, inst := range cfg.Instruments {
		stats, err := st.OrderStatsByInstrument(ctx, inst.Name)
		if err != nil {
			return fmt.Errorf("stats for %s: %w", inst.Name, err)
		}

		keepAlive := "off"
		if inst.KeepAliveIntervalMinutes > 0 {
			keepAlive = fmt.Sprintf("%dm", inst.KeepAliveIntervalMinutes)
		}

		table.Append([]string{
			inst.Name,
			strconv.Itoa(inst.Port),
			inst.DriverIdentifier,
			strconv.FormatBool(inst.Enabled),
			keepAlive,
			strconv.FormatInt(stats.Pending, 10),
			strconv.FormatInt(stats.Processing, 10),
			strconv.FormatInt(stats.Success, 10),
			strconv.FormatInt(stats.Failed, 10),
		})
	}
	table.Render()

	if statusRecent <= 0 {
		return nil
	}

	for _, inst := range cfg.Instruments {
		msgs, err := st.FindRecentServerMessages(ctx, inst.Name, statusRecent)
		if err != nil {
			return fmt.Errorf("recent messages for %s: %w", inst.Name, err)
		}
		if len(msgs) == 0 {
			continue
		}

		fmt.Printf("\nRecent messages for %s:\n", inst.Name)
		recent := tablewriter.NewWriter(os.Stdout)
		recent.SetHeader([]string{"Received", "Type", "Status", "Error"})
		for _, m := range msgs {
			recent.Append([]string{
				m.ReceivedAt.Format("2006-01-02 15:04:05"),
				m.MessageType,
				string(m.Status),
				m.LastError,
			})
		}
		recent.Render()
	}

	return nil
}
