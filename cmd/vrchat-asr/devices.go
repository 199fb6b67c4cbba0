package main

import (
	"fmt"
	"strconv"

	audioimpl "github.com/foxseedlab/vrchat-asr/external/audio"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List input devices usable as micro_device_id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		devices, err := audioimpl.NewPortAudioSource().InputDevices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Name", "Channels", "Sample Rate"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for _, d := range devices {
			table.Append([]string{
				strconv.Itoa(d.ID),
				d.Name,
				strconv.Itoa(d.MaxInputChannels),
				strconv.FormatFloat(d.DefaultSampleRate, 'f', 0, 64),
			})
		}
		table.Render()
		return nil
	},
}
