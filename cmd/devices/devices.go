// Package devices implements the devices command: list available capture
// devices.
package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openaudio/jackbridge/internal/conf"
	"github.com/openaudio/jackbridge/internal/engine"
)

// Command returns the devices command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.NewMalgoEngine(settings.Engine.SampleRate, uint32(settings.Engine.PeriodSize))
			eng.Debug = settings.Debug

			devices, err := eng.Devices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}

			fmt.Println("Available capture devices:")
			for _, device := range devices {
				fmt.Printf("  %d: %s, %s\n", device.Index, device.Name, device.ID)
			}
			return nil
		},
	}
}
