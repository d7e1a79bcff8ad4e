package cli

import (
	"github.com/spf13/cobra"

	"ema-cross-alerts/internal/app"
)

var scanCmd = &cobra.Command{
	Use:   "scan [symbols...]",
	Short: "对监控列表执行一次性 EMA 交叉扫描",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ScanOptions{
			Symbols: args,
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}
