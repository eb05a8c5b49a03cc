package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/ritual"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run due rituals on a timer until interrupted",
		Long:  "Start the ritual loop. Every tick (ritual.tick, default @every 1h) runs each user's due rituals.",
		Run:   runServe,
	}

	cmd.Flags().Bool("now", false, "Run one pass immediately before waiting for the first tick")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	now, _ := cmd.Flags().GetBool("now")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, st, cfg := openManager()
	defer st.Close()

	loop, err := ritual.NewLoop(m.Rituals(), cfg.RitualTick)
	if err != nil {
		exitErr("serve", err)
	}
	if now {
		loop.Tick(ctx)
	}
	loop.Start()
	log.Info().Str("tick", cfg.RitualTick).Time("next", loop.Next()).Str("db_path", cfg.DBPath).Msg("ritual_loop_started")

	<-ctx.Done()
	log.Info().Msg("shutdown_signal_received")
	loop.Stop()
}
