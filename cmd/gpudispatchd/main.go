// Command gpudispatchd runs the autoscaling GPU dispatch server. Invoked
// with a function name, it listens on a TCP port and fans incoming
// requests out across a pool of self-reexeced worker processes,
// max-req-per-gpu per GPU slot, booting one GPU slot's workers at a time on
// demand up to num-gpus*max-req-per-gpu.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coldboot/gpudispatch/internal/refworkers"
	"github.com/coldboot/gpudispatch/pkg/gpudispatch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "gpudispatchd <function>",
		Short: "Autoscaling GPU dispatch server",
		Long: `gpudispatchd accepts raw TCP requests and dispatches each one to a
registered GPU worker function, spawning additional worker processes as
load demands and retiring idle ones on a timeout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, v, args[0])
		},
	}

	root.Flags().IntP("port", "p", 8080, "TCP port to listen on")
	root.Flags().IntP("num-gpus", "g", 0, "number of GPUs to schedule across (required)")
	root.Flags().IntP("max-req-per-gpu", "m", 0, "maximum concurrent workers per GPU (required)")
	root.Flags().Int("message-size", 1024, "maximum request size in bytes")
	root.Flags().String("config", "", "path to a config file")
	_ = root.MarkFlagRequired("num-gpus")
	_ = root.MarkFlagRequired("max-req-per-gpu")

	bindFlags(v, root)

	root.AddCommand(newRunWorkerCmd())
	return root
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("scheduler.num_gpus", cmd.Flags().Lookup("num-gpus"))
	_ = v.BindPFlag("scheduler.max_req_per_gpu", cmd.Flags().Lookup("max-req-per-gpu"))
	_ = v.BindPFlag("server.message_size", cmd.Flags().Lookup("message-size"))
}

func runServer(cmd *cobra.Command, v *viper.Viper, function string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := gpudispatch.LoadConfig(v, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Worker.Function = function

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	cfg.Worker.Executable = exe

	logger := gpudispatch.NewLogger(cfg.Logging)
	ctx := context.Background()

	socket := gpudispatch.NewSocketManager(cfg.Socket)
	if err := socket.EnsureSocketDir(); err != nil {
		return fmt.Errorf("ensure socket dir: %w", err)
	}

	pool := gpudispatch.NewWorkerPool(cfg.Scheduler.NumGPUs, cfg.Worker, socket, logger)
	metrics := gpudispatch.NewMetrics()
	scheduler := gpudispatch.NewScheduler(pool, cfg.Scheduler.NumGPUs, cfg.Scheduler.MaxReqPerGPU, metrics)

	listener, err := gpudispatch.Bind(ctx, cfg.Server)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	server := gpudispatch.NewServer(listener, scheduler, logger, cfg.Server.MessageSize)
	supervisor := gpudispatch.NewSupervisor(*cfg, server, pool, metrics, logger)

	if err := supervisor.MarkReady(); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	logger.InfoContext(ctx, "gpudispatchd ready",
		"function", function, "port", cfg.Server.Port,
		"num_gpus", cfg.Scheduler.NumGPUs, "max_req_per_gpu", cfg.Scheduler.MaxReqPerGPU)

	return supervisor.Run(ctx)
}

// newRunWorkerCmd returns the hidden subcommand a spawned worker process
// re-execs into. It never appears in --help output.
func newRunWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "runworker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return refworkers.RunWorker()
		},
	}
}
