package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/yooozz3/target-assign-rl/internal/config"
	"github.com/yooozz3/target-assign-rl/internal/policy"
	"github.com/yooozz3/target-assign-rl/internal/remote"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	policyName := flag.String("policy", "greedy", "policy to serve")
	listen := flag.String("listen", "", "listen address (default remote.listen)")
	checkpoint := flag.String("checkpoint", "", "iql checkpoint to serve")
	flag.Parse()

	if err := run(*configPath, *policyName, *listen, *checkpoint); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, policyName, listen, checkpoint string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Remote.Listen
	}

	opts := cfg.PolicyOptions()
	opts.Checkpoint = checkpoint
	p, err := policy.DefaultRegistry().New(policyName, opts)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	srv := grpc.NewServer()
	remote.RegisterPolicyServiceServer(srv, remote.NewServer(p))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("[REMOTE] shutting down")
		srv.GracefulStop()
	}()

	log.Printf("[REMOTE] serving %s policy on %s", policyName, lis.Addr())
	return srv.Serve(lis)
}
