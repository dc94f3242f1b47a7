package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leasegate/leasegate/internal/clock"
	"github.com/leasegate/leasegate/internal/cluster"
	"github.com/leasegate/leasegate/internal/lock"
	raftstore "github.com/leasegate/leasegate/internal/raft"
	"github.com/leasegate/leasegate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "leasegate",
	Short: "Distributed lease-based lock service",
	Long: `LeaseGate is a distributed mutual-exclusion service. Locks are
leases with a TTL, every grant and renewal carries a monotonically
increasing fencing token, and the lease records are replicated with Raft.

Configuration can be set via command line flags or environment variables.
The format of the environment variables is LEASEGATE_<flag>
(e.g. LEASEGATE_HTTP_ADDR=8000).`,
	PreRunE: bindConfig,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("http-addr", "11000", "HTTP bind port")
	rootCmd.PersistentFlags().String("raft-addr", "localhost:12000", "Raft bind address")
	rootCmd.PersistentFlags().String("raft-dir", "data", "Directory for Raft log, snapshots and lease records")
	rootCmd.PersistentFlags().String("node-id", "", "Node ID. If not set, same as Raft bind address")
	rootCmd.PersistentFlags().String("join", "", "Address of a cluster member to join, if any")
	rootCmd.PersistentFlags().Bool("inmemory", false, "Keep the Raft log in memory instead of badger")
	rootCmd.PersistentFlags().String("service-name", "", "Name of the headless service in Kubernetes")
	rootCmd.PersistentFlags().String("namespace", "default", "Kubernetes namespace of the service")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("sweep-interval", time.Minute, "How often the sweeper scans for expired leases")
	rootCmd.PersistentFlags().Duration("sweep-grace", time.Minute, "How long past expiry a lease record is kept for fencing history")
}

// initConfig reads in env files and ENV variables if set.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("leasegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindConfig(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func run(_ *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	httpAddr := viper.GetString("http-addr")
	raftAddr := viper.GetString("raft-addr")
	raftDir := viper.GetString("raft-dir")
	nodeID := viper.GetString("node-id")
	joinAddr := viper.GetString("join")
	serviceName := viper.GetString("service-name")
	namespace := viper.GetString("namespace")

	if err := os.MkdirAll(raftDir, 0700); err != nil {
		log.Fatal().Msgf("failed to create path for Raft storage: %s", err.Error())
	}

	opts := badger.DefaultOptions(filepath.Join(raftDir, "badger"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal().Msgf("failed to open badger store: %s", err.Error())
	}
	defer db.Close()

	node := raftstore.NewNode(db, viper.GetBool("inmemory"))
	node.RaftDir = raftDir

	hosts := []string{}

	var cl *cluster.Cluster
	if serviceName != "" {
		discovery := cluster.NewServiceDiscoverySRV(namespace, serviceName)
		cl = cluster.NewCluster(discovery, namespace, serviceName, httpAddr)

		if err := cl.Init(); err != nil {
			log.Fatal().Msgf("Error initialising a cluster: %s", err.Error())
		}

		nodeID = cl.NodeID()
		raftAddr = cl.RaftAddr()
		hosts = cl.Hosts()
	} else if joinAddr != "" {
		hosts = append(hosts, joinAddr)
	}

	if nodeID == "" {
		nodeID = raftAddr
	}
	node.RaftBind = raftAddr

	// Followers hand this address out for leader forwarding, so it must be
	// a reachable host:port, not the bare listen port.
	advertisedHTTP, err := advertisedHTTPAddr(raftAddr, httpAddr)
	if err != nil {
		log.Fatal().Msgf("failed to derive advertised HTTP address: %s", err.Error())
	}
	node.HTTPAddr = advertisedHTTP

	clk := clock.NewMonotonic()
	manager := lock.NewManager(node, clk)
	sweeper := lock.NewSweeper(
		node, clk, viper.GetDuration("sweep-interval"), viper.GetDuration("sweep-grace"),
	)
	sweeper.SetActive(false)

	node.SetLeaderChangeFunc(func(isLeader bool) {
		// Only the leader sweeps; followers cannot apply deletes anyway.
		sweeper.SetActive(isLeader)
		if cl != nil {
			cl.LeaderChanged(isLeader)
		}
	})

	if err := node.Open(len(hosts) == 0, nodeID); err != nil {
		log.Fatal().Msgf("failed to open store: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go node.RunValueLogGC()
	go sweeper.Run(ctx)

	srv := server.New(httpAddr, manager, node)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Msgf("failed to start HTTP service: %s", err.Error())
		}
	}()

	joiner := cluster.NewJoiner(nodeID, raftAddr, hosts)
	if err := joiner.Join(); err != nil {
		log.Fatal().Msg(err.Error())
	}

	log.Info().Msgf("leasegate started successfully, listening on http://:%s", httpAddr)

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt, syscall.SIGTERM)
	<-terminate

	if err := srv.Close(); err != nil {
		log.Warn().Msgf("failed to stop HTTP service: %s", err.Error())
	}
	if err := node.Close(); err != nil {
		log.Warn().Msgf("failed to close node: %s", err.Error())
	}

	log.Info().Msg("leasegate exiting")
	return nil
}

// advertisedHTTPAddr derives the address peers use to reach this node's
// HTTP API. The HTTP listener binds only a port, so the reachable host is
// taken from the Raft bind address, which cluster discovery already
// resolves to this node's hostname.
func advertisedHTTPAddr(raftAddr, httpPort string) (string, error) {
	host, _, err := net.SplitHostPort(raftAddr)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, httpPort), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
