/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command flyraft-server runs one node of a flyraft cluster: it opens the
// node's durable log, joins or bootstraps the raft group, and serves
// client commands on its client port.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	clustererrors "flyraft/internal/errors"

	"flyraft/internal/cluster"
	"flyraft/internal/config"
	"flyraft/internal/logging"
	"flyraft/internal/queue"
	"flyraft/pkg/cli"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to a config file")
		nodeID     = flag.String("id", "", "node id")
		bindAddr   = flag.String("bind", "", "client/cluster bind address")
		port       = flag.Int("port", 0, "client command port")
		clusterPort = flag.Int("cluster-port", 0, "cluster bus port")
		role       = flag.String("role", "", "standalone, init, or join")
		join       = flag.String("join", "", "address of an existing member, for role=join")
		raftLogPath = flag.String("raftlog", "", "path to the node's durable log file")
	)
	flag.Parse()

	mgr := config.Global()
	if *configFile != "" {
		if err := mgr.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "flyraft-server: %v\n", err)
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *clusterPort != 0 {
		cfg.ClusterPort = *clusterPort
	}
	if *role != "" {
		cfg.Role = *role
	}
	if *join != "" {
		cfg.Join = *join
		cfg.Role = "join"
	}
	if *raftLogPath != "" {
		cfg.RaftLogPath = *raftLogPath
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flyraft-server: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("flyraft-server")

	cli.PrintInfo("starting node %s (%s) on %s:%d, cluster port %d", cfg.NodeID, cfg.Role, cfg.BindAddr, cfg.Port, cfg.ClusterPort)

	node, transport, err := cluster.Setup(cfg, logger)
	if err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
	defer transport.Close()

	ctx, cancelQueue := context.WithCancel(context.Background())
	go node.RunQueue(ctx, node.Queue)

	stopWatch := make(chan struct{})
	go node.WatchLeadership(stopWatch)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port))
	if err != nil {
		cli.PrintError("listening for clients: %v", err)
		os.Exit(1)
	}
	cli.PrintSuccess("serving clients on %s", ln.Addr())

	go serveClients(ln, node)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cli.PrintInfo("shutting down")
	close(stopWatch)
	cancelQueue()
	ln.Close()
	if err := node.Shutdown(10 * time.Second); err != nil {
		cli.PrintWarning("shutdown: %v", err)
	}
}

// serveClients accepts client connections and dispatches one command per
// line: a bare newline-terminated, whitespace-separated argv, matching
// spec.md's framing of the request/response bus as a detail left to the
// implementer.
func serveClients(ln net.Listener, node *cluster.Node) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleClient(conn, node)
	}
}

func handleClient(conn net.Conn, node *cluster.Node) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		kind := queue.KindCommand
		cmdArgs := fields
		switch strings.ToUpper(fields[0]) {
		case "INFO":
			kind = queue.KindInfo
			cmdArgs = nil
		case "CFGCHANGE":
			kind = queue.KindCfgChange
			cmdArgs = fields[1:]
		}

		argv := make([][]byte, len(cmdArgs))
		for i, f := range cmdArgs {
			argv[i] = []byte(f)
		}

		req := queue.NewRequest(kind, argv)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := node.Queue.Sender().Send(ctx, req); err != nil {
			cancel()
			fmt.Fprintf(conn, "ERROR %v\n", err)
			continue
		}
		reply, err := req.Await(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(conn, "ERROR %v\n", err)
			continue
		}
		fmt.Fprintln(conn, formatReply(reply))
	}
}

func formatReply(reply queue.Reply) string {
	if reply.Err != nil {
		if ce, ok := reply.Err.(*clustererrors.ClusterError); ok && ce.Code == clustererrors.ErrCodeNotLeader {
			if ce.LeaderAddr != "" {
				return "LEADERIS " + ce.LeaderAddr
			}
			return "-NOLEADER"
		}
		return "ERROR " + reply.Err.Error()
	}
	switch v := reply.Result.(type) {
	case nil:
		return "(nil)"
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
