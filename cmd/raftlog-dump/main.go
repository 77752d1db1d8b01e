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

// Command raftlog-dump prints the contents of a node's durable raft log
// file for offline inspection: every stored log entry by index, plus the
// stable-store keys used for vote bookkeeping (CurrentTerm, LastVoteCand,
// LastVoteTerm). It opens the file read-write like any other consumer of
// internal/raftlog.Store (the format has no separate read-only mode) but
// never calls a mutating method.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hashicorp/raft"

	"flyraft/internal/cmdcodec"
	"flyraft/internal/raftlog"
)

func main() {
	path := flag.String("path", "", "path to the raft log file")
	fromIdx := flag.Uint64("from", 0, "first index to print (0 = FirstIndex)")
	toIdx := flag.Uint64("to", 0, "last index to print (0 = LastIndex)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "raftlog-dump: -path is required")
		os.Exit(1)
	}

	store, err := raftlog.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftlog-dump: opening %s: %v\n", *path, err)
		os.Exit(1)
	}
	defer store.Close()

	first, err := store.FirstIndex()
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftlog-dump: %v\n", err)
		os.Exit(1)
	}
	last, err := store.LastIndex()
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftlog-dump: %v\n", err)
		os.Exit(1)
	}

	from, to := *fromIdx, *toIdx
	if from == 0 {
		from = first
	}
	if to == 0 {
		to = last
	}

	fmt.Printf("log spans [%d, %d]\n", first, last)
	for idx := from; idx <= to && idx != 0; idx++ {
		var log raft.Log
		if err := store.GetLog(idx, &log); err != nil {
			fmt.Printf("%d: %v\n", idx, err)
			continue
		}
		fmt.Printf("%d: term=%d type=%s %s\n", log.Index, log.Term, logTypeName(log.Type), describePayload(log))
	}

	printStableKey(store, "CurrentTerm")
	printStableKey(store, "LastVoteCand")
	printStableKey(store, "LastVoteTerm")
}

func logTypeName(t raft.LogType) string {
	switch t {
	case raft.LogCommand:
		return "command"
	case raft.LogNoop:
		return "noop"
	case raft.LogConfiguration:
		return "configuration"
	case raft.LogBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

func describePayload(log raft.Log) string {
	switch log.Type {
	case raft.LogCommand:
		argv, err := cmdcodec.Decode(log.Data)
		if err != nil {
			return fmt.Sprintf("<undecodable: %v>", err)
		}
		parts := make([]string, len(argv))
		for i, a := range argv {
			parts[i] = string(a)
		}
		return fmt.Sprint(parts)
	case raft.LogConfiguration:
		cfg := raft.DecodeConfiguration(log.Data)
		return fmt.Sprintf("%+v", cfg.Servers)
	default:
		return fmt.Sprintf("%d bytes", len(log.Data))
	}
}

func printStableKey(store *raftlog.Store, key string) {
	if v, err := store.GetUint64([]byte(key)); err == nil {
		fmt.Printf("%s: %d\n", key, v)
		return
	}
	if raw, err := store.Get([]byte(key)); err == nil {
		fmt.Printf("%s: %q\n", key, raw)
		return
	}
	fmt.Printf("%s: <unset>\n", key)
}
