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

// Command flyraft-cli is an interactive REPL client for a flyraft node's
// client command port: a debugging convenience that forwards whatever
// line is typed verbatim, so it can submit interpreter commands, read
// INFO, and issue CFGCHANGE ADD/REMOVE the same as any other client -
// there is no separate admin protocol to implement here.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"flyraft/pkg/cli"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7000", "node client address")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		cli.PrintError("connecting to %s: %v", *addr, err)
		return
	}
	defer conn.Close()
	cli.PrintSuccess("connected to %s", *addr)

	rl, err := readline.New(fmt.Sprintf("flyraft(%s)> ", *addr))
	if err != nil {
		cli.PrintError("starting readline: %v", err)
		return
	}
	defer rl.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return
		}
		if err != nil {
			cli.PrintError("reading input: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}

		if _, err := fmt.Fprintln(conn, line); err != nil {
			cli.PrintError("sending command: %v", err)
			return
		}
		resp, err := reader.ReadString('\n')
		if err != nil {
			cli.PrintError("reading reply: %v", err)
			return
		}
		resp = strings.TrimRight(resp, "\n")
		switch {
		case strings.HasPrefix(resp, "ERROR"), strings.HasPrefix(resp, "-NOLEADER"):
			cli.PrintError("%s", resp)
		case strings.HasPrefix(resp, "LEADERIS"):
			cli.PrintWarning("%s", resp)
		default:
			fmt.Println(resp)
		}
	}
}
