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

// Command flyraft-discover finds candidate cluster members on the local
// network via mDNS, probes each one's client port concurrently, and
// prints the ones that answer. It is a join-time convenience: a node
// joining a cluster that has no fixed seed list can run this first to
// find a --join target instead of hand-entering an address.
package main

import (
	"context"
	"flag"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"flyraft/pkg/cli"
)

// serviceName is the mDNS service this tool queries for, a bespoke
// name rather than a pre-assigned _service._tcp one. No component in
// this repository registers it; members are found only where something
// else on the network advertises them under this name.
const serviceName = "_flyraft._tcp"

func main() {
	domain := flag.String("domain", "local.", "mDNS search domain")
	timeout := flag.Duration("timeout", 2*time.Second, "discovery window")
	probeTimeout := flag.Duration("probe-timeout", time.Second, "per-candidate dial timeout")
	flag.Parse()

	if _, ok := dns.IsDomainName(*domain); !ok {
		cli.PrintError("%q is not a valid DNS domain", *domain)
		return
	}

	entries := make(chan *mdns.ServiceEntry, 32)
	var found []*mdns.ServiceEntry
	done := make(chan struct{})
	go func() {
		for e := range entries {
			found = append(found, e)
		}
		close(done)
	}()

	params := mdns.DefaultParams(serviceName)
	params.Domain = *domain
	params.Timeout = *timeout
	params.Entries = entries
	params.DisableIPv6 = true

	if err := mdns.Query(params); err != nil {
		cli.PrintError("mdns query failed: %v", err)
		return
	}
	close(entries)
	<-done

	if len(found) == 0 {
		cli.PrintWarning("no flyraft nodes found advertising %s on %s", serviceName, *domain)
		return
	}

	cli.PrintInfo("found %d candidate(s), probing client ports", len(found))

	type result struct {
		addr  string
		alive bool
	}
	results := make([]result, len(found))

	g, ctx := errgroup.WithContext(context.Background())
	for i, entry := range found {
		i, entry := i, entry
		g.Go(func() error {
			addr := net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))
			results[i] = result{addr: addr, alive: probe(ctx, addr, *probeTimeout)}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.alive {
			cli.PrintSuccess("%s is reachable", r.addr)
		} else {
			cli.PrintWarning("%s did not respond", r.addr)
		}
	}
}

// probe dials addr's client port to confirm something is actually
// listening; mDNS answers can outlive the process that advertised them.
func probe(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

