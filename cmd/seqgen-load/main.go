// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is a small load generator for the sequence API.
//
// It fires -n requests at /next from -c concurrent workers, then checks that
// the returned blocks are pairwise disjoint and, with -check_coverage, that
// together they tile one contiguous range. It prints a one-line summary
// with duration and approximate throughput and exits non-zero on overlap.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type block struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
}

func main() {
	var (
		base      = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host")
		name      = flag.String("name", "load", "Sequence name")
		kind      = flag.String("kind", "table", "Sequence kind: table|sequence")
		grouping  = flag.String("grouping", "", "Counter table for table-kind sequences")
		increment = flag.Int64("increment", 50, "Block size per request")
		initial   = flag.Int64("initial", 1, "Initial value for a new counter")
		N         = flag.Int("n", 5000, "Total requests to send")
		conc      = flag.Int("c", 8, "Number of concurrent workers")
		coverage  = flag.Bool("check_coverage", false, "Require the blocks to form one contiguous range (fresh counters only)")
		timeout   = flag.Duration("timeout", 60*time.Second, "Overall timeout for the run")
		maxIdle   = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	q := url.Values{
		"name":      {*name},
		"kind":      {*kind},
		"increment": {strconv.FormatInt(*increment, 10)},
		"initial":   {strconv.FormatInt(*initial, 10)},
	}
	if *grouping != "" {
		q.Set("grouping", *grouping)
	}
	target := strings.TrimRight(*base, "/") + "/next?" + q.Encode()

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdle,
		IdleConnTimeout:     30 * time.Second,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		blocks = make([]block, 0, *N)
		failed int64
		wg     sync.WaitGroup
	)
	worker := func(count int) {
		defer wg.Done()
		for i := 0; i < count; i++ {
			b, err := fetch(ctx, client, target)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				if ctx.Err() != nil {
					return
				}
				continue
			}
			mu.Lock()
			blocks = append(blocks, b)
			mu.Unlock()
		}
	}

	start := time.Now()
	per := *N / *conc
	rem := *N - per**conc
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go worker(count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	fmt.Printf("LoadGen: N=%d c=%d go=%d ok=%d failed=%d Duration=%s Throughput=%.0f req/s\n",
		*N, *conc, runtime.GOMAXPROCS(0), len(blocks), failed, elapsed.Truncate(time.Millisecond), float64(len(blocks))/elapsed.Seconds())

	if err := verify(blocks, *coverage); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("blocks are disjoint")
}

func fetch(ctx context.Context, client *http.Client, target string) (block, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return block{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return block{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return block{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var b block
	err = json.NewDecoder(resp.Body).Decode(&b)
	return b, err
}

// verify reports the first overlap between blocks, and any hole when
// contiguous is set.
func verify(blocks []block, contiguous bool) error {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Lower < blocks[j].Lower })
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if cur.Lower < prev.Upper {
			return fmt.Errorf("blocks [%d,%d) and [%d,%d) overlap", prev.Lower, prev.Upper, cur.Lower, cur.Upper)
		}
		if contiguous && cur.Lower != prev.Upper {
			return fmt.Errorf("hole between %d and %d", prev.Upper, cur.Lower)
		}
	}
	return nil
}
