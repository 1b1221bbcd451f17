/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// netframe-bench dials a netframe server with a handful of concurrent
// clients and reports round-trip latency for a fixed-size echo request.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/client"
)

const echoCommand = 1

func main() {
	addr := flag.String("addr", "127.0.0.1:9990", "server TCP address")
	clientsN := flag.Int("clients", 4, "number of concurrent clients")
	requests := flag.Int("requests", 100, "requests per client")
	payloadSize := flag.Int("payload-size", 256, "request payload size, in bytes")
	flag.Parse()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var totalOK, totalErr int
	var totalLatency time.Duration

	for i := 0; i < *clientsN; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ctx := context.Background()
			cl, err := client.Connect(ctx, client.Config{Addr: *addr, Logger: logrus.StandardLogger()})
			if err != nil {
				logrus.WithError(err).WithField("worker", worker).Error("netframe-bench: connect failed")
				mu.Lock()
				totalErr += *requests
				mu.Unlock()
				return
			}
			defer cl.Disconnect()

			payload := make([]byte, *payloadSize)
			for r := 0; r < *requests; r++ {
				start := time.Now()
				resp, err := cl.SendRequest(ctx, echoCommand, payload, 10*time.Second)
				elapsed := time.Since(start)
				mu.Lock()
				if err != nil {
					totalErr++
				} else {
					totalOK++
					totalLatency += elapsed
				}
				mu.Unlock()
				if err == nil {
					cl.ReleasePayload(resp)
				}
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("ok=%d err=%d", totalOK, totalErr)
	if totalOK > 0 {
		fmt.Printf(" avg_latency=%s", totalLatency/time.Duration(totalOK))
	}
	fmt.Println()
}
