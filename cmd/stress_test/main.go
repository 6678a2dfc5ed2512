// Command stress_test submits a burst of orders over gRPC, replays every
// settlement notification several times and checks that each order was
// charged and recorded exactly once.
//
//	go run ./cmd/stress_test -n 200 -dup 5 -gateway-delay 50ms
//
// Store and feed settings are read the same way as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	ordersv1 "github.com/yassinshaher1/CCB/api/orders/v1"
	"github.com/yassinshaher1/CCB/internal/app"
	"github.com/yassinshaher1/CCB/internal/config"
	"github.com/yassinshaher1/CCB/internal/core/domain"
)

func main() {
	var (
		totalRequests int
		duplicates    int
		deadline      time.Duration
	)
	fs := flag.NewFlagSet("stress_test", flag.ExitOnError)
	fs.IntVar(&totalRequests, "n", 200, "orders to submit")
	fs.IntVar(&duplicates, "dup", 5, "extra settlement notifications per order")
	fs.DurationVar(&deadline, "deadline", 2*time.Minute, "time allowed for every order to settle")

	cfg, err := config.Load(fs, os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	a, err := app.New(ctx, cfg, cfg.NewLogger())
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()

	// Serve gRPC in-process
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	a.GRPCHandler().Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		log.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	client := ordersv1.NewOrderServiceClient(conn)

	settleCtx, stopSettlement := context.WithCancel(ctx)
	settled := make(chan error, 1)
	go func() { settled <- a.RunSettlement(settleCtx) }()

	// Spawn concurrent submissions
	var (
		failCount atomic.Int32
		mu        sync.Mutex
		ids       []string
		wg        sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			resp, err := client.SubmitOrder(ctx, &ordersv1.SubmitOrderRequest{
				UserId:     fmt.Sprintf("user-%d", userID),
				TotalPrice: float64(userID%50) + 9.99,
			})
			if err != nil {
				failCount.Add(1)
				return
			}
			mu.Lock()
			ids = append(ids, resp.GetOrderId())
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	submitted := time.Since(start)

	// Replay notifications for every order
	var g errgroup.Group
	g.SetLimit(32)
	for _, id := range ids {
		g.Go(func() error {
			o, err := a.Orders.Get(ctx, id)
			if err != nil {
				return err
			}
			for i := 0; i < duplicates; i++ {
				a.Listener.Dispatch(ctx, o)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("failed to replay notifications: %v", err)
	}

	// Wait for every order to reach a final status
	pending := len(ids)
	for pending > 0 && ctx.Err() == nil {
		time.Sleep(100 * time.Millisecond)
		pending = 0
		for _, id := range ids {
			o, err := a.Orders.Get(ctx, id)
			if err != nil || !o.Status.Terminal() {
				pending++
			}
		}
	}
	elapsed := time.Since(start)

	stopSettlement()
	<-settled

	// Verify exactly one payment per settled order
	var paid, failed, badPayments int
	for _, id := range ids {
		o, err := a.Orders.Get(context.Background(), id)
		if err != nil {
			badPayments++
			continue
		}
		payments, err := a.Payments.ListPaymentsByOrder(context.Background(), id)
		if err != nil {
			badPayments++
			continue
		}
		switch o.Status {
		case domain.OrderStatusPaid:
			paid++
			if len(payments) != 1 || payments[0].ID != o.PaymentID {
				badPayments++
			}
		case domain.OrderStatusFailed:
			failed++
			if len(payments) != 0 {
				badPayments++
			}
		}
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Submit Failures:  %d\n", failCount.Load())
	fmt.Printf("Notifications:    %d per order\n", duplicates+1)
	fmt.Printf("Paid:             %d\n", paid)
	fmt.Printf("Failed:           %d\n", failed)
	fmt.Printf("Still Pending:    %d\n", pending)
	fmt.Printf("Gateway Calls:    %d\n", a.Gateway.Calls())
	fmt.Printf("Submit Duration:  %v\n", submitted)
	fmt.Printf("Total Duration:   %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if pending == 0 && failCount.Load() == 0 {
		fmt.Printf("PASS: all %d orders settled\n", len(ids))
	} else {
		fmt.Printf("FAIL: %d submit failures, %d orders still pending\n", failCount.Load(), pending)
		ok = false
	}
	if badPayments == 0 {
		fmt.Println("PASS: exactly one payment per paid order")
	} else {
		fmt.Printf("FAIL: %d orders with a wrong payment count\n", badPayments)
		ok = false
	}
	if a.Gateway.Calls() == int64(len(ids)) {
		fmt.Println("PASS: one gateway charge per order")
	} else {
		fmt.Printf("FAIL: expected %d gateway charges, got %d\n", len(ids), a.Gateway.Calls())
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
}
