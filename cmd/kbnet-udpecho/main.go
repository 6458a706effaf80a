package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brennanlowe/kbnet"
	"github.com/brennanlowe/kbnet/internal/logging"
	"github.com/brennanlowe/kbnet/internal/sock"
	"github.com/brennanlowe/kbnet/netdev"
)

func main() {
	var (
		port     = flag.Int("port", 9000, "UDP port the echo server binds")
		verbose  = flag.Bool("v", false, "Verbose output")
		pingOnce = flag.Bool("ping", true, "Send one demo datagram through a loopback client socket after startup")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	dev, err := kbnet.OpenDevice(kbnet.DefaultDeviceParams(0))
	if err != nil {
		log.Fatalf("open device: %v", err)
	}

	router := netdev.NewSingleDeviceRouter(dev)
	metrics := kbnet.NewMetrics()
	observer := kbnet.NewMetricsObserver(metrics)

	stack, err := kbnet.NewStack(kbnet.Config{
		Router:   router,
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("new stack: %v", err)
	}
	defer stack.Stop()

	localIP := net.ParseIP("10.0.0.1")
	localMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	if err := stack.RegisterDevice(dev, kbnet.SrcAddr{MAC: localMAC, IP: localIP}); err != nil {
		log.Fatalf("register device: %v", err)
	}

	server, err := stack.Bind(sock.Addr{IP: localIP, Port: uint16(*port)})
	if err != nil {
		log.Fatalf("bind: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	go serveEcho(ctx, server, logger)

	if *pingOnce {
		go demoClient(ctx, stack, localIP, uint16(*port), logger)
	}

	<-ctx.Done()
	snap := metrics.Snapshot()
	fmt.Printf("rx_ops=%d tx_ops=%d drops=%d\n", snap.RxOps, snap.TxOps, snap.Drops)
}

// serveEcho reads datagrams off server and sends each payload back to
// its sender until ctx is cancelled.
func serveEcho(ctx context.Context, server *kbnet.UdpSocket, logger *logging.Logger) {
	buf := make([]byte, kbnet.MTU)
	for {
		n, peer, err := server.RecvFrom(ctx, buf)
		if err != nil {
			return
		}
		logger.Info("received datagram", "peer_port", peer.Port, "bytes", n)
		if err := server.SendTo(ctx, peer, buf[:n]); err != nil {
			logger.Warn("echo send failed", "error", err)
		}
	}
}

// demoClient sends one datagram to the echo server and prints the
// reply, exercising the whole Stack without needing external tooling.
func demoClient(ctx context.Context, stack *kbnet.Stack, serverIP net.IP, serverPort uint16, logger *logging.Logger) {
	time.Sleep(50 * time.Millisecond)

	client, err := stack.Bind(sock.Addr{IP: serverIP})
	if err != nil {
		logger.Error("demo client bind failed", "error", err)
		return
	}
	defer client.Close()

	msg := []byte("hello from kbnet-udpecho")
	if err := client.SendTo(ctx, sock.Addr{IP: serverIP, Port: serverPort}, msg); err != nil {
		logger.Error("demo client send failed", "error", err)
		return
	}

	reply := make([]byte, kbnet.MTU)
	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, _, err := client.RecvFrom(recvCtx, reply)
	if err != nil {
		logger.Error("demo client recv failed", "error", err)
		return
	}
	fmt.Printf("echo reply: %q\n", string(reply[:n]))
}
