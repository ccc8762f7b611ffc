// Command vanbusd runs a VAN comfort-bus receiver (and, with -tx-offset
// set, a transceiver) against a real GPIO chip on Linux, or against an
// in-process simulated bus for trying the core out without hardware.
// It prints each decoded packet to stdout and dumps running counters
// on SIGINT/SIGTERM before exiting.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/vanbus-go/vanbus/van"
)

func main() {
	var (
		configFile  = pflag.StringP("config-file", "c", "", "YAML config file (see van.Config). Flags below override its fields.")
		chip        = pflag.String("chip", "gpiochip0", "GPIO chip device name. Ignored with -simulate.")
		rxOffset    = pflag.Int("rx-offset", 17, "GPIO line offset for VAN RX. Ignored with -simulate.")
		txOffset    = pflag.Int("tx-offset", -1, "GPIO line offset for VAN TX. Negative disables transmit.")
		simulate    = pflag.Bool("simulate", false, "Run against an in-process simulated bus instead of real GPIO.")
		clockHz     = pflag.Uint64("clock-hz", 1_000_000_000, "Platform reference clock rate in Hz used to derive CYCLES_PER_BIT.")
		queueCap    = pflag.Uint32("queue-capacity", van.DefaultQueueCapacity, "Packet queue capacity.")
		isrDebug    = pflag.Bool("isr-debug", false, "Capture per-edge timing traces on every packet.")
		tolerance   = pflag.Float64("edge-tolerance", van.DefaultEdgeToleranceFraction, "Edge classification acceptance window, as a fraction of one bit-time.")
		metricsAddr = pflag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9464).")
		logLevel    = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
		help        = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vanbusd - VAN comfort-bus receiver/transmitter daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: vanbusd [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg := van.DefaultConfig()
	if *configFile != "" {
		loaded, err := van.LoadConfigFile(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if pflag.CommandLine.Changed("clock-hz") || cfg.ClockHz == 0 {
		cfg.ClockHz = *clockHz
	}
	if pflag.CommandLine.Changed("queue-capacity") {
		cfg.QueueCapacity = *queueCap
	}
	if pflag.CommandLine.Changed("isr-debug") {
		cfg.EnableISRDebug = *isrDebug
	}
	if pflag.CommandLine.Changed("edge-tolerance") {
		cfg.EdgeToleranceFraction = *tolerance
	}

	logger := van.NewLogger(os.Stderr, parseLevel(*logLevel))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		edges  van.EdgeSource
		sensor van.LineSensor
		driver van.LineDriver
	)

	if *simulate {
		bus := van.NewSimulatedBus()
		line := bus.Join()
		edges, sensor = line, line
		if *txOffset >= 0 {
			driver = line
		}
		logger.Info("using simulated bus", "clock_hz", cfg.ClockHz)
	} else {
		rx := van.NewRXLine(*chip, *rxOffset)
		edges, sensor = rx, rx
		if *txOffset >= 0 {
			tx, err := van.NewTXLine(*chip, *txOffset)
			if err != nil {
				logger.Error("opening TX line", "err", err)
				os.Exit(1)
			}
			driver = tx
		}
		logger.Info("using GPIO chip", "chip", *chip, "rx_offset", *rxOffset, "tx_offset", *txOffset)
	}

	receiver, err := van.NewReceiver(cfg, edges, sensor, logger)
	if err != nil {
		logger.Error("setting up receiver", "err", err)
		os.Exit(1)
	}
	if err := receiver.Start(ctx); err != nil {
		logger.Error("starting receiver", "err", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(receiver.Collector("vanbus"))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	if driver != nil {
		tx, err := van.NewTransceiverTransmitter(receiver, driver)
		if err != nil {
			logger.Error("setting up transmitter", "err", err)
		} else {
			go readSendCommands(ctx, tx, logger)
		}
	}

	go dumpStatsPeriodically(ctx, receiver, logger)

	var pkt van.Packet
	for {
		select {
		case <-ctx.Done():
			_ = receiver.Stop()
			_ = receiver.DumpStats(os.Stdout)
			return
		default:
		}
		consumed, overrun := receiver.Receive(&pkt)
		if !consumed {
			time.Sleep(time.Millisecond)
			continue
		}
		if overrun {
			logger.Warn("queue overrun before this packet")
		}
		fmt.Printf("seq=%d iden=%03x com=%s len=%d crc_ok=%t ack=%s status=%s data=% x\n",
			pkt.SeqNo, pkt.Iden, pkt.ComFlags, pkt.DataLen, pkt.CRCOk, pkt.AckState, pkt.Status, pkt.DataBytes())
	}
}

func dumpStatsPeriodically(ctx context.Context, r *van.Receiver, logger *charmlog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Stats()
			logger.Info("stats", "frames", s.Frames, "crc_errors", s.CRCErrors, "repaired", s.Repaired,
				"overruns", s.Overruns, "dropped", s.Dropped, "arbitration_lost", s.ArbitrationLosts, "send_failures", s.SendFailures)
		}
	}
}

// readSendCommands lets an operator drive sync_send_packet from stdin
// for bench testing: one frame per line, "<iden-hex> <com-hex>
// <data-hex>", e.g. "8a4 8 0f0700000060".
func readSendCommands(ctx context.Context, tx *van.Transmitter, logger *charmlog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			logger.Warn("send: expected '<iden-hex> <com-hex> <data-hex>'")
			continue
		}
		iden, err := strconv.ParseUint(fields[0], 16, 12)
		if err != nil {
			logger.Warn("send: bad iden", "err", err)
			continue
		}
		com, err := strconv.ParseUint(fields[1], 16, 4)
		if err != nil {
			logger.Warn("send: bad com", "err", err)
			continue
		}
		data, err := hex.DecodeString(fields[2])
		if err != nil {
			logger.Warn("send: bad data", "err", err)
			continue
		}
		ack, err := tx.SyncSendPacket(ctx, uint16(iden), van.ComFlags(com), data)
		if err != nil {
			logger.Error("send failed", "iden", fields[0], "err", err)
			continue
		}
		logger.Info("sent", "iden", fields[0], "ack", ack)
	}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
