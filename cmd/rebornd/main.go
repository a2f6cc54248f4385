// Command rebornd is the cross-chain NFT bridge relayer daemon: it wires
// every component built in internal/ into one process, starts the event
// pollers and background maintainers, serves the HTTP API, and shuts
// everything down cleanly on signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/rebornbridge/relayer/internal/api"
	"github.com/rebornbridge/relayer/internal/attestation"
	"github.com/rebornbridge/relayer/internal/blobstore"
	"github.com/rebornbridge/relayer/internal/bytesutil"
	"github.com/rebornbridge/relayer/internal/chainio"
	"github.com/rebornbridge/relayer/internal/chains"
	"github.com/rebornbridge/relayer/internal/config"
	"github.com/rebornbridge/relayer/internal/depositverifier"
	"github.com/rebornbridge/relayer/internal/eventpoller"
	"github.com/rebornbridge/relayer/internal/metadata"
	"github.com/rebornbridge/relayer/internal/metrics"
	"github.com/rebornbridge/relayer/internal/mint"
	"github.com/rebornbridge/relayer/internal/mintclient"
	"github.com/rebornbridge/relayer/internal/mpcclient"
	"github.com/rebornbridge/relayer/internal/presignpool"
	"github.com/rebornbridge/relayer/internal/retry"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sequencer"
	"github.com/rebornbridge/relayer/internal/sessionfsm"
	"github.com/rebornbridge/relayer/internal/signing"
	"github.com/rebornbridge/relayer/internal/store"
	"github.com/rebornbridge/relayer/internal/treasury"
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "Path to an optional TOML config file overlaying environment variables",
}

func main() {
	app := &cli.App{
		Name:  "rebornd",
		Usage: "cross-chain NFT bridge relayer",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			return run(c.String(configFlag.Name))
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFilePath string) error {
	cfg, err := config.Load(configFilePath)
	if err != nil {
		return fmt.Errorf("rebornd: %w", err)
	}
	if err := rlog.Init(rlog.Config{Level: cfg.LogLevel}); err != nil {
		return fmt.Errorf("rebornd: %w", err)
	}
	logger := rlog.New("rebornd")

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("rebornd: opening store: %w", err)
	}
	defer st.Close()

	coordClient := chainio.NewHTTPClient(cfg.CoordinationRPCURL, cfg.CoordinationPackageID, nil)
	targetProgramID, err := bytesutil.ToBytes(cfg.TargetProgramID)
	if err != nil {
		return fmt.Errorf("rebornd: decoding target program id: %w", err)
	}
	mintClient := mintclient.NewHTTPClient(cfg.TargetRPCURL, nil)
	mpcClient := mpcclient.NewHTTPClient(cfg.MPCBaseURL, cfg.MPCNetwork, 8, nil)

	keyMaterial, err := signing.LoadKeyMaterial(cfg.SignerKeyFile, cfg.EncryptionSeedHex)
	if err != nil {
		return fmt.Errorf("rebornd: loading signer key material: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	seq := sequencer.New(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq.Run(ctx)
	}()

	treas := treasuryOrNil(coordClient, seq, cfg)
	pool := presignpool.New(st, seq, coordClient, mpcClient, treas, cfg.PresignLeaseTTL)

	verifiers, err := buildVerifierRegistry(cfg)
	if err != nil {
		return fmt.Errorf("rebornd: building deposit verifier registry: %w", err)
	}

	var uploader blobstore.Uploader
	if cfg.ContentStorageBaseURL != "" && cfg.ContentStorageSecret != "" {
		uploader = blobstore.NewHTTPUploader(cfg.ContentStorageBaseURL, cfg.ContentStorageSecret, cfg.ContentStorageNetwork)
	}
	pipeline, err := metadata.New(uploader, 256)
	if err != nil {
		return fmt.Errorf("rebornd: building metadata pipeline: %w", err)
	}

	fsm := sessionfsm.New(st, coordClient, seq, mintClient, verifiers, pipeline, cfg.FeePaymentAddress, cfg.FeeAmountBaseUnits)

	orchestrator := signing.New(pool, mpcClient, seq, coordClient, treas, keyMaterial)
	mintSubmitter := mint.New(mintClient, st, targetProgramID, retry.Policy{MaxRetries: cfg.MintMaxRetries, BaseDelay: cfg.MintBaseDelay})

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	signPendingPoller := eventpoller.New("SignPending", "SignPending", coordClient, st, orchestrator)
	sealSignedPoller := eventpoller.New("SealSigned", "SealSigned", coordClient, st, mintSubmitter)
	runPoller(ctx, &wg, signPendingPoller, pollInterval)
	runPoller(ctx, &wg, sealSignedPoller, pollInterval)

	if treas != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			treas.RunMaintainer(ctx, pollInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.RunReclaimLoop(ctx, pollInterval, cfg.PresignLeaseTTL)
	}()

	if cfg.EnableAttestationIngester {
		ingester := attestation.New(cfg.IndexerBaseURL, cfg.Emitters, st, seq, coordClient, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ingester.Run(ctx, cfg.IndexerPollInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		expireStaleSessionsLoop(ctx, st, logger)
	}()

	apiServer := api.New(fsm, st, treas, pool, nil)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: mux,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rebornd: http server stopped unexpectedly", "err", err)
		}
	}()
	logger.Info("rebornd: listening", "port", cfg.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("rebornd: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("rebornd: http server shutdown", "err", err)
	}

	cancel()
	wg.Wait()
	return nil
}

// runPoller launches one event poller's Run loop under wg, so the root
// context cancellation on shutdown stops it the same way it stops the
// sequencer and the treasury maintainer.
func runPoller(ctx context.Context, wg *sync.WaitGroup, p *eventpoller.Poller, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx, interval)
	}()
}

// expireStaleSessionsLoop periodically sweeps sessions stuck in a
// non-terminal status past a generous timeout, the cleanup half of
// session lifecycle that has no event to trigger it.
func expireStaleSessionsLoop(ctx context.Context, st *store.Store, logger log.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.ExpireStaleSessions(30*time.Minute, "session timed out")
			if err != nil {
				logger.Error("rebornd: expiring stale sessions", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("rebornd: expired stale sessions", "count", n)
			}
		}
	}
}

// treasuryOrNil builds a Treasury unless both thresholds are zero, which
// is this daemon's "treasury disabled" signal.
func treasuryOrNil(client chainio.Client, seq *sequencer.Sequencer, cfg config.Config) *treasury.Treasury {
	if cfg.MinFeeBalance == 0 && cfg.MinGasBalance == 0 {
		return nil
	}
	return treasury.New(client, seq, cfg.MinFeeBalance, cfg.MinGasBalance)
}

// buildVerifierRegistry registers one DepositVerifier per chain family
// that has at least one source-chain RPC URL configured, using one of
// that family's configured URLs as its endpoint (every EVM-family chain
// shares one verifier). The URLs come from a map, so which tag's URL is
// used when a family has several is not defined.
func buildVerifierRegistry(cfg config.Config) (*depositverifier.Registry, error) {
	registry := depositverifier.NewRegistry()

	byFamily := map[chains.Family]string{}
	for tagStr, url := range cfg.SourceChainRPCURLs {
		info, ok := chains.Lookup(chains.Tag(tagStr))
		if !ok {
			continue
		}
		if _, exists := byFamily[info.Family]; !exists {
			byFamily[info.Family] = url
		}
	}

	if url, ok := byFamily[chains.FamilyEVM]; ok {
		v, err := depositverifier.NewEVMVerifier(url)
		if err != nil {
			return nil, fmt.Errorf("building EVM verifier: %w", err)
		}
		registry.Register(chains.FamilyEVM, v)
	}
	if url, ok := byFamily[chains.FamilySui]; ok {
		registry.Register(chains.FamilySui, depositverifier.NewSuiVerifier(url))
	}
	if url, ok := byFamily[chains.FamilyAptos]; ok {
		registry.Register(chains.FamilyAptos, depositverifier.NewAptosVerifier(url))
	}
	if url, ok := byFamily[chains.FamilyNear]; ok {
		registry.Register(chains.FamilyNear, depositverifier.NewNearVerifier(url))
	}
	return registry, nil
}
