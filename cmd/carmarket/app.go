package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"celo-carmarket/internal/balance"
	"celo-carmarket/internal/chain"
	"celo-carmarket/internal/config"
	"celo-carmarket/internal/contract"
	"celo-carmarket/internal/listing"
	"celo-carmarket/internal/orchestrator"
	"celo-carmarket/internal/session"
	"celo-carmarket/internal/storage"
	chstore "celo-carmarket/internal/storage/clickhouse"
	"celo-carmarket/internal/storage/memory"
	pgstore "celo-carmarket/internal/storage/postgres"
)

// app wires config, transport, wallet, stores and the orchestrator for one command.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	rpc     *chain.HTTPClient
	orch    *orchestrator.Orchestrator
	journal storage.JournalStore

	closers []func()
}

// loadConfig reads .env, the config file and flag overrides, then validates.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagRPCEndpoint != "" {
		cfg.Chain.RPCEndpoint = flagRPCEndpoint
	}
	if flagWSEndpoint != "" {
		cfg.Chain.WSEndpoint = flagWSEndpoint
	}
	if flagPostgresDSN != "" {
		cfg.Storage.PostgresDSN = flagPostgresDSN
	}
	if flagClickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = flagClickhouseDSN
	}
	if flagUseMemory {
		cfg.Storage.UseMemory = true
	}
	if flagVerbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp builds the full stack. The caller must defer a.Close().
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: log.New(os.Stderr, "[carmarket] ", log.LstdFlags|log.Lshortfile),
	}

	a.rpc = chain.NewHTTPClient(cfg.Chain.RPCEndpoint, chain.WithTimeout(cfg.Gateway.CallTimeout))

	var heads chain.HeadSubscriber
	if cfg.Chain.WSEndpoint != "" {
		ws, err := chain.NewWSClient(ctx, cfg.Chain.WSEndpoint, nil, a.logger)
		if err != nil {
			// Confirmation depth falls back to polling
			a.logger.Printf("websocket unavailable, polling block height: %v", err)
		} else {
			heads = ws
			a.closers = append(a.closers, func() { ws.Close() })
		}
	}

	provider, err := a.provider()
	if err != nil {
		a.Close()
		return nil, err
	}

	journal, snapshots, err := a.stores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.journal = journal

	policy, _ := cfg.Policy()
	gwOpts := contract.Options{
		Marketplace:    cfg.Marketplace(),
		Token:          cfg.Token(),
		Policy:         policy,
		CallTimeout:    cfg.Gateway.CallTimeout,
		ConfirmTimeout: cfg.Gateway.ConfirmTimeout,
		PollInterval:   cfg.Gateway.PollInterval,
		Heads:          heads,
		Logger:         a.logger,
		Verbose:        cfg.Verbose,
	}

	a.orch = orchestrator.New(orchestrator.Options{
		Session: session.New(provider, a.logger),
		Gateways: func(sess *session.Session) orchestrator.Gateway {
			return contract.New(a.rpc, sess.Handle, gwOpts)
		},
		Listings:         listing.NewCache(cfg.Listings.Concurrency, listing.WithMaxListings(cfg.Listings.MaxListings)),
		Balance:          balance.NewTracker(cfg.Contracts.Decimals),
		Journal:          journal,
		Snapshots:        snapshots,
		Decimals:         cfg.Contracts.Decimals,
		ForbidOwnerVotes: cfg.Listings.ForbidOwnerVotes,
		Logger:           a.logger,
		Verbose:          cfg.Verbose,
	})

	return a, nil
}

// provider picks a local key when one is configured, node accounts otherwise.
func (a *app) provider() (session.Provider, error) {
	w := a.cfg.Wallet

	switch {
	case w.PrivateKey != "":
		p := session.NewKeyProvider(a.rpc)
		p.HexKey = w.PrivateKey
		return p, nil

	case w.Keystore != "":
		data, err := os.ReadFile(w.Keystore)
		if err != nil {
			return nil, fmt.Errorf("read keystore: %w", err)
		}
		p := session.NewKeyProvider(a.rpc)
		p.KeystoreJSON = data
		p.Passphrase = func() (string, error) {
			if w.KeystorePassword != "" {
				return w.KeystorePassword, nil
			}
			return promptPassphrase()
		}
		return p, nil

	default:
		p := session.NewNodeProvider(a.rpc)
		if w.Account != "" {
			p.Account = common.HexToAddress(w.Account)
		}
		return p, nil
	}
}

// stores opens the journal and snapshot stores. Each falls back to memory without a DSN.
func (a *app) stores(ctx context.Context) (storage.JournalStore, storage.SnapshotStore, error) {
	s := a.cfg.Storage

	var journal storage.JournalStore = memory.NewJournalStore()
	var snapshots storage.SnapshotStore = memory.NewSnapshotStore()
	if s.UseMemory {
		return journal, snapshots, nil
	}

	if s.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		journal = pgstore.NewJournalStore(pool)
	}

	if s.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, s.ClickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { conn.Close() })
		snapshots = chstore.NewSnapshotStore(conn)
	}

	return journal, snapshots, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// connect runs the connect sequence and reports the resulting state.
func (a *app) connect(ctx context.Context) error {
	if err := a.orch.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func promptPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("keystore passphrase required: set CARMARKET_KEYSTORE_PASSWORD")
	}
	fmt.Fprint(os.Stderr, "Keystore passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(pass), "\r\n"), nil
}
