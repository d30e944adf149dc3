package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"report-broker/broker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var envFile string
	var modelsPath string
	var debug bool
	var once bool
	flag.StringVar(&envFile, "env-file", "", "Optional .env file. Production sets variables directly.")
	flag.StringVar(&modelsPath, "models", "", "Printer models YAML file (serial prefix -> model family).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs (overrides DEBUG).")
	flag.BoolVar(&once, "once", false, "Run one directory sweep and one mailbox cycle, then exit.")
	flag.Parse()

	cfg, err := broker.LoadConfig(envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if debug {
		cfg.Debug = true
	}

	models, err := broker.LoadPrinterModels(modelsPath)
	if err != nil {
		log.Fatalf("load printer models: %v", err)
	}

	db, err := broker.OpenDB(cfg.DSN())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	ledger, err := broker.OpenLedger(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	engine := broker.NewEngine(broker.NewGateway(db), ledger, models, cfg.Debug)
	watcher := broker.NewWatcher(cfg.WatchDir, engine, cfg.Debug)

	var poller *broker.MailboxPoller
	if cfg.MailboxEnabled() {
		mb := broker.NewPOPMailbox(cfg.MailServer, cfg.MailPort, cfg.MailUsername, cfg.MailPassword)
		poller = broker.NewMailboxPoller(mb, engine, ledger, models, cfg)
	} else {
		log.Printf("MAIL_SERVER not set, mailbox channel disabled")
	}

	// Pick up files dropped while the daemon was down.
	if err := watcher.Sweep(); err != nil {
		log.Printf("startup sweep: %v", err)
	}

	if once {
		if poller != nil {
			if err := poller.Cycle(); err != nil {
				log.Fatalf("mailbox cycle: %v", err)
			}
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The two channels are isolated failure domains: each runs in its own
	// goroutine and a failure in one never stops the other.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("watcher stopped: %v", err)
		}
	}()
	if poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("mailbox poller stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	stop()
	wg.Wait()
}
