// The sync CLI runs one sync for a single account and prints the change
// summary. Useful for debugging a feed without the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/analytics"
	"github.com/dvloznov/finance-sync/internal/categorizer"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/notify"
	"github.com/dvloznov/finance-sync/internal/provider/sandbox"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/store"
	"github.com/dvloznov/finance-sync/internal/store/sqlite"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

func main() {
	accountFlag := flag.String("account", "", "account id to sync (required unless -link)")
	linkFlag := flag.Bool("link", false, "link a new sandbox account instead of syncing")
	credentialFlag := flag.String("credential", "sandbox-credential", "provider credential used with -link")
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	client := sandbox.New()

	if *linkFlag {
		if err := linkAccount(ctx, db, client, *credentialFlag); err != nil {
			log.Fatal().Err(err).Msg("Failed to link account")
		}
		return
	}

	if *accountFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		log.Fatal().Err(err).Str("account", *accountFlag).Msg("Invalid account id")
	}

	// The CLI runs rule-only classification by default; embeddings need a
	// configured Gemini key and are usually left to the daemon.
	var embedder categorizer.Embedder
	if cfg.Embedding.Provider == "gemini" && os.Getenv("GEMINI_API_KEY") != "" {
		if embedder, err = categorizer.NewGeminiEmbedder(ctx, cfg.Embedding.Model); err != nil {
			log.Fatal().Err(err).Msg("Failed to create embedder")
		}
	}
	cat := categorizer.New(ctx, categorizer.DefaultModel(), embedder)

	engine := reconcile.NewEngine(db, cat)
	coordinator := syncer.NewCoordinator(db, client, engine, notify.LogNotifier{}, notify.NopRecalculator{}, analytics.NopSink{}, syncer.Config{
		LookbackDays:     cfg.Sync.LookbackDays,
		FailureThreshold: cfg.Sync.FailureThreshold,
	})

	summary, err := coordinator.SyncAccount(ctx, accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("synced account %s: %d added, %d modified, %d removed, %d skipped\n",
		accountID, summary.Added, summary.Modified, summary.Removed, summary.Skipped)
}

// linkAccount registers the sandbox accounts reachable with credential.
func linkAccount(ctx context.Context, db store.Store, client *sandbox.Client, credential string) error {
	remotes, err := client.ListAccounts(ctx, credential)
	if err != nil {
		return fmt.Errorf("listing provider accounts: %w", err)
	}

	for _, remote := range remotes {
		account := &domain.Account{
			UserID:             uuid.New(),
			ProviderCredential: credential,
			ProviderAccountID:  remote.ProviderAccountID,
			Name:               remote.Name,
			Institution:        remote.Institution,
			CurrencyCode:       remote.CurrencyCode,
			SyncStatus:         domain.SyncStatusPending,
			Active:             true,
		}
		if err := db.Accounts().CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		fmt.Printf("linked account %s (%s)\n", account.ID, remote.Name)
	}
	return nil
}
