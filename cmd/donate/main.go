/**
 * @description
 * Donor CLI for crypto donations. It connects the configured wallet, sends the
 * transfer to the campaign treasury, and submits the settlement proof to a running
 * settlement-service.
 *
 * Usage:
 *   go run ./cmd/donate -campaign <id> -asset ETH -amount 0.05 -to <treasury>
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading.
 * - Environment variables: SETTLEMENT_API_URL, DONOR_TOKEN, EVM_RPC_URL, SOLANA_BRIDGE_URL
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/pkg/evmrpc"
	"github.com/rapidfund/settlement-service/pkg/walletbridge"
)

func main() {
	campaign := flag.String("campaign", "", "campaign id")
	symbol := flag.String("asset", "ETH", "asset symbol")
	amount := flag.String("amount", "", "amount in whole units")
	to := flag.String("to", "", "treasury address")
	message := flag.String("message", "", "optional message")
	anonymous := flag.Bool("anonymous", false, "hide the donor on the campaign page")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	_ = godotenv.Load()

	campaignID, err := uuid.Parse(strings.TrimSpace(*campaign))
	if err != nil || *amount == "" || *to == "" {
		fmt.Println("Usage: go run ./cmd/donate -campaign <id> -asset ETH -amount 0.05 -to <treasury>")
		os.Exit(1)
	}

	asset, err := assets.Default().BySymbol(*symbol)
	if err != nil {
		log.Fatalf("Unsupported asset %s: %v", *symbol, err)
	}

	apiURL := os.Getenv("SETTLEMENT_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
		fmt.Println("Using default API URL:", apiURL)
	}

	registry := wallet.NewRegistry()
	if url := os.Getenv("EVM_RPC_URL"); url != "" {
		registry.Register(wallet.NewEVMProvider(evmrpc.NewClient(url)))
	}
	if url := os.Getenv("SOLANA_BRIDGE_URL"); url != "" {
		registry.Register(wallet.NewBridgeProvider(domain.ChainSolana, walletbridge.NewClient(url)))
	}
	wallets := wallet.NewManager(registry)
	if !wallets.DetectProvider(asset.Family) {
		log.Fatalf("No %s wallet configured; set EVM_RPC_URL or SOLANA_BRIDGE_URL", asset.Family)
	}

	fmt.Printf("Donation Details:\n")
	fmt.Printf("  Campaign: %s\n", campaignID)
	fmt.Printf("  Amount: %s %s (%s)\n", *amount, asset.Symbol, asset.Family)
	fmt.Printf("  To: %s\n", *to)

	if !*yes {
		fmt.Printf("\nSend this transfer? It cannot be reversed. (yes/no): ")
		var confirmation string
		fmt.Scanln(&confirmation)
		if confirmation != "yes" {
			fmt.Println("Donation cancelled.")
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flow := app.NewDonationFlow(wallets, rail.NewAdapter(nil), newHTTPSink(apiURL, os.Getenv("DONOR_TOKEN")))
	outcome, err := flow.Donate(ctx, app.CryptoDonation{
		CampaignID:  campaignID,
		Family:      asset.Family,
		Asset:       asset.Symbol,
		Amount:      *amount,
		Destination: *to,
		Message:     *message,
		Anonymous:   *anonymous,
	})
	if err != nil {
		if outcome != nil && outcome.Receipt != nil {
			fmt.Printf("Transfer sent with proof %s but recording failed: %v\n", outcome.Receipt.SettlementProof, err)
			if errors.Is(err, domain.ErrNetwork) {
				fmt.Println("Run the command again with the same proof once the service is reachable.")
			}
			os.Exit(2)
		}
		log.Fatalf("Donation failed (%s): %v", domain.KindOf(err), err)
	}

	if outcome.Result.Duplicate {
		fmt.Printf("Proof %s was already recorded as donation %s\n", outcome.Receipt.SettlementProof, outcome.Result.Donation.ID)
		return
	}
	fmt.Printf("Donation %s recorded (proof %s, worth %s USD)\n", outcome.Result.Donation.ID, outcome.Receipt.SettlementProof, outcome.Result.Donation.FiatEquivalent.String())
}
