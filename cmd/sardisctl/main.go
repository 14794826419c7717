// Command sardisctl is the operator CLI for the Sardis control plane.
// Kill-switch and failover-mode commands call the running node's
// /v2/ops/* admin endpoints directly, since Guardrails is an in-process
// registry (see internal/observability/guardrail.go) that a separate
// process reaching for the database could never actually flip.
// Ledger verification reads straight from the database since it is a
// pure read over durable state. Grounded on the teacher's cmd/ layout
// of one flag-driven main package per operational concern (stdlib
// flag, no CLI framework, matching the teacher's own cmd/nhbctl and
// cmd/p2pd entries).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sardis/internal/ledger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "kill-wallet":
		runKillWallet(os.Args[2:])
	case "revive-wallet":
		runReviveWallet(os.Args[2:])
	case "set-failover-mode":
		runSetFailoverMode(os.Args[2:])
	case "verify-ledger":
		runVerifyLedger(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sardisctl <kill-wallet|revive-wallet|set-failover-mode|verify-ledger> [flags]")
}

func runKillWallet(args []string) {
	fs := flag.NewFlagSet("kill-wallet", flag.ExitOnError)
	addr := fs.String("addr", os.Getenv("SARDIS_API_ADDR"), "sardisd base URL, e.g. https://sardis.internal")
	token := fs.String("token", os.Getenv("SARDIS_OPERATOR_TOKEN"), "operator bearer token")
	walletID := fs.String("wallet-id", "", "wallet id to kill-switch")
	_ = fs.Parse(args)
	if *walletID == "" {
		fmt.Fprintln(os.Stderr, "kill-wallet: -wallet-id is required")
		os.Exit(2)
	}
	mustPost(*addr, *token, "/v2/ops/wallets/"+*walletID+"/kill", nil)
	fmt.Printf("wallet %s kill-switched\n", *walletID)
}

func runReviveWallet(args []string) {
	fs := flag.NewFlagSet("revive-wallet", flag.ExitOnError)
	addr := fs.String("addr", os.Getenv("SARDIS_API_ADDR"), "sardisd base URL")
	token := fs.String("token", os.Getenv("SARDIS_OPERATOR_TOKEN"), "operator bearer token")
	walletID := fs.String("wallet-id", "", "wallet id to revive")
	_ = fs.Parse(args)
	if *walletID == "" {
		fmt.Fprintln(os.Stderr, "revive-wallet: -wallet-id is required")
		os.Exit(2)
	}
	mustPost(*addr, *token, "/v2/ops/wallets/"+*walletID+"/revive", nil)
	fmt.Printf("wallet %s revived\n", *walletID)
}

func runSetFailoverMode(args []string) {
	fs := flag.NewFlagSet("set-failover-mode", flag.ExitOnError)
	addr := fs.String("addr", os.Getenv("SARDIS_API_ADDR"), "sardisd base URL")
	token := fs.String("token", os.Getenv("SARDIS_OPERATOR_TOKEN"), "operator bearer token")
	mode := fs.String("mode", "", "normal|degraded|containment")
	_ = fs.Parse(args)
	if *mode == "" {
		fmt.Fprintln(os.Stderr, "set-failover-mode: -mode is required")
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]string{"mode": *mode})
	mustPost(*addr, *token, "/v2/ops/failover-mode", body)
	fmt.Printf("failover mode set to %s\n", *mode)
}

func runVerifyLedger(args []string) {
	fs := flag.NewFlagSet("verify-ledger", flag.ExitOnError)
	dsn := fs.String("dsn", os.Getenv("SARDIS_DATABASE_DSN"), "database DSN")
	ltxID := fs.String("ltx-id", "", "ledger entry id to verify")
	_ = fs.Parse(args)
	if *ltxID == "" {
		fmt.Fprintln(os.Stderr, "verify-ledger: -ltx-id is required")
		os.Exit(2)
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "verify-ledger: -dsn or SARDIS_DATABASE_DSN is required")
		os.Exit(2)
	}

	db, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify-ledger: database connection error: %v\n", err)
		os.Exit(1)
	}
	l := ledger.New(db, nil)
	report, err := l.Verify(*ltxID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify-ledger: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("chain_ok=%v leaf_in_root=%v root_anchored=%v tampered=%v\n",
		report.ChainOK, report.LeafInRoot, report.RootAnchored, report.TamperedIndices)
}

func mustPost(addr, token, path string, body []byte) {
	if addr == "" {
		fmt.Fprintln(os.Stderr, "sardisctl: -addr or SARDIS_API_ADDR is required")
		os.Exit(2)
	}
	req, err := http.NewRequest(http.MethodPost, addr+path, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sardisctl: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sardisctl: request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "sardisctl: %s returned %d: %s\n", path, resp.StatusCode, respBody)
		os.Exit(1)
	}
}
