// sendsignal validates a trade signal locally and posts it to a running
// orchestrator. Handy for smoke-testing an instance without a real caller.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	signalpkg "safe-trade-bot/internal/signal"
)

func main() {
	var (
		url      = flag.String("url", "http://localhost:8080", "orchestrator base URL")
		callerID = flag.String("caller", "dev", "caller id")
		wallet   = flag.String("wallet", "", "wallet address (required)")
		side     = flag.String("side", "buy", "buy or sell")
		symbol   = flag.String("symbol", "", "token symbol (required)")
		entry    = flag.Float64("entry", 0, "entry price")
		tp1      = flag.Float64("tp1", 0, "first take-profit level")
		tp2      = flag.Float64("tp2", 0, "second take-profit level")
		stop     = flag.Float64("stop", 0, "stop-loss level")
		ttl      = flag.Duration("ttl", time.Hour, "deadline from now")
		dryRun   = flag.Bool("dry-run", false, "validate only, do not send")
	)
	flag.Parse()

	sig := signalpkg.Signal{
		SignalID:      uuid.NewString(),
		CallerID:      *callerID,
		WalletAddress: *wallet,
		Side:          signalpkg.Side(*side),
		Symbol:        *symbol,
		EntryPrice:    *entry,
		TakeProfit1:   *tp1,
		TakeProfit2:   *tp2,
		StopLoss:      *stop,
		Deadline:      time.Now().Add(*ttl).Unix(),
	}

	if err := sig.Validate(time.Now()); err != nil {
		color.Red("invalid signal: %v", err)
		os.Exit(1)
	}
	color.Green("signal ok")
	fmt.Printf("  id:     %s\n", sig.SignalID)
	fmt.Printf("  %s %s entry %.6f tp1 %.6f tp2 %.6f stop %.6f\n",
		sig.Side, sig.Symbol, sig.EntryPrice, sig.TakeProfit1, sig.TakeProfit2, sig.StopLoss)

	if *dryRun {
		return
	}

	body, _ := json.Marshal(sig)
	resp, err := http.Post(*url+"/signal", "application/json", bytes.NewReader(body))
	if err != nil {
		color.Red("post failed: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var out struct {
		TradeID string `json:"trade_id"`
		Code    string `json:"code"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		color.Red("bad response (%d): %v", resp.StatusCode, err)
		os.Exit(1)
	}

	if resp.StatusCode == http.StatusOK {
		color.Green("accepted, trade %s", out.TradeID)
		return
	}
	color.Red("rejected [%s]: %s", out.Code, out.Error)
	os.Exit(1)
}
