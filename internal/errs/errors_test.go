package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCatalogueClosure(t *testing.T) {
	// Every constructed error must carry a code from the closed set.
	codes := []Code{
		InvalidSignalFormat, InvalidPriceLevels, SignalExpired, TokenNotFound,
		UnsupportedNetwork, SafeNotDeployed, SafeInvalidConfiguration,
		SafeInsufficientBalance, InsufficientStablecoinBalance,
		InvalidPositionPercentage, PositionSizeTooSmall, PositionSizeTooLarge,
		SwapQuoteFailed, SwapExecutionFailed, InsufficientLiquidity,
		SlippageTooHigh, RPCConnectionFailed, NetworkCongestion,
		TransactionTimeout, PriceDataUnavailable, APIRateLimited,
		ConfigurationError, SystemShutdown, UnknownError,
	}
	for _, c := range codes {
		e := New(c, "x")
		if e.Code != c {
			t.Errorf("code %s not preserved, got %s", c, e.Code)
		}
		if e.Kind == "" || e.Severity == "" {
			t.Errorf("code %s missing kind/severity", c)
		}
	}

	// An unknown code must collapse to UNKNOWN_ERROR, never leak.
	e := New(Code("SOMETHING_ELSE"), "x")
	if e.Code != UnknownError {
		t.Errorf("expected UNKNOWN_ERROR, got %s", e.Code)
	}
}

func TestRetriability(t *testing.T) {
	if !IsRetriable(New(SwapQuoteFailed, "no route")) {
		t.Error("SWAP_QUOTE_FAILED should be retriable")
	}
	if IsRetriable(New(SwapExecutionFailed, "reverted")) {
		t.Error("SWAP_EXECUTION_FAILED should not be retriable")
	}
	if IsRetriable(errors.New("plain")) {
		t.Error("foreign errors should not be retriable")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := Wrap(RPCConnectionFailed, cause, "rpc read")
	if !errors.Is(e, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	wrapped := fmt.Errorf("outer: %w", e)
	if CodeOf(wrapped) != RPCConnectionFailed {
		t.Errorf("CodeOf through fmt wrap = %s", CodeOf(wrapped))
	}
	if !IsRetriable(wrapped) {
		t.Error("retriability lost through fmt wrap")
	}
}

func TestFromForeign(t *testing.T) {
	e := From(errors.New("boom"))
	if e.Code != UnknownError {
		t.Errorf("foreign error mapped to %s", e.Code)
	}
}

func TestUserMessage(t *testing.T) {
	e := New(SafeNotDeployed, "no active wallet on ethereum").WithContext(Context{
		Symbol:        "FOO",
		Network:       "ethereum",
		WalletAddress: "0xAAAA000000000000000000000000000000000001",
		SignalID:      "sig-1",
	})
	msg := e.UserMessage()
	for _, want := range []string{"SAFE_NOT_DEPLOYED", "ethereum", "FOO", "…000001", "sig-1", "deploy the wallet"} {
		if !strings.Contains(msg, want) {
			t.Errorf("user message missing %q: %s", want, msg)
		}
	}
	if strings.Contains(msg, "0xAAAA0000") {
		t.Error("full wallet address must not be surfaced")
	}
}

func TestWithContextInnermostWins(t *testing.T) {
	e := New(TokenNotFound, "x").WithContext(Context{Network: "base"})
	e = e.WithContext(Context{Network: "arbitrum", Symbol: "FOO"})
	if e.Ctx.Network != "base" {
		t.Errorf("inner network overwritten: %s", e.Ctx.Network)
	}
	if e.Ctx.Symbol != "FOO" {
		t.Errorf("outer symbol not merged: %s", e.Ctx.Symbol)
	}
}
