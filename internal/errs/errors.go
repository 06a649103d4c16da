package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and escalation decisions.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNetwork           Kind = "network"
	KindSystem            Kind = "system"
	KindAuth              Kind = "auth"
)

// Severity is used when surfacing errors to operators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Code is one of the closed set of error codes the orchestrator surfaces.
type Code string

const (
	InvalidSignalFormat           Code = "INVALID_SIGNAL_FORMAT"
	InvalidPriceLevels            Code = "INVALID_PRICE_LEVELS"
	SignalExpired                 Code = "SIGNAL_EXPIRED"
	TokenNotFound                 Code = "TOKEN_NOT_FOUND"
	UnsupportedNetwork            Code = "UNSUPPORTED_NETWORK"
	SafeNotDeployed               Code = "SAFE_NOT_DEPLOYED"
	SafeInvalidConfiguration      Code = "SAFE_INVALID_CONFIGURATION"
	SafeInsufficientBalance       Code = "SAFE_INSUFFICIENT_BALANCE"
	InsufficientStablecoinBalance Code = "INSUFFICIENT_STABLECOIN_BALANCE"
	InvalidPositionPercentage     Code = "INVALID_POSITION_PERCENTAGE"
	PositionSizeTooSmall          Code = "POSITION_SIZE_TOO_SMALL"
	PositionSizeTooLarge          Code = "POSITION_SIZE_TOO_LARGE"
	SwapQuoteFailed               Code = "SWAP_QUOTE_FAILED"
	SwapExecutionFailed           Code = "SWAP_EXECUTION_FAILED"
	InsufficientLiquidity         Code = "INSUFFICIENT_LIQUIDITY"
	SlippageTooHigh               Code = "SLIPPAGE_TOO_HIGH"
	RPCConnectionFailed           Code = "RPC_CONNECTION_FAILED"
	NetworkCongestion             Code = "NETWORK_CONGESTION"
	TransactionTimeout            Code = "TRANSACTION_TIMEOUT"
	PriceDataUnavailable          Code = "PRICE_DATA_UNAVAILABLE"
	APIRateLimited                Code = "API_RATE_LIMITED"
	ConfigurationError            Code = "CONFIGURATION_ERROR"
	SystemShutdown                Code = "SYSTEM_SHUTDOWN"
	UnknownError                  Code = "UNKNOWN_ERROR"
)

type meta struct {
	kind           Kind
	severity       Severity
	retriable      bool
	actionable     bool
	recommendation string
}

// catalogue maps every code to its fixed classification. Codes outside this
// table must never reach a caller.
var catalogue = map[Code]meta{
	InvalidSignalFormat:           {KindValidation, SeverityLow, false, true, "check the signal payload fields"},
	InvalidPriceLevels:            {KindValidation, SeverityLow, false, true, "fix stop-loss / entry / take-profit ordering"},
	SignalExpired:                 {KindValidation, SeverityLow, false, true, "submit a signal with a future deadline"},
	TokenNotFound:                 {KindNotFound, SeverityMedium, false, true, "verify the token symbol or provide a contract address"},
	UnsupportedNetwork:            {KindValidation, SeverityMedium, false, true, "trade on a network the orchestrator is configured for"},
	SafeNotDeployed:               {KindNotFound, SeverityMedium, false, true, "deploy the wallet on that network"},
	SafeInvalidConfiguration:      {KindValidation, SeverityHigh, false, true, "check wallet owners and threshold"},
	SafeInsufficientBalance:       {KindInsufficientFunds, SeverityMedium, false, true, "fund the wallet with native gas tokens"},
	InsufficientStablecoinBalance: {KindInsufficientFunds, SeverityMedium, false, true, "fund the wallet with the base stablecoin"},
	InvalidPositionPercentage:     {KindValidation, SeverityLow, false, true, "use a position percentage between 1 and 80"},
	PositionSizeTooSmall:          {KindValidation, SeverityLow, false, true, "increase balance or position percentage"},
	PositionSizeTooLarge:          {KindValidation, SeverityLow, false, true, "reduce the position percentage"},
	SwapQuoteFailed:               {KindNetwork, SeverityMedium, true, false, "retry; the aggregator did not return a route"},
	SwapExecutionFailed:           {KindSystem, SeverityHigh, false, true, "inspect the transaction and retry manually"},
	InsufficientLiquidity:         {KindNetwork, SeverityMedium, false, true, "token has too little liquidity for this size"},
	SlippageTooHigh:               {KindValidation, SeverityMedium, false, true, "increase the slippage tolerance or reduce size"},
	RPCConnectionFailed:           {KindNetwork, SeverityHigh, true, false, "check RPC endpoint connectivity"},
	NetworkCongestion:             {KindNetwork, SeverityLow, true, false, "network is congested; the operation will be retried"},
	TransactionTimeout:            {KindNetwork, SeverityMedium, true, false, "transaction was not confirmed in time"},
	PriceDataUnavailable:          {KindNetwork, SeverityMedium, true, false, "price or token metadata source unreachable"},
	APIRateLimited:                {KindSystem, SeverityMedium, true, false, "rate limited; backing off before retry"},
	ConfigurationError:            {KindSystem, SeverityCritical, false, true, "fix the orchestrator configuration"},
	SystemShutdown:                {KindSystem, SeverityHigh, false, false, "the orchestrator was shut down mid-flight"},
	UnknownError:                  {KindSystem, SeverityHigh, false, false, "unclassified failure; check logs"},
}

// Context carries the identifiers an error happened under. All fields are
// optional; empty fields are omitted from the summary.
type Context struct {
	Service       string
	Operation     string
	TradeID       string
	SignalID      string
	WalletAddress string
	Network       string
	Symbol        string
	FlowID        string
}

// Error is the single error type surfaced across component boundaries.
type Error struct {
	Code           Code
	Kind           Kind
	Severity       Severity
	Retriable      bool
	Actionable     bool
	Recommendation string
	Message        string
	Ctx            Context
	cause          error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error for a known code. Unknown codes collapse to UNKNOWN_ERROR.
func New(code Code, msg string) *Error {
	m, ok := catalogue[code]
	if !ok {
		code, m = UnknownError, catalogue[UnknownError]
	}
	return &Error{
		Code:           code,
		Kind:           m.kind,
		Severity:       m.severity,
		Retriable:      m.retriable,
		Actionable:     m.actionable,
		Recommendation: m.recommendation,
		Message:        msg,
	}
}

// Newf builds an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error, msg string) *Error {
	e := New(code, msg)
	e.cause = cause
	return e
}

// WithContext returns a copy of the error with identifiers filled in. Fields
// already set are kept so the innermost component wins.
func (e *Error) WithContext(ctx Context) *Error {
	out := *e
	merged := out.Ctx
	if merged.Service == "" {
		merged.Service = ctx.Service
	}
	if merged.Operation == "" {
		merged.Operation = ctx.Operation
	}
	if merged.TradeID == "" {
		merged.TradeID = ctx.TradeID
	}
	if merged.SignalID == "" {
		merged.SignalID = ctx.SignalID
	}
	if merged.WalletAddress == "" {
		merged.WalletAddress = ctx.WalletAddress
	}
	if merged.Network == "" {
		merged.Network = ctx.Network
	}
	if merged.Symbol == "" {
		merged.Symbol = ctx.Symbol
	}
	if merged.FlowID == "" {
		merged.FlowID = ctx.FlowID
	}
	out.Ctx = merged
	return &out
}

// From returns err as *Error, mapping foreign errors to UNKNOWN_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(UnknownError, err, "unexpected error")
}

// CodeOf extracts the code of an error, UNKNOWN_ERROR for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// IsRetriable reports whether the error may be retried. Foreign errors are
// never retriable.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}

// Is lets errors.Is match on codes: errors.Is(err, errs.New(code, "")) is not
// needed; compare codes via CodeOf instead. Kept for sentinel-style matching.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// UserMessage renders the rejection the way it is shown to callers: code,
// recommendation, and a compact context summary. Raw causes are omitted.
func (e *Error) UserMessage() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Recommendation != "" {
		msg += " (" + e.Recommendation + ")"
	}
	if s := e.Ctx.summary(); s != "" {
		msg += " [" + s + "]"
	}
	return msg
}

func (c Context) summary() string {
	parts := make([]string, 0, 4)
	if c.Symbol != "" {
		parts = append(parts, c.Symbol)
	}
	if c.Network != "" {
		parts = append(parts, c.Network)
	}
	if c.WalletAddress != "" {
		parts = append(parts, "…"+shortSuffix(c.WalletAddress))
	}
	if c.SignalID != "" {
		parts = append(parts, "signal="+c.SignalID)
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func shortSuffix(addr string) string {
	if len(addr) <= 6 {
		return addr
	}
	return addr[len(addr)-6:]
}
