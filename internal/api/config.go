package api

import (
	"github.com/crosslation/redline/internal/llm"
)

// ProviderNone disables the oracle and the translator for every job;
// alignment and span location run on the deterministic fallbacks alone.
const ProviderNone = "none"

// Config holds server configuration.
type Config struct {
	Port        int
	LedgerPath  string     // transfer ledger database (empty = no ledger)
	Author      string     // default author stamped onto created revisions
	Concurrency int        // per-job bound on concurrent oracle calls
	Oracle      llm.Config // provider settings shared by all jobs
	Auth        AuthConfig // authentication configuration
}

// ServerConfig is the active server configuration.
var ServerConfig Config
