// Package agent provides the public API for embedding the offer
// benchmarking agent. This is the stable API for external consumers.
package agent

import (
	"github.com/tjfontaine/offer-benchmark-agent/internal/runtime"
)

// Agent is the assembled service.
// See internal/runtime.Agent for full documentation.
type Agent = runtime.Agent

// Option is a functional option for configuring an Agent.
type Option = runtime.Option

// New creates a new Agent with the given options.
// Example:
//
//	a, err := agent.New(
//	    agent.WithFileConfig("config.yaml"),
//	    agent.WithSQLite("./data/bench.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithFileConfig = runtime.WithFileConfig

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithMemoryStorage = runtime.WithMemoryStorage
	WithStore         = runtime.WithStore

	// Conversation
	WithResponder = runtime.WithResponder
	WithDelayer   = runtime.WithDelayer
	WithCatalog   = runtime.WithCatalog

	// Observability
	WithRegistry = runtime.WithRegistry
	WithLogger   = runtime.WithLogger
)
