// Package builtin assembles the registry of sources shipped with bmlib.
package builtin

import (
	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/source"
	"github.com/hherb/bmlib/internal/source/biorxiv"
	"github.com/hherb/bmlib/internal/source/openalex"
	"github.com/hherb/bmlib/internal/source/pubmed"
)

// Options configures the built-in adapters.
type Options struct {
	// Config is shared by every adapter; APIKey is ignored in favour of APIKeys.
	Config source.Config
	// APIKeys maps source name to API key.
	APIKeys map[string]string
	Logger  *zap.Logger
}

// NewRegistry returns a registry with pubmed, biorxiv, medrxiv and openalex,
// in that order. Each adapter gets its own rate limiter.
func NewRegistry(opts Options) *source.Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfgFor := func(name string) source.Config {
		cfg := opts.Config
		cfg.APIKey = opts.APIKeys[name]
		return cfg
	}

	r := source.NewRegistry()
	r.Register(pubmed.Descriptor,
		pubmed.New(cfgFor(pubmed.Name), pubmed.WithLogger(logger.Named(pubmed.Name))))
	r.Register(biorxiv.BioRxivDescriptor,
		biorxiv.New(biorxiv.BioRxiv, cfgFor(biorxiv.BioRxiv), biorxiv.WithLogger(logger.Named(biorxiv.BioRxiv))))
	r.Register(biorxiv.MedRxivDescriptor,
		biorxiv.New(biorxiv.MedRxiv, cfgFor(biorxiv.MedRxiv), biorxiv.WithLogger(logger.Named(biorxiv.MedRxiv))))
	r.Register(openalex.Descriptor,
		openalex.New(cfgFor(openalex.Name), openalex.WithLogger(logger.Named(openalex.Name))))
	return r
}
