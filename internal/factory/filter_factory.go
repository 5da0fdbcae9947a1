package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/adapters/filter"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/triage"
)

// EmailFilter is the surface both filter front-ends expose.
type EmailFilter interface {
	Start() error
	Stop() error
}

// FilterFactory creates email filters based on configuration
type FilterFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *triage.Service
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger, service *triage.Service) *FilterFactory {
	return &FilterFactory{
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// CreateEmailFilter creates an email filter based on the configuration
func (f *FilterFactory) CreateEmailFilter() (EmailFilter, error) {
	filterType := f.cfg.GetString("server.filter_type")

	switch filterType {
	case "smtp":
		return filter.NewSMTPFilter(f.service, f.logger, f.cfg.GetServer()), nil
	case "cli":
		return filter.NewCliFilter(f.service, f.logger, f.cfg.GetBool("cli.verbose"))
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", filterType)
	}
}

// CreateCliFilter creates the CLI front-end directly, bypassing the
// server.filter_type switch.
func (f *FilterFactory) CreateCliFilter(verbose bool) (*filter.CliFilter, error) {
	return filter.NewCliFilter(f.service, f.logger, verbose)
}
