package main

import (
	"context"
	"log/slog"

	"github.com/skosovsky/toolwire"
	"github.com/skosovsky/toolwire/ext/toolwireotel"
	"github.com/skosovsky/toolwire/internal/config"
	"github.com/skosovsky/toolwire/toolkits/fstool"
	"github.com/skosovsky/toolwire/toolkits/httptool"
)

// buildRegistry registers the tools enabled in cfg, wrapped with logging and tracing.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*toolwire.Registry, error) {
	reg := toolwire.NewRegistry(
		toolwire.WithDefaultTimeout(cfg.Engine.DefaultTimeout.Duration),
		toolwire.WithNetworkTimeout(cfg.Engine.NetworkTimeout.Duration),
	)
	if cfg.FS.Root != "" {
		opts := []fstool.Option{fstool.WithMaxResults(cfg.FS.MaxResults)}
		if cfg.FS.ReadOnly {
			opts = append(opts, fstool.WithReadOnly())
		}
		tk, err := fstool.New(cfg.FS.Root, opts...)
		if err != nil {
			return nil, err
		}
		if err := tk.Register(reg); err != nil {
			return nil, err
		}
	}
	if cfg.Web.Enabled {
		f, err := httptool.New(
			httptool.WithCacheSize(cfg.Web.CacheSize),
			httptool.WithTTL(cfg.Web.CacheTTL.Duration),
			httptool.WithUserAgent(cfg.Web.UserAgent),
		)
		if err != nil {
			return nil, err
		}
		if err := f.Register(reg); err != nil {
			return nil, err
		}
	}
	if err := reg.Use(toolwire.WithLogging(logger), toolwireotel.WithTracing(nil)); err != nil {
		return nil, err
	}
	return reg, nil
}

// approver maps an approval mode onto an Approver.
func approver(mode string) toolwire.Approver {
	switch mode {
	case config.DenyAll:
		return toolwire.ApproverFunc(func(context.Context, toolwire.ApprovalRequest) (toolwire.Decision, error) {
			return toolwire.Decision{Feedback: "tool use is disabled in this run"}, nil
		})
	case config.DenyDangerous:
		return toolwire.ApproverFunc(func(_ context.Context, req toolwire.ApprovalRequest) (toolwire.Decision, error) {
			if req.Dangerous {
				return toolwire.Decision{Feedback: "tools that change files are disabled in this run"}, nil
			}
			return toolwire.Decision{Approved: true}, nil
		})
	default:
		return toolwire.AutoApprove
	}
}

func buildEngine(cfg *config.Config, logger *slog.Logger) (*toolwire.Engine, error) {
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	retry := toolwire.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Engine.MaxRetries
	return toolwire.New(reg,
		toolwire.WithLogger(logger),
		toolwire.WithMaxParallelism(cfg.Engine.MaxParallelism),
		toolwire.WithRetryPolicy(retry),
		toolwire.WithApprover(approver(cfg.Engine.Approval)),
	), nil
}
