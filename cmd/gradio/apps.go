package main

import (
	"log/slog"

	"github.com/sandutsar/gradio/app"
	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/config"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/examplecache"
	"github.com/sandutsar/gradio/flagging"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pipeline"
	"github.com/sandutsar/gradio/storage"
)

type appBuilder struct {
	components *component.Registry
	backend    *backend
	registry   *metric.MetricsRegistry
	metrics    *metric.Metrics
	logger     *slog.Logger
}

func (b *appBuilder) build(ic config.InterfaceConfig) (*app.App, error) {
	fns := make([]pipeline.Function, 0, len(ic.Fn))
	for _, name := range ic.Fn {
		fn, ok := functions[name]
		if !ok {
			return nil, errors.NewConfiguration("interface %q references unknown function %q", ic.Name, name)
		}
		fns = append(fns, pipeline.Function{Name: name, Fn: fn})
	}

	inputs, err := b.components.Inputs(ic.Inputs...)
	if err != nil {
		return nil, errors.Wrap(err, "appBuilder", "build", "inputs of "+ic.Name)
	}
	outputs, err := b.components.Outputs(ic.Outputs...)
	if err != nil {
		return nil, errors.Wrap(err, "appBuilder", "build", "outputs of "+ic.Name)
	}

	ifaceOpts := []pipeline.Option{
		pipeline.WithTitle(ic.Title, ic.Description),
		pipeline.WithRepeatOutputs(ic.Repeat()),
		pipeline.WithStateStore(b.backend.stateStore(ic.Name)),
		pipeline.WithDebug(ic.Debug),
		pipeline.WithLogger(b.logger),
		pipeline.WithMetrics(b.metrics),
	}
	if ic.Interpretation != "" {
		interpret, ok := interpreters[ic.Interpretation]
		if !ok {
			return nil, errors.NewConfiguration("interface %q references unknown interpreter %q", ic.Name, ic.Interpretation)
		}
		ifaceOpts = append(ifaceOpts, pipeline.WithInterpretation(interpret))
	}

	iface, err := pipeline.New(ic.Name, fns, inputs, outputs, ifaceOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "appBuilder", "build", "interface "+ic.Name)
	}

	opts := []app.Option{app.WithShowError(ic.ShowError), app.WithLogger(b.logger)}

	mode, err := flagging.ResolveMode(ic.AllowFlagging)
	if err != nil {
		return nil, err
	}
	if mode != flagging.ModeNever {
		log, err := b.backend.flagLog(ic.Name, iface.InputLabels(), iface.OutputLabels())
		if err != nil {
			return nil, errors.Wrap(err, "appBuilder", "build", "flag log of "+ic.Name)
		}
		rec, err := flagging.NewRecorder(ic.Name, log,
			flagging.WithMode(mode),
			flagging.WithFlagOptions(ic.FlaggingOptions...),
			flagging.WithLogger(b.logger),
			flagging.WithMetrics(b.metrics),
		)
		if err != nil {
			_ = log.Close()
			return nil, errors.Wrap(err, "appBuilder", "build", "flagging of "+ic.Name)
		}
		opts = append(opts, app.WithFlagging(rec))
	}

	if len(ic.Examples) > 0 {
		var table storage.Table
		if ic.CacheExamples {
			if table, err = b.backend.exampleTable(ic.Name); err != nil {
				return nil, errors.Wrap(err, "appBuilder", "build", "example table of "+ic.Name)
			}
		}
		cacheOpts := []examplecache.Option{examplecache.WithMetrics(b.metrics), examplecache.WithLogger(b.logger)}
		if b.registry != nil {
			cacheOpts = append(cacheOpts, examplecache.WithRegistry(b.registry))
		}
		cache, err := examplecache.New(iface, ic.Examples, table, cacheOpts...)
		if err != nil {
			if table != nil {
				_ = table.Close()
			}
			return nil, errors.Wrap(err, "appBuilder", "build", "examples of "+ic.Name)
		}
		opts = append(opts, app.WithExamples(cache, ic.CacheExamples))
	}

	return app.New(iface, opts...)
}
