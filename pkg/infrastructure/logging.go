// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLoggerAdapter routes Fx lifecycle events and printer output into a zap.Logger.
// Successful wiring steps are logged at Debug, lifecycle milestones at Info and
// every failure at Error, each with structured fields rather than formatted text.
type FxLoggerAdapter struct {
	logger *zap.Logger
}

// NewFxLoggerAdapter creates a new Fx logger adapter that implements fxevent.Logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// NewFxPrinter creates a new Fx printer adapter that implements fx.Printer.
func NewFxPrinter(logger *zap.Logger) fx.Printer {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (p *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		p.logger.Debug("OnStart hook executing", zap.String("caller", e.CallerName), zap.String("callee", e.FunctionName))
	case *fxevent.OnStartExecuted:
		p.hook("OnStart", e.CallerName, e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		p.logger.Debug("OnStop hook executing", zap.String("caller", e.CallerName), zap.String("callee", e.FunctionName))
	case *fxevent.OnStopExecuted:
		p.hook("OnStop", e.CallerName, e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		p.result("supplied", e.Err, zap.String("type", e.TypeName), zap.String("module", e.ModuleName))
	case *fxevent.Provided:
		p.result("provided", e.Err, zap.String("constructor", e.ConstructorName), zap.Strings("types", e.OutputTypeNames), zap.String("module", e.ModuleName))
	case *fxevent.Decorated:
		p.result("decorated", e.Err, zap.String("decorator", e.DecoratorName), zap.Strings("types", e.OutputTypeNames))
	case *fxevent.Invoking:
		p.logger.Debug("invoking", zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Invoked:
		p.result("invoked", e.Err, zap.String("function", e.FunctionName), zap.String("trace", e.Trace))
	case *fxevent.Stopping:
		p.logger.Info("received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		p.milestone("stopped", e.Err)
	case *fxevent.RollingBack:
		p.logger.Error("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		p.milestone("rolled back", e.Err)
	case *fxevent.Started:
		p.milestone("started", e.Err)
	case *fxevent.LoggerInitialized:
		p.result("custom logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		p.logger.Debug("unhandled fx event", zap.String("event", fmt.Sprintf("%T", event)))
	}
}

// Printf implements fx.Printer.
func (p *FxLoggerAdapter) Printf(format string, args ...any) {
	p.logger.Sugar().Infof(format, args...)
}

func (p *FxLoggerAdapter) hook(kind, caller, callee, runtime string, err error) {
	fields := []zap.Field{zap.String("caller", caller), zap.String("callee", callee)}
	if err != nil {
		p.logger.Error(kind+" hook failed", append(fields, zap.Error(err))...)

		return
	}
	p.logger.Debug(kind+" hook executed", append(fields, zap.String("runtime", runtime))...)
}

func (p *FxLoggerAdapter) result(msg string, err error, fields ...zap.Field) {
	if err != nil {
		p.logger.Error(msg+" with error", append(fields, zap.Error(err))...)

		return
	}
	p.logger.Debug(msg, fields...)
}

func (p *FxLoggerAdapter) milestone(msg string, err error) {
	if err != nil {
		p.logger.Error(msg+" with error", zap.Error(err))

		return
	}
	p.logger.Info(msg)
}

