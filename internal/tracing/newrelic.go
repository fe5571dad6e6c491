package tracing

import (
	"context"
	"time"

	"example.com/backstage/waterweb/config"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// InitNewRelic initializes the New Relic application. A nil application is
// returned when monitoring is disabled; every helper here accepts nil.
func InitNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		return nil, err
	}

	return app, nil
}

// StartMessageTransaction opens a background transaction for one inbound bus
// message and returns a context carrying it.
func StartMessageTransaction(ctx context.Context, app *newrelic.Application, kind, topic string) (context.Context, *newrelic.Transaction) {
	if app == nil {
		return ctx, nil
	}
	txn := app.StartTransaction("mqtt/" + kind)
	txn.AddAttribute("topic", topic)
	return newrelic.NewContext(ctx, txn), txn
}

// StartSegment starts a segment on the transaction found in ctx, if any
func StartSegment(ctx context.Context, name string) *newrelic.Segment {
	return newrelic.FromContext(ctx).StartSegment(name)
}
