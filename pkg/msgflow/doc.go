/*
Package msgflow provides an in-process publish/subscribe dispatcher with
dependency-ordered consumers.

# Overview

Producers enqueue messages into a bounded buffer. Consumers subscribe
under a condition, optionally naming other consumers they must run after.
A pool of workers takes messages from the buffer and, for every condition
the message satisfies, runs that condition's consumers in dependency order.

Enqueue never waits for dispatch. When the buffer is full it fails fast
with ErrBackpressure and the producer decides what to do.

# Basic Usage

	q := msgflow.New(msgflow.WithCapacity(100))
	defer q.Close(context.Background())

	store := msgflow.NewConsumerFunc("store", func(ctx context.Context, m msgflow.Message) error {
	    return db.Save(ctx, m.String())
	})
	notify := msgflow.NewConsumerFunc("notify", func(ctx context.Context, m msgflow.Message) error {
	    return mailer.Send(ctx, m.String())
	})

	orders := msgflow.MustPatternCondition(`order:.*`)
	if err := q.Subscribe(orders, store); err != nil {
	    log.Fatal(err)
	}
	// notify runs only after store has handled the same message.
	if err := q.Subscribe(orders, notify, store); err != nil {
	    log.Fatal(err)
	}

	if err := q.Enqueue(ctx, msgflow.TextMessage("order:42")); errors.Is(err, msgflow.ErrBackpressure) {
	    // retry later, or use producer.Producer
	}

# Conditions and Groups

Consumers subscribed under conditions with the same Key form one group.
Each matching group runs independently; a consumer subscribed under two
matching conditions runs twice. Dependencies only order consumers within
a group.

# Dependencies

Subscribe rejects a binding that would close a dependency cycle with
ErrCycle. Under DependencyStrict (the default) it also rejects
dependencies that are not yet subscribed under the condition, except for
the group's first binding. Under DependencyDeferred unknown dependencies
are accepted and honoured once subscribed. A dependency that is absent
when a message is dispatched is skipped. Under DependencyStrict both rules
apply at once: a group's first binding may name consumers that do not
exist yet, and dispatch skips them until they are subscribed.

# Retries

A consumer whose Process returns an error or panics is called again, up
to three attempts by default (WithMaxAttempts). Wrap an error with
retry.Permanent to stop retrying early. An invocation that fails its last
attempt is abandoned: it is logged, counted, passed to the handler set by
WithAbandonHandler, and its dependents still run.

# Observability

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	q := msgflow.New(
	    msgflow.WithLogger(logger),
	    msgflow.WithMetrics(true),
	    msgflow.WithTracing(true),
	)

# Configuration

Queue options can be loaded from YAML or JSON and overridden from
MSGFLOW_* environment variables; see package config and OptionsFromConfig.
*/
package msgflow
