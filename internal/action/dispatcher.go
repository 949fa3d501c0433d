package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"supportbot/internal/metrics"
)

// execConn is the subset of pgx.Conn the dispatcher needs.
type execConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// Dispatcher executes structured actions. The only state-mutating action is
// TransferPlus, which re-points the subscription and recurring-billing
// records in the legacy identity database. It is irreversible once committed
// and is gated solely by the model's judgment embedded in its prompt
// instructions; no independent authorization check exists here.
type Dispatcher struct {
	binderDSN string
	logger    *slog.Logger
	connect   func(ctx context.Context, dsn string) (execConn, error)
}

type DispatcherConfig struct {
	// BinderDSN is the connection string of the legacy identity database.
	BinderDSN string
	Logger    *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		binderDSN: cfg.BinderDSN,
		logger:    cfg.Logger,
		connect: func(ctx context.Context, dsn string) (execConn, error) {
			return pgx.Connect(ctx, dsn)
		},
	}
}

// Dispatch executes the side effect of an action, if any. Null and Abort
// have none. A TransferPlus failure is a hard error: the caller must abort
// the whole response cycle so no reply reports a merge that did not happen.
func (d *Dispatcher) Dispatch(ctx context.Context, act Action) error {
	switch act.Kind {
	case KindNull, KindAbort:
		return nil
	case KindTransferPlus:
		return d.transferPlus(ctx, act.OldUname, act.NewUname)
	default:
		return fmt.Errorf("unknown action kind %q", act.Kind)
	}
}

func (d *Dispatcher) transferPlus(ctx context.Context, oldUname, newUname string) error {
	d.logger.Info("executing plus transfer", "old", oldUname, "new", newUname)

	conn, err := d.connect(ctx, d.binderDSN)
	if err != nil {
		return fmt.Errorf("connect binder db: %w", err)
	}
	defer conn.Close(ctx)

	// Both updates key on a username-to-id lookup against the legacy
	// identity table. Zero affected rows is not a failure: the account may
	// simply have no record of that kind.
	res, err := conn.Exec(ctx,
		`UPDATE subscriptions
		    SET id = (SELECT id FROM users_legacy WHERE username = $1)
		  WHERE id = (SELECT id FROM users_legacy WHERE username = $2)`,
		newUname, oldUname,
	)
	if err != nil {
		return fmt.Errorf("transfer subscription: %w", err)
	}

	if _, err := conn.Exec(ctx,
		`UPDATE recurring_subs
		    SET user_id = (SELECT id FROM users_legacy WHERE username = $1)
		  WHERE user_id = (SELECT id FROM users_legacy WHERE username = $2)`,
		newUname, oldUname,
	); err != nil {
		return fmt.Errorf("transfer recurring billing: %w", err)
	}

	metrics.ActionsTotal.Inc()
	d.logger.Info("plus transfer done", "rows", res.RowsAffected())
	return nil
}
