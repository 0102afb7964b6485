package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction, passing the
// underlying transaction handle as tx.
//
// Repository methods accept tx and use it when present (SELECT ... FOR UPDATE, tx-bound
// Exec/Query). The concrete type is infra-defined (pgx.Tx for Postgres). Repositories
// must accept a nil tx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
