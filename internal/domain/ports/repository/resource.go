package repository

import (
	"context"

	"paywall-access/internal/domain/model"
)

type ResourceRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Resource, error)
}
