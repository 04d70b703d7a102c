package db

import (
	"context"

	"github.com/ukydev/ambulance-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JournalCollection defines the interface for dispatch journal operations.
type JournalCollection interface {
	InsertEvent(ctx context.Context, ev models.DispatchEvent) error
	FindEvents(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (EventCursor, error)
}

// EventCursor defines the interface for journal cursor operations.
type EventCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}

// UserCollection defines the interface for user database operations.
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) (models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}
