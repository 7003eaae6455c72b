package db

import "context"

type Client interface {
	Close() error
	AddSanction(ctx context.Context, sanction *Sanction) error
	ListSanctions(ctx context.Context, chatID int64, limit int) ([]*Sanction, error)
	ListUserSanctions(ctx context.Context, chatID, userID int64, limit int) ([]*Sanction, error)
}
