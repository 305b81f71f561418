package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"guardianlink/internal/storage/zapadapter"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotExist       = errors.New("user does not exist")
	ErrChatExists         = errors.New("chat already exists")
	ErrChatNotExist       = errors.New("chat does not exist")
	ErrNotGroupChat       = errors.New("chat is not a group chat")
	ErrAlreadyParticipant = errors.New("user already present in chat")
	ErrNotParticipant     = errors.New("user is not a chat participant")
	ErrMessageNotExist    = errors.New("message does not exist")
	ErrRequestNotExist    = errors.New("request does not exist")
	ErrRequestSettled     = errors.New("request already settled")
	ErrOrgNotExist        = errors.New("organization does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns
// an instance of Store
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

func (s *Store) Close() {
	s.db.Close()
}
