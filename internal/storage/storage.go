// internal/storage/storage.go
// Package storage хранит журнал транзакций и историю ставок (gorm,
// postgres или sqlite).
package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Драйверы базы данных.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// RateSample — снимок ставок одного протокола по активу.
type RateSample struct {
	Asset              string
	Protocol           lending.ProtocolID
	SupplyRate         *big.Int // RAY
	BorrowRate         *big.Int // RAY
	Utilization        *big.Int // WAD
	AvailableLiquidity *big.Int
	SampledAt          time.Time
}

// Storage определяет интерфейс для работы с хранилищем
type Storage interface {
	// Транзакции
	Record(ctx context.Context, tx lending.Transaction) error
	GetTransaction(ctx context.Context, id string) (*lending.Transaction, error)
	ListTransactions(ctx context.Context, user common.Address, limit, offset int) ([]lending.Transaction, error)
	LastProtocol(ctx context.Context, user common.Address, asset string, side lending.PositionSide) (lending.ProtocolID, error)

	// История ставок
	SaveRateSamples(ctx context.Context, samples []RateSample) error
	ListRateSamples(ctx context.Context, asset string, since time.Time, limit int) ([]RateSample, error)

	RunMigrations() error
	Close() error
}
