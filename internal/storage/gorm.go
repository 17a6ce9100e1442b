// internal/storage/gorm.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/storage/models"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace логирует SQL: ошибки всегда (кроме not found), медленные запросы на Warn.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= logger.Error:
		l.zapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("Slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("Query", fields...)
	}
}

// gormStorage реализует интерфейс Storage
type gormStorage struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
}

// Open подключается к базе. driver is "postgres" or "sqlite"; for sqlite the
// DSN is a file path or "file::memory:".
func Open(driver, dsn string, zapLogger *zap.Logger) (Storage, error) {
	if dsn == "" {
		return nil, errors.New("storage dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		driver = DriverSQLite
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	if driver == DriverPostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite допускает одного писателя
		sqlDB.SetMaxOpenConns(1)
	}

	return &gormStorage{
		db:     db,
		driver: driver,
		logger: zapLogger.Named("storage"),
	}, nil
}

// RunMigrations использует GORM AutoMigrate; на postgres под advisory lock.
func (s *gormStorage) RunMigrations() error {
	if s.driver == DriverPostgres {
		var lockObtained bool
		err := s.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
		if err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return fmt.Errorf("another migration is in progress")
		}
		defer s.db.Exec("SELECT pg_advisory_unlock(101)")
	}

	if err := s.db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	s.logger.Info("Migrations applied", zap.String("driver", s.driver))
	return nil
}

func (s *gormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStorage) Record(ctx context.Context, tx lending.Transaction) error {
	row := toModel(tx)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *gormStorage) GetTransaction(ctx context.Context, id string) (*lending.Transaction, error) {
	var row models.Transaction
	err := s.db.WithContext(ctx).Where("tx_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx := fromModel(row)
	return &tx, nil
}

func (s *gormStorage) ListTransactions(ctx context.Context, user common.Address, limit, offset int) ([]lending.Transaction, error) {
	var rows []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_address = ?", user.Hex()).
		Order("executed_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]lending.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModel(r))
	}
	return out, nil
}

// LastProtocol returns where the user last supplied (side supply) or
// borrowed (side borrow) asset; "" when never.
func (s *gormStorage) LastProtocol(ctx context.Context, user common.Address, asset string, side lending.PositionSide) (lending.ProtocolID, error) {
	kind := lending.OperationSupply
	if side == lending.SideBorrow {
		kind = lending.OperationBorrow
	}

	var row models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_address = ? AND asset = ? AND kind = ?", user.Hex(), lending.NormalizeSymbol(asset), string(kind)).
		Order("executed_at desc, id desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lending.ProtocolID(row.Protocol), nil
}

func (s *gormStorage) SaveRateSamples(ctx context.Context, samples []RateSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]models.RateSample, 0, len(samples))
	for _, sm := range samples {
		rows = append(rows, models.RateSample{
			Asset:              lending.NormalizeSymbol(sm.Asset),
			Protocol:           string(sm.Protocol),
			SupplyRate:         intString(sm.SupplyRate),
			BorrowRate:         intString(sm.BorrowRate),
			Utilization:        intString(sm.Utilization),
			AvailableLiquidity: intString(sm.AvailableLiquidity),
			SampledAt:          sm.SampledAt.UTC(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ListRateSamples returns samples of asset taken at or after since, newest first.
func (s *gormStorage) ListRateSamples(ctx context.Context, asset string, since time.Time, limit int) ([]RateSample, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.RateSample
	err := s.db.WithContext(ctx).
		Where("asset = ? AND sampled_at >= ?", lending.NormalizeSymbol(asset), since.UTC()).
		Order("sampled_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]RateSample, 0, len(rows))
	for _, r := range rows {
		out = append(out, RateSample{
			Asset:              r.Asset,
			Protocol:           lending.ProtocolID(r.Protocol),
			SupplyRate:         parseInt(r.SupplyRate),
			BorrowRate:         parseInt(r.BorrowRate),
			Utilization:        parseInt(r.Utilization),
			AvailableLiquidity: parseInt(r.AvailableLiquidity),
			SampledAt:          r.SampledAt.UTC(),
		})
	}
	return out, nil
}

func toModel(tx lending.Transaction) models.Transaction {
	return models.Transaction{
		TxID:          tx.ID,
		Kind:          string(tx.Kind),
		Protocol:      string(tx.Protocol),
		Asset:         lending.NormalizeSymbol(tx.Asset),
		Amount:        intString(tx.Amount),
		UserAddress:   tx.User.Hex(),
		TxRef:         tx.TxRef.Hex(),
		ResourceCost:  intString(tx.ResourceCost),
		EffectiveRate: intString(tx.EffectiveRate),
		ExecutedAt:    tx.Timestamp.UTC(),
	}
}

func fromModel(r models.Transaction) lending.Transaction {
	return lending.Transaction{
		ID:            r.TxID,
		Kind:          lending.Operation(r.Kind),
		Protocol:      lending.ProtocolID(r.Protocol),
		Asset:         r.Asset,
		Amount:        parseInt(r.Amount),
		User:          common.HexToAddress(r.UserAddress),
		Timestamp:     r.ExecutedAt.UTC(),
		TxRef:         common.HexToHash(r.TxRef),
		ResourceCost:  parseInt(r.ResourceCost),
		EffectiveRate: parseInt(r.EffectiveRate),
	}
}

// intString: nil хранится как пустая строка.
func intString(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

func parseInt(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
