// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/migpoints/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже занятым номером телефона.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCooldownActive возвращается при попытке зачисления за рекламу, которая ещё на кулдауне.
	ErrCooldownActive = errors.New("ad on cooldown")
)

// CooldownError — ошибка активного кулдауна с остатком времени до
// повторной доступности рекламы. Раскрывается в ErrCooldownActive.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("ad on cooldown: %s remaining", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Все денежные суммы хранятся в десятых долях MIGP (целые числа).
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сбоях сериализации, дедлоках и сетевых
// ошибках. Операция должна быть идемпотентной или откатываться целиком.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, phone, name string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (phone, name, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		phone, name, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, phone)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByPhone возвращает пользователя по номеру телефона.
func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, phone, name, password_hash, is_admin, balance, created_at FROM users WHERE phone = $1`,
		phone,
	)

	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, phone, name, password_hash, is_admin, balance, created_at FROM users WHERE id = $1`,
		id,
	)

	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balanceTenths int64
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.PasswordHash, &u.IsAdmin, &balanceTenths, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Balance = float64(balanceTenths) / 10
	return &u, nil
}

// LastWatch возвращает время последнего просмотра рекламы пользователем.
// Реализует источник данных для cooldown.Guard.
func (r *PostgresRepository) LastWatch(ctx context.Context, userID int64, provider, adID string) (time.Time, bool, error) {
	var ts time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT watched_at
		 FROM watch_events
		 WHERE user_id = $1 AND provider = $2 AND ad_id = $3
		 ORDER BY watched_at DESC
		 LIMIT 1`,
		userID, provider, adID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select last watch: %w", err)
	}

	return ts, true, nil
}

// Settle атомарно зачисляет награду за просмотренную рекламу: повторная
// проверка кулдауна, запись просмотра, запись в журнал операций и
// увеличение баланса выполняются в одной транзакции. Любой сбой откатывает
// всё: частичного зачисления не бывает.
//
// Конкурентные зачисления по одному пользователю сериализуются блокировкой
// строки users: проигравший после захвата блокировки видит свежий просмотр
// победителя и получает CooldownError.
func (r *PostgresRepository) Settle(ctx context.Context, userID int64, provider, adID string, amountTenths int64, description string, window time.Duration) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.settle(ctx, userID, provider, adID, amountTenths, description, window)
	})
}

func (r *PostgresRepository) settle(ctx context.Context, userID int64, provider, adID string, amountTenths int64, description string, window time.Duration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	now := time.Now()

	var lastWatch time.Time
	err = tx.QueryRow(ctx,
		`SELECT watched_at
		 FROM watch_events
		 WHERE user_id = $1 AND provider = $2 AND ad_id = $3 AND watched_at > $4
		 ORDER BY watched_at DESC
		 LIMIT 1`,
		userID, provider, adID, now.Add(-window),
	).Scan(&lastWatch)
	if err == nil {
		return &CooldownError{Remaining: window - now.Sub(lastWatch)}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check cooldown: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO watch_events (user_id, provider, ad_id, watched_at) VALUES ($1, $2, $3, $4)`,
		userID, provider, adID, now,
	)
	if err != nil {
		return fmt.Errorf("insert watch event: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, type, amount, description) VALUES ($1, $2, $3, $4)`,
		userID, string(model.TransactionEarn), amountTenths, description,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1`,
		userID, amountTenths,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateRedemption списывает баллы за конвертацию в эфирное время или
// трафик. Блокировка строки пользователя сериализует списания: проверка
// достаточности баланса и само списание атомарны, отрицательный баланс
// невозможен.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID int64, amountTenths int64, description string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.createRedemption(ctx, userID, amountTenths, description)
	})
}

func (r *PostgresRepository) createRedemption(ctx context.Context, userID int64, amountTenths int64, description string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	if amountTenths > balance {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, type, amount, description) VALUES ($1, $2, $3, $4)`,
		userID, string(model.TransactionSpend), amountTenths, description,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1`,
		userID, amountTenths,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateBonus зачисляет административный бонус тем же атомарным путём,
// что и заработок: запись в журнал и баланс меняются вместе.
func (r *PostgresRepository) CreateBonus(ctx context.Context, userID int64, amountTenths int64, description string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, type, amount, description) VALUES ($1, $2, $3, $4)`,
			userID, string(model.TransactionBonus), amountTenths, description,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1`,
			userID, amountTenths,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetBalance возвращает текущий баланс и агрегаты журнала в десятых долях MIGP.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, int64, int64, error) {
	var current int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, 0, ErrUserNotFound
		}
		return 0, 0, 0, fmt.Errorf("select balance: %w", err)
	}

	var earned int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND type IN ($2, $3)`,
		userID, string(model.TransactionEarn), string(model.TransactionBonus),
	).Scan(&earned)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum earnings: %w", err)
	}

	var spent int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND type = $2`,
		userID, string(model.TransactionSpend),
	).Scan(&spent)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum withdrawals: %w", err)
	}

	return current, earned, spent, nil
}

// GetTransactionsByUser возвращает последние операции пользователя.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, amount, description, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t            model.Transaction
			txType       string
			amountTenths int64
			description  *string
		)
		if err := rows.Scan(&t.ID, &txType, &amountTenths, &description, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		t.Type = model.TransactionType(txType)
		t.Amount = float64(amountTenths) / 10
		if description != nil {
			t.Description = *description
		}

		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// EarnDays возвращает множество локальных календарных дней начиная с from,
// в которые у пользователя была хотя бы одна earn-операция. Используется
// калькулятором наград для бонусов за первый просмотр дня и за серию.
func (r *PostgresRepository) EarnDays(ctx context.Context, userID int64, from time.Time) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT created_at
		 FROM transactions
		 WHERE user_id = $1 AND type = $2 AND created_at >= $3`,
		userID, string(model.TransactionEarn), from,
	)
	if err != nil {
		return nil, fmt.Errorf("select earn days: %w", err)
	}
	defer rows.Close()

	days := make(map[string]bool)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan earn day: %w", err)
		}
		days[ts.Local().Format("2006-01-02")] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return days, nil
}

// RecordImpression увеличивает счётчик показов провайдера.
func (r *PostgresRepository) RecordImpression(ctx context.Context, provider, adID string, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO provider_stats (provider, impressions, completions) VALUES ($1, 1, 0)
		 ON CONFLICT (provider) DO UPDATE SET impressions = provider_stats.impressions + 1`,
		provider,
	)
	if err != nil {
		return fmt.Errorf("record impression: %w", err)
	}
	return nil
}

// RecordCompletion увеличивает счётчик досмотров провайдера.
func (r *PostgresRepository) RecordCompletion(ctx context.Context, provider, adID string, userID int64, watchTime int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO provider_stats (provider, impressions, completions) VALUES ($1, 0, 1)
		 ON CONFLICT (provider) DO UPDATE SET completions = provider_stats.completions + 1`,
		provider,
	)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

// GetProviderStats возвращает счётчики по всем провайдерам.
func (r *PostgresRepository) GetProviderStats(ctx context.Context) ([]model.ProviderStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT provider, impressions, completions FROM provider_stats ORDER BY provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("select provider stats: %w", err)
	}
	defer rows.Close()

	var res []model.ProviderStats
	for rows.Next() {
		var s model.ProviderStats
		if err := rows.Scan(&s.Provider, &s.Impressions, &s.Completions); err != nil {
			return nil, fmt.Errorf("scan provider stats: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// PurgeWatchEvents удаляет просмотры старше указанного момента. Кулдаун
// смотрит только в пределах окна, поэтому старая история не нужна.
func (r *PostgresRepository) PurgeWatchEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM watch_events WHERE watched_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("purge watch events: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
