package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore реализует ChunkStore для базы данных MariaDB/MySQL.
// Блобы лежат в таблице chunk_blobs, ключ - ChunkKey.
type MariaStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMariaStore создает хранилище чанков в MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaStore(dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store, err := NewMariaStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMariaStoreWithDB использует уже открытое соединение (тесты, общий пул)
func NewMariaStoreWithDB(db *sql.DB) (*MariaStore, error) {
	store := &MariaStore{db: db}
	if err := store.createTable(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return store, nil
}

// createTable создает таблицу chunk_blobs, если она не существует.
func (s *MariaStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS chunk_blobs (
			chunk_key  VARCHAR(255) PRIMARY KEY,
			data       MEDIUMBLOB   NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы chunk_blobs: %w", err)
	}
	return nil
}

func (s *MariaStore) ready(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Load загружает блоб чанка
func (s *MariaStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM chunk_blobs WHERE chunk_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки чанка %s: %w", key, err)
	}
	return blob, nil
}

// Store сохраняет блоб через INSERT ... ON DUPLICATE KEY UPDATE
func (s *MariaStore) Store(ctx context.Context, key string, blob []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return err
	}

	query := `
		INSERT INTO chunk_blobs (chunk_key, data)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			data = VALUES(data),
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, blob); err != nil {
		return fmt.Errorf("ошибка сохранения чанка %s: %w", key, err)
	}
	return nil
}

// Delete удаляет блоб; отсутствие строки ошибкой не считается
func (s *MariaStore) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_blobs WHERE chunk_key = ?`, key); err != nil {
		return fmt.Errorf("ошибка удаления чанка %s: %w", key, err)
	}
	return nil
}

// Keys возвращает отсортированные ключи с префиксом
func (s *MariaStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_key FROM chunk_blobs WHERE chunk_key LIKE ? ESCAPE '\\' ORDER BY chunk_key`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключей: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close закрывает соединение с базой данных.
func (s *MariaStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// likePrefix экранирует спецсимволы LIKE и добавляет '%'
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
