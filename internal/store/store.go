package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/ids"
	"chatsync/internal/models"
	"chatsync/internal/service"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the sqlite-backed message, receipt and block store. It
// implements service.MessageStore, service.ReceiptStore and service.Policy.
type SQLiteStore struct {
	db        *sql.DB
	encryptor *encryptor
	caps      capabilities
}

func New(cfg models.StoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" || cfg.Path[0] == '\x00' {
		return nil, fmt.Errorf("invalid store path")
	}

	file, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create store file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close store file: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping store: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := newEncryptor(cfg.EncryptionEnabled)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &SQLiteStore{db: db, encryptor: encryptor}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert persists a message row and returns the durable form. A temp or
// missing id is replaced with a freshly minted server id; the caller's temp
// id never reaches disk.
func (s *SQLiteStore) Insert(ctx context.Context, row models.MessageRow) (*models.MessageRow, error) {
	if row.ConversationID == "" || row.SenderID == "" {
		return nil, apperrors.NewValidationError("row", "conversation id and sender id are required")
	}

	stored := row
	if stored.ID == "" || ids.IsTemp(stored.ID) {
		stored.ID = ids.NewClientID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	body, err := s.encryptor.Encrypt(string(stored.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt body: %w", err)
	}
	attachment, err := s.encryptor.Encrypt(stored.AttachmentURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt attachment path: %w", err)
	}

	err = retryableOperation(ctx, "insert message", func() error {
		_, execErr := s.db.ExecContext(ctx, insertMessageQuery,
			stored.ID, stored.ConversationID, stored.SenderID, stored.CreatedAt, body, attachment)
		return execErr
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// Update applies a partial edit to a stored message's body and returns the
// updated row.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch models.MessagePatch) (*models.MessageRow, error) {
	row, err := s.selectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	body := models.ParseBody(row.Body)
	if patch.Text != nil {
		body.Text = *patch.Text
	}
	if patch.EditedAt != nil {
		body.EditedAt = patch.EditedAt
	}
	if patch.Deleted != nil {
		body.Deleted = *patch.Deleted
	}
	if patch.DeletedAt != nil {
		body.DeletedAt = patch.DeletedAt
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt body: %w", err)
	}

	err = retryableOperation(ctx, "update message", func() error {
		result, execErr := s.db.ExecContext(ctx, updateMessageBodyQuery, encrypted, id)
		if execErr != nil {
			return execErr
		}
		affected, execErr := result.RowsAffected()
		if execErr != nil {
			return execErr
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	row.Body = raw
	return row, nil
}

// Select returns the newest page of a conversation in ascending order. The
// optional cursor selects messages strictly older than (createdAt, id).
func (s *SQLiteStore) Select(ctx context.Context, conversationID string, p service.Pagination) ([]models.MessageRow, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 1
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	var rows *sql.Rows
	err := retryableOperation(ctx, "select messages", func() error {
		var queryErr error
		if p.Before != nil {
			rows, queryErr = s.db.QueryContext(ctx, selectMessagesPageBeforeQuery,
				conversationID, p.Before.CreatedAt, p.Before.CreatedAt, p.Before.ID, limit)
		} else {
			rows, queryErr = s.db.QueryContext(ctx, selectMessagesPageQuery, conversationID, limit)
		}
		return queryErr
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.MessageRow
	for rows.Next() {
		row, scanErr := s.scanMessage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first; callers want ascending.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) selectByID(ctx context.Context, id string) (*models.MessageRow, error) {
	var row models.MessageRow
	err := retryableOperation(ctx, "select message", func() error {
		return s.scanMessageRow(s.db.QueryRowContext(ctx, selectMessageByIDQuery, id), &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanMessage(scanner rowScanner) (models.MessageRow, error) {
	var row models.MessageRow
	if err := s.scanMessageRow(scanner, &row); err != nil {
		return models.MessageRow{}, err
	}
	return row, nil
}

func (s *SQLiteStore) scanMessageRow(scanner rowScanner, row *models.MessageRow) error {
	var body string
	var attachment sql.NullString
	if err := scanner.Scan(&row.ID, &row.ConversationID, &row.SenderID, &row.CreatedAt, &body, &attachment); err != nil {
		return err
	}

	decrypted, err := s.encryptor.Decrypt(body)
	if err != nil {
		return fmt.Errorf("failed to decrypt body: %w", err)
	}
	row.Body = json.RawMessage(decrypted)

	if attachment.Valid {
		row.AttachmentURL, err = s.encryptor.Decrypt(attachment.String)
		if err != nil {
			return fmt.Errorf("failed to decrypt attachment path: %w", err)
		}
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return nil
}
