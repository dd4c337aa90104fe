package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            SERIAL PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			avatar        TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			is_online     BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS chats (
			id              SERIAL PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL DEFAULT 'private',
			avatar          TEXT NOT NULL DEFAULT '',
			created_by      INTEGER NOT NULL REFERENCES users(id),
			last_message_id BIGINT,
			last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (chat_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			chat_id    INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id  INTEGER NOT NULL REFERENCES users(id),
			body       TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT 'text',
			deleted    BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at, id);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		);`

	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// User repository

func (db *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, email, avatar, is_online, last_seen, created_at`

	user := &models.User{PasswordHash: passwordHash}
	err := db.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.Avatar, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, username, email, avatar, password_hash, is_online, last_seen, created_at
		FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.Avatar, &user.PasswordHash,
		&user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `
		SELECT id, username, email, avatar, is_online, last_seen, created_at
		FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.Avatar, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return user, nil
}

func (db *PostgresDB) GetUsersByIDs(ctx context.Context, ids []int) ([]*models.User, error) {
	query := `
		SELECT id, username, email, avatar, is_online, last_seen, created_at
		FROM users WHERE id = ANY($1) ORDER BY username`

	rows, err := db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (db *PostgresDB) SearchUsers(ctx context.Context, search string, excludeID int) ([]*models.User, error) {
	query := `
		SELECT id, username, email, avatar, is_online, last_seen, created_at
		FROM users
		WHERE id != $1 AND (username ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY username LIMIT 50`

	rows, err := db.pool.Query(ctx, query, excludeID, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (db *PostgresDB) UpdateProfile(ctx context.Context, id int, username, avatar string) (*models.User, error) {
	query := `
		UPDATE users
		SET username = COALESCE(NULLIF($2, ''), username),
		    avatar   = COALESCE(NULLIF($3, ''), avatar)
		WHERE id = $1
		RETURNING id, username, email, avatar, is_online, last_seen, created_at`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id, username, avatar).Scan(
		&user.ID, &user.Username, &user.Email, &user.Avatar, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return user, nil
}

func (db *PostgresDB) SetOnline(ctx context.Context, id int, online bool, lastSeen time.Time) error {
	query := `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, id, online, lastSeen)
	return err
}

// Chat repository

func (db *PostgresDB) CreateChat(ctx context.Context, name, chatType string, createdBy int, participantIDs []int) (*models.Chat, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chats (name, type, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, name, type, avatar, created_by, last_message_at, created_at`

	chat := &models.Chat{}
	err = tx.QueryRow(ctx, query, name, chatType, createdBy).Scan(
		&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy, &chat.LastMessageAt, &chat.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	for _, userID := range participantIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			chat.ID, userID); err != nil {
			return nil, fmt.Errorf("failed to add participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit chat: %w", err)
	}
	return chat, nil
}

func (db *PostgresDB) GetChatByID(ctx context.Context, id int) (*models.Chat, error) {
	query := `
		SELECT id, name, type, avatar, created_by, last_message_id, last_message_at, created_at
		FROM chats WHERE id = $1`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy,
		&chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return chat, nil
}

func (db *PostgresDB) FindPrivateChat(ctx context.Context, userA, userB int) (*models.Chat, error) {
	query := `
		SELECT c.id, c.name, c.type, c.avatar, c.created_by, c.last_message_id, c.last_message_at, c.created_at
		FROM chats c
		WHERE c.type = 'private'
		  AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		  AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)
		LIMIT 1`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, userA, userB).Scan(
		&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy,
		&chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return chat, nil
}

func (db *PostgresDB) ListUserChats(ctx context.Context, userID int) ([]*models.Chat, error) {
	query := `
		SELECT c.id, c.name, c.type, c.avatar, c.created_by, c.last_message_id, c.last_message_at, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.last_message_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat := &models.Chat{}
		if err := rows.Scan(
			&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy,
			&chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt,
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (db *PostgresDB) ListUserChatIDs(ctx context.Context, userID int) ([]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT chat_id FROM chat_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDB) ListParticipantIDs(ctx context.Context, chatID int) ([]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT user_id FROM chat_participants WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// Distinguish an absent chat from an empty one.
		var exists bool
		if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
	}
	return ids, nil
}

func (db *PostgresDB) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&ok)
	return ok, err
}

func (db *PostgresDB) AddParticipant(ctx context.Context, chatID, userID int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		chatID, userID)
	return err
}

func (db *PostgresDB) UpdateChat(ctx context.Context, id int, name, avatar string) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET name   = COALESCE(NULLIF($2, ''), name),
		    avatar = COALESCE(NULLIF($3, ''), avatar)
		WHERE id = $1
		RETURNING id, name, type, avatar, created_by, last_message_id, last_message_at, created_at`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, id, name, avatar).Scan(
		&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy,
		&chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return chat, nil
}

// DeleteChat removes the chat row; participants, messages and read
// entries go with it through the cascading foreign keys.
func (db *PostgresDB) DeleteChat(ctx context.Context, id int) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) SearchUserChats(ctx context.Context, userID int, query string) ([]*models.Chat, error) {
	sql := `
		SELECT c.id, c.name, c.type, c.avatar, c.created_by, c.last_message_id, c.last_message_at, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1 AND c.name ILIKE '%' || $2 || '%'
		ORDER BY c.last_message_at DESC LIMIT 20`

	rows, err := db.pool.Query(ctx, sql, userID, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat := &models.Chat{}
		if err := rows.Scan(
			&chat.ID, &chat.Name, &chat.Type, &chat.Avatar, &chat.CreatedBy,
			&chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt,
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (db *PostgresDB) UpdateLastMessage(ctx context.Context, chatID int, messageID int64, at time.Time) error {
	query := `UPDATE chats SET last_message_id = $2, last_message_at = $3 WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, chatID, messageID, at)
	return err
}

// Message repository

func (db *PostgresDB) CreateMessage(ctx context.Context, chatID, senderID int, body, msgType string) (*models.Message, error) {
	query := `
		INSERT INTO messages (chat_id, sender_id, body, type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, chat_id, sender_id, body, type, deleted, deleted_at, created_at`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, chatID, senderID, body, msgType).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Body, &msg.Type, &msg.Deleted, &msg.DeletedAt, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

func (db *PostgresDB) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, body, type, deleted, deleted_at, created_at
		FROM messages WHERE id = $1`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Body, &msg.Type, &msg.Deleted, &msg.DeletedAt, &msg.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return msg, nil
}

func (db *PostgresDB) UpdateMessageBody(ctx context.Context, id int64, body string) error {
	result, err := db.pool.Exec(ctx, `UPDATE messages SET body = $2 WHERE id = $1 AND NOT deleted`, id, body)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE messages SET deleted = TRUE, deleted_at = $2 WHERE id = $1 AND NOT deleted`, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns one page ordered oldest first, deleted rows
// excluded, with read receipts attached. Pages are counted from the
// newest message backwards. The second return value is the total count.
func (db *PostgresDB) ListMessages(ctx context.Context, chatID, page, limit int) ([]*models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND NOT deleted`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, chat_id, sender_id, body, type, deleted, deleted_at, created_at
		FROM (
			SELECT * FROM messages
			WHERE chat_id = $1 AND NOT deleted
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		) page
		ORDER BY created_at ASC, id ASC`

	rows, err := db.pool.Query(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Body, &msg.Type, &msg.Deleted, &msg.DeletedAt, &msg.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := db.attachReadReceipts(ctx, messages); err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (db *PostgresDB) MarkRead(ctx context.Context, messageID int64, readerID int, at time.Time) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, readerID, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (db *PostgresDB) ListUnreadIDs(ctx context.Context, chatID, readerID int) ([]int64, error) {
	query := `
		SELECT m.id FROM messages m
		WHERE m.chat_id = $1 AND NOT m.deleted
		  AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)
		ORDER BY m.created_at ASC, m.id ASC`

	rows, err := db.pool.Query(ctx, query, chatID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDB) CountUnread(ctx context.Context, chatID, readerID int) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages m
		WHERE m.chat_id = $1 AND NOT m.deleted AND m.sender_id != $2
		  AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)`

	var n int
	err := db.pool.QueryRow(ctx, query, chatID, readerID).Scan(&n)
	return n, err
}

func (db *PostgresDB) attachReadReceipts(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]int64, len(messages))
	byID := make(map[int64]*models.Message, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
		byID[msg.ID] = msg
	}

	rows, err := db.pool.Query(ctx,
		`SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var receipt models.ReadReceipt
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.ReadAt); err != nil {
			return err
		}
		if msg := byID[messageID]; msg != nil {
			msg.ReadBy = append(msg.ReadBy, receipt)
		}
	}
	return rows.Err()
}

func scanUsers(rows pgx.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(
			&user.ID, &user.Username, &user.Email, &user.Avatar, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
