package policy

import (
	"context"
	"fmt"
	"sync"

	"time"

	"github.com/bytedance/sonic"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Store persists guild scan policies in a local SQLite database.
// Policies are created lazily with defaults on first read and mutated
// only through the validated setters.
type Store struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	logger *zap.Logger
}

// NewStore opens (and if needed creates) the policy database at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate|sqlite.OpenReadWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy database: %w", err)
	}

	err = sqlitex.Execute(conn, `
		CREATE TABLE IF NOT EXISTS guild_policies (
			guild_id          TEXT PRIMARY KEY,
			threshold         INTEGER NOT NULL,
			comparator        TEXT NOT NULL,
			timeout_ms        INTEGER NOT NULL,
			escalate_to_ban   INTEGER NOT NULL DEFAULT 0,
			excluded_role_ids TEXT NOT NULL DEFAULT '[]',
			log_channel_id    TEXT
		)
	`, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create policy table: %w", err)
	}

	return &Store{
		conn:   conn,
		logger: logger.Named("policy_store"),
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.Close()
}

// Get returns the policy for a guild, inserting defaults on first access.
func (s *Store) Get(ctx context.Context, guildID snowflake.ID) (*GuildPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, found, err := s.selectPolicy(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if found {
		return policy, nil
	}

	// First access for this guild
	policy = &GuildPolicy{
		GuildID:    guildID,
		Threshold:  DefaultThreshold,
		Comparator: DefaultComparator,
		Timeout:    DefaultTimeout,
	}

	err = s.execute(ctx, `
		INSERT INTO guild_policies (guild_id, threshold, comparator, timeout_ms, escalate_to_ban, excluded_role_ids, log_channel_id)
		VALUES (?, ?, ?, ?, 0, '[]', NULL)
	`, []any{guildID.String(), policy.Threshold, string(policy.Comparator), policy.Timeout.Milliseconds()}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to insert default policy: %w", err)
	}

	s.logger.Debug("Created default policy for guild", zap.Uint64("guild_id", uint64(guildID)))

	return policy, nil
}

// SetThreshold updates the trigger threshold and comparator for a guild.
func (s *Store) SetThreshold(ctx context.Context, guildID snowflake.ID, threshold int, comparator Comparator) error {
	if threshold < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}

	if !comparator.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidComparator, comparator)
	}

	return s.update(ctx, guildID, func(p *GuildPolicy) {
		p.Threshold = threshold
		p.Comparator = comparator
	})
}

// SetTimeout updates the sanction timeout duration for a guild.
// Durations beyond the platform cap are rejected here, never truncated later.
func (s *Store) SetTimeout(ctx context.Context, guildID snowflake.ID, timeout time.Duration) error {
	if timeout <= 0 || timeout > MaxTimeout {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	return s.update(ctx, guildID, func(p *GuildPolicy) {
		p.Timeout = timeout
	})
}

// SetEscalation toggles banning instead of timing out on trigger.
func (s *Store) SetEscalation(ctx context.Context, guildID snowflake.ID, ban bool) error {
	return s.update(ctx, guildID, func(p *GuildPolicy) {
		p.EscalateToBan = ban
	})
}

// AddExcludedRole adds a role to the guild's exclusion set.
func (s *Store) AddExcludedRole(ctx context.Context, guildID, roleID snowflake.ID) error {
	return s.update(ctx, guildID, func(p *GuildPolicy) {
		for _, id := range p.ExcludedRoleIDs {
			if id == roleID {
				return
			}
		}
		p.ExcludedRoleIDs = append(p.ExcludedRoleIDs, roleID)
	})
}

// RemoveExcludedRole removes a role from the guild's exclusion set.
func (s *Store) RemoveExcludedRole(ctx context.Context, guildID, roleID snowflake.ID) error {
	return s.update(ctx, guildID, func(p *GuildPolicy) {
		for i, id := range p.ExcludedRoleIDs {
			if id == roleID {
				p.ExcludedRoleIDs = append(p.ExcludedRoleIDs[:i], p.ExcludedRoleIDs[i+1:]...)
				return
			}
		}
	})
}

// SetLogDestination updates the audit log channel for a guild.
// A nil channel ID clears the destination.
func (s *Store) SetLogDestination(ctx context.Context, guildID snowflake.ID, channelID *snowflake.ID) error {
	return s.update(ctx, guildID, func(p *GuildPolicy) {
		p.LogChannelID = channelID
	})
}

// update applies a mutation to the stored policy under the store lock,
// creating the default row first if the guild has none.
func (s *Store) update(ctx context.Context, guildID snowflake.ID, mutate func(*GuildPolicy)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, found, err := s.selectPolicy(ctx, guildID)
	if err != nil {
		return err
	}

	if !found {
		policy = &GuildPolicy{
			GuildID:    guildID,
			Threshold:  DefaultThreshold,
			Comparator: DefaultComparator,
			Timeout:    DefaultTimeout,
		}
	}

	mutate(policy)

	roleJSON, err := marshalRoleIDs(policy.ExcludedRoleIDs)
	if err != nil {
		return err
	}

	var logChannel any
	if policy.LogChannelID != nil {
		logChannel = policy.LogChannelID.String()
	}

	err = s.execute(ctx, `
		INSERT INTO guild_policies (guild_id, threshold, comparator, timeout_ms, escalate_to_ban, excluded_role_ids, log_channel_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			threshold = excluded.threshold,
			comparator = excluded.comparator,
			timeout_ms = excluded.timeout_ms,
			escalate_to_ban = excluded.escalate_to_ban,
			excluded_role_ids = excluded.excluded_role_ids,
			log_channel_id = excluded.log_channel_id
	`, []any{
		guildID.String(),
		policy.Threshold,
		string(policy.Comparator),
		policy.Timeout.Milliseconds(),
		boolToInt(policy.EscalateToBan),
		roleJSON,
		logChannel,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	return nil
}

// selectPolicy reads a single policy row. Callers must hold the store lock.
func (s *Store) selectPolicy(ctx context.Context, guildID snowflake.ID) (*GuildPolicy, bool, error) {
	var (
		policy *GuildPolicy
		rowErr error
	)

	err := s.execute(ctx, `
		SELECT threshold, comparator, timeout_ms, escalate_to_ban, excluded_role_ids, log_channel_id
		FROM guild_policies WHERE guild_id = ?
	`, []any{guildID.String()}, func(stmt *sqlite.Stmt) error {
		p := &GuildPolicy{
			GuildID:       guildID,
			Threshold:     int(stmt.ColumnInt64(0)),
			Comparator:    Comparator(stmt.ColumnText(1)),
			Timeout:       time.Duration(stmt.ColumnInt64(2)) * time.Millisecond,
			EscalateToBan: stmt.ColumnInt64(3) != 0,
		}

		p.ExcludedRoleIDs, rowErr = unmarshalRoleIDs(stmt.ColumnText(4))
		if rowErr != nil {
			return rowErr
		}

		if raw := stmt.ColumnText(5); raw != "" {
			id, parseErr := snowflake.Parse(raw)
			if parseErr != nil {
				return fmt.Errorf("invalid log channel id %q: %w", raw, parseErr)
			}
			p.LogChannelID = &id
		}

		policy = p

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read policy: %w", err)
	}

	return policy, policy != nil, nil
}

// execute runs a statement with the context wired to the connection interrupt.
func (s *Store) execute(ctx context.Context, query string, args []any, resultFunc func(*sqlite.Stmt) error) error {
	oldDone := s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(oldDone)

	return sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: resultFunc,
	})
}

func marshalRoleIDs(roleIDs []snowflake.ID) (string, error) {
	ids := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		ids = append(ids, id.String())
	}

	data, err := sonic.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal excluded roles: %w", err)
	}

	return string(data), nil
}

func unmarshalRoleIDs(raw string) ([]snowflake.ID, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var ids []string
	if err := sonic.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal excluded roles: %w", err)
	}

	roleIDs := make([]snowflake.ID, 0, len(ids))

	for _, raw := range ids {
		id, err := snowflake.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid role id %q: %w", raw, err)
		}

		roleIDs = append(roleIDs, id)
	}

	return roleIDs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
