package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// UpsertCaller inserts a new caller row, or returns the existing row if
// (type, identifier) already exists. It never overwrites an existing row:
// on first sight the caller is inserted, afterwards the row is only read.
func (s *Store) UpsertCaller(ctx context.Context, c *Caller) (*Caller, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO callers (caller_id, type, identifier, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (type, identifier) DO UPDATE SET type = callers.type
		RETURNING caller_id, type, identifier, jwt_token, token_expires_at, is_active, created_at
	`, c.CallerID, string(c.Type), c.Identifier)
	return scanCaller(row)
}

// GetCallerByID loads a caller by its primary key.
func (s *Store) GetCallerByID(ctx context.Context, callerID string) (*Caller, error) {
	row := s.db.QueryRow(ctx, `
		SELECT caller_id, type, identifier, jwt_token, token_expires_at, is_active, created_at
		FROM callers WHERE caller_id = $1
	`, callerID)
	return scanCaller(row)
}

// GetCallerByTypeIdentifier loads a caller by its unique (type, identifier) key.
func (s *Store) GetCallerByTypeIdentifier(ctx context.Context, callerType CallerType, identifier string) (*Caller, error) {
	row := s.db.QueryRow(ctx, `
		SELECT caller_id, type, identifier, jwt_token, token_expires_at, is_active, created_at
		FROM callers WHERE type = $1 AND identifier = $2
	`, string(callerType), identifier)
	return scanCaller(row)
}

// FindCallersByPrefix returns callers of the given type whose identifier
// begins with "{prefix}|" -- used by the anti-spoofing check to
// detect a client-id reused from a different IP.
func (s *Store) FindCallersByPrefix(ctx context.Context, callerType CallerType, prefix string) ([]*Caller, error) {
	rows, err := s.db.Query(ctx, `
		SELECT caller_id, type, identifier, jwt_token, token_expires_at, is_active, created_at
		FROM callers WHERE type = $1 AND identifier LIKE $2
	`, string(callerType), prefix+"|%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Caller
	for rows.Next() {
		c, err := scanCallerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCallerToken stores the token/secret material and expiry for a caller,
// overwriting any prior value (rotation).
func (s *Store) SetCallerToken(ctx context.Context, callerID, jwtToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE callers SET jwt_token = $2, token_expires_at = $3 WHERE caller_id = $1
	`, callerID, jwtToken, expiresAt)
	return err
}

func scanCaller(row pgx.Row) (*Caller, error) {
	var c Caller
	var t string
	if err := row.Scan(&c.CallerID, &t, &c.Identifier, &c.JWTToken, &c.TokenExpiresAt, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Type = CallerType(t)
	return &c, nil
}

func scanCallerRows(rows pgx.Rows) (*Caller, error) {
	var c Caller
	var t string
	if err := rows.Scan(&c.CallerID, &t, &c.Identifier, &c.JWTToken, &c.TokenExpiresAt, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Type = CallerType(t)
	return &c, nil
}

// UpsertAgent inserts a new agent or overwrites every field of an existing
// one with the same id. updated_at is always bumped;
// created_at and status are preserved across an overwrite except for a
// brand-new row, where status starts at StatusActive.
func (s *Store) UpsertAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, name, endpoint, description, intents, tasks, tags, categories,
			location_scope, languages, version, input_schema, meta, caller_id, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'active', now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			endpoint = EXCLUDED.endpoint,
			description = EXCLUDED.description,
			intents = EXCLUDED.intents,
			tasks = EXCLUDED.tasks,
			tags = EXCLUDED.tags,
			categories = EXCLUDED.categories,
			location_scope = EXCLUDED.location_scope,
			languages = EXCLUDED.languages,
			version = EXCLUDED.version,
			input_schema = EXCLUDED.input_schema,
			meta = EXCLUDED.meta,
			caller_id = EXCLUDED.caller_id,
			updated_at = now()
	`, a.ID, a.Name, a.Endpoint, a.Description, a.Intents, a.Tasks, a.Tags, a.Categories,
		a.LocationScope, a.Languages, a.Version, nullableJSON(a.InputSchema), nullableJSON(a.Meta), a.CallerID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_stats (agent_id) VALUES ($1)
		ON CONFLICT (agent_id) DO NOTHING
	`, a.ID)
	return err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

const agentColumns = `id, name, endpoint, description, intents, tasks, tags, categories,
	location_scope, languages, version, input_schema, meta, caller_id, status,
	quarantine_reason, quarantine_at, created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var status string
	if err := row.Scan(&a.ID, &a.Name, &a.Endpoint, &a.Description, &a.Intents, &a.Tasks, &a.Tags, &a.Categories,
		&a.LocationScope, &a.Languages, &a.Version, &a.InputSchema, &a.Meta, &a.CallerID, &status,
		&a.QuarantineReason, &a.QuarantineAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = AgentStatus(status)
	return &a, nil
}

func scanAgentRows(rows pgx.Rows) (*Agent, error) {
	var a Agent
	var status string
	if err := rows.Scan(&a.ID, &a.Name, &a.Endpoint, &a.Description, &a.Intents, &a.Tasks, &a.Tags, &a.Categories,
		&a.LocationScope, &a.Languages, &a.Version, &a.InputSchema, &a.Meta, &a.CallerID, &status,
		&a.QuarantineReason, &a.QuarantineAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = AgentStatus(status)
	return &a, nil
}

// GetAgent loads a single agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// ListAllAgents returns every agent, used as the final fallback tier of the
// search pipeline and as the full scan source for auto-review.
func (s *Store) ListAllAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows pgx.Rows) ([]*Agent, error) {
	var out []*Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SearchByIntentsCategoriesLanguage implements pipeline step 1: set-overlap
// on intents and categories, plus an optional language containment filter.
// Either intents or language may be empty/omitted.
func (s *Store) SearchByIntentsCategoriesLanguage(ctx context.Context, intents, categories []string, language string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE categories && $1`
	args := []any{categories}
	if len(intents) > 0 {
		query += ` AND intents && $2`
		args = append(args, intents)
	}
	if language != "" {
		args = append(args, language)
		query += fmt.Sprintf(` AND $%d = ANY(languages)`, len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// SearchByIntentLanguage implements pipeline step 2: re-query using only
// intent+language, dropping the category filter.
func (s *Store) SearchByIntentLanguage(ctx context.Context, intents []string, language string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE intents && $1`
	args := []any{intents}
	if language != "" {
		args = append(args, language)
		query += fmt.Sprintf(` AND $%d = ANY(languages)`, len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// FuzzySearchByIntent implements pipeline step 3: trigram similarity of the
// requested intent against join(agent.intents, ","), keeping rows with
// similarity >= 0.2, ordered descending, capped at limit.
func (s *Store) FuzzySearchByIntent(ctx context.Context, intent string, limit int) ([]*Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE similarity(array_to_string(intents, ','), $1) >= 0.2
		ORDER BY similarity(array_to_string(intents, ','), $1) DESC
		LIMIT $2
	`, intent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgents(rows)
}

// UpdateAgentStatus transitions an agent's lifecycle status, used by the
// quarantine control loop.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status AgentStatus, reason string, quarantineAt *time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE agents SET status = $2, quarantine_reason = $3, quarantine_at = $4, updated_at = now()
		WHERE id = $1
	`, agentID, string(status), reason, quarantineAt)
	return err
}

// GetAgentStats loads the stats row for an agent. Returns ErrNotFound if no
// row exists (can happen for legacy rows never touched by feedback).
func (s *Store) GetAgentStats(ctx context.Context, agentID string) (*AgentStats, error) {
	row := s.db.QueryRow(ctx, `
		SELECT agent_id, calls_total, calls_success, avg_latency_ms, avg_rating, last_feedback_at
		FROM agent_stats WHERE agent_id = $1
	`, agentID)
	var st AgentStats
	var lastFeedback *time.Time
	if err := row.Scan(&st.AgentID, &st.CallsTotal, &st.CallsSuccess, &st.AvgLatencyMs, &st.AvgRating, &lastFeedback); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastFeedback != nil {
		st.LastFeedbackAt = *lastFeedback
	}
	return &st, nil
}

// RecentFeedbackCount counts feedback rows from consumerID created since
// `since`, used for the global per-consumer rate limit.
func (s *Store) RecentFeedbackCount(ctx context.Context, consumerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM feedback WHERE consumer_id = $1 AND created_at >= $2
	`, consumerID, since).Scan(&n)
	return n, err
}

// PairFeedbackCount counts feedback rows for a (consumer, agent) pair
// created since `since`, used for the spam check.
func (s *Store) PairFeedbackCount(ctx context.Context, consumerID, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM feedback WHERE consumer_id = $1 AND agent_id = $2 AND created_at >= $3
	`, consumerID, agentID, since).Scan(&n)
	return n, err
}

// PairFeedbackTotal counts all-time feedback rows for a (consumer, agent)
// pair, used as `n` in the decreasing-weight formula.
func (s *Store) PairFeedbackTotal(ctx context.Context, consumerID, agentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM feedback WHERE consumer_id = $1 AND agent_id = $2
	`, consumerID, agentID).Scan(&n)
	return n, err
}

// AgentFeedbackTotal counts all feedback rows ever recorded for an agent.
func (s *Store) AgentFeedbackTotal(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM feedback WHERE agent_id = $1`, agentID).Scan(&n)
	return n, err
}

// AgentExtremeRatingCount counts feedback rows for an agent whose rating is
// exactly 0 or 1, used by the rating-pattern fraud check.
func (s *Store) AgentExtremeRatingCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM feedback WHERE agent_id = $1 AND (rating <= 0 OR rating >= 1)
	`, agentID).Scan(&n)
	return n, err
}

// InsertFeedback records an immutable feedback event and returns its id.
func (s *Store) InsertFeedback(ctx context.Context, f *Feedback) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO feedback (agent_id, consumer_id, success, latency_ms, rating)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, f.AgentID, f.ConsumerID, f.Success, f.LatencyMs, f.Rating).Scan(&id)
	return id, err
}

// ApplyFeedbackToStats performs the read-modify-write running-mean update
// for one feedback event, using SELECT ... FOR UPDATE to serialize
// concurrent updates for the same agent.
// It must run after InsertFeedback so any fraud/weight computation that
// depends on pre-insert counts has already happened.
func (s *Store) ApplyFeedbackToStats(ctx context.Context, agentID string, success bool, latencyMs int64, rating, weight float64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var st AgentStats
	var lastFeedback *time.Time
	err = tx.QueryRow(ctx, `
		SELECT agent_id, calls_total, calls_success, avg_latency_ms, avg_rating, last_feedback_at
		FROM agent_stats WHERE agent_id = $1 FOR UPDATE
	`, agentID).Scan(&st.AgentID, &st.CallsTotal, &st.CallsSuccess, &st.AvgLatencyMs, &st.AvgRating, &lastFeedback)

	now := time.Now().UTC()
	if errors.Is(err, pgx.ErrNoRows) {
		successCount := int64(0)
		if success {
			successCount = 1
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO agent_stats (agent_id, calls_total, calls_success, avg_latency_ms, avg_rating, last_feedback_at)
			VALUES ($1, 1, $2, $3, $4, $5)
		`, agentID, successCount, float64(latencyMs), rating*weight, now)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	st.CallsTotal++
	if success {
		st.CallsSuccess++
	}
	st.AvgLatencyMs += (float64(latencyMs) - st.AvgLatencyMs) / float64(st.CallsTotal)
	st.AvgRating += (rating*weight - st.AvgRating) / float64(st.CallsTotal)

	_, err = tx.Exec(ctx, `
		UPDATE agent_stats SET calls_total = $2, calls_success = $3, avg_latency_ms = $4,
			avg_rating = $5, last_feedback_at = $6
		WHERE agent_id = $1
	`, agentID, st.CallsTotal, st.CallsSuccess, st.AvgLatencyMs, st.AvgRating, now)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertFraudDetection appends an immutable anti-fraud log row.
func (s *Store) InsertFraudDetection(ctx context.Context, f *FraudDetection) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fraud_detection (agent_id, consumer_id, fraud_type, severity, details)
		VALUES ($1, $2, $3, $4, $5)
	`, f.AgentID, nullableString(f.ConsumerID), string(f.FraudType), string(f.Severity), nullableJSON(f.Details))
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// AgentFraudCount counts fraud_detection rows logged against an agent,
// the numerator of fraud_percentage.
func (s *Store) AgentFraudCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM fraud_detection WHERE agent_id = $1`, agentID).Scan(&n)
	return n, err
}

// AgentFraudCountByType counts fraud_detection rows of a given type logged
// against an agent, used to compute self_rating_percentage.
func (s *Store) AgentFraudCountByType(ctx context.Context, agentID string, fraudType FraudType) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM fraud_detection WHERE agent_id = $1 AND fraud_type = $2
	`, agentID, string(fraudType)).Scan(&n)
	return n, err
}

// ListFraudDetections returns fraud log rows matching filter, newest first,
// for the CSV report export.
func (s *Store) ListFraudDetections(ctx context.Context, filter FraudLogFilter) ([]*FraudDetection, error) {
	query := `SELECT id, agent_id, consumer_id, fraud_type, severity, details, detected_at FROM fraud_detection WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND detected_at <= $%d", len(args))
	}
	query += " ORDER BY detected_at DESC"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*FraudDetection
	for rows.Next() {
		var f FraudDetection
		var consumerID *string
		var ft, sev string
		if err := rows.Scan(&f.ID, &f.AgentID, &consumerID, &ft, &sev, &f.Details, &f.DetectedAt); err != nil {
			return nil, err
		}
		f.FraudType = FraudType(ft)
		f.Severity = FraudSeverity(sev)
		if consumerID != nil {
			f.ConsumerID = *consumerID
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ListFeedback returns feedback rows matching filter, newest first, for the
// CSV report export.
func (s *Store) ListFeedback(ctx context.Context, filter FeedbackLogFilter) ([]*Feedback, error) {
	query := `SELECT id, agent_id, consumer_id, success, latency_ms, rating, created_at FROM feedback WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.ID, &f.AgentID, &f.ConsumerID, &f.Success, &f.LatencyMs, &f.Rating, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// DeleteFraudDetectionsOlderThan deletes fraud log rows older than cutoff
// and returns how many were removed, implementing the 30-day fraud-log
// retention. Callers that want an archival trail should read the rows with
// ListFraudDetections(before deleting) and hand them to a blob store first
// -- see pkg/archive.
func (s *Store) DeleteFraudDetectionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM fraud_detection WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
