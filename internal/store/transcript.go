// transcript.go — 会话历史与 transcript 缓存存储。
//
// transcript_messages 持久化逐条 canonical 消息 (游标分页的数据源);
// transcript_cache 是进行中会话的整体快照, 完成后清除。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

// TranscriptRow transcript_messages 表记录。
type TranscriptRow struct {
	ID        int64           `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"sessionId"`
	Sequence  int64           `db:"sequence" json:"sequence"`
	Kind      string          `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// TranscriptStore 历史消息存储, 同时实现引擎的 Persistence 与 PageLoader。
type TranscriptStore struct{ BaseStore }

// NewTranscriptStore 创建。
func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{NewBaseStore(pool)}
}

const trCols = "id, session_id, sequence, kind, payload, created_at"

// Insert 写入单条历史消息。
func (s *TranscriptStore) Insert(ctx context.Context, sessionID string, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.Insert", "marshal message")
	}
	var seq int64
	if msg.Ordering != nil {
		seq = msg.Ordering.Sequence
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO transcript_messages (session_id, sequence, kind, payload)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, seq, string(msg.Kind), payload)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.Insert", "insert row")
	}
	return nil
}

// LoadPage implements chat.PageLoader: pages walk backward from the newest
// message; offset counts messages already loaded. Returned messages are in
// chronological order within the page.
func (s *TranscriptStore) LoadPage(ctx context.Context, sessionID string, offset, pageSize int) (chat.Page, error) {
	pageSize = util.ClampInt(pageSize, 1, 500)
	if offset < 0 {
		offset = 0
	}

	// 多取一行探测 hasMore
	rows, err := s.pool.Query(ctx,
		"SELECT "+trCols+` FROM transcript_messages
		 WHERE session_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		sessionID, pageSize+1, offset)
	if err != nil {
		return chat.Page{}, apperrors.Wrap(err, "TranscriptStore.LoadPage", "query")
	}
	recs, err := collectRows[TranscriptRow](rows)
	if err != nil {
		return chat.Page{}, apperrors.Wrap(err, "TranscriptStore.LoadPage", "scan")
	}

	hasMore := len(recs) > pageSize
	if hasMore {
		recs = recs[:pageSize]
	}

	msgs := make([]chat.Message, 0, len(recs))
	// DESC 查询结果反转为时间正序
	for i := len(recs) - 1; i >= 0; i-- {
		msg, err := rowToMessage(recs[i])
		if err != nil {
			return chat.Page{}, err
		}
		msgs = append(msgs, msg)
	}
	return chat.Page{Messages: msgs, HasMore: hasMore}, nil
}

func rowToMessage(rec TranscriptRow) (chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return msg, apperrors.Wrapf(err, "TranscriptStore.LoadPage", "unmarshal row %d", rec.ID)
	}
	if msg.Ordering == nil {
		msg.Ordering = &chat.OrderingKey{Sequence: rec.Sequence, RowID: rec.ID}
	} else if msg.Ordering.RowID == 0 {
		msg.Ordering.RowID = rec.ID
	}
	return msg, nil
}

// CountBySession 统计某会话的历史消息总数。
func (s *TranscriptStore) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transcript_messages WHERE session_id=$1", sessionID).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "TranscriptStore.CountBySession", "count")
	}
	return count, nil
}

// ========================================
// chat.Persistence — transcript 缓存与草稿
// ========================================

// SaveTranscript 整体覆写进行中会话的快照。
func (s *TranscriptStore) SaveTranscript(ctx context.Context, sessionID string, msgs []chat.Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.SaveTranscript", "marshal snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO transcript_cache (session_id, payload, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (session_id) DO UPDATE SET payload=$2, updated_at=NOW()`,
		sessionID, payload)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.SaveTranscript", "upsert")
	}
	return nil
}

// LoadTranscript 读取快照; 不存在返回空列表。
func (s *TranscriptStore) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		"SELECT payload FROM transcript_cache WHERE session_id=$1", sessionID).Scan(&payload)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "TranscriptStore.LoadTranscript", "query")
	}
	var msgs []chat.Message
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, apperrors.Wrap(err, "TranscriptStore.LoadTranscript", "unmarshal snapshot")
	}
	return msgs, nil
}

// ClearTranscript 删除快照 (clean completion 后 durable 历史为准)。
func (s *TranscriptStore) ClearTranscript(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM transcript_cache WHERE session_id=$1", sessionID)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.ClearTranscript", "delete")
	}
	return nil
}

// SaveDraft 保存输入草稿。
func (s *TranscriptStore) SaveDraft(ctx context.Context, sessionID, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO drafts (session_id, content, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (session_id) DO UPDATE SET content=$2, updated_at=NOW()`,
		sessionID, text)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.SaveDraft", "upsert")
	}
	return nil
}

// LoadDraft 读取草稿; 不存在返回空串。
func (s *TranscriptStore) LoadDraft(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		"SELECT content FROM drafts WHERE session_id=$1", sessionID).Scan(&content)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", apperrors.Wrap(err, "TranscriptStore.LoadDraft", "query")
	}
	return content, nil
}

// ClearDraft 删除草稿。
func (s *TranscriptStore) ClearDraft(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM drafts WHERE session_id=$1", sessionID)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.ClearDraft", "delete")
	}
	return nil
}
