package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"tradeloop/internal/decision"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/store/model"
)

// DefaultKeep 是 PruneRecent 的默认保留条数。
const DefaultKeep = 100

// laterClose 判断 c 是否是 r 之后的平仓记录；同一时间戳按 id 先后。
const laterClose = `EXISTS (
	SELECT 1 FROM trader_rounds c
	WHERE c.asset = r.asset
	  AND c.decision IN ('CLOSE_LONG', 'CLOSE_SHORT')
	  AND (c.created_at > r.created_at OR (c.created_at = r.created_at AND c.id > r.id))
)`

// AppendRound 插入一行，回填 ID 与 CreatedAt。
func (s *Store) AppendRound(ctx context.Context, r *Round) error {
	if r == nil {
		return fmt.Errorf("append round: nil round")
	}
	r.Asset = symbol.Normalize(r.Asset)
	if r.Asset == "" {
		return fmt.Errorf("append round: asset is required")
	}
	if _, ok := decision.ParseKind(string(r.Decision)); !ok {
		return fmt.Errorf("append round %s: invalid decision %q", r.Asset, r.Decision)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.IsOpenEntry = r.Decision.IsEntry()
	row, err := roundToModel(*r)
	if err != nil {
		return fmt.Errorf("append round %s: %w", r.Asset, err)
	}
	err = s.write(ctx, "append_round", func(tx *gorm.DB) error {
		row.ID = 0
		return tx.Create(&row).Error
	})
	if err != nil {
		return err
	}
	r.ID = row.ID
	return nil
}

// GetRecentRounds 按 created_at DESC, id DESC 返回最近 limit 行。
func (s *Store) GetRecentRounds(ctx context.Context, limit int) ([]Round, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []model.TraderRoundModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, readErr("recent_rounds", err)
	}
	out := make([]Round, 0, len(rows))
	for _, row := range rows {
		out = append(out, roundFromModel(row))
	}
	return out, nil
}

// GetLastRoundTime 返回最近一行的时间；账本为空时 ok=false。
func (s *Store) GetLastRoundTime(ctx context.Context) (time.Time, bool, error) {
	rounds, err := s.GetRecentRounds(ctx, 1)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rounds) == 0 {
		return time.Time{}, false, nil
	}
	return rounds[0].CreatedAt, true, nil
}

// GetOpenEntry 返回该资产最近一笔之后没有平仓记录的 LONG/SHORT。
func (s *Store) GetOpenEntry(ctx context.Context, asset string) (*Round, error) {
	return s.openEntry(ctx, asset, "DESC")
}

// GetFirstOpenEntrySinceLastClose 返回最近一次平仓之后最早的一笔开仓，
// 用于把平仓复盘绑定到真正对应的那次入场。
func (s *Store) GetFirstOpenEntrySinceLastClose(ctx context.Context, asset string) (*Round, error) {
	return s.openEntry(ctx, asset, "ASC")
}

func (s *Store) openEntry(ctx context.Context, asset, dir string) (*Round, error) {
	asset = symbol.Normalize(asset)
	if asset == "" {
		return nil, nil
	}
	query := `SELECT r.* FROM trader_rounds r
WHERE r.asset = ? AND r.decision IN ('LONG', 'SHORT') AND NOT ` + laterClose + `
ORDER BY r.created_at ` + dir + `, r.id ` + dir + ` LIMIT 1`
	var rows []model.TraderRoundModel
	if err := s.db.WithContext(ctx).Raw(query, asset).Scan(&rows).Error; err != nil {
		return nil, readErr("open_entry", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := roundFromModel(rows[0])
	return &r, nil
}

// OpenEntries 返回所有仍未平仓的资产（每个资产最近一笔），供对账使用。
func (s *Store) OpenEntries(ctx context.Context) ([]Round, error) {
	var assets []string
	err := s.db.WithContext(ctx).Model(&model.TraderRoundModel{}).
		Where("decision IN ?", []string{string(decision.KindLong), string(decision.KindShort)}).
		Distinct().Pluck("asset", &assets).Error
	if err != nil {
		return nil, readErr("open_entries", err)
	}
	var out []Round
	for _, asset := range assets {
		r, err := s.GetOpenEntry(ctx, asset)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// NextRoundID 返回 max(round_id)+1，同一周期的多行共用一个 round_id。
func (s *Store) NextRoundID(ctx context.Context) (int64, error) {
	var maxID int64
	err := s.db.WithContext(ctx).Model(&model.TraderRoundModel{}).
		Select("COALESCE(MAX(round_id), 0)").Scan(&maxID).Error
	if err != nil {
		return 0, readErr("next_round_id", err)
	}
	return maxID + 1, nil
}

// PruneRecent 只保留最近 keep 行；被删的总是最旧的行，开仓/平仓匹配不受影响。
func (s *Store) PruneRecent(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	var deleted int64
	err := s.write(ctx, "prune_recent", func(tx *gorm.DB) error {
		res := tx.Exec(strings.TrimSpace(`
DELETE FROM trader_rounds WHERE id NOT IN (
	SELECT id FROM trader_rounds ORDER BY created_at DESC, id DESC LIMIT ?
)`), keep)
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
