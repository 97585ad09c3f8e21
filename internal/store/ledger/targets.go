package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/store/model"
)

func (s *Store) UpsertMonitoringTarget(ctx context.Context, t MonitoringTarget) error {
	t.Symbol = symbol.Normalize(t.Symbol)
	if t.Symbol == "" {
		return fmt.Errorf("upsert monitoring target: symbol is required")
	}
	row := model.MonitoringTargetModel{
		Symbol:     t.Symbol,
		Decision:   string(t.Decision),
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		UpdatedAt:  s.now(),
	}
	if len(t.MonitoringPrices) > 0 {
		raw, err := json.Marshal(t.MonitoringPrices)
		if err != nil {
			return fmt.Errorf("upsert monitoring target %s: %w", t.Symbol, err)
		}
		row.MonitoringPrices = datatypes.JSON(raw)
	}
	return s.write(ctx, "upsert_monitoring_target", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
}

func (s *Store) GetMonitoringTargets(ctx context.Context) ([]MonitoringTarget, error) {
	var rows []model.MonitoringTargetModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, readErr("monitoring_targets", err)
	}
	out := make([]MonitoringTarget, 0, len(rows))
	for _, row := range rows {
		out = append(out, targetFromModel(row))
	}
	return out, nil
}

// GetAlertState 未记录过的 symbol 返回 nil, nil。
func (s *Store) GetAlertState(ctx context.Context, sym string) (*AlertState, error) {
	sym = symbol.Normalize(sym)
	var row model.AlertStateModel
	err := s.db.WithContext(ctx).Where("symbol = ?", sym).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, readErr("alert_state", err)
	}
	return &AlertState{
		Symbol:        row.Symbol,
		LastTriggerAt: row.LastTriggerAt.UTC(),
		LastReason:    row.LastReason,
		LastPrice:     row.LastPrice,
	}, nil
}

func (s *Store) SetAlertState(ctx context.Context, st AlertState) error {
	st.Symbol = symbol.Normalize(st.Symbol)
	if st.Symbol == "" {
		return fmt.Errorf("set alert state: symbol is required")
	}
	if st.LastTriggerAt.IsZero() {
		st.LastTriggerAt = s.now()
	}
	row := model.AlertStateModel{
		Symbol:        st.Symbol,
		LastTriggerAt: st.LastTriggerAt.UTC(),
		LastReason:    st.LastReason,
		LastPrice:     st.LastPrice,
	}
	return s.write(ctx, "set_alert_state", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
}
