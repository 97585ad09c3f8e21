package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSource 每次 Fetch 都重新读取文件，便于手工修改计划后直接生效。
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type filePlan struct {
	ID        string         `yaml:"id" json:"id,omitempty"`
	Decisions []fileDecision `yaml:"per_asset_decisions" json:"per_asset_decisions"`
}

type fileDecision struct {
	Asset     string         `yaml:"asset" json:"asset"`
	Decision  string         `yaml:"decision" json:"decision"`
	Thesis    string         `yaml:"thesis" json:"thesis,omitempty"`
	Execution map[string]any `yaml:"execution" json:"execution,omitempty"`
	Risk      fileRisk       `yaml:"risk_management" json:"risk_management"`
}

type fileRisk struct {
	StopLoss         any              `yaml:"stop_loss_price" json:"stop_loss_price,omitempty"`
	TakeProfit       any              `yaml:"take_profit_price" json:"take_profit_price,omitempty"`
	MonitoringPrices []map[string]any `yaml:"monitoring_prices" json:"monitoring_prices,omitempty"`
	Invalidations    []string         `yaml:"invalidations" json:"invalidations,omitempty"`
	Monitoring       []string         `yaml:"monitoring" json:"monitoring,omitempty"`
}

func (s *FileSource) Fetch(ctx context.Context, _ Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Result{}, fmt.Errorf("read plan file failed: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(s.path))
	if ext == ".json" {
		id := strings.TrimSuffix(filepath.Base(s.path), ext)
		return Result{PlanID: id, Text: string(raw)}, nil
	}
	var plan filePlan
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return Result{}, fmt.Errorf("parse plan file failed: %w", err)
	}
	text, err := json.Marshal(plan)
	if err != nil {
		return Result{}, fmt.Errorf("encode plan file failed: %w", err)
	}
	id := plan.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(s.path), ext)
	}
	return Result{PlanID: id, Text: string(text)}, nil
}
