package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"tradeloop/internal/pkg/errs"
)

const defaultResearchTimeout = 10 * time.Minute

// HTTPSource POST 请求研究服务。响应可以是 {"plan_id","plan"} 包装，
// 也可以直接是计划文本；不做自动重试，失败交给熔断器。
type HTTPSource struct {
	client *resty.Client
	url    string
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultResearchTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &HTTPSource{client: client, url: strings.TrimSpace(url)}
}

func (s *HTTPSource) Fetch(ctx context.Context, req Request) (Result, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(s.url)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindExternalService, "research", req.Symbol, err)
	}
	if resp.IsError() {
		return Result{}, errs.New(errs.KindExternalService, "research", req.Symbol,
			fmt.Sprintf("status=%d body=%s", resp.StatusCode(), truncate(resp.String(), 200)))
	}
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return Result{}, errs.New(errs.KindExternalService, "research", req.Symbol, "empty response")
	}
	res := Result{Text: body}
	if gjson.Valid(body) {
		root := gjson.Parse(body)
		res.PlanID = root.Get("plan_id").String()
		if plan := root.Get("plan"); plan.Exists() {
			if plan.Type == gjson.String {
				res.Text = plan.String()
			} else {
				res.Text = plan.Raw
			}
		}
	}
	if res.PlanID == "" {
		res.PlanID = resp.Header().Get("X-Plan-Id")
	}
	if res.PlanID == "" {
		res.PlanID = uuid.NewString()
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
