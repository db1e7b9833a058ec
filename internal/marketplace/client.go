package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Report 报表类型
type Report string

const (
	ReportOrders      Report = "orders"
	ReportSettlements Report = "settlements"
)

var ErrUnknownReport = errors.New("未知报表类型")

// reportPaths 报表到上游路径模板的映射，%s 为 supplier id
var reportPaths = map[Report]string{
	ReportOrders:      "/suppliers/%s/orders",
	ReportSettlements: "/suppliers/%s/settlements",
}

// ReportForPath 以 /settlements 结尾的路径选择结算报表，其余一律为订单
func ReportForPath(path string) Report {
	if strings.HasSuffix(path, "/settlements") {
		return ReportSettlements
	}
	return ReportOrders
}

// Query 已校验的查询参数，原样透传给上游
type Query struct {
	StartDate string
	EndDate   string
	Page      string
	Size      string
}

// Response 上游原始响应
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Options 客户端配置
type Options struct {
	BaseURL    string
	SupplierID string
	APIKey     string
	APISecret  string
	UserAgent  string
	Timeout    time.Duration
	// RPS 为 0 表示不限速
	RPS   float64
	Burst int
}

// Client 报表接口客户端
type Client struct {
	baseURL    string
	supplierID string
	apiKey     string
	apiSecret  string
	userAgent  string
	httpClient *http.Client
	pacer      *rate.Limiter
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		supplierID: opts.SupplierID,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pacer: rate.NewLimiter(limit, burst),
	}
}

// ReportURL 拼接上游地址，参数顺序固定为 startDate, endDate, page, size
func (c *Client) ReportURL(report Report, query Query) (string, error) {
	template, ok := reportPaths[report]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownReport, report)
	}

	builder := &strings.Builder{}
	builder.WriteString(c.baseURL)
	builder.WriteString(fmt.Sprintf(template, url.PathEscape(c.supplierID)))
	builder.WriteString("?startDate=")
	builder.WriteString(url.QueryEscape(query.StartDate))
	builder.WriteString("&endDate=")
	builder.WriteString(url.QueryEscape(query.EndDate))
	builder.WriteString("&page=")
	builder.WriteString(url.QueryEscape(query.Page))
	builder.WriteString("&size=")
	builder.WriteString(url.QueryEscape(query.Size))
	return builder.String(), nil
}

// Fetch 请求上游报表；非 2xx 不视为错误，状态码与响应体交给调用方透传
func (c *Client) Fetch(ctx context.Context, report Report, query Query) (Response, error) {
	endpoint, err := c.ReportURL(report, query)
	if err != nil {
		return Response{}, err
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("等待上游配额失败: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, fmt.Errorf("创建上游请求失败: %w", err)
	}

	c.fillHeaders(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Response{}, fmt.Errorf("调用上游 %s 失败: %w", report, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Response{}, fmt.Errorf("读取上游 %s 响应失败: %w", report, err)
	}

	return Response{
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) fillHeaders(request *http.Request) {
	request.SetBasicAuth(c.apiKey, c.apiSecret)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", c.userAgent)
}
