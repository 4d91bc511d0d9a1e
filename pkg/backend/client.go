// Package backend 提供了图像处理后端（统一 process 接口）的客户端。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"image-chat-go/internal/config"
	"image-chat-go/internal/model"
	"image-chat-go/pkg/log"
)

// ErrRestoredAttachment 表示试图把一个从历史恢复的附件重新发送到后端。
// 恢复的附件只有元数据，没有二进制内容，只能用于展示。
var ErrRestoredAttachment = errors.New("restored attachment has no binary content and cannot be re-sent")

// RequestFailedError 表示一次 process 调用因网络故障或非 2xx 响应而失败。
// 上传属于类变更语义，客户端不做任何重试，每次调用至多发起一次请求。
type RequestFailedError struct {
	StatusCode int // 0 表示请求未到达后端
	Err        error
}

func (e *RequestFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("process request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("process request failed: %v", e.Err)
}

func (e *RequestFailedError) Unwrap() error { return e.Err }

// Result 是后端异构响应的统一内部表示。
// 哪个字段被填充由后端根据意图决定，调用方按字段存在性分支，
// 优先级为 caption > similar_images > search_images > index_response。
type Result struct {
	Caption       []string
	SimilarImages []string
	SearchImages  []string
	IndexResponse json.RawMessage
}

// Empty 报告四个结果字段是否全部为空（后端无结果）。
func (r *Result) Empty() bool {
	return len(r.Caption) == 0 && len(r.SimilarImages) == 0 &&
		len(r.SearchImages) == 0 && len(r.IndexResponse) == 0
}

// Client 定义了图像处理后端客户端的接口。
type Client interface {
	// Process 将一段文本和零个或多个附件发送到统一的 process 接口，
	// 并把响应规范化为 Result。
	Process(ctx context.Context, query string, files []model.Attachment) (*Result, error)
}

type httpClient struct {
	cfg    config.BackendConfig
	client *http.Client
}

// NewClient 创建一个新的后端客户端实例。
func NewClient(cfg config.BackendConfig) Client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// captionField 兼容后端返回单个字符串或字符串数组两种形态的 caption。
type captionField []string

func (c *captionField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*c = []string{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = many
	return nil
}

// processResponse 对应后端 POST /process/ 的响应体。
type processResponse struct {
	Result struct {
		Caption       captionField    `json:"caption"`
		SimilarImages []string        `json:"similar_images"`
		SearchImages  []string        `json:"search_images"`
		IndexResponse json.RawMessage `json:"index_response"`
	} `json:"result"`
}

// Process 发起一次 multipart 请求：一个 query 字段加零个或多个 files 字段。
func (c *httpClient) Process(ctx context.Context, query string, files []model.Attachment) (*Result, error) {
	// 恢复的附件没有字节内容，发出去只会得到空文件，直接拒绝
	for _, f := range files {
		if f.IsRestored || f.Data == nil {
			return nil, ErrRestoredAttachment
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("query", query); err != nil {
		return nil, fmt.Errorf("failed to write query field: %w", err)
	}
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file content: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/process/", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create process request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Infof("[BackendClient] 调用 process 接口, query_len: %d, files: %d", len(query), len(files))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &RequestFailedError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &RequestFailedError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend returned %s: %s", resp.Status, string(bodyBytes)),
		}
	}

	var procResp processResponse
	if err := json.NewDecoder(resp.Body).Decode(&procResp); err != nil {
		return nil, &RequestFailedError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode process response: %w", err),
		}
	}

	// 期望字段全部缺失时返回显式的空结果，而不是报错
	result := &Result{
		Caption:       procResp.Result.Caption,
		SimilarImages: c.resolveImageURLs(procResp.Result.SimilarImages),
		SearchImages:  c.resolveImageURLs(procResp.Result.SearchImages),
		IndexResponse: procResp.Result.IndexResponse,
	}
	return result, nil
}

// resolveImageURLs 把图片标识映射为可展示的 URL：{base}/image/{id}。
// 已经是绝对 URL 的条目原样透传。
func (c *httpClient) resolveImageURLs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
			urls = append(urls, id)
			continue
		}
		urls = append(urls, fmt.Sprintf("%s/image/%s", c.cfg.BaseURL, id))
	}
	return urls
}
