package mockapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-chat-go/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, ImageStore) {
	t.Helper()
	store := NewMemoryImageStore(time.Minute)
	h := NewProcessHandler(config.MockConfig{DelayMillis: 0}, store)

	r := gin.New()
	r.POST("/process/", h.Process)
	r.GET("/image/:id", h.GetImage)
	r.GET("/models", h.GetModels)
	r.GET("/health", h.Health)
	return r, store
}

// buildMultipart 构造一个 process 请求体。
func buildMultipart(t *testing.T, query string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("query", query))
	for name, data := range files {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="files"; filename="` + name + `"`}
		header["Content-Type"] = []string{"image/png"}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func doProcess(t *testing.T, r *gin.Engine, query string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipart(t, query, files)
	req := httptest.NewRequest(http.MethodPost, "/process/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type resultEnvelope struct {
	Result struct {
		Caption       []string        `json:"caption"`
		SimilarImages []string        `json:"similar_images"`
		SearchImages  []string        `json:"search_images"`
		IndexResponse json.RawMessage `json:"index_response"`
	} `json:"result"`
}

// 测试意图判定的关键词启发式
func TestDecideIntent(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		fileCount int
		want      intent
	}{
		{"纯文本走搜索", "show me mountains", 0, intentSearch},
		{"空输入也走搜索", "", 0, intentSearch},
		{"纯图片走相似", "", 2, intentSimilar},
		{"图片加文本走描述", "what is this", 1, intentCaption},
		{"similar 关键词走相似", "find similar pictures", 1, intentSimilar},
		{"index 关键词走入库", "index these photos", 3, intentIndex},
		{"remember 关键词走入库", "remember this image", 1, intentIndex},
		{"无图片时 index 关键词仍走搜索", "index something", 0, intentSearch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideIntent(tt.query, tt.fileCount))
		})
	}
}

// 测试纯文本请求只填充 search_images 字段
func TestProcess_TextOnlySearch(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doProcess(t, r, "show me mountains", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Result.SearchImages)
	assert.Empty(t, resp.Result.Caption)
	assert.Empty(t, resp.Result.SimilarImages)
	assert.Empty(t, resp.Result.IndexResponse)
}

// 测试图片加文本请求只填充 caption 字段
func TestProcess_CaptionWithFiles(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doProcess(t, r, "what is in this picture", map[string][]byte{"a.png": []byte("img")})
	require.Equal(t, http.StatusOK, w.Code)

	var resp resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Result.Caption)
	assert.Empty(t, resp.Result.SearchImages)
	assert.Empty(t, resp.Result.SimilarImages)
}

// 测试入库意图：图片进入暂存并可通过 /image/{id} 取回
func TestProcess_IndexAndRetrieve(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doProcess(t, r, "index this image", map[string][]byte{"a.png": []byte("stored-bytes")})
	require.Equal(t, http.StatusOK, w.Code)

	var resp resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Result.IndexResponse)

	var indexResp struct {
		Status  string   `json:"status"`
		Indexed int      `json:"indexed"`
		IDs     []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(resp.Result.IndexResponse, &indexResp))
	assert.Equal(t, "success", indexResp.Status)
	assert.Equal(t, 1, indexResp.Indexed)
	require.Len(t, indexResp.IDs, 1)

	// 取回入库的图片
	req := httptest.NewRequest(http.MethodGet, "/image/"+indexResp.IDs[0], nil)
	got := httptest.NewRecorder()
	r.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "stored-bytes", got.Body.String())
	assert.Equal(t, "image/png", got.Header().Get("Content-Type"))
}

// 测试非图片文件被拒绝
func TestProcess_NonImageRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("query", "describe"))
	header := map[string][]string{
		"Content-Disposition": {`form-data; name="files"; filename="notes.pdf"`},
		"Content-Type":        {"application/pdf"},
	}
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/process/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 测试空请求被拒绝
func TestProcess_EmptyRequestRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doProcess(t, r, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 测试不存在的图片返回 404
func TestGetImage_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/image/no-such-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 测试模型列表与健康检查
func TestModelsAndHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var models []Model
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &models))
	assert.NotEmpty(t, models)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
