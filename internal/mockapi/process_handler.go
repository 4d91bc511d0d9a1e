package mockapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"image-chat-go/internal/config"
	"image-chat-go/pkg/log"
)

// 与网关侧保持一致的模拟上传约束：只收图片，单文件 10MB。
const maxMockFileSize = 10 * 1024 * 1024

// intent 是模拟后端对一次请求的意图判定结果。
type intent int

const (
	intentCaption intent = iota
	intentSimilar
	intentSearch
	intentIndex
)

// ProcessHandler 实现统一 process 接口的模拟后端。
type ProcessHandler struct {
	cfg   config.MockConfig
	store ImageStore

	mu      sync.Mutex
	indexed []string // 通过 index 意图入库的图片标识
}

// NewProcessHandler 创建一个新的 ProcessHandler。
func NewProcessHandler(cfg config.MockConfig, store ImageStore) *ProcessHandler {
	return &ProcessHandler{cfg: cfg, store: store}
}

// decideIntent 根据查询文本与文件有无判定意图。
// 真实后端由 agent 决策；模拟实现沿用原型里的关键词启发式。
func decideIntent(query string, fileCount int) intent {
	q := strings.ToLower(query)
	hasFiles := fileCount > 0

	switch {
	case hasFiles && (strings.Contains(q, "index") || strings.Contains(q, "remember") || strings.Contains(q, "store")):
		return intentIndex
	case hasFiles && (strings.Contains(q, "similar") || strings.Contains(q, "find like") || strings.Contains(q, "look like")):
		return intentSimilar
	case hasFiles && query != "":
		return intentCaption
	case hasFiles:
		// 只有图片时默认做相似搜索
		return intentSimilar
	default:
		return intentSearch
	}
}

type uploadedFile struct {
	name     string
	mimeType string
	data     []byte
}

// readFiles 读取 multipart 请求中的 files 字段并套用上传约束。
func readFiles(headers []*multipart.FileHeader) ([]uploadedFile, string) {
	files := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		mimeType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, "Only image files are allowed"
		}
		if fh.Size > maxMockFileSize {
			return nil, "File size must be less than 10MB"
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "Failed to read uploaded file"
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, "Failed to read uploaded file"
		}
		files = append(files, uploadedFile{name: fh.Filename, mimeType: mimeType, data: data})
	}
	return files, ""
}

// Process 处理 POST /process/：一个 query 字段加零个或多个 files 字段，
// 在人为延迟后返回随机生成的结果，哪个字段被填充取决于意图判定。
func (h *ProcessHandler) Process(c *gin.Context) {
	query := c.PostForm("query")

	var headers []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		headers = form.File["files"]
	}
	files, errMsg := readFiles(headers)
	if errMsg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
		return
	}

	if query == "" && len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query or files required"})
		return
	}

	// 模拟处理耗时
	if h.cfg.DelayMillis > 0 {
		time.Sleep(time.Duration(h.cfg.DelayMillis) * time.Millisecond)
	}

	result := gin.H{}
	switch decideIntent(query, len(files)) {
	case intentCaption:
		if len(files) > 1 {
			result["caption"] = combinedCaptions(len(files))
		} else {
			result["caption"] = randomItems(mockCaptions, randomCount(3, 5))
		}
	case intentSimilar:
		result["similar_images"] = h.sampleImages()
	case intentSearch:
		result["search_images"] = h.sampleImages()
	case intentIndex:
		ids := make([]string, 0, len(files))
		for _, f := range files {
			id, err := h.store.Put(c.Request.Context(), f.data, f.mimeType)
			if err != nil {
				log.Error("入库图片失败", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to index images"})
				return
			}
			ids = append(ids, id)
		}
		h.mu.Lock()
		h.indexed = append(h.indexed, ids...)
		h.mu.Unlock()
		result["index_response"] = gin.H{"status": "success", "indexed": len(ids), "ids": ids}
	}

	log.Infof("[MockAPI] process 请求: query=%q, files=%d", query, len(files))
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// sampleImages 返回一组随机的结果图片：模拟语料中的地址，
// 混合已入库图片的标识（由网关解析成 /image/{id}）。
func (h *ProcessHandler) sampleImages() []string {
	images := randomItems(mockImages, randomCount(4, 8))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.indexed) > 0 {
		images = append(images, randomItems(h.indexed, randomCount(1, len(h.indexed)))...)
	}
	return images
}

// GetImage 处理 GET /image/{id}：取回一张已入库的图片。
func (h *ProcessHandler) GetImage(c *gin.Context) {
	id := c.Param("id")
	data, mimeType, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found or expired"})
		return
	}
	c.Data(http.StatusOK, mimeType, data)
}

// GetModels 处理 GET /models：返回可选模型的模拟列表。
func (h *ProcessHandler) GetModels(c *gin.Context) {
	c.JSON(http.StatusOK, mockModels)
}

// Health 处理 GET /health。
func (h *ProcessHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
