// Package mockapi 实现了模拟的图像处理后端：在人为延迟后返回随机的
// 模拟描述与图片结果，作为统一 process 接口的替身。
package mockapi

import (
	"fmt"
	"math/rand"
)

// Model 描述一个可选的处理模型。
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// mockModels 是可选模型的模拟列表。
var mockModels = []Model{
	{ID: "model-a", Name: "Model A", Description: "Advanced image analysis model"},
	{ID: "model-b", Name: "Model B", Description: "High-performance captioning model"},
	{ID: "model-c", Name: "Model C", Description: "Multi-purpose AI model"},
	{ID: "model-d", Name: "Model D", Description: "Specialized search model"},
}

// mockCaptions 是单图描述的模拟语料。
var mockCaptions = []string{
	"A beautiful landscape with mountains in the background.",
	"Scenic view of nature with trees and sky.",
	"Outdoor photography capturing natural beauty.",
	"Peaceful mountain scenery with clear blue sky.",
	"Stunning sunset over the horizon.",
	"Majestic peaks reaching into the clouds.",
	"Serene lake reflecting the surrounding mountains.",
	"Vibrant autumn colors in the forest.",
}

// mockImages 是相似/搜索结果的模拟图片地址。
var mockImages = []string{
	"https://picsum.photos/200/200?random=1",
	"https://picsum.photos/200/200?random=2",
	"https://picsum.photos/200/200?random=3",
	"https://picsum.photos/200/200?random=4",
	"https://picsum.photos/200/200?random=5",
	"https://picsum.photos/200/200?random=6",
	"https://picsum.photos/200/200?random=7",
	"https://picsum.photos/200/200?random=8",
}

// combinedCaptions 为多图请求生成一组整体描述。
func combinedCaptions(fileCount int) []string {
	return []string{
		fmt.Sprintf("A collection of %d diverse images showcasing various subjects and scenes.", fileCount),
		"Multiple photographs featuring different perspectives and compositions.",
		"A varied set of images with rich visual content and interesting details.",
		"An assortment of pictures displaying different themes and visual elements.",
	}
}

// randomItems 从数组中随机取 count 个元素（洗牌后取前缀）。
func randomItems(items []string, count int) []string {
	if count > len(items) {
		count = len(items)
	}
	shuffled := make([]string, len(items))
	copy(shuffled, items)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:count]
}

// randomCount 返回 [min, max] 之间的随机个数。
func randomCount(min, max int) int {
	return min + rand.Intn(max-min+1)
}
