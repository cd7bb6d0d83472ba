package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memflow/memflow/internal/infrastructure/llm"
)

// ModelInfo represents a model in the /v1/models response
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelListResponse mirrors OpenAI's models list response
type ModelListResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelHandler 模型列表
type ModelHandler struct {
	router  *llm.Router
	created int64
}

// NewModelHandler 创建模型列表处理器
func NewModelHandler(router *llm.Router) *ModelHandler {
	return &ModelHandler{
		router:  router,
		created: time.Now().Unix(),
	}
}

// ListModels handles GET /v1/models
func (h *ModelHandler) ListModels(c *gin.Context) {
	aliases := h.router.Aliases()
	data := make([]ModelInfo, 0, len(aliases))
	for _, alias := range aliases {
		data = append(data, ModelInfo{
			ID:      alias,
			Object:  "model",
			Created: h.created,
			OwnedBy: "local",
		})
	}
	c.JSON(http.StatusOK, ModelListResponse{
		Object: "list",
		Data:   data,
	})
}
