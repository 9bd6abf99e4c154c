package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	card persona.Card
}

// New 创建persona处理器，只暴露公开信息，不包含提示词
func New(p persona.Persona) *Handler {
	return &Handler{
		card: p.Card(),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/persona", h.handleGetPersona)
}

// handleGetPersona 返回当前persona
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.card)
}
