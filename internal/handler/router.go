package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-companion/backend/internal/handler/chat"
	"github.com/zhouzirui/z-companion/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/z-companion/backend/internal/middleware"
	personaModel "github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(p personaModel.Persona, chatSvc chat.Conversation, corsOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsOrigins))

	r.Get("/", handleHealth(p.Name))

	persona.New(p).RegisterRoutes(r)
	chat.New(chatSvc, corsOrigins, logger).RegisterRoutes(r)

	return r
}

func handleHealth(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": name + " API is running",
		})
	}
}
